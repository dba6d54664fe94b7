package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"derbyflow/internal/fileutil"
	"derbyflow/internal/logging"
	"derbyflow/internal/pipeline"
	"derbyflow/internal/queue"
	"derbyflow/internal/services"
	"derbyflow/internal/stage"
)

const (
	defaultWait          = 10 * time.Second
	defaultRetryInterval = 5 * time.Second
	ackTimeout           = 30 * time.Second
)

// StageRunner executes one stage for an asset.
type StageRunner interface {
	Run(ctx context.Context, stageName string, id int64, work stage.Work) error
}

// Options wires a Worker.
type Options struct {
	Stage         string
	QueueName     string
	Queue         queue.Queue
	Runner        StageRunner
	Work          stage.Work
	Wait          time.Duration
	RetryInterval time.Duration
	// LockPath enables single-consumer locking when set.
	LockPath string
	// ScratchRoot is swept for directories left by an earlier run of this
	// stage once the lock is held.
	ScratchRoot string
	Logger      *slog.Logger
}

// Status is a snapshot of worker activity.
type Status struct {
	Stage         string    `json:"stage"`
	Queue         string    `json:"queue"`
	Running       bool      `json:"running"`
	Processed     int64     `json:"processed"`
	Failed        int64     `json:"failed"`
	LastError     string    `json:"last_error,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
}

// Worker consumes one stage queue.
type Worker struct {
	stage         string
	queueName     string
	queue         queue.Queue
	runner        StageRunner
	work          stage.Work
	wait          time.Duration
	retryInterval time.Duration
	lockPath      string
	lock          *flock.Flock
	scratchRoot   string
	logger        *slog.Logger

	running   atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64

	mu            sync.Mutex
	lastError     string
	lastMessageAt time.Time
}

// New validates opts and builds a worker.
func New(opts Options) (*Worker, error) {
	stageName := strings.TrimSpace(opts.Stage)
	if stageName == "" {
		return nil, errors.New("worker: stage is required")
	}
	if strings.TrimSpace(opts.QueueName) == "" {
		return nil, fmt.Errorf("worker: no queue for stage %q", stageName)
	}
	if opts.Queue == nil || opts.Runner == nil || opts.Work == nil {
		return nil, errors.New("worker: queue, runner, and work are required")
	}
	w := &Worker{
		stage:         stageName,
		queueName:     opts.QueueName,
		queue:         opts.Queue,
		runner:        opts.Runner,
		work:          opts.Work,
		wait:          opts.Wait,
		retryInterval: opts.RetryInterval,
		lockPath:      opts.LockPath,
		scratchRoot:   opts.ScratchRoot,
		logger:        logging.NewComponentLogger(opts.Logger, "worker"),
	}
	if w.wait <= 0 {
		w.wait = defaultWait
	}
	if w.retryInterval <= 0 {
		w.retryInterval = defaultRetryInterval
	}
	if w.lockPath != "" {
		w.lock = flock.New(w.lockPath)
	}
	return w, nil
}

// Run consumes messages until ctx ends or a stop command arrives. Both are
// a clean exit and return nil.
func (w *Worker) Run(ctx context.Context) error {
	if w.lock != nil {
		ok, err := w.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire worker lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another %s worker holds %s", w.stage, w.lockPath)
		}
		defer func() {
			if err := w.lock.Unlock(); err != nil {
				w.logger.Warn("failed to release worker lock",
					logging.String("lock", w.lockPath),
					logging.Error(err),
					logging.String(logging.FieldEventType, "worker_lock_release_failed"),
				)
			}
		}()
		fileutil.CleanStale(w.scratchRoot, "derbyflow-"+w.stage+"-", 0, w.logger)
	}

	if !w.running.CompareAndSwap(false, true) {
		return errors.New("worker already running")
	}
	defer w.running.Store(false)

	logger := w.logger.With(
		logging.String(logging.FieldStage, w.stage),
		logging.String(logging.FieldQueue, w.queueName),
	)
	logger.Info("worker started",
		logging.Duration("wait", w.wait),
		logging.String(logging.FieldEventType, "worker_start"),
	)

	for {
		if ctx.Err() != nil {
			logger.Info("worker stopping", logging.String("reason", "context done"))
			return nil
		}
		messages, err := w.queue.Receive(ctx, w.queueName, w.wait)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("worker stopping", logging.String("reason", "context done"))
				return nil
			}
			w.recordFailure(err)
			attrs := append([]logging.Attr{
				logging.Duration("retry_in", w.retryInterval),
				logging.String(logging.FieldErrorHint, "check queue connectivity"),
			}, logging.ErrorAttrs(err)...)
			logging.WarnWithContext(logger, "queue receive failed", "queue_receive_failed", attrs...)
			if !sleepContext(ctx, w.retryInterval) {
				return nil
			}
			continue
		}
		for _, msg := range messages {
			if w.handle(ctx, msg) {
				logger.Info("worker stopped by command",
					logging.String(logging.FieldEventType, "worker_stop"),
				)
				return nil
			}
		}
	}
}

// handle processes one message and reports whether it was a stop command.
func (w *Worker) handle(ctx context.Context, msg queue.Message) bool {
	ctx = services.WithStage(ctx, w.stage)
	ctx = services.WithQueue(ctx, w.queueName)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, w.logger)
	defer w.acknowledge(ctx, logger, msg)

	w.mu.Lock()
	w.lastMessageAt = time.Now()
	w.mu.Unlock()

	work, err := pipeline.DecodeWorkMessage(msg.Body)
	if err != nil {
		w.recordFailure(err)
		attrs := append([]logging.Attr{
			logging.String("message_id", msg.ID),
			logging.String(logging.FieldErrorHint, "message body must carry VideoId and s3 or a command"),
		}, logging.ErrorAttrs(err)...)
		logging.ErrorWithContext(logger, "discarding undecodable message", "message_invalid", attrs...)
		return false
	}
	if work.IsStop() {
		logger.Info("stop command received", logging.String(logging.FieldEventType, "stop_command"))
		return true
	}

	ctx = services.WithAssetID(ctx, work.VideoID)
	logger = logging.WithContext(ctx, w.logger)
	logger.Info("message received",
		logging.String(logging.FieldBucket, work.Location.Bucket),
		logging.String(logging.FieldKey, work.Location.Key),
		logging.String(logging.FieldEventType, "message_received"),
	)
	if err := w.process(ctx, work); err != nil {
		w.recordFailure(err)
		logging.ErrorWithContext(logger, "message processing failed", "message_failed", logging.ErrorAttrs(err)...)
		return false
	}
	w.processed.Add(1)
	return false
}

func (w *Worker) process(ctx context.Context, work pipeline.WorkMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", w.stage, r)
		}
	}()
	return w.runner.Run(ctx, w.stage, work.VideoID, w.work)
}

// acknowledge deletes msg even when ctx has already been cancelled.
func (w *Worker) acknowledge(ctx context.Context, logger *slog.Logger, msg queue.Message) {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := w.queue.Delete(ackCtx, w.queueName, msg); err != nil {
		attrs := append([]logging.Attr{logging.String("message_id", msg.ID)}, logging.ErrorAttrs(err)...)
		logging.WarnWithContext(logger, "failed to delete message", "message_delete_failed", attrs...)
	}
}

func (w *Worker) recordFailure(err error) {
	w.failed.Add(1)
	w.mu.Lock()
	w.lastError = err.Error()
	w.mu.Unlock()
}

// Status returns the current activity snapshot.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Stage:         w.stage,
		Queue:         w.queueName,
		Running:       w.running.Load(),
		Processed:     w.processed.Load(),
		Failed:        w.failed.Load(),
		LastError:     w.lastError,
		LastMessageAt: w.lastMessageAt,
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
