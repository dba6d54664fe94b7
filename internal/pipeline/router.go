package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"derbyflow/internal/asset"
	"derbyflow/internal/logging"
	"derbyflow/internal/queue"
	"derbyflow/internal/services"
)

// Outcome explains a routing decision.
type Outcome string

const (
	OutcomeDispatched    Outcome = "dispatched"
	OutcomeOutsideRoot   Outcome = "outside_root"
	OutcomeNoStages      Outcome = "no_stages"
	OutcomeUnrecognized  Outcome = "unrecognized_stage"
	OutcomeNotDone       Outcome = "not_done"
	OutcomeTerminal      Outcome = "terminal_stage"
	OutcomeUnmappedQueue Outcome = "unmapped_queue"
)

// Decision is the pure routing result for one document.
type Decision struct {
	Outcome   Outcome
	Stage     string
	NextStage string
	Queue     string
	Message   WorkMessage
}

// Decide computes where, if anywhere, doc should be dispatched.
func (d Definition) Decide(doc *asset.Document) Decision {
	if doc == nil || !d.Eligible(doc.Location.Key) {
		return Decision{Outcome: OutcomeOutsideRoot}
	}
	last, ok := doc.LastStage()
	if !ok {
		return Decision{Outcome: OutcomeNoStages}
	}
	decision := Decision{Stage: last.Stage}
	if d.Index(last.Stage) < 0 {
		decision.Outcome = OutcomeUnrecognized
		return decision
	}
	if last.State != asset.StateDone {
		decision.Outcome = OutcomeNotDone
		return decision
	}
	next, ok := d.Next(last.Stage)
	if !ok {
		decision.Outcome = OutcomeTerminal
		return decision
	}
	decision.NextStage = next
	name, ok := d.Queue(next)
	if !ok {
		decision.Outcome = OutcomeUnmappedQueue
		return decision
	}
	decision.Outcome = OutcomeDispatched
	decision.Queue = name
	decision.Message = NewWorkMessage(doc.ID, doc.Location)
	return decision
}

// Router dispatches finished stages to the next stage's queue.
type Router struct {
	def    Definition
	queue  queue.Queue
	logger *slog.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewRouter builds a router over q.
func NewRouter(def Definition, q queue.Queue, logger *slog.Logger) *Router {
	return &Router{
		def:     def,
		queue:   q,
		logger:  logging.NewComponentLogger(logger, "router"),
		ensured: make(map[string]bool),
	}
}

// Definition returns the router's stage definition.
func (r *Router) Definition() Definition { return r.def }

// EnsureQueues creates every mapped queue that this router has not yet seen.
func (r *Router) EnsureQueues(ctx context.Context) error {
	for _, name := range r.def.QueueNames() {
		if err := r.ensure(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) ensure(ctx context.Context, name string) error {
	r.mu.Lock()
	done := r.ensured[name]
	r.mu.Unlock()
	if done {
		return nil
	}
	if err := r.queue.Ensure(ctx, name); err != nil {
		return services.Wrap(services.ErrTransient, "router", "ensure queue", fmt.Sprintf("Unable to ensure queue %q", name), err)
	}
	r.mu.Lock()
	r.ensured[name] = true
	r.mu.Unlock()
	return nil
}

// Route sends at most one work message for doc. Documents that do not
// progress are logged and return a non-dispatch decision with a nil error.
func (r *Router) Route(ctx context.Context, doc *asset.Document) (Decision, error) {
	decision := r.def.Decide(doc)
	logger := r.logger
	if doc != nil {
		logger = logger.With(logging.Int64(logging.FieldAssetID, doc.ID))
	}
	if decision.Outcome != OutcomeDispatched {
		logger.Debug("document not dispatched",
			logging.String(logging.FieldEventType, "route_skipped"),
			logging.String("outcome", string(decision.Outcome)),
			logging.String(logging.FieldStage, decision.Stage),
		)
		if decision.Outcome == OutcomeUnrecognized || decision.Outcome == OutcomeUnmappedQueue {
			logging.WarnWithContext(logger, "stage cannot be routed", "route_"+string(decision.Outcome),
				logging.String(logging.FieldStage, decision.Stage),
				logging.String("next_stage", decision.NextStage),
				logging.String(logging.FieldErrorHint, "check pipeline.stages and pipeline.queues"),
			)
		}
		return decision, nil
	}
	if err := r.EnsureQueues(ctx); err != nil {
		return decision, err
	}
	body, err := decision.Message.Encode()
	if err != nil {
		return decision, err
	}
	if err := r.queue.Send(ctx, decision.Queue, body); err != nil {
		return decision, services.Wrap(services.ErrTransient, "router", "send",
			fmt.Sprintf("Unable to send asset %d to %q", doc.ID, decision.Queue), err)
	}
	logger.Info("work dispatched",
		logging.String(logging.FieldEventType, "route_dispatched"),
		logging.String(logging.FieldStage, decision.Stage),
		logging.String("next_stage", decision.NextStage),
		logging.String(logging.FieldQueue, decision.Queue),
	)
	return decision, nil
}

// SendStop enqueues the stop command for stage.
func (r *Router) SendStop(ctx context.Context, stage string) (string, error) {
	name, ok := r.def.Queue(stage)
	if !ok {
		return "", services.Wrap(services.ErrConfiguration, "router", "stop", fmt.Sprintf("Stage %q has no queue", stage), nil)
	}
	if err := r.ensure(ctx, name); err != nil {
		return "", err
	}
	body, err := StopMessage().Encode()
	if err != nil {
		return "", err
	}
	if err := r.queue.Send(ctx, name, body); err != nil {
		return "", services.Wrap(services.ErrTransient, "router", "stop", fmt.Sprintf("Unable to send stop to %q", name), err)
	}
	return name, nil
}
