package asset

import (
	"fmt"
	"slices"
	"strings"
)

// State is the execution state of a stage record. A stage that has not
// started has no record at all.
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

// ParseState normalizes a stored state value.
func ParseState(value string) (State, bool) {
	switch State(strings.ToLower(strings.TrimSpace(value))) {
	case StateRunning:
		return StateRunning, true
	case StateDone:
		return StateDone, true
	case StateError:
		return StateError, true
	default:
		return "", false
	}
}

// Location is an object storage address.
type Location struct {
	Bucket string `json:"bucket" dynamodbav:"bucket" bson:"bucket" validate:"required"`
	Key    string `json:"key" dynamodbav:"key" bson:"key" validate:"required"`
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Bucket == "" && l.Key == ""
}

func (l Location) String() string {
	return l.Bucket + "/" + l.Key
}

// StageRecord captures one stage execution in a document's history.
type StageRecord struct {
	Stage          string    `json:"stage" dynamodbav:"stage" bson:"stage"`
	State          State     `json:"state" dynamodbav:"state" bson:"state"`
	ResultLocation *Location `json:"result_location,omitempty" dynamodbav:"result_location,omitempty" bson:"result_location,omitempty"`
	Error          string    `json:"error,omitempty" dynamodbav:"error,omitempty" bson:"error,omitempty"`
}

// Document is the per-asset progress record keyed by ID.
type Document struct {
	ID           int64         `json:"AssetId" dynamodbav:"AssetId" bson:"_id"`
	Location     Location      `json:"location" dynamodbav:"location" bson:"location"`
	Name         string        `json:"name" dynamodbav:"name" bson:"name"`
	Extension    string        `json:"extension" dynamodbav:"extension" bson:"extension"`
	Size         []int         `json:"size,omitempty" dynamodbav:"size,omitempty" bson:"size,omitempty"`
	FPS          float64       `json:"fps" dynamodbav:"fps" bson:"fps"`
	Duration     float64       `json:"duration" dynamodbav:"duration" bson:"duration"`
	HasAudio     bool          `json:"has_audio" dynamodbav:"has_audio" bson:"has_audio"`
	CreationTime string        `json:"creation_time,omitempty" dynamodbav:"creation_time,omitempty" bson:"creation_time,omitempty"`
	ParentID     *int64        `json:"parent_id,omitempty" dynamodbav:"parent_id,omitempty" bson:"parent_id,omitempty"`
	ChildIDs     []int64       `json:"child_ids,omitempty" dynamodbav:"child_ids,omitempty" bson:"child_ids,omitempty"`
	ProcessSteps []StageRecord `json:"process_steps" dynamodbav:"process_steps" bson:"process_steps"`
	// Version is bumped by every successful store write and guards
	// conditional updates. Zero means the document was never stored.
	Version int64 `json:"version" dynamodbav:"version" bson:"version"`
}

// LastStage returns the most recently appended stage record.
func (d *Document) LastStage() (StageRecord, bool) {
	if d == nil || len(d.ProcessSteps) == 0 {
		return StageRecord{}, false
	}
	return d.ProcessSteps[len(d.ProcessSteps)-1], true
}

// Stage returns the record for name.
func (d *Document) Stage(name string) (StageRecord, bool) {
	idx := d.stageIndex(name)
	if idx < 0 {
		return StageRecord{}, false
	}
	return d.ProcessSteps[idx], true
}

func (d *Document) stageIndex(name string) int {
	if d == nil {
		return -1
	}
	return slices.IndexFunc(d.ProcessSteps, func(r StageRecord) bool { return r.Stage == name })
}

// BeginStage records name as running. A stage that already has a record is
// moved to the end of the history and reset, so each stage name appears once
// and the last record is always the latest execution.
func (d *Document) BeginStage(name string) {
	if idx := d.stageIndex(name); idx >= 0 {
		d.ProcessSteps = slices.Delete(d.ProcessSteps, idx, idx+1)
	}
	d.ProcessSteps = append(d.ProcessSteps, StageRecord{Stage: name, State: StateRunning})
}

// CompleteStage marks name done with its result location.
func (d *Document) CompleteStage(name string, result Location) error {
	idx := d.stageIndex(name)
	if idx < 0 {
		return fmt.Errorf("asset %d: no record for stage %q", d.ID, name)
	}
	loc := result
	d.ProcessSteps[idx].State = StateDone
	d.ProcessSteps[idx].ResultLocation = &loc
	d.ProcessSteps[idx].Error = ""
	return nil
}

// FailStage marks name as errored. The result location is cleared because it
// is only meaningful for done records.
func (d *Document) FailStage(name string, cause error) error {
	idx := d.stageIndex(name)
	if idx < 0 {
		return fmt.Errorf("asset %d: no record for stage %q", d.ID, name)
	}
	d.ProcessSteps[idx].State = StateError
	d.ProcessSteps[idx].ResultLocation = nil
	if cause != nil {
		d.ProcessSteps[idx].Error = cause.Error()
	}
	return nil
}

// AppendDone appends a finished record for stages that complete at creation,
// such as upload and time split.
func (d *Document) AppendDone(name string) {
	if idx := d.stageIndex(name); idx >= 0 {
		d.ProcessSteps = slices.Delete(d.ProcessSteps, idx, idx+1)
	}
	d.ProcessSteps = append(d.ProcessSteps, StageRecord{Stage: name, State: StateDone})
}

// AddChild appends a child identifier once.
func (d *Document) AddChild(id int64) {
	if slices.Contains(d.ChildIDs, id) {
		return
	}
	d.ChildIDs = append(d.ChildIDs, id)
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Size = slices.Clone(d.Size)
	out.ChildIDs = slices.Clone(d.ChildIDs)
	if d.ParentID != nil {
		parent := *d.ParentID
		out.ParentID = &parent
	}
	out.ProcessSteps = make([]StageRecord, len(d.ProcessSteps))
	for i, rec := range d.ProcessSteps {
		out.ProcessSteps[i] = rec
		if rec.ResultLocation != nil {
			loc := *rec.ResultLocation
			out.ProcessSteps[i].ResultLocation = &loc
		}
	}
	return &out
}
