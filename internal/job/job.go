// Package job implements the Job data model, its state machine, and an
// in-memory, non-durable registry of jobs keyed by ID.
package job

import (
	"sync"
	"time"
)

// State is one of the job lifecycle states.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateTimeout    State = "timeout"
	StateCancelling State = "cancelling"
	StateCancelled  State = "cancelled"
)

// terminal reports whether a state has no valid outgoing transitions.
func (s State) terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimeout, StateCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates every legal state change. Anything absent from this
// table is rejected by Registry.Transition.
var transitions = map[State]map[State]bool{
	StatePending: {
		StateProcessing: true,
		StateCancelled:  true,
	},
	StateProcessing: {
		StateCompleted:  true,
		StateFailed:     true,
		StateTimeout:    true,
		StateCancelling: true,
	},
	StateCancelling: {
		StateCancelled: true,
	},
}

// CanTransition reports whether moving from -> to is a legal state change.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// Job is a single processing request: one uploaded file, its BrickLayers
// parameters, and the state it has reached.
type Job struct {
	ID                  string    `json:"id"`
	OriginalFilename    string    `json:"original_filename"`
	UploadPath          string    `json:"-"`
	OutputPath          string    `json:"-"`
	State               State     `json:"state"`
	Priority            int       `json:"priority"`
	ExtrusionMultiplier float64   `json:"extrusion_multiplier"`
	StartAtLayer        int       `json:"start_at_layer"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	ErrorMessage        string    `json:"error,omitempty"`
	BytesProcessed      int64     `json:"bytes_processed"`

	mu              sync.Mutex
	cancelRequested bool
}

// CancelRequested reports whether cooperative cancellation has been signaled
// for this job. Workers poll this every 1000 emitted lines and at
// end-of-stream.
func (j *Job) CancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}

func (j *Job) setCancelRequested() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelRequested = true
}

// JobSnapshot is a serializable, lock-free copy of a Job's fields at a
// point in time — safe to hold, log, or JSON-encode without dragging the
// job's mutex along with it.
type JobSnapshot struct {
	ID                  string
	OriginalFilename    string
	UploadPath          string
	OutputPath          string
	State               State
	Priority            int
	ExtrusionMultiplier float64
	StartAtLayer        int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ErrorMessage        string
	BytesProcessed      int64
	CancelRequestedFlag bool
}

// Snapshot returns a copy of the job's serializable fields, safe to use
// without holding the registry lock any longer than necessary. It never
// copies the job's mutex.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSnapshot{
		ID:                  j.ID,
		OriginalFilename:    j.OriginalFilename,
		UploadPath:          j.UploadPath,
		OutputPath:          j.OutputPath,
		State:               j.State,
		Priority:            j.Priority,
		ExtrusionMultiplier: j.ExtrusionMultiplier,
		StartAtLayer:        j.StartAtLayer,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
		ErrorMessage:        j.ErrorMessage,
		BytesProcessed:      j.BytesProcessed,
		CancelRequestedFlag: j.cancelRequested,
	}
}

// Event describes a single job state transition, published to subscribers of
// the job event hub. It never carries percentage or progress fields — only
// discrete lifecycle transitions.
type Event struct {
	JobID     string    `json:"job_id"`
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// Publisher is implemented by the job event hub. The registry depends on
// this narrow interface rather than the hub package directly to avoid an
// import cycle between job and wshub.
type Publisher interface {
	Publish(Event)
}
