package job

import (
	"sync"
	"time"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

// Registry is the process's single source of truth for job state. It is
// intentionally non-durable: a restart loses every job, matching spec.md's
// explicit acceptance of in-memory-only job tracking.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	publisher Publisher
}

// NewRegistry creates an empty registry. publisher may be nil, in which case
// transitions are simply not broadcast anywhere.
func NewRegistry(publisher Publisher) *Registry {
	return &Registry{
		jobs:      make(map[string]*Job),
		publisher: publisher,
	}
}

// Register adds a newly created job in StatePending.
func (r *Registry) Register(j *Job) {
	j.State = StatePending
	j.CreatedAt = time.Now()
	j.UpdatedAt = j.CreatedAt

	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()

	r.publish(j.ID, StatePending, "")
}

// Get returns the job for id, or ok=false if no such job is registered.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Transition moves a job from its current state to `to`. It returns an
// AppError (ErrCodeConflict) if the transition is not legal from the job's
// current state.
func (r *Registry) Transition(id string, to State, message string) error {
	j, ok := r.Get(id)
	if !ok {
		return logging.ErrJobNotFound(id)
	}

	j.mu.Lock()
	from := j.State
	if !CanTransition(from, to) {
		j.mu.Unlock()
		return logging.ErrInvalidTransition(id, string(from), string(to))
	}
	j.State = to
	j.UpdatedAt = time.Now()
	if message != "" {
		j.ErrorMessage = message
	}
	j.mu.Unlock()

	r.publish(id, to, message)
	return nil
}

// RequestCancel signals cooperative cancellation for a job. A pending job is
// cancelled immediately; a processing job is marked cancelling and the
// worker observes CancelRequested() at its next checkpoint. Terminal jobs
// return ErrAlreadyTerminal.
func (r *Registry) RequestCancel(id string) error {
	j, ok := r.Get(id)
	if !ok {
		return logging.ErrJobNotFound(id)
	}

	j.mu.Lock()
	state := j.State
	j.mu.Unlock()

	switch state {
	case StatePending:
		j.setCancelRequested()
		return r.Transition(id, StateCancelled, "Cancelled by user")
	case StateProcessing:
		j.setCancelRequested()
		return r.Transition(id, StateCancelling, "cancellation requested")
	case StateCancelling:
		return nil
	default:
		return logging.ErrAlreadyTerminal(id, string(state))
	}
}

// Count returns the number of jobs currently tracked, keyed by state. Used
// by the metrics/health surface.
func (r *Registry) Count() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[State]int)
	for _, j := range r.jobs {
		j.mu.Lock()
		counts[j.State]++
		j.mu.Unlock()
	}
	return counts
}

func (r *Registry) publish(jobID string, state State, message string) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(Event{
		JobID:     jobID,
		State:     state,
		Timestamp: time.Now(),
		Message:   message,
	})
}
