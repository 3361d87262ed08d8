// Package progress tracks the step-by-step state of long-running carrier
// operations so API consumers can poll for status.
package progress

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the overall state of a tracked operation
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// StepStatus is the state of one step within an operation
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepActive    StepStatus = "active"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// Standard step names for carrier operations, in execution order
const (
	StepConnect      = "connect"
	StepAuthenticate = "authenticate"
	StepFetch        = "fetch"
	StepProcess      = "process"
	StepPersist      = "persist"
	StepFinalize     = "finalize"
)

// CarrierOperationSteps is the canonical step sequence for a carrier call
var CarrierOperationSteps = []string{
	StepConnect, StepAuthenticate, StepFetch, StepProcess, StepPersist, StepFinalize,
}

var (
	ErrUnknownStep   = errors.New("unknown step")
	ErrStepNotActive = errors.New("step is not active")
	ErrRunFinished   = errors.New("run already finished")
	ErrStepOrder     = errors.New("steps must begin in order")
)

// Step is one unit of work within a run
type Step struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Run is one tracked operation. At most one step is active at a time, steps
// advance strictly forward, and a failed step halts the run.
type Run struct {
	mu sync.Mutex

	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	TenantID  string     `json:"tenantId"`
	Status    Status     `json:"status"`
	Steps     []Step     `json:"steps"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DoneAt    *time.Time `json:"doneAt,omitempty"`

	// index of the step currently active, -1 when none
	active int
	// index of the next step allowed to begin
	next int
}

// NewRun creates a pending run with the given step names
func NewRun(kind, tenantID string, stepNames []string) *Run {
	steps := make([]Step, len(stepNames))
	for i, name := range stepNames {
		steps[i] = Step{Name: name, Status: StepPending}
	}
	now := time.Now()
	return &Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		TenantID:  tenantID,
		Status:    StatusPending,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
		active:    -1,
	}
}

func (r *Run) finished() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

// Begin activates the named step. The run moves from pending to active on
// the first Begin. Steps must begin in declaration order.
func (r *Run) Begin(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished() {
		return ErrRunFinished
	}
	if r.active >= 0 {
		return ErrStepOrder
	}
	if r.next >= len(r.Steps) {
		return ErrUnknownStep
	}
	if r.Steps[r.next].Name != name {
		return ErrStepOrder
	}

	now := time.Now()
	r.Steps[r.next].Status = StepActive
	r.Steps[r.next].StartedAt = &now
	r.active = r.next
	r.Status = StatusActive
	r.UpdatedAt = now
	return nil
}

// Complete finishes the named step successfully. Completing the last step
// completes the run.
func (r *Run) Complete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished() {
		return ErrRunFinished
	}
	if r.active < 0 || r.Steps[r.active].Name != name {
		return ErrStepNotActive
	}

	now := time.Now()
	r.Steps[r.active].Status = StepCompleted
	r.Steps[r.active].FinishedAt = &now
	r.active = -1
	r.next++
	r.UpdatedAt = now

	if r.next >= len(r.Steps) {
		r.Status = StatusCompleted
		r.DoneAt = &now
	}
	return nil
}

// Fail marks the named step failed and halts the run. Remaining steps stay
// pending and can never begin.
func (r *Run) Fail(name string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished() {
		return ErrRunFinished
	}
	if r.active < 0 || r.Steps[r.active].Name != name {
		return ErrStepNotActive
	}

	now := time.Now()
	r.Steps[r.active].Status = StepError
	r.Steps[r.active].FinishedAt = &now
	if cause != nil {
		r.Steps[r.active].Error = cause.Error()
		r.Error = cause.Error()
	}
	r.active = -1
	r.Status = StatusError
	r.DoneAt = &now
	r.UpdatedAt = now
	return nil
}

// Snapshot returns a copy of the run safe to serialize
func (r *Run) Snapshot() RunView {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps := make([]Step, len(r.Steps))
	copy(steps, r.Steps)
	return RunView{
		ID:        r.ID,
		Kind:      r.Kind,
		TenantID:  r.TenantID,
		Status:    r.Status,
		Steps:     steps,
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		DoneAt:    r.DoneAt,
	}
}

// RunView is an immutable snapshot of a run
type RunView struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	TenantID  string     `json:"tenantId"`
	Status    Status     `json:"status"`
	Steps     []Step     `json:"steps"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DoneAt    *time.Time `json:"doneAt,omitempty"`
}

// Store holds runs in memory with a bounded retention window
type Store struct {
	mu        sync.RWMutex
	runs      map[string]*Run
	retention time.Duration
}

// NewStore creates a run store. Finished runs older than retention are
// dropped on sweep.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Store{
		runs:      make(map[string]*Run),
		retention: retention,
	}
}

// Track registers a run in the store
func (s *Store) Track(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
}

// Get retrieves a run by ID, scoped to tenant
func (s *Store) Get(id, tenantID string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok || r.TenantID != tenantID {
		return nil, false
	}
	return r, true
}

// Sweep drops finished runs older than the retention window and returns
// how many were removed
func (s *Store) Sweep() int {
	cutoff := time.Now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.runs {
		r.mu.Lock()
		expired := r.finished() && r.DoneAt != nil && r.DoneAt.Before(cutoff)
		r.mu.Unlock()
		if expired {
			delete(s.runs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper sweeps on the given interval until the stop channel closes
func (s *Store) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-stop:
				return
			}
		}
	}()
}
