package domain

import (
	"sync"
	"time"
)

type StepStatus string

const (
	StepRunning  StepStatus = "running"
	StepComplete StepStatus = "complete"
	StepSkipped  StepStatus = "skipped"
	StepError    StepStatus = "error"
)

type StepFile struct {
	FileID string  `json:"file_id"`
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
}

type DiagnosticStep struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Detail     string     `json:"detail,omitempty"`
	Status     StepStatus `json:"status"`
	Queries    []string   `json:"queries,omitempty"`
	Items      []string   `json:"items,omitempty"`
	Files      []StepFile `json:"files,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
}

type Diagnostics struct {
	Steps   []DiagnosticStep `json:"steps"`
	Summary string           `json:"summary,omitempty"`
}

// StepRecorder is the per-request append-only diagnostics log. It is
// passed explicitly through pipeline stages and safe for concurrent use
// by multi-path sub-query goroutines. Never shared across requests.
type StepRecorder struct {
	mu      sync.Mutex
	steps   []DiagnosticStep
	started map[string]time.Time
	summary string
}

func NewStepRecorder() *StepRecorder {
	return &StepRecorder{started: make(map[string]time.Time)}
}

func (r *StepRecorder) Begin(id, title string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started[id] = time.Now()
	r.steps = append(r.steps, DiagnosticStep{ID: id, Title: title, Status: StepRunning})
}

// Finish marks the step complete and applies mutate to its final shape.
func (r *StepRecorder) Finish(id string, mutate func(*DiagnosticStep)) {
	r.finish(id, StepComplete, mutate)
}

func (r *StepRecorder) Fail(id, detail string) {
	r.finish(id, StepError, func(step *DiagnosticStep) {
		step.Detail = detail
	})
}

func (r *StepRecorder) Skip(id, title, detail string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, DiagnosticStep{ID: id, Title: title, Detail: detail, Status: StepSkipped})
}

func (r *StepRecorder) SetSummary(summary string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = summary
}

// Step returns a copy of the step with the given id, for event emission.
func (r *StepRecorder) Step(id string) (DiagnosticStep, bool) {
	if r == nil {
		return DiagnosticStep{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.steps) - 1; i >= 0; i-- {
		if r.steps[i].ID == id {
			return r.steps[i], true
		}
	}
	return DiagnosticStep{}, false
}

// Snapshot copies the recorded steps into an immutable Diagnostics value.
func (r *StepRecorder) Snapshot() *Diagnostics {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := make([]DiagnosticStep, len(r.steps))
	copy(steps, r.steps)
	return &Diagnostics{Steps: steps, Summary: r.summary}
}

func (r *StepRecorder) finish(id string, status StepStatus, mutate func(*DiagnosticStep)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.steps) - 1; i >= 0; i-- {
		if r.steps[i].ID != id {
			continue
		}
		step := &r.steps[i]
		step.Status = status
		if startedAt, ok := r.started[id]; ok {
			step.DurationMs = time.Since(startedAt).Milliseconds()
			delete(r.started, id)
		}
		if mutate != nil {
			mutate(step)
		}
		return
	}
}
