// Package job defines the unit of conversion work: an immutable input
// descriptor plus a guarded mutable state machine, progress fraction, and
// append-only backend attempt trail.
package job

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"converto/internal/formats"
)

// State is the lifecycle position of a job.
type State string

const (
	StateCreated   State = "created"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// stateRank orders states so transitions can be checked for monotonicity.
// Terminal states share the highest rank and are absorbing.
var stateRank = map[State]int{
	StateCreated:   0,
	StateQueued:    1,
	StateRunning:   2,
	StateSucceeded: 3,
	StateFailed:    3,
	StateCancelled: 3,
}

// IsTerminal reports whether the state is absorbing.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	state := State(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := stateRank[state]; !ok {
		return "", false
	}
	return state, true
}

// AttemptOutcome classifies one backend attempt.
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "success"
	AttemptFailed    AttemptOutcome = "failure"
	AttemptSkipped   AttemptOutcome = "skipped"
)

// Attempt records a single backend invocation. Records are append-only.
type Attempt struct {
	Backend   string
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   AttemptOutcome
	Error     string
}

// Input describes the uploaded file a job converts.
type Input struct {
	Path     string
	Filename string
	Ext      string
	Size     int64
}

// Job is the unit of work tracked by the scheduler. All mutable fields are
// guarded by mu; external readers take Snapshots.
type Job struct {
	ID        string
	Category  formats.Category
	Input     Input
	TargetExt string

	mu         sync.Mutex
	state      State
	progress   float64
	statusText string
	attempts   []Attempt
	errMessage string
	outputPath string
	scratchDir string
	createdAt  time.Time
	updatedAt  time.Time
}

// New constructs a job in StateCreated with a fresh UUID.
func New(category formats.Category, input Input, targetExt string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Category:  category,
		Input:     input,
		TargetExt: formats.NormalizeExt(targetExt),
		state:     StateCreated,
		createdAt: now,
		updatedAt: now,
	}
}

// Snapshot is an immutable copy of a job's observable state.
type Snapshot struct {
	ID         string
	Category   formats.Category
	Input      Input
	TargetExt  string
	State      State
	Progress   float64
	StatusText string
	Attempts   []Attempt
	Error      string
	OutputPath string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Snapshot returns a copy of the job's current observable state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	attempts := make([]Attempt, len(j.attempts))
	copy(attempts, j.attempts)
	return Snapshot{
		ID:         j.ID,
		Category:   j.Category,
		Input:      j.Input,
		TargetExt:  j.TargetExt,
		State:      j.state,
		Progress:   j.progress,
		StatusText: j.statusText,
		Attempts:   attempts,
		Error:      j.errMessage,
		OutputPath: j.outputPath,
		CreatedAt:  j.createdAt,
		UpdatedAt:  j.updatedAt,
	}
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Transition advances the job to next when the move is monotonic. It
// returns false (without mutating) for regressions and for any transition
// out of a terminal state.
func (j *Job) Transition(next State) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	if stateRank[next] <= stateRank[j.state] {
		return false
	}
	j.state = next
	j.updatedAt = time.Now().UTC()
	return true
}

// SetProgress records a progress observation within the current attempt.
// Fractions are clamped to [0,1] and never regress; a regressing fraction
// only updates the status text.
func (j *Job) SetProgress(fraction float64, statusText string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction >= j.progress {
		j.progress = fraction
	}
	if statusText != "" {
		j.statusText = statusText
	}
	j.updatedAt = time.Now().UTC()
}

// ResetProgress zeroes the fraction at a fallback boundary.
func (j *Job) ResetProgress(statusText string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return
	}
	j.progress = 0
	j.statusText = statusText
	j.updatedAt = time.Now().UTC()
}

// Progress returns the current fraction.
func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// RecordAttempt appends one backend attempt record.
func (j *Job) RecordAttempt(attempt Attempt) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, attempt)
	j.updatedAt = time.Now().UTC()
}

// Succeed marks the job terminal-successful with its output artifact.
func (j *Job) Succeed(outputPath string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.state = StateSucceeded
	j.outputPath = outputPath
	j.progress = 1
	j.statusText = "completed"
	j.updatedAt = time.Now().UTC()
	return true
}

// Fail marks the job terminal-failed with a human-readable reason.
func (j *Job) Fail(message string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.state = StateFailed
	j.errMessage = message
	j.statusText = "failed"
	j.updatedAt = time.Now().UTC()
	return true
}

// CancelFinalize marks the job terminal-cancelled. Cancelling a terminal
// job is a no-op and returns false.
func (j *Job) CancelFinalize() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.state = StateCancelled
	j.statusText = "cancelled"
	j.updatedAt = time.Now().UTC()
	return true
}

// SetScratchDir records the scratch directory allocated for this job.
func (j *Job) SetScratchDir(dir string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.scratchDir = dir
}

// ScratchDir returns the job's scratch directory.
func (j *Job) ScratchDir() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.scratchDir
}

// RelocateOutput records the artifact's post-conversion resting place
// after the scheduler moves it out of scratch space. Only meaningful on a
// succeeded job; any other state is left untouched.
func (j *Job) RelocateOutput(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateSucceeded {
		return
	}
	j.outputPath = path
}

// OutputPath returns the converted artifact path, empty until success.
func (j *Job) OutputPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outputPath
}
