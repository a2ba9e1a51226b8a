package types

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a test run.
type RunStatus string

// Run status constants. Only queued/dispatching/running transition further;
// the rest are terminal.
const (
	RunQueued      RunStatus = "queued"
	RunDispatching RunStatus = "dispatching"
	RunRunning     RunStatus = "running"
	RunPassed      RunStatus = "passed"
	RunFailed      RunStatus = "failed"
	RunAborted     RunStatus = "aborted"
	RunError       RunStatus = "error"
)

// IsValid reports whether the status is one of the known constants.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunQueued, RunDispatching, RunRunning, RunPassed, RunFailed, RunAborted, RunError:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunPassed, RunFailed, RunAborted, RunError:
		return true
	}
	return false
}

// IsActive reports whether the run occupies the single active slot.
func (s RunStatus) IsActive() bool {
	return s == RunDispatching || s == RunRunning
}

// TestRun is one dispatchable instance of a scenario.
type TestRun struct {
	ID         string    `json:"id"`
	Status     RunStatus `json:"status"`
	Scenario   *Scenario `json:"scenario"`
	Attempt    int       `json:"attempt"` // 1-based; bumped on each dispatch
	MaxRetries int       `json:"maxRetries"`

	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	NextDispatchAt *time.Time `json:"nextDispatchAt,omitempty"`
	RetryBackoffMs int64      `json:"retryBackoffMs,omitempty"`

	Logs   []RunLogEntry `json:"logs,omitempty"`
	Result *RunResult    `json:"result,omitempty"`

	// ErrorReason records why a run finalized as error (dispatch_timeout,
	// timeout, internal message).
	ErrorReason string `json:"errorReason,omitempty"`
}

// Clone deep-copies the run so callers can hand it out without exposing
// manager-internal state to mutation.
func (r *TestRun) Clone() *TestRun {
	out := *r
	if r.Scenario != nil {
		out.Scenario = r.Scenario.Clone()
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	if r.NextDispatchAt != nil {
		t := *r.NextDispatchAt
		out.NextDispatchAt = &t
	}
	if r.Logs != nil {
		out.Logs = append([]RunLogEntry(nil), r.Logs...)
	}
	if r.Result != nil {
		res := *r.Result
		if r.Result.FailureStep != nil {
			step := *r.Result.FailureStep
			res.FailureStep = &step
		}
		out.Result = &res
	}
	return &out
}

// RunLogEntry is one log line emitted by the editor-side harness.
type RunLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message"`
	Attempt   int       `json:"attempt,omitempty"`
}

// RunResult is the terminal summary reported by the editor (or synthesized
// by the orchestrator on timeout).
type RunResult struct {
	AssertionsPassed int    `json:"assertionsPassed"`
	AssertionsFailed int    `json:"assertionsFailed"`
	FailureStep      *int   `json:"failureStep,omitempty"`
	Reason           string `json:"reason,omitempty"`
	DurationMs       int64  `json:"durationMs,omitempty"`
}

// RunReport is the persisted snapshot written after every finalization:
// the run itself plus a derived summary.
type RunReport struct {
	Run     *TestRun   `json:"run"`
	Summary RunSummary `json:"summary"`
	SavedAt time.Time  `json:"savedAt"`
}

// RunSummary is the derived block of a report.
type RunSummary struct {
	Status           RunStatus `json:"status"`
	AttemptsUsed     int       `json:"attemptsUsed"`
	DurationMs       int64     `json:"durationMs"`
	AssertionsPassed int       `json:"assertionsPassed"`
	AssertionsFailed int       `json:"assertionsFailed"`
	FailureStep      *int      `json:"failureStep,omitempty"`
	Reason           string    `json:"reason,omitempty"`
}

// RuntimeMode selects how the editor hosts the scenario.
type RuntimeMode string

// Runtime mode constants. The legacy "server" spelling normalizes to run.
const (
	RuntimeNone RuntimeMode = "none"
	RuntimeRun  RuntimeMode = "run"
	RuntimePlay RuntimeMode = "play"
)

// IsValid reports whether the mode is one of the known constants.
func (m RuntimeMode) IsValid() bool {
	switch m {
	case RuntimeNone, RuntimeRun, RuntimePlay:
		return true
	}
	return false
}

// Scenario is a normalized test scenario ready for dispatch.
type Scenario struct {
	Name      string          `json:"name,omitempty"`
	Steps     []ScenarioStep  `json:"steps"`
	Safety    ScenarioSafety  `json:"safety"`
	Runtime   ScenarioRuntime `json:"runtime"`
	Isolation Isolation       `json:"isolation"`
	// TimeoutMs is the execution timeout; normalization clamps it to
	// [5s, 15m] and defaults it to 120s.
	TimeoutMs int64 `json:"timeoutMs,omitempty"`
}

// Clone deep-copies the scenario.
func (s *Scenario) Clone() *Scenario {
	out := *s
	out.Steps = make([]ScenarioStep, len(s.Steps))
	for i, step := range s.Steps {
		out.Steps[i] = step.Clone()
	}
	if s.Isolation.Options != nil {
		opts := make(map[string]any, len(s.Isolation.Options))
		for k, v := range s.Isolation.Options {
			opts[k] = v
		}
		out.Isolation.Options = opts
	}
	return &out
}

// ScenarioStep is a single instruction for the editor-side harness. Params
// are opaque to the hub beyond the destructive-type gate.
type ScenarioStep struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Clone deep-copies the step's parameter map (one level; params are
// plain JSON data).
func (st ScenarioStep) Clone() ScenarioStep {
	out := st
	if st.Params != nil {
		out.Params = make(map[string]any, len(st.Params))
		for k, v := range st.Params {
			out.Params[k] = v
		}
	}
	return out
}

// ScenarioSafety bounds retries and step counts.
type ScenarioSafety struct {
	MaxSteps                int     `json:"maxSteps,omitempty"`
	MaxRetries              int     `json:"maxRetries,omitempty"`
	RetryDelayMs            int64   `json:"retryDelayMs,omitempty"`
	RetryBackoffFactor      float64 `json:"retryBackoffFactor,omitempty"`
	MaxRetryDelayMs         int64   `json:"maxRetryDelayMs,omitempty"`
	AllowDestructiveActions bool    `json:"allowDestructiveActions,omitempty"`
}

// ScenarioRuntime carries the editor-side runtime selection. Opaque
// passthrough beyond mode normalization.
type ScenarioRuntime struct {
	Mode RuntimeMode `json:"mode"`
}

// Isolation governs editor-side rollback. Enabled defaults to true; the
// options block is passed through untouched.
type Isolation struct {
	Enabled bool           `json:"enabled"`
	Options map[string]any `json:"options,omitempty"`
}

// RunEventType classifies events arriving from the editor harness.
type RunEventType string

// Run event constants.
const (
	EventStarted  RunEventType = "started"
	EventLog      RunEventType = "log"
	EventArtifact RunEventType = "artifact"
	EventPassed   RunEventType = "passed"
	EventFailed   RunEventType = "failed"
	EventAborted  RunEventType = "aborted"
	EventError    RunEventType = "error"
)

// IsValid reports whether the event type is one of the known constants.
func (e RunEventType) IsValid() bool {
	switch e {
	case EventStarted, EventLog, EventArtifact, EventPassed, EventFailed, EventAborted, EventError:
		return true
	}
	return false
}

// IsTerminal reports whether the event finalizes (or retries) the run.
func (e RunEventType) IsTerminal() bool {
	switch e {
	case EventPassed, EventFailed, EventAborted, EventError:
		return true
	}
	return false
}

// RunEvent is one record on the editor → hub event stream. Attempt is the
// race gate: events stamped with an older attempt are ignored, newer ones
// rejected.
type RunEvent struct {
	RunID   string       `json:"runId"`
	Attempt int          `json:"attempt"`
	Event   RunEventType `json:"event"`

	// Log fields.
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	// Artifact fields.
	Artifact *ArtifactPayload `json:"artifact,omitempty"`

	// Terminal fields.
	Result *RunResult `json:"result,omitempty"`
	Reason string     `json:"reason,omitempty"`

	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Validate checks the envelope before ingestion.
func (e *RunEvent) Validate() error {
	if e.RunID == "" {
		return fmt.Errorf("runId is required")
	}
	if e.Attempt < 1 {
		return fmt.Errorf("attempt must be >= 1 (got %d)", e.Attempt)
	}
	if !e.Event.IsValid() {
		return fmt.Errorf("invalid event type: %q", e.Event)
	}
	if e.Event == EventArtifact && e.Artifact == nil {
		return fmt.Errorf("artifact event missing artifact payload")
	}
	if e.Event == EventArtifact {
		if e.Artifact.Label == "" {
			return fmt.Errorf("artifact payload missing label")
		}
		if e.Artifact.DataBase64 == "" && len(e.Artifact.JSON) == 0 {
			return fmt.Errorf("artifact payload carries neither dataBase64 nor json")
		}
	}
	return nil
}

// ArtifactPayload is the body of an artifact event: either base64 binary
// data (screenshots) or a JSON document (structured captures). When a
// Baseline block is present the orchestrator runs a visual-baseline compare.
type ArtifactPayload struct {
	Label       string           `json:"label"`
	ContentType string           `json:"contentType,omitempty"` // e.g. image/png
	DataBase64  string           `json:"dataBase64,omitempty"`
	JSON        map[string]any   `json:"json,omitempty"`
	Baseline    *BaselineRequest `json:"baseline,omitempty"`
}

// BaselineMode selects visual-baseline behavior for an artifact.
type BaselineMode string

// Baseline mode constants.
const (
	BaselineAssert         BaselineMode = "assert"
	BaselineRecord         BaselineMode = "record"
	BaselineAssertOrRecord BaselineMode = "assert_or_record"
)

// IsValid reports whether the mode is one of the known constants.
func (m BaselineMode) IsValid() bool {
	switch m {
	case BaselineAssert, BaselineRecord, BaselineAssertOrRecord:
		return true
	}
	return false
}

// BaselineRequest asks the hub to compare or record an artifact against a
// keyed baseline image.
type BaselineRequest struct {
	Key                  string       `json:"key"`
	Mode                 BaselineMode `json:"mode"`
	AllowMissingBaseline bool         `json:"allowMissingBaseline,omitempty"`
}

// BaselineResult is the outcome of a compare/record operation.
type BaselineResult struct {
	Key             string       `json:"key"`
	Mode            BaselineMode `json:"mode"`
	BaselineFound   bool         `json:"baselineFound"`
	Matched         bool         `json:"matched"`
	BaselinePath    string       `json:"baselinePath,omitempty"`
	IncomingHash    string       `json:"incomingHash,omitempty"`
	BaselineHash    string       `json:"baselineHash,omitempty"`
	UpdatedBaseline bool         `json:"updatedBaseline"`
	Reason          string       `json:"reason,omitempty"`
}

// Failed reports whether the comparison should fail the run.
func (r *BaselineResult) Failed() bool {
	return !r.Matched
}
