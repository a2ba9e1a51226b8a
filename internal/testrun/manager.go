// Package testrun implements the test orchestrator: a FIFO queue with a
// single active slot, attempt-stamped dispatch to the editor harness, retry
// backoff, dispatch and execution timeouts, event ingestion, and per-run
// persistence.
package testrun

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UXPLIMA/uxrcoder-hub/internal/artifacts"
	"github.com/UXPLIMA/uxrcoder-hub/internal/baseline"
	"github.com/UXPLIMA/uxrcoder-hub/internal/history"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// DefaultDispatchTimeout bounds how long a dispatched run may wait for the
// editor's started ack.
const DefaultDispatchTimeout = 30 * time.Second

// maxRunLogs bounds the in-memory log tail per run; the full stream lives
// in events.jsonl.
const maxRunLogs = 1000

// ErrUnknownRun is returned for run ids the manager has never seen.
var ErrUnknownRun = errors.New("unknown run")

// Dispatcher delivers dispatch and abort orders to the editor harness. The
// live-stream hub implements it; calls happen outside the manager mutex and
// may block on I/O.
type Dispatcher interface {
	DispatchRun(run *types.TestRun) error
	AbortRun(runID string, attempt int) error
}

// EventAck is the response body for event ingestion.
type EventAck struct {
	RunID     string                `json:"runId"`
	Status    types.RunStatus       `json:"status,omitempty"`
	Attempt   int                   `json:"attempt,omitempty"`
	Ignored   bool                  `json:"ignored,omitempty"`
	Retried   bool                  `json:"retried,omitempty"`
	Finalized bool                  `json:"finalized,omitempty"`
	Reason    string                `json:"reason,omitempty"`
	Baseline  *types.BaselineResult `json:"baseline,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// eventRecord is one line in a run's events.jsonl: either an editor event
// or a lifecycle transition the orchestrator synthesized.
type eventRecord struct {
	Type     string                `json:"type"`
	Attempt  int                   `json:"attempt,omitempty"`
	Status   types.RunStatus       `json:"status,omitempty"`
	Reason   string                `json:"reason,omitempty"`
	Level    string                `json:"level,omitempty"`
	Message  string                `json:"message,omitempty"`
	Artifact string                `json:"artifact,omitempty"`
	Baseline *types.BaselineResult `json:"baseline,omitempty"`
	At       time.Time             `json:"at"`
}

// Manager owns every run's lifecycle. All state transitions happen under
// one mutex; dispatcher calls and the wake/timeout timers re-enter through
// the public entry points with stale-attempt guards.
type Manager struct {
	mu       sync.Mutex
	runs     map[string]*types.TestRun
	queue    []string
	activeID string
	closed   bool

	dispatcher Dispatcher
	store      *artifacts.Store
	baselines  *baseline.Store
	hist       *history.Store
	metrics    *Metrics
	log        *slog.Logger

	dispatchTimeout time.Duration
	now             func() time.Time
	newRunID        func() string

	wakeTimer     *time.Timer
	dispatchTimer *time.Timer
	execTimer     *time.Timer
}

// NewManager wires the orchestrator. store and baselines are required;
// history is optional via SetHistory.
func NewManager(dispatcher Dispatcher, store *artifacts.Store, baselines *baseline.Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		runs:            make(map[string]*types.TestRun),
		dispatcher:      dispatcher,
		store:           store,
		baselines:       baselines,
		metrics:         NewMetrics(),
		log:             log,
		dispatchTimeout: DefaultDispatchTimeout,
		now:             time.Now,
		newRunID:        func() string { return "run-" + strings.Split(uuid.NewString(), "-")[0] },
	}
}

// SetHistory attaches the persistent transition index. Recording happens
// asynchronously; failures are logged and counted, never fatal.
func (m *Manager) SetHistory(h *history.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hist = h
}

// SetClock overrides the timestamp source for tests. Timers still run on
// real time.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Close stops timers and rejects further enqueues. In-flight runs keep
// their current state; the process is shutting down.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopWakeLocked()
	m.stopActiveTimersLocked()
}

// Enqueue normalizes the scenario, creates a queued run, and dispatches it
// if the active slot is free.
func (m *Manager) Enqueue(input *ScenarioInput) (*types.TestRun, error) {
	scenario, err := Normalize(input)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("test manager is shut down")
	}
	id := m.newRunID()
	for m.runs[id] != nil {
		id = m.newRunID()
	}
	now := m.now()
	run := &types.TestRun{
		ID:         id,
		Status:     types.RunQueued,
		Scenario:   scenario,
		MaxRetries: scenario.Safety.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.runs[id] = run
	m.queue = append(m.queue, id)
	m.metrics.RecordEnqueued()
	m.persistLifecycleLocked(run, "queued", "")
	m.recordHistoryLocked(run, "")
	clone := run.Clone()
	m.mu.Unlock()

	m.maybeDispatch()
	return clone, nil
}

// Get returns a copy of the run.
func (m *Manager) Get(runID string) (*types.TestRun, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[runID]
	if run == nil {
		return nil, false
	}
	return run.Clone(), true
}

// List returns copies of known runs, newest first, capped at limit when
// limit > 0.
func (m *Manager) List(limit int) []*types.TestRun {
	m.mu.Lock()
	runs := make([]*types.TestRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run.Clone())
	}
	m.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs
}

// Abort finalizes a queued or active run as aborted. Aborting an already
// terminal run returns its state unchanged.
func (m *Manager) Abort(runID string) (*types.TestRun, error) {
	m.mu.Lock()
	run := m.runs[runID]
	if run == nil {
		m.mu.Unlock()
		return nil, ErrUnknownRun
	}
	if run.Status.IsTerminal() {
		clone := run.Clone()
		m.mu.Unlock()
		return clone, nil
	}

	wasActive := run.Status.IsActive()
	attempt := run.Attempt
	if run.Status == types.RunQueued {
		m.removeFromQueueLocked(runID)
	}
	m.finalizeLocked(run, types.RunAborted, run.Result, "aborted_by_request")
	clone := run.Clone()
	m.mu.Unlock()

	if wasActive {
		if err := m.dispatcher.AbortRun(runID, attempt); err != nil {
			m.log.Warn("abort delivery failed", "runId", runID, "error", err)
		}
	}
	m.maybeDispatch()
	return clone, nil
}

// HandleEvent ingests one editor event and returns the HTTP status plus the
// ack body. Stale attempts are ignored with 202; future attempts rejected
// with 409; terminal replays return the final state with 200.
func (m *Manager) HandleEvent(ev *types.RunEvent) (int, *EventAck) {
	if ev == nil {
		return http.StatusBadRequest, &EventAck{Error: "event body required"}
	}
	if err := ev.Validate(); err != nil {
		return http.StatusBadRequest, &EventAck{RunID: ev.RunID, Error: err.Error()}
	}

	m.mu.Lock()
	run := m.runs[ev.RunID]
	if run == nil {
		m.mu.Unlock()
		return http.StatusNotFound, &EventAck{RunID: ev.RunID, Error: "unknown run"}
	}
	ack := &EventAck{RunID: run.ID, Attempt: run.Attempt, Status: run.Status}

	if ev.Attempt < run.Attempt {
		m.metrics.RecordStaleEvent()
		ack.Ignored = true
		ack.Reason = "stale_attempt_event"
		m.mu.Unlock()
		return http.StatusAccepted, ack
	}
	if ev.Attempt > run.Attempt {
		m.metrics.RecordFutureEvent()
		ack.Reason = "future_attempt_event"
		ack.Error = fmt.Sprintf("event attempt %d is ahead of run attempt %d", ev.Attempt, run.Attempt)
		m.mu.Unlock()
		return http.StatusConflict, ack
	}

	if run.Status.IsTerminal() {
		if ev.Event.IsTerminal() {
			ack.Finalized = true
			m.mu.Unlock()
			return http.StatusOK, ack
		}
		ack.Ignored = true
		ack.Reason = "run_finalized"
		m.mu.Unlock()
		return http.StatusAccepted, ack
	}

	freedSlot := false

	switch ev.Event {
	case types.EventStarted:
		m.handleStartedLocked(run)

	case types.EventLog:
		entry := types.RunLogEntry{
			Timestamp: eventTime(ev, m.now()),
			Level:     ev.Level,
			Message:   ev.Message,
			Attempt:   ev.Attempt,
		}
		if len(run.Logs) >= maxRunLogs {
			run.Logs = run.Logs[1:]
		}
		run.Logs = append(run.Logs, entry)
		run.UpdatedAt = m.now()
		m.appendRecordLocked(run.ID, eventRecord{
			Type: "log", Attempt: ev.Attempt, Level: ev.Level, Message: ev.Message, At: m.now(),
		})

	case types.EventArtifact:
		status, done := m.handleArtifactLocked(run, ev, ack)
		if done {
			freedSlot = true
		}
		if status != 0 {
			m.mu.Unlock()
			return status, ack
		}

	case types.EventPassed:
		m.finalizeLocked(run, types.RunPassed, ev.Result, ev.Reason)
		freedSlot = true
		ack.Finalized = true

	case types.EventAborted:
		m.finalizeLocked(run, types.RunAborted, ev.Result, reasonOr(ev.Reason, "aborted_by_editor"))
		freedSlot = true
		ack.Finalized = true

	case types.EventFailed, types.EventError:
		if run.Attempt <= run.MaxRetries {
			m.scheduleRetryLocked(run, ev.Reason)
			ack.Retried = true
			freedSlot = true
		} else {
			status := types.RunFailed
			if ev.Event == types.EventError {
				status = types.RunError
			}
			m.finalizeLocked(run, status, ev.Result, ev.Reason)
			freedSlot = true
			ack.Finalized = true
		}
	}

	ack.Status = run.Status
	ack.Attempt = run.Attempt
	m.mu.Unlock()

	if freedSlot {
		m.maybeDispatch()
	}
	return http.StatusOK, ack
}

// Report returns the persisted report snapshot for a run.
func (m *Manager) Report(runID string) (json.RawMessage, error) {
	m.mu.Lock()
	_, known := m.runs[runID]
	m.mu.Unlock()
	if !known {
		return nil, ErrUnknownRun
	}
	return m.store.ReadReport(runID)
}

// Artifacts lists a run's artifact files.
func (m *Manager) Artifacts(runID string) ([]artifacts.Info, error) {
	m.mu.Lock()
	_, known := m.runs[runID]
	m.mu.Unlock()
	if !known {
		return nil, ErrUnknownRun
	}
	return m.store.ListArtifacts(runID)
}

// Events tails the run's persisted event log.
func (m *Manager) Events(runID string, limit int) ([]json.RawMessage, error) {
	m.mu.Lock()
	_, known := m.runs[runID]
	m.mu.Unlock()
	if !known {
		return nil, ErrUnknownRun
	}
	return m.store.ReadEvents(runID, limit)
}

// MetricsSnapshot builds the metrics endpoint payload.
func (m *Manager) MetricsSnapshot(limit int) Snapshot {
	m.mu.Lock()
	depth := len(m.queue)
	active := m.activeID
	m.mu.Unlock()
	return m.metrics.TakeSnapshot(depth, active, limit)
}

// --- dispatch machinery ---

// maybeDispatch fills the active slot from the queue if a run is ready.
// Called after every state change that could free the slot or add work;
// the dispatcher call happens outside the mutex.
func (m *Manager) maybeDispatch() {
	m.mu.Lock()
	run := m.selectForDispatchLocked()
	var clone *types.TestRun
	if run != nil {
		clone = run.Clone()
	}
	m.mu.Unlock()

	if clone == nil {
		return
	}
	if err := m.dispatcher.DispatchRun(clone); err != nil {
		// Leave the run dispatching; the dispatch timeout finalizes it if
		// no editor picks it up.
		m.log.Warn("test dispatch delivery failed",
			"runId", clone.ID, "attempt", clone.Attempt, "error", err)
	}
}

func (m *Manager) selectForDispatchLocked() *types.TestRun {
	if m.closed || m.activeID != "" {
		return nil
	}
	now := m.now()
	idx := -1
	var earliest time.Time
	for i, id := range m.queue {
		run := m.runs[id]
		if run.NextDispatchAt == nil || !now.Before(*run.NextDispatchAt) {
			idx = i
			break
		}
		if earliest.IsZero() || run.NextDispatchAt.Before(earliest) {
			earliest = *run.NextDispatchAt
		}
	}
	if idx == -1 {
		if !earliest.IsZero() {
			m.armWakeLocked(earliest.Sub(now))
		}
		return nil
	}

	id := m.queue[idx]
	m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	run := m.runs[id]

	queuedSince := run.UpdatedAt
	run.Status = types.RunDispatching
	run.Attempt++
	run.NextDispatchAt = nil
	run.UpdatedAt = now
	m.activeID = id

	m.metrics.RecordDispatched(now.Sub(queuedSince))
	m.persistLifecycleLocked(run, "dispatching", "")
	m.recordHistoryLocked(run, "")

	attempt := run.Attempt
	m.dispatchTimer = time.AfterFunc(m.dispatchTimeout, func() {
		m.onDispatchTimeout(id, attempt)
	})
	return run
}

func (m *Manager) handleStartedLocked(run *types.TestRun) {
	if run.Status != types.RunDispatching {
		return
	}
	now := m.now()
	run.Status = types.RunRunning
	run.StartedAt = &now
	run.UpdatedAt = now
	m.stopDispatchTimerLocked()

	timeout := time.Duration(run.Scenario.TimeoutMs) * time.Millisecond
	id, attempt := run.ID, run.Attempt
	m.execTimer = time.AfterFunc(timeout, func() {
		m.onExecTimeout(id, attempt)
	})

	m.persistLifecycleLocked(run, "started", "")
	m.recordHistoryLocked(run, "")
}

// handleArtifactLocked persists the artifact and runs a baseline compare
// when requested. Returns a non-zero HTTP status for request-level errors
// before any state changed; done=true when the compare finalized the run.
func (m *Manager) handleArtifactLocked(run *types.TestRun, ev *types.RunEvent, ack *EventAck) (status int, done bool) {
	payload := ev.Artifact

	var data []byte
	var ext string
	switch {
	case payload.DataBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(payload.DataBase64)
		if err != nil {
			ack.Error = fmt.Sprintf("artifact dataBase64 is not valid base64: %v", err)
			return http.StatusBadRequest, false
		}
		data = decoded
		ext = extFromContentType(payload.ContentType)
	default:
		encoded, err := json.Marshal(payload.JSON)
		if err != nil {
			ack.Error = fmt.Sprintf("artifact json payload: %v", err)
			return http.StatusBadRequest, false
		}
		data = encoded
		ext = "json"
	}

	info, err := m.store.WriteArtifact(run.ID, payload.Label, ext, data)
	artifactName := ""
	if err != nil {
		// Persistence failures are reported but never abort the lifecycle.
		m.metrics.RecordPersistError()
		m.log.Error("artifact persistence failed", "runId", run.ID, "label", payload.Label, "error", err)
		ack.Error = fmt.Sprintf("artifact persistence failed: %v", err)
	} else {
		artifactName = info.Name
	}
	run.UpdatedAt = m.now()

	var res *types.BaselineResult
	if payload.Baseline != nil {
		res = m.compareBaselineLocked(payload, ext, data, ack)
		ack.Baseline = res
	}

	m.appendRecordLocked(run.ID, eventRecord{
		Type: "artifact", Attempt: ev.Attempt, Artifact: artifactName, Baseline: res, At: m.now(),
	})

	if res != nil && res.Failed() {
		m.metrics.RecordBaselineFailure()
		result := ev.Result
		if result == nil {
			result = &types.RunResult{AssertionsFailed: 1}
		}
		m.finalizeLocked(run, types.RunFailed, result, "visual_baseline_assertion")
		ack.Finalized = true
		ack.Reason = "visual_baseline_assertion"
		return 0, true
	}
	return 0, false
}

// compareBaselineLocked runs the store compare. A compare that cannot run
// (bad key, bad mode, I/O failure) counts as a failed assertion: the
// scenario demanded a check the hub could not perform.
func (m *Manager) compareBaselineLocked(payload *types.ArtifactPayload, ext string, data []byte, ack *EventAck) *types.BaselineResult {
	req := payload.Baseline
	mode := req.Mode
	if mode == "" {
		mode = types.BaselineAssertOrRecord
	}
	res, err := m.baselines.Compare(baseline.Request{
		Key:          req.Key,
		Mode:         mode,
		Ext:          ext,
		Data:         data,
		AllowMissing: req.AllowMissingBaseline,
	})
	if err != nil {
		m.log.Error("baseline compare failed", "key", req.Key, "error", err)
		ack.Error = fmt.Sprintf("baseline compare failed: %v", err)
		return &types.BaselineResult{Key: req.Key, Mode: mode, Matched: false, Reason: "compare_error"}
	}
	return res
}

func (m *Manager) scheduleRetryLocked(run *types.TestRun, reason string) {
	now := m.now()
	delay := RetryDelay(run.Scenario.Safety, run.Attempt)
	next := now.Add(time.Duration(delay) * time.Millisecond)

	run.Status = types.RunQueued
	run.UpdatedAt = now
	run.NextDispatchAt = &next
	run.RetryBackoffMs = delay
	run.StartedAt = nil

	if m.activeID == run.ID {
		m.activeID = ""
		m.stopActiveTimersLocked()
	}
	m.queue = append(m.queue, run.ID)
	m.metrics.RecordRetry()
	m.persistLifecycleLocked(run, "retry_scheduled", reason)
	m.recordHistoryLocked(run, "retry_scheduled")
}

// finalizeLocked moves the run to a terminal status, frees the active slot,
// and persists the report. Callers trigger maybeDispatch after unlocking.
func (m *Manager) finalizeLocked(run *types.TestRun, status types.RunStatus, result *types.RunResult, reason string) {
	now := m.now()
	run.Status = status
	run.UpdatedAt = now
	finished := now
	run.FinishedAt = &finished
	run.NextDispatchAt = nil

	if result != nil {
		run.Result = result
	}
	if run.Result == nil {
		run.Result = &types.RunResult{}
	}
	if reason != "" && run.Result.Reason == "" {
		run.Result.Reason = reason
	}
	if status == types.RunError && run.ErrorReason == "" {
		run.ErrorReason = reasonOr(reason, run.Result.Reason)
	}

	duration := now.Sub(run.CreatedAt)
	if run.StartedAt != nil {
		duration = now.Sub(*run.StartedAt)
	}
	if run.Result.DurationMs == 0 {
		run.Result.DurationMs = duration.Milliseconds()
	}

	if m.activeID == run.ID {
		m.activeID = ""
		m.stopActiveTimersLocked()
	}

	m.metrics.RecordFinalized(RecentRun{
		RunID:      run.ID,
		Scenario:   scenarioName(run),
		Status:     status,
		Attempts:   run.Attempt,
		DurationMs: duration.Milliseconds(),
		Reason:     run.Result.Reason,
		FinishedAt: now,
	}, duration)

	m.persistLifecycleLocked(run, string(status), run.Result.Reason)
	m.recordHistoryLocked(run, run.Result.Reason)
	m.writeReportLocked(run)
}

func (m *Manager) onDispatchTimeout(runID string, attempt int) {
	m.mu.Lock()
	run := m.runs[runID]
	if run == nil || m.activeID != runID || run.Attempt != attempt || run.Status != types.RunDispatching {
		m.mu.Unlock()
		return
	}
	m.metrics.RecordDispatchTimeout()
	m.finalizeLocked(run, types.RunError, nil, "dispatch_timeout")
	m.mu.Unlock()

	m.maybeDispatch()
}

func (m *Manager) onExecTimeout(runID string, attempt int) {
	m.mu.Lock()
	run := m.runs[runID]
	if run == nil || m.activeID != runID || run.Attempt != attempt || run.Status != types.RunRunning {
		m.mu.Unlock()
		return
	}
	m.metrics.RecordExecTimeout()
	m.finalizeLocked(run, types.RunError, nil, "timeout")
	m.mu.Unlock()

	if err := m.dispatcher.AbortRun(runID, attempt); err != nil {
		m.log.Warn("timeout abort delivery failed", "runId", runID, "error", err)
	}
	m.maybeDispatch()
}

func (m *Manager) onWake() {
	m.maybeDispatch()
}

// --- small helpers ---

func (m *Manager) removeFromQueueLocked(runID string) {
	for i, id := range m.queue {
		if id == runID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) armWakeLocked(d time.Duration) {
	m.stopWakeLocked()
	if d < 0 {
		d = 0
	}
	m.wakeTimer = time.AfterFunc(d, m.onWake)
}

func (m *Manager) stopWakeLocked() {
	if m.wakeTimer != nil {
		m.wakeTimer.Stop()
		m.wakeTimer = nil
	}
}

func (m *Manager) stopDispatchTimerLocked() {
	if m.dispatchTimer != nil {
		m.dispatchTimer.Stop()
		m.dispatchTimer = nil
	}
}

func (m *Manager) stopActiveTimersLocked() {
	m.stopDispatchTimerLocked()
	if m.execTimer != nil {
		m.execTimer.Stop()
		m.execTimer = nil
	}
}

func (m *Manager) persistLifecycleLocked(run *types.TestRun, typ, reason string) {
	m.appendRecordLocked(run.ID, eventRecord{
		Type: typ, Attempt: run.Attempt, Status: run.Status, Reason: reason, At: m.now(),
	})
}

func (m *Manager) appendRecordLocked(runID string, rec eventRecord) {
	if err := m.store.AppendEvent(runID, rec); err != nil {
		m.metrics.RecordPersistError()
		m.log.Error("event log append failed", "runId", runID, "type", rec.Type, "error", err)
	}
}

func (m *Manager) writeReportLocked(run *types.TestRun) {
	report := types.RunReport{Run: run.Clone(), Summary: summarize(run), SavedAt: m.now()}
	if err := m.store.WriteReport(run.ID, report); err != nil {
		m.metrics.RecordPersistError()
		m.log.Error("report write failed", "runId", run.ID, "error", err)
	}
}

// recordHistoryLocked indexes the transition asynchronously; the SQLite
// write must not stall the lifecycle.
func (m *Manager) recordHistoryLocked(run *types.TestRun, reason string) {
	if m.hist == nil {
		return
	}
	tr := history.Transition{
		RunID:    run.ID,
		Scenario: scenarioName(run),
		Status:   run.Status,
		Attempt:  run.Attempt,
		Reason:   reason,
		At:       m.now(),
	}
	go func() {
		if err := m.hist.Record(context.Background(), tr); err != nil {
			m.metrics.RecordPersistError()
			m.log.Error("history record failed", "runId", tr.RunID, "error", err)
		}
	}()
}

func summarize(run *types.TestRun) types.RunSummary {
	s := types.RunSummary{Status: run.Status, AttemptsUsed: run.Attempt}
	if run.Result != nil {
		s.AssertionsPassed = run.Result.AssertionsPassed
		s.AssertionsFailed = run.Result.AssertionsFailed
		s.Reason = run.Result.Reason
		s.DurationMs = run.Result.DurationMs
		if run.Result.FailureStep != nil {
			step := *run.Result.FailureStep
			s.FailureStep = &step
		}
	}
	if s.Reason == "" {
		s.Reason = run.ErrorReason
	}
	return s
}

func scenarioName(run *types.TestRun) string {
	if run.Scenario == nil {
		return ""
	}
	return run.Scenario.Name
}

func eventTime(ev *types.RunEvent, fallback time.Time) time.Time {
	if !ev.Timestamp.IsZero() {
		return ev.Timestamp
	}
	return fallback
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}

func extFromContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return "jpeg"
	case strings.Contains(contentType, "webp"):
		return "webp"
	case strings.Contains(contentType, "gif"):
		return "gif"
	case strings.Contains(contentType, "json"):
		return "json"
	}
	return "bin"
}
