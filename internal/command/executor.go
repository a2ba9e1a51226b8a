package command

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"github.com/UXPLIMA/uxrcoder-hub/internal/idempotency"
	"github.com/UXPLIMA/uxrcoder-hub/internal/locks"
	"github.com/UXPLIMA/uxrcoder-hub/internal/scenegraph"
	"github.com/UXPLIMA/uxrcoder-hub/internal/schema"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// SchemaSource supplies the current per-class property schemas. The derived
// cache implements it; tests swap in fixed maps.
type SchemaSource interface {
	Schemas() map[string]*schema.ClassSchema
}

// Notifier receives post-commit notifications for the live stream and the
// filesystem projection. Calls happen after the graph lock and path locks
// are released; implementations must not block the caller.
type Notifier interface {
	// MutationsCommitted reports individually committed changes in commit
	// order.
	MutationsCommitted(revision uint64, changes []types.Change)
	// FullSyncCommitted reports a transactional batch commit; subscribers
	// should resynchronize rather than replay entries.
	FullSyncCommitted(revision uint64)
}

// SingleResponse is the body of POST /agent/command.
type SingleResponse struct {
	Success      bool            `json:"success"`
	Op           string          `json:"op,omitempty"`
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	ResolvedPath []string        `json:"resolvedPath,omitempty"`
	Revision     uint64          `json:"revision"`
	Error        string          `json:"error,omitempty"`
	Conflict     *types.Conflict `json:"conflict,omitempty"`
}

// EntryResult is one command's outcome inside a batch response.
type EntryResult struct {
	Index        int             `json:"index"`
	Success      bool            `json:"success"`
	Op           string          `json:"op"`
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	ResolvedPath []string        `json:"resolvedPath,omitempty"`
	Revision     uint64          `json:"revision,omitempty"`
	Error        string          `json:"error,omitempty"`
	Conflict     *types.Conflict `json:"conflict,omitempty"`
}

// BatchResponse is the body of POST /agent/commands. Conflict at this level
// reports envelope failures (revision guard); per-command conflicts live in
// Results.
type BatchResponse struct {
	Success       bool            `json:"success"`
	Results       []EntryResult   `json:"results"`
	Applied       int             `json:"applied"`
	Failed        int             `json:"failed"`
	Transactional bool            `json:"transactional"`
	RolledBack    bool            `json:"rolledBack,omitempty"`
	Revision      uint64          `json:"revision"`
	Error         string          `json:"error,omitempty"`
	Conflict      *types.Conflict `json:"conflict,omitempty"`
}

// Executor runs agent commands against the scene graph: revision guard,
// idempotent replay, path locking, schema validation, mutation, post-commit
// notification. One executor serves all requests concurrently.
type Executor struct {
	graph  *scenegraph.Graph
	locks  *locks.Manager
	idem   *idempotency.Cache
	source SchemaSource
	schema *Schema
	notify Notifier
	log    *slog.Logger

	// newOwner mints per-request lock owners; overridable in tests.
	newOwner func() string
}

// NewExecutor wires the executor. notify may be nil when no stream or
// projection is attached (tests, early startup).
func NewExecutor(graph *scenegraph.Graph, lockMgr *locks.Manager, idem *idempotency.Cache, source SchemaSource, cs *Schema, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		graph:    graph,
		locks:    lockMgr,
		idem:     idem,
		source:   source,
		schema:   cs,
		log:      log,
		newOwner: func() string { return "own-" + uuid.NewString() },
	}
}

// SetNotifier attaches the post-commit notifier.
func (e *Executor) SetNotifier(n Notifier) {
	e.notify = n
}

// Execute runs the single-command flow on a raw request body and returns
// the HTTP status plus the finalized JSON response. headerKey is the
// x-idempotency-key header value, which wins over the body field.
//
// A cache hit replays the stored outcome before anything else runs: a
// retried request must return the byte-identical response even if the
// revision has moved since the original attempt.
func (e *Executor) Execute(body []byte, headerKey string) (int, []byte) {
	var req SingleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return e.fail(nil, "", types.NewValidationFailed(
			fmt.Sprintf("malformed request body: %v", err), nil, nil))
	}
	key := headerKey
	if key == "" {
		key = req.IdempotencyKey
	}

	if status, cached, ok := e.idem.Get(key); ok {
		return status, cached
	}

	if req.BaseRevision != nil {
		if current := e.graph.Revision(); *req.BaseRevision != current {
			return e.fail(nil, key, types.NewRevisionMismatch(*req.BaseRevision, current))
		}
	}

	if conflict := e.checkShape(body); conflict != nil {
		return e.fail(&req.Input, key, conflict)
	}
	change, conflict := req.Input.toChange()
	if conflict != nil {
		return e.fail(&req.Input, key, conflict)
	}

	owner := e.newOwner()
	if denial := e.locks.Acquire(owner, e.lockSetLive(change), 0); denial != nil {
		e.log.Debug("command lock denied",
			"op", req.Op, "blockingOwner", denial.BlockingOwner,
			"blockingPath", types.PathString(denial.BlockingPath))
		return e.fail(&req.Input, key, denial.Conflict())
	}
	defer e.locks.Release(owner)

	// Schemas come from the derived cache, which reads the graph; fetch
	// before taking the write lock.
	schemas := e.source.Schemas()
	tx := e.graph.Begin()
	res, conflict := e.applyOne(tx, change, schemas)
	if conflict != nil {
		tx.Rollback()
		return e.fail(&req.Input, key, conflict)
	}
	rev := tx.Commit()

	if e.notify != nil {
		e.notify.MutationsCommitted(rev, []types.Change{res.Change})
	}

	resp := SingleResponse{
		Success:      true,
		Op:           req.Op,
		ID:           res.ID,
		Name:         res.Name,
		ResolvedPath: res.Path,
		Revision:     rev,
	}
	return e.finalize(key, http.StatusOK, resp)
}

// ExecuteBatch runs the batch flow: commands in order under one shared lock
// owner, transactional or best-effort per the envelope flags.
func (e *Executor) ExecuteBatch(body []byte, headerKey string) (int, []byte) {
	var req BatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return e.failBatch("", nil, types.NewValidationFailed(
			fmt.Sprintf("malformed request body: %v", err), nil, nil))
	}
	key := headerKey
	if key == "" {
		key = req.IdempotencyKey
	}

	if status, cached, ok := e.idem.Get(key); ok {
		return status, cached
	}

	if req.BaseRevision != nil {
		if current := e.graph.Revision(); *req.BaseRevision != current {
			return e.failBatch(key, &req, types.NewRevisionMismatch(*req.BaseRevision, current))
		}
	}
	if len(req.Commands) == 0 {
		return e.failBatch(key, &req, types.NewValidationFailed("commands must not be empty", nil, nil))
	}
	if req.Transactional {
		req.ContinueOnError = false
	}

	owner := e.newOwner()
	defer e.locks.Release(owner)

	if req.Transactional {
		return e.executeTransactional(&req, key, owner, body)
	}
	return e.executeBestEffort(&req, key, owner, body)
}

// executeTransactional applies the whole batch inside one graph transaction;
// any failure rolls the graph back to the entry snapshot.
func (e *Executor) executeTransactional(req *BatchRequest, key, owner string, body []byte) (int, []byte) {
	rawCommands := rawBatchEntries(body)
	schemas := e.source.Schemas()

	tx := e.graph.Begin()
	entryRev := tx.Revision()

	var applied []*scenegraph.MutationResult
	results := make([]EntryResult, 0, len(req.Commands))
	var failure *EntryResult

	for i := range req.Commands {
		input := &req.Commands[i]
		res, conflict := e.runBatchEntry(tx, input, rawEntry(rawCommands, i), owner, schemas)
		entry := EntryResult{Index: i, Op: input.Op}
		if conflict != nil {
			entry.Error = conflict.Error()
			entry.Conflict = conflict
			results = append(results, entry)
			failure = &results[len(results)-1]
			break
		}
		entry.Success = true
		entry.ID = res.ID
		entry.Name = res.Name
		entry.ResolvedPath = res.Path
		applied = append(applied, res)
		results = append(results, entry)
	}

	resp := BatchResponse{Transactional: true, Results: results}
	if failure != nil {
		tx.Rollback()
		resp.RolledBack = true
		resp.Failed = 1
		resp.Revision = entryRev
		resp.Error = failure.Error
		status := batchStatus(results, true)
		return e.finalize(key, status, resp)
	}

	rev := tx.Commit()
	for i := range results {
		results[i].Revision = rev
	}
	if e.notify != nil {
		e.notify.FullSyncCommitted(rev)
	}
	resp.Success = true
	resp.Applied = len(applied)
	resp.Revision = rev
	return e.finalize(key, http.StatusOK, resp)
}

// executeBestEffort applies commands independently, each its own revision.
// continueOnError keeps going past failures; otherwise the first failure
// stops the batch and later commands are not attempted.
func (e *Executor) executeBestEffort(req *BatchRequest, key, owner string, body []byte) (int, []byte) {
	rawCommands := rawBatchEntries(body)

	results := make([]EntryResult, 0, len(req.Commands))
	appliedCount := 0
	failedCount := 0
	lastRev := e.graph.Revision()

	for i := range req.Commands {
		input := &req.Commands[i]
		schemas := e.source.Schemas()

		tx := e.graph.Begin()
		res, conflict := e.runBatchEntry(tx, input, rawEntry(rawCommands, i), owner, schemas)
		entry := EntryResult{Index: i, Op: input.Op}
		if conflict != nil {
			tx.Rollback()
			entry.Error = conflict.Error()
			entry.Conflict = conflict
			results = append(results, entry)
			failedCount++
			if !req.ContinueOnError {
				break
			}
			continue
		}
		rev := tx.Commit()
		if e.notify != nil {
			e.notify.MutationsCommitted(rev, []types.Change{res.Change})
		}
		entry.Success = true
		entry.ID = res.ID
		entry.Name = res.Name
		entry.ResolvedPath = res.Path
		entry.Revision = rev
		results = append(results, entry)
		appliedCount++
		lastRev = rev
	}

	resp := BatchResponse{
		Success:  failedCount == 0,
		Results:  results,
		Applied:  appliedCount,
		Failed:   failedCount,
		Revision: lastRev,
	}
	status := http.StatusOK
	if failedCount > 0 {
		status = batchStatus(results, false)
	}
	return e.finalize(key, status, resp)
}

// runBatchEntry validates and applies one batch command inside tx: wire
// shape, parse, per-command lock acquisition under the shared owner, schema
// validation, mutation.
func (e *Executor) runBatchEntry(tx *scenegraph.Tx, input *Input, raw any, owner string, schemas map[string]*schema.ClassSchema) (*scenegraph.MutationResult, *types.Conflict) {
	if raw != nil {
		if err := e.schema.ValidateCommand(raw); err != nil {
			return nil, types.NewValidationFailed(err.Error(), input.expected(), nil)
		}
	}
	change, conflict := input.toChange()
	if conflict != nil {
		return nil, conflict
	}
	if denial := e.locks.Acquire(owner, e.lockSetTx(tx, change), 0); denial != nil {
		return nil, denial.Conflict()
	}
	return e.applyOne(tx, change, schemas)
}

// applyOne is the shared execute step: schema validation against the
// in-transaction state, then the mutation itself.
func (e *Executor) applyOne(tx *scenegraph.Tx, change types.Change, schemas map[string]*schema.ClassSchema) (*scenegraph.MutationResult, *types.Conflict) {
	if conflict := e.validateChange(tx, change, schemas); conflict != nil {
		return nil, conflict
	}
	return tx.Apply(change)
}

// validateChange applies property schema rules. Creates are lenient (novel
// properties allowed, built-in rules enforced); updates are strict (the
// property must be known to the class schema, the built-ins, or the target
// instance). Ref resolution failures fall through: the mutation itself is
// the authority on not_found.
func (e *Executor) validateChange(tx *scenegraph.Tx, change types.Change, schemas map[string]*schema.ClassSchema) *types.Conflict {
	switch change.Kind {
	case types.ChangeCreate:
		for _, name := range sortedPropNames(change.Properties) {
			if c := schema.ValidateNew(change.ClassName, name, change.Properties[name]); c != nil {
				return c
			}
		}

	case types.ChangeUpdate:
		if change.Name != "" {
			return nil // rename; name rules are enforced by the graph
		}
		id, _, ok := tx.ResolveID(change.ID, change.Path)
		if !ok {
			return nil
		}
		in, ok := tx.Instance(id)
		if !ok {
			return nil
		}
		cs := schemas[in.ClassName]
		if change.Property != "" {
			v := types.NullValue()
			if change.Value != nil {
				v = *change.Value
			}
			return schema.ValidateUpdate(cs, in, change.Property, v)
		}
		for _, name := range sortedPropNames(change.Properties) {
			if c := schema.ValidateUpdate(cs, in, name, change.Properties[name]); c != nil {
				return c
			}
		}
	}
	return nil
}

// lockSetLive computes the lock set for a command against the live graph:
// the target path, the parent path for create/reparent, and the prospective
// child path for name-creating operations. Unresolvable refs contribute
// nothing; execution reports not_found authoritatively.
func (e *Executor) lockSetLive(change types.Change) [][]string {
	return lockSet(change, e.graph.ResolveRef)
}

// lockSetTx is lockSetLive against in-transaction state, so later batch
// entries lock paths created by earlier ones.
func (e *Executor) lockSetTx(tx *scenegraph.Tx, change types.Change) [][]string {
	return lockSet(change, tx.ResolveID)
}

func lockSet(change types.Change, resolve func(string, []string) (string, []string, bool)) [][]string {
	var set [][]string
	switch change.Kind {
	case types.ChangeCreate:
		if _, parentPath, ok := resolve(change.ParentID, change.ParentPath); ok {
			set = append(set, parentPath, childPath(parentPath, change.Name))
		}

	case types.ChangeUpdate:
		_, targetPath, ok := resolve(change.ID, change.Path)
		if !ok {
			break
		}
		set = append(set, targetPath)
		if change.Name != "" && len(targetPath) > 0 {
			// Rename creates a sibling name.
			set = append(set, childPath(targetPath[:len(targetPath)-1], change.Name))
		}

	case types.ChangeDelete:
		if _, targetPath, ok := resolve(change.ID, change.Path); ok {
			set = append(set, targetPath)
		}

	case types.ChangeReparent:
		_, targetPath, ok := resolve(change.ID, change.Path)
		if ok {
			set = append(set, targetPath)
		}
		if _, parentPath, ok := resolve(change.ParentID, change.ParentPath); ok {
			set = append(set, parentPath)
			if len(targetPath) > 0 {
				set = append(set, childPath(parentPath, targetPath[len(targetPath)-1]))
			}
		}
	}
	return set
}

func childPath(parentPath []string, name string) []string {
	return append(append([]string(nil), parentPath...), name)
}

// checkShape validates the raw single-command body against the compiled
// command schema.
func (e *Executor) checkShape(body []byte) *types.Conflict {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return types.NewValidationFailed(fmt.Sprintf("malformed request body: %v", err), nil, nil)
	}
	if err := e.schema.ValidateCommand(decoded); err != nil {
		return types.NewValidationFailed(err.Error(), nil, nil)
	}
	return nil
}

// fail finalizes a single-command failure body.
func (e *Executor) fail(input *Input, key string, conflict *types.Conflict) (int, []byte) {
	if conflict.Expected == nil && input != nil {
		conflict.Expected = input.expected()
	}
	resp := SingleResponse{
		Error:    conflict.Error(),
		Conflict: conflict,
		Revision: e.graph.Revision(),
	}
	if input != nil {
		resp.Op = input.Op
	}
	return e.finalize(key, conflictStatus(conflict.Reason), resp)
}

// failBatch finalizes an envelope-level batch failure (nothing executed).
func (e *Executor) failBatch(key string, req *BatchRequest, conflict *types.Conflict) (int, []byte) {
	resp := BatchResponse{
		Results:  []EntryResult{},
		Revision: e.graph.Revision(),
		Error:    conflict.Error(),
		Conflict: conflict,
	}
	if req != nil {
		resp.Transactional = req.Transactional
	}
	return e.finalize(key, conflictStatus(conflict.Reason), resp)
}

// finalize marshals the response, memoizes it under the idempotency key,
// and returns it. The cache write happens only here, after the body is
// final, so a replay can never observe a half-built outcome.
func (e *Executor) finalize(key string, status int, resp any) (int, []byte) {
	body, err := json.Marshal(resp)
	if err != nil {
		e.log.Error("command response marshal failed", "error", err)
		status = http.StatusInternalServerError
		body = []byte(`{"success":false,"error":"internal: response encoding failed"}`)
	}
	e.idem.Put(key, status, body)
	return status, body
}

// conflictStatus maps conflict reasons to HTTP statuses.
func conflictStatus(reason types.ConflictReason) int {
	switch reason {
	case types.ReasonNotFound:
		return http.StatusNotFound
	case types.ReasonLocked:
		return http.StatusLocked
	case types.ReasonRevisionMismatch:
		return http.StatusConflict
	case types.ReasonValidationFailed:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// batchStatus maps a finished batch to its HTTP status. Locked and
// not_found outrank the generic transactional 409 because they carry the
// more actionable signal.
func batchStatus(results []EntryResult, transactionalFailure bool) int {
	anyFailed := false
	for _, r := range results {
		if r.Conflict == nil {
			continue
		}
		anyFailed = true
		if r.Conflict.Reason == types.ReasonLocked {
			return http.StatusLocked
		}
	}
	for _, r := range results {
		if r.Conflict != nil && r.Conflict.Reason == types.ReasonNotFound {
			return http.StatusNotFound
		}
	}
	if transactionalFailure {
		return http.StatusConflict
	}
	if anyFailed {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}

// rawBatchEntries re-decodes the batch body and returns the commands array
// as schema-validatable values, index-aligned with the typed commands.
func rawBatchEntries(body []byte) []any {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	entries, _ := envelope["commands"].([]any)
	return entries
}

func rawEntry(entries []any, i int) any {
	if i < len(entries) {
		return entries[i]
	}
	return nil
}

func sortedPropNames(props map[string]types.Value) []string {
	if len(props) == 0 {
		return nil
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
