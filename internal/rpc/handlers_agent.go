package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/command"
	"github.com/UXPLIMA/uxrcoder-hub/internal/config"
	"github.com/UXPLIMA/uxrcoder-hub/internal/idempotency"
	"github.com/UXPLIMA/uxrcoder-hub/internal/locks"
	"github.com/UXPLIMA/uxrcoder-hub/internal/schema"
	"github.com/UXPLIMA/uxrcoder-hub/internal/testrun"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// capabilitySchemaVersion moves when the capability manifest itself changes
// shape, independently of the command schema hash.
const capabilitySchemaVersion = 1

func (s *Server) capabilitiesPayload() map[string]any {
	return map[string]any{
		"schemaVersion":     capabilitySchemaVersion,
		"version":           s.version,
		"revision":          s.graph.Revision(),
		"commandSchemaHash": s.schema.Hash(),
		"operations": []string{
			command.OpCreate, command.OpUpdate, command.OpRename,
			command.OpDelete, command.OpReparent,
		},
		"batch": map[string]any{
			"transactional":   true,
			"continueOnError": true,
			"baseRevision":    true,
		},
		"idempotency": map[string]any{
			"header":     IdempotencyHeader,
			"ttlMs":      idempotency.DefaultTTL.Milliseconds(),
			"maxEntries": idempotency.DefaultMaxEntries,
		},
		"locks": map[string]any{
			"defaultTtlMs": s.locks.DefaultTTLValue().Milliseconds(),
		},
		"tests": map[string]any{
			"maxSteps":     testrun.DefaultMaxSteps,
			"maxStepsCap":  testrun.AbsoluteMaxSteps,
			"maxRetries":   testrun.MaxRetriesCap,
			"runtimeModes": []types.RuntimeMode{types.RuntimeNone, types.RuntimeRun, types.RuntimePlay},
			"baselineModes": []types.BaselineMode{
				types.BaselineAssert, types.BaselineRecord, types.BaselineAssertOrRecord,
			},
		},
	}
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.capabilitiesPayload())
}

// handleBootstrap folds the first-contact round trips into one response:
// health and capabilities always, snapshot and schema on request.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	className := strings.TrimSpace(q.Get("className"))
	resp := map[string]any{
		"health":       s.healthPayload(),
		"capabilities": s.capabilitiesPayload(),
	}
	if boolParam(q.Get("includeSnapshot")) {
		resp["snapshot"] = s.source.Snapshot(className)
	}
	if boolParam(q.Get("includeSchema")) {
		if className != "" {
			if cs := s.source.Schema(className); cs != nil {
				resp["schema"] = map[string]*schema.ClassSchema{className: cs}
			} else {
				resp["schema"] = map[string]*schema.ClassSchema{}
			}
		} else {
			resp["schema"] = s.source.Schemas()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	className := strings.TrimSpace(r.URL.Query().Get("className"))
	s.writeJSON(w, http.StatusOK, s.source.Snapshot(className))
}

func (s *Server) handleSchemaProperties(w http.ResponseWriter, r *http.Request) {
	className := strings.TrimSpace(r.URL.Query().Get("className"))
	if className == "" {
		schemas := s.source.Schemas()
		s.writeJSON(w, http.StatusOK, map[string]any{
			"revision": s.graph.Revision(),
			"count":    len(schemas),
			"classes":  schemas,
		})
		return
	}
	cs := s.source.Schema(className)
	if cs == nil {
		s.writeError(w, http.StatusNotFound, "no instances of class "+className)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"revision":  s.graph.Revision(),
		"className": className,
		"schema":    cs,
	})
}

func (s *Server) handleSchemaCommands(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"hash":   s.schema.Hash(),
		"schema": s.schema.Document(),
	})
}

// handleCommand executes one agent command. The executor owns validation,
// locking, idempotent replay and the response body; this handler only moves
// bytes.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	status, resp := s.executor.Execute(body, r.Header.Get(IdempotencyHeader))
	s.writeRaw(w, status, resp)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	status, resp := s.executor.ExecuteBatch(body, r.Header.Get(IdempotencyHeader))
	s.writeRaw(w, status, resp)
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 20)
	resp := map[string]any{
		"stats":      s.locks.Snapshot(),
		"contention": s.locks.RecentContention(limit),
	}
	if includeLocks := q.Get("includeLocks"); includeLocks == "" || boolParam(includeLocks) {
		active := s.locks.Active()
		if active == nil {
			active = []locks.ActiveLock{}
		}
		resp["locks"] = active
		resp["count"] = len(active)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDebugExport snapshots the whole hub state into a timestamped bundle
// under the workspace debug directory.
func (s *Server) handleDebugExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if len(body) > 0 {
		// Label is optional; a bad body should not block an export.
		_ = json.Unmarshal(body, &req)
	}

	bundle := map[string]any{
		"savedAt":      time.Now().UTC(),
		"version":      s.version,
		"workspace":    s.workspace,
		"health":       s.healthPayload(),
		"capabilities": s.capabilitiesPayload(),
		"snapshot":     s.source.Snapshot(""),
		"schemas":      s.source.Schemas(),
		"locks": map[string]any{
			"active":     s.locks.Active(),
			"contention": s.locks.RecentContention(20),
			"stats":      s.locks.Snapshot(),
		},
		"runs":        s.runs.List(20),
		"testMetrics": s.runs.MetricsSnapshot(10),
		"idempotency": s.idem.Snapshot(),
		"derived":     s.source.Stats(),
		"config":      config.Redacted(),
	}
	if s.hist != nil {
		if n, err := s.hist.Count(r.Context()); err == nil {
			bundle["historyRows"] = n
		}
	}
	if s.projector != nil {
		bundle["projection"] = s.projector.Stats()
	}

	path, err := s.store.WriteDebugBundle(req.Label, bundle)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("debug bundle exported", "path", path)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "path": path})
}

// handleDebugProfile times the read-side hot paths against the live graph.
// The schema inference runs for real on every call; the snapshot fetch
// reports whatever the memo gives it, which is the number that matters in
// production.
func (s *Server) handleDebugProfile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	listing := s.graph.IndexedInstances()
	indexMs := msSince(start)

	raw := make([]*types.Instance, 0, len(listing))
	for _, row := range listing {
		raw = append(raw, row.Instance)
	}
	start = time.Now()
	schemas := schema.Infer(raw)
	inferMs := msSince(start)

	start = time.Now()
	snap := s.source.Snapshot("")
	snapshotMs := msSince(start)

	resp := map[string]any{
		"timings": map[string]float64{
			"indexListingMs":  indexMs,
			"schemaInferMs":   inferMs,
			"snapshotFetchMs": snapshotMs,
		},
		"graph": map[string]any{
			"revision":  snap.Revision,
			"instances": len(listing),
			"classes":   len(schemas),
			"roots":     len(s.graph.RootIDs()),
		},
		"requests":    s.metrics.Snapshot(),
		"derived":     s.source.Stats(),
		"idempotency": s.idem.Snapshot(),
		"locks":       s.locks.Snapshot(),
		"stream":      map[string]any{"clients": s.hub.ClientCount()},
	}
	if s.projector != nil {
		resp["projection"] = s.projector.Stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

func boolParam(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func intParam(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
