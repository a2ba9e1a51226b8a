package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/artifacts"
	"github.com/UXPLIMA/uxrcoder-hub/internal/testrun"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// handleTestEnqueue accepts a scenario, either wrapped in {"scenario": …} or
// as the bare object, normalizes it and queues a run.
func (s *Server) handleTestEnqueue(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if len(body) == 0 {
		s.writeError(w, http.StatusBadRequest, "request body required")
		return
	}
	var probe struct {
		Scenario json.RawMessage `json:"scenario"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(probe.Scenario) > 0 && string(probe.Scenario) != "null" {
		body = probe.Scenario
	}
	var input testrun.ScenarioInput
	if err := json.Unmarshal(body, &input); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid scenario: "+err.Error())
		return
	}
	run, err := s.runs.Enqueue(&input)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      run.ID,
		"runId":   run.ID,
		"status":  run.Status,
		"run":     run,
	})
}

func (s *Server) handleTestList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 20)
	runs := s.runs.List(limit)
	if runs == nil {
		runs = []*types.TestRun{}
	}
	resp := map[string]any{
		"runs":  runs,
		"items": runs,
		"count": len(runs),
	}
	if boolParam(q.Get("includeHistory")) && s.hist != nil {
		histLimit := limit
		if histLimit == 0 {
			histLimit = 50
		}
		var since time.Time
		if raw := q.Get("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid since (RFC3339 expected): "+raw)
				return
			}
			since = t
		}
		if trans, err := s.hist.List(r.Context(), since, histLimit); err == nil {
			resp["history"] = trans
		} else {
			s.log.Warn("history query failed", "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTestGet(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown run")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":     run.ID,
		"status": run.Status,
		"run":    run,
	})
}

func (s *Server) handleTestAbort(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Abort(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, testrun.ErrUnknownRun) {
			s.writeError(w, http.StatusNotFound, "unknown run")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      run.ID,
		"status":  run.Status,
		"run":     run,
	})
}

func (s *Server) handleTestReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.runs.Report(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, testrun.ErrUnknownRun) {
			s.writeError(w, http.StatusNotFound, "unknown run")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if report == nil {
		s.writeError(w, http.StatusNotFound, "report not yet written")
		return
	}
	s.writeRaw(w, http.StatusOK, report)
}

func (s *Server) handleTestArtifacts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	infos, err := s.runs.Artifacts(id)
	if err != nil {
		if errors.Is(err, testrun.ErrUnknownRun) {
			s.writeError(w, http.StatusNotFound, "unknown run")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if infos == nil {
		infos = []artifacts.Info{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"runId":     id,
		"artifacts": infos,
		"count":     len(infos),
	})
}

// handleTestRunEvents tails the run's persisted event log.
func (s *Server) handleTestRunEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := intParam(r.URL.Query().Get("limit"), 100)
	events, err := s.runs.Events(id, limit)
	if err != nil {
		if errors.Is(err, testrun.ErrUnknownRun) {
			s.writeError(w, http.StatusNotFound, "unknown run")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []json.RawMessage{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"runId":  id,
		"events": events,
		"count":  len(events),
	})
}

// handleTestEvents is the editor-side ingress for run lifecycle events. The
// manager decides the status; acks are diagnostic, not contractual.
func (s *Server) handleTestEvents(w http.ResponseWriter, r *http.Request) {
	var ev types.RunEvent
	if !s.decodeBody(w, r, &ev) {
		return
	}
	status, ack := s.runs.HandleEvent(&ev)
	s.writeJSON(w, status, ack)
}

func (s *Server) handleTestMetrics(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r.URL.Query().Get("limit"), 10)
	s.writeJSON(w, http.StatusOK, s.runs.MetricsSnapshot(limit))
}
