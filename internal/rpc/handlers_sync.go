package rpc

import (
	"fmt"
	"net/http"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/scenegraph"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

func (s *Server) healthPayload() map[string]any {
	unconfirmed, _ := s.graph.PendingCount()
	return map[string]any{
		"status":         "healthy",
		"version":        s.version,
		"revision":       s.graph.Revision(),
		"instanceCount":  s.graph.Len(),
		"pendingChanges": unconfirmed,
		"streamClients":  s.hub.ClientCount(),
		"uptime":         fmt.Sprintf("%.0fs", time.Since(s.startTime).Seconds()),
		"workspace":      s.workspace,
		"agent": map[string]string{
			"bootstrap":    "/agent/bootstrap",
			"capabilities": "/agent/capabilities",
			"snapshot":     "/agent/snapshot",
			"command":      "/agent/command",
			"commands":     "/agent/commands",
			"tests":        "/agent/tests",
			"locks":        "/agent/locks",
			"stream":       "/stream",
		},
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.healthPayload())
}

// handleSyncFull replaces the whole canonical tree with the editor's push.
// The graph diffs old against new itself; only an actual difference moves
// the revision and wakes the stream and the projection.
func (s *Server) handleSyncFull(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Instances []*types.Instance `json:"instances"`
		IsInitial bool              `json:"isInitial"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	out, err := s.graph.ReplaceFull(req.Instances)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if out.ChangesApplied() > 0 {
		s.notifier.FullSyncCommitted(out.Revision)
	}
	s.log.Debug("full sync applied",
		"instances", len(req.Instances),
		"initial", req.IsInitial,
		"created", out.Created,
		"updated", out.Updated,
		"deleted", out.Deleted,
		"revision", out.Revision)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"changesApplied": out.ChangesApplied(),
		"created":        out.Created,
		"updated":        out.Updated,
		"deleted":        out.Deleted,
		"revision":       out.Revision,
		"instanceCount":  s.graph.Len(),
	})
}

// handleSyncDelta applies an ordered editor change batch. Lenient: entries
// that no longer resolve are skipped and reported, never fatal.
func (s *Server) handleSyncDelta(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Changes []types.Change `json:"changes"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	out := s.applyDeltaAndNotify(req.Changes)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"applied":  out.Applied,
		"skipped":  out.Skipped,
		"revision": out.Revision,
	})
}

// handleChanges returns all unconfirmed agent-side changes for the editor
// to apply, bumping delivery counters so re-polls are marked redelivered.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	pending := s.graph.PendingChangesForPlugin()
	if pending == nil {
		pending = []scenegraph.PendingDelivery{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"changes":  pending,
		"count":    len(pending),
		"revision": s.graph.Revision(),
	})
}

func (s *Server) handleConfirmChanges(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	confirmed, unknown := s.graph.ConfirmChanges(req.IDs)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"confirmed": confirmed,
		"unknown":   unknown,
	})
}
