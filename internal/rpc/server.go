// Package rpc is the HTTP surface of the hub: the editor sync endpoints,
// the agent control-plane, the test orchestrator API, and the websocket
// live stream.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/artifacts"
	"github.com/UXPLIMA/uxrcoder-hub/internal/baseline"
	"github.com/UXPLIMA/uxrcoder-hub/internal/command"
	"github.com/UXPLIMA/uxrcoder-hub/internal/derived"
	"github.com/UXPLIMA/uxrcoder-hub/internal/history"
	"github.com/UXPLIMA/uxrcoder-hub/internal/idempotency"
	"github.com/UXPLIMA/uxrcoder-hub/internal/locks"
	"github.com/UXPLIMA/uxrcoder-hub/internal/projection"
	"github.com/UXPLIMA/uxrcoder-hub/internal/scenegraph"
	"github.com/UXPLIMA/uxrcoder-hub/internal/telemetry"
	"github.com/UXPLIMA/uxrcoder-hub/internal/testrun"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// maxBodyBytes bounds request bodies. Full tree pushes from large places
// are the biggest payloads this surface sees.
const maxBodyBytes = 32 * 1024 * 1024

// IdempotencyHeader carries the client-supplied replay key.
const IdempotencyHeader = "x-idempotency-key"

// Deps are the subsystems the server serves. Graph through Baselines are
// required; History and Projector are optional.
type Deps struct {
	Graph     *scenegraph.Graph
	Derived   *derived.Cache
	Locks     *locks.Manager
	Idem      *idempotency.Cache
	Artifacts *artifacts.Store
	Baselines *baseline.Store
	History   *history.Store
	Projector *projection.Scheduler
	Version   string
	Workspace string
	Log       *slog.Logger
}

// Server wires the hub's subsystems behind the HTTP surface. It owns the
// command executor, the test manager, and the stream hub; everything else
// is shared with the process that built it.
type Server struct {
	graph     *scenegraph.Graph
	source    *derived.Cache
	locks     *locks.Manager
	idem      *idempotency.Cache
	schema    *command.Schema
	executor  *command.Executor
	runs      *testrun.Manager
	hub       *Hub
	store     *artifacts.Store
	hist      *history.Store
	projector *projection.Scheduler
	notifier  command.Notifier
	metrics   *Metrics
	log       *slog.Logger

	version   string
	workspace string
	startTime time.Time

	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
	mu         sync.RWMutex
}

// NewServer assembles the surface. The stream hub doubles as the mutation
// broadcaster and the test dispatcher; the projection scheduler rides the
// same post-commit fan-out.
func NewServer(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		graph:     deps.Graph,
		source:    deps.Derived,
		locks:     deps.Locks,
		idem:      deps.Idem,
		schema:    command.MustCompileSchema(),
		store:     deps.Artifacts,
		hist:      deps.History,
		projector: deps.Projector,
		metrics:   NewMetrics(),
		log:       log,
		version:   deps.Version,
		workspace: deps.Workspace,
		startTime: time.Now(),
	}
	if s.version == "" {
		s.version = "dev"
	}

	s.hub = newHub(deps.Derived, log)
	s.hub.apply = s.applyDeltaAndNotify

	targets := []command.Notifier{s.hub}
	if deps.Projector != nil {
		targets = append(targets, deps.Projector)
	}
	s.notifier = fanoutNotifier(targets)

	s.executor = command.NewExecutor(deps.Graph, deps.Locks, deps.Idem, deps.Derived, s.schema, log)
	s.executor.SetNotifier(s.notifier)

	s.runs = testrun.NewManager(s.hub, deps.Artifacts, deps.Baselines, log)
	if deps.History != nil {
		s.runs.SetHistory(deps.History)
	}

	s.handler = s.routes()
	return s
}

// Runs exposes the test manager for process shutdown hooks.
func (s *Server) Runs() *testrun.Manager {
	return s.runs
}

// Handler returns the fully routed handler. Used directly by tests; Start
// serves it.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold the connection
		IdleTimeout:  120 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("hub listening", "addr", ln.Addr().String(), "version", s.version)
	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Addr returns the bound address once Start has opened the listener.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Close releases the server-owned subsystems (stream hub, test manager).
func (s *Server) Close() {
	s.hub.Close()
	s.runs.Close()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Editor plugin surface.
	mux.HandleFunc("POST /sync", s.handleSyncFull)
	mux.HandleFunc("POST /sync/delta", s.handleSyncDelta)
	mux.HandleFunc("GET /changes", s.handleChanges)
	mux.HandleFunc("POST /changes/confirm", s.handleConfirmChanges)

	// Agent control-plane.
	mux.HandleFunc("GET /agent/bootstrap", s.handleBootstrap)
	mux.HandleFunc("GET /agent/capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /agent/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /agent/schema/properties", s.handleSchemaProperties)
	mux.HandleFunc("GET /agent/schema/commands", s.handleSchemaCommands)
	mux.HandleFunc("POST /agent/command", s.handleCommand)
	mux.HandleFunc("POST /agent/commands", s.handleCommands)
	mux.HandleFunc("GET /agent/locks", s.handleLocks)

	// Test orchestrator.
	mux.HandleFunc("POST /agent/tests/run", s.handleTestEnqueue)
	mux.HandleFunc("GET /agent/tests", s.handleTestList)
	mux.HandleFunc("GET /agent/tests/metrics", s.handleTestMetrics)
	mux.HandleFunc("POST /agent/tests/events", s.handleTestEvents)
	mux.HandleFunc("GET /agent/tests/{id}", s.handleTestGet)
	mux.HandleFunc("POST /agent/tests/{id}/abort", s.handleTestAbort)
	mux.HandleFunc("GET /agent/tests/{id}/report", s.handleTestReport)
	mux.HandleFunc("GET /agent/tests/{id}/artifacts", s.handleTestArtifacts)
	mux.HandleFunc("GET /agent/tests/{id}/events", s.handleTestRunEvents)

	// Debug.
	mux.HandleFunc("POST /agent/debug/export", s.handleDebugExport)
	mux.HandleFunc("GET /agent/debug/profile", s.handleDebugProfile)

	// Live extension stream.
	mux.HandleFunc("GET /stream", s.hub.handleStream)

	// WrapHandler is the identity when UXR_OTEL_ENABLED is off.
	return telemetry.WrapHandler(s.instrument(s.recoverer(mux)))
}

// recoverer converts handler panics into plain 500 bodies. The message is
// included, the stack is not.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic", "path", r.URL.Path, "panic", rec)
				s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// instrument records per-route counters and latency. The mux fills in
// r.Pattern during routing, so runs with distinct ids share one key.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.Pattern
		if route == "" {
			route = r.Method + " " + r.URL.Path
		}
		s.metrics.RecordRequest(route, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack forwards to the underlying writer so the websocket upgrade on
// /stream works through the middleware chain.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// applyDeltaAndNotify is the shared write path for editor deltas: the HTTP
// delta endpoint and inbound stream frames both land here.
func (s *Server) applyDeltaAndNotify(changes []types.Change) *scenegraph.DeltaOutcome {
	out := s.graph.ApplyDelta(changes)
	if out.Applied > 0 {
		s.notifier.MutationsCommitted(out.Revision, changes)
	}
	return out
}

// fanoutNotifier forwards post-commit notifications to every target in
// order (stream hub first, then the projection scheduler).
type fanoutNotifier []command.Notifier

func (f fanoutNotifier) MutationsCommitted(revision uint64, changes []types.Change) {
	for _, n := range f {
		n.MutationsCommitted(revision, changes)
	}
}

func (f fanoutNotifier) FullSyncCommitted(revision uint64) {
	for _, n := range f {
		n.FullSyncCommitted(revision)
	}
}

// --- body and response helpers ---

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := s.readBody(w, r)
	if !ok {
		return false
	}
	if len(body) == 0 {
		s.writeError(w, http.StatusBadRequest, "request body required")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response encode failed", "error", err)
	}
}

func (s *Server) writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
