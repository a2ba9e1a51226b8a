package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/UXPLIMA/uxrcoder-hub/internal/derived"
	"github.com/UXPLIMA/uxrcoder-hub/internal/scenegraph"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamMaxMessage = 4 * 1024 * 1024
	streamSendBuffer = 64
)

// Stream frame types. The hub pushes full_sync, mutations, test_dispatch
// and test_abort; clients push delta and receive delta_ack.
const (
	FrameFullSync     = "full_sync"
	FrameMutations    = "mutations"
	FrameDelta        = "delta"
	FrameDeltaAck     = "delta_ack"
	FrameTestDispatch = "test_dispatch"
	FrameTestAbort    = "test_abort"
)

// StreamFrame is the single wire shape for every stream message. Type
// decides which fields are populated.
type StreamFrame struct {
	Type     string                     `json:"type"`
	Revision uint64                     `json:"revision,omitempty"`
	Changes  []types.Change             `json:"changes,omitempty"`
	Snapshot *derived.SnapshotPayload   `json:"snapshot,omitempty"`
	Run      *types.TestRun             `json:"run,omitempty"`
	RunID    string                     `json:"runId,omitempty"`
	Attempt  int                        `json:"attempt,omitempty"`
	Applied  int                        `json:"applied,omitempty"`
	Skipped  []scenegraph.SkippedChange `json:"skipped,omitempty"`
	Error    string                     `json:"error,omitempty"`
}

// Hub fans committed mutations out to every connected stream client and
// carries test dispatch traffic to the editor. It implements the executor's
// post-commit notifier and the test manager's dispatcher.
type Hub struct {
	source   *derived.Cache
	log      *slog.Logger
	upgrader websocket.Upgrader

	// apply is the shared editor write path, set by the server so inbound
	// delta frames follow the same route as POST /sync/delta.
	apply func(changes []types.Change) *scenegraph.DeltaOutcome

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

func newHub(source *derived.Cache, log *slog.Logger) *Hub {
	return &Hub{
		source: source,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The hub binds to loopback or a trusted LAN; the editor plugin
			// sends no Origin header at all.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// ClientCount reports connected stream clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		_ = c.conn.Close()
	}
}

// MutationsCommitted pushes committed changes to every client.
func (h *Hub) MutationsCommitted(revision uint64, changes []types.Change) {
	h.broadcast(&StreamFrame{Type: FrameMutations, Revision: revision, Changes: changes})
}

// FullSyncCommitted pushes a fresh full snapshot after a tree replacement;
// incremental frames cannot describe one.
func (h *Hub) FullSyncCommitted(revision uint64) {
	snap := h.source.Snapshot("")
	h.broadcast(&StreamFrame{Type: FrameFullSync, Revision: snap.Revision, Snapshot: snap})
}

// DispatchRun hands a queued run to the editor over the stream. With no
// client connected the dispatch fails immediately; the run stays in its
// dispatching state until the manager's timeout reclaims it.
func (h *Hub) DispatchRun(run *types.TestRun) error {
	frame := &StreamFrame{Type: FrameTestDispatch, Run: run, RunID: run.ID, Attempt: run.Attempt}
	if n := h.broadcast(frame); n == 0 {
		return fmt.Errorf("no stream clients connected")
	}
	return nil
}

// AbortRun tells the editor to stop the named attempt.
func (h *Hub) AbortRun(runID string, attempt int) error {
	frame := &StreamFrame{Type: FrameTestAbort, RunID: runID, Attempt: attempt}
	if n := h.broadcast(frame); n == 0 {
		return fmt.Errorf("no stream clients connected")
	}
	return nil
}

// broadcast sends one frame to every client and returns how many received
// it. A client with a full send buffer is dropped rather than allowed to
// stall the hub.
func (h *Hub) broadcast(frame *StreamFrame) int {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("stream frame marshal failed", "type", frame.Type, "error", err)
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for c := range h.clients {
		select {
		case c.send <- data:
			sent++
		default:
			h.log.Warn("dropping slow stream client")
			delete(h.clients, c)
			close(c.send)
			_ = c.conn.Close()
		}
	}
	return sent
}

// handleStream upgrades the connection, seeds it with a full snapshot, and
// pumps frames both ways until the peer goes away.
func (h *Hub) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("stream upgrade failed", "error", err)
		return
	}
	client := &streamClient{hub: h, conn: conn, send: make(chan []byte, streamSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	// Seed the snapshot inside the registration lock so no broadcast can
	// slip ahead of it in the send queue.
	snap := h.source.Snapshot("")
	if data, err := json.Marshal(&StreamFrame{Type: FrameFullSync, Revision: snap.Revision, Snapshot: snap}); err == nil {
		client.send <- data
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("stream client connected", "clients", n, "remote", r.RemoteAddr)
	go client.writePump()
	client.readPump()
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump consumes inbound frames until the connection errors. Delta
// frames enter the graph through the shared editor write path; the ack goes
// back to the sender only, while the resulting mutation broadcast reaches
// everyone.
func (c *streamClient) readPump() {
	defer c.hub.unregister(c)
	c.conn.SetReadLimit(streamMaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("stream read error", "error", err)
			}
			return
		}
		var frame StreamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reply(&StreamFrame{Type: FrameDeltaAck, Error: fmt.Sprintf("invalid frame: %v", err)})
			continue
		}
		switch frame.Type {
		case FrameDelta:
			out := c.hub.apply(frame.Changes)
			c.reply(&StreamFrame{
				Type:     FrameDeltaAck,
				Revision: out.Revision,
				Applied:  out.Applied,
				Skipped:  out.Skipped,
			})
		default:
			c.hub.log.Debug("ignoring stream frame", "type", frame.Type)
		}
	}
}

// reply queues a frame for this client only. Best effort: a full buffer
// drops the reply, not the client.
func (c *streamClient) reply(frame *StreamFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings. Exits when the queue is closed or a write fails.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
