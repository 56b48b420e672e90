package vote

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"Sutian/internal/core/votes"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamBufferSize = 64
)

// StreamHub pushes vote updates to websocket clients. It observes the vote
// service once and fans each event out to every connected client.
// Each client has a buffered queue drained by its own writer, so a slow client
// never blocks the vote path; a client whose queue is full is disconnected.
type StreamHub struct {
	clients     map[*streamClient]struct{}
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	unsubscribe func()
	mu          sync.Mutex
}

type streamClient struct {
	conn     *websocket.Conn
	send     chan []byte
	targetID string
	once     sync.Once
}

// NewStreamHub subscribes to service updates. allowedOrigins restricts the
// websocket handshake; empty allows every origin.
func NewStreamHub(service votes.Service, allowedOrigins []string, logger *slog.Logger) *StreamHub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &StreamHub{
		clients: make(map[*streamClient]struct{}),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
	h.unsubscribe = service.OnVoteUpdate(h.publish)
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleStream upgrades the request and streams vote updates as JSON text
// frames. ?targetId= restricts the stream to one definition.
// GET /api/votes/stream
func (h *StreamHub) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		conn:     conn,
		send:     make(chan []byte, streamBufferSize),
		targetID: r.URL.Query().Get("targetId"),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("vote stream connected", "remote", r.RemoteAddr, "target", c.targetID, "clients", n)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// publish is the vote service observer. It never blocks. Stream clients are
// not authenticated, so the voter and their vote are stripped from the event.
func (h *StreamHub) publish(ev votes.VoteUpdateEvent) {
	ev.UserID = ""
	ev.Target.UserVote = nil
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode vote update", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.targetID != "" && c.targetID != ev.TargetID {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("vote stream client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
}

// readLoop discards client messages and detects disconnects
func (h *StreamHub) readLoop(c *streamClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.logger.Debug("vote stream disconnected", "error", err)
			return
		}
	}
}

func (h *StreamHub) writeLoop(c *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *StreamHub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *StreamHub) removeLocked(c *streamClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.once.Do(func() { close(c.send) })
}

// Clients returns the number of connected clients
func (h *StreamHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close unsubscribes from the service and disconnects every client
func (h *StreamHub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}
