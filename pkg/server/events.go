package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/matzehuels/controlsphere/pkg/core/nav"
	"github.com/matzehuels/controlsphere/pkg/scene"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
	maxMessage = 64 << 10
)

// MessageType tags websocket messages.
type MessageType string

const (
	MessageFocus      MessageType = "focus"      // a settled view, with its scene
	MessageTransition MessageType = "transition" // an animated transition started
	MessageError      MessageType = "error"
)

// Message is sent to websocket clients.
type Message struct {
	Type       MessageType     `json:"type"`
	Event      *nav.FocusEvent `json:"event,omitempty"`
	Scene      *scene.Scene    `json:"scene,omitempty"`
	Transition *TransitionInfo `json:"transition,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// TransitionInfo describes an animated transition for clients to play.
type TransitionInfo struct {
	Seq          uint64    `json:"seq"`
	Kind         string    `json:"kind"`
	From         nav.Crumb `json:"from"`
	To           nav.Crumb `json:"to"`
	Names        []string  `json:"names"`
	Inside       bool      `json:"inside"`
	DurationMS   int64     `json:"duration_ms"`
	CameraStart  float64   `json:"camera_start"`
	CameraEnd    float64   `json:"camera_end"`
	TargetRadius float64   `json:"target_radius"`
}

func transitionInfo(t nav.Transition) *TransitionInfo {
	return &TransitionInfo{
		Seq:          t.Seq,
		Kind:         t.Kind.String(),
		From:         t.From,
		To:           t.To,
		Names:        t.Names,
		Inside:       t.Inside,
		DurationMS:   t.Duration.Milliseconds(),
		CameraStart:  t.CameraStart,
		CameraEnd:    t.CameraEnd,
		TargetRadius: t.TargetRadius,
	}
}

// hubAnimator broadcasts transitions and lets them settle after their
// duration, so a newer command sent mid-flight supersedes them.
type hubAnimator struct {
	hub     *Hub
	instant bool
}

func (a hubAnimator) Play(t nav.Transition, done func()) {
	a.hub.Broadcast(Message{Type: MessageTransition, Transition: transitionInfo(t)})
	if a.instant || t.Duration <= 0 {
		done()
		return
	}
	time.AfterFunc(t.Duration, done)
}

// =============================================================================
// Hub
// =============================================================================

// Hub fans messages out to connected websocket clients. Slow clients whose
// buffer is full are dropped.
type Hub struct {
	logger  *log.Logger
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*client]struct{})}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode message", "type", msg.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client", "remote", c.conn.RemoteAddr())
			delete(h.clients, c)
			c.close()
		}
	}
}

// sendTo queues data for one client if it is still connected.
func (h *Hub) sendTo(c *client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// =============================================================================
// Handler
// =============================================================================

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents upgrades to a websocket. The client first receives the
// current view, then every transition and settled view. Clients may send
// [NavigateRequest] messages to move the shared view.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	if sc, err := s.currentScene(); err == nil {
		ev := s.nav.Event()
		if data, err := json.Marshal(Message{Type: MessageFocus, Event: &ev, Scene: sc}); err == nil {
			c.send <- data
		}
	}
	if !s.hub.add(c) {
		conn.Close()
		return
	}
	s.metrics.clients.Inc()
	s.logger.Debug("websocket connected", "remote", conn.RemoteAddr(), "clients", s.hub.Len())

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.remove(c)
		s.metrics.clients.Dec()
		c.conn.Close()
		s.logger.Debug("websocket disconnected", "remote", c.conn.RemoteAddr())
	}()

	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req NavigateRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read", "error", err)
			}
			return
		}
		if err := s.navigate(req); err != nil {
			s.sendError(c, err)
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendError(c *client, err error) {
	data, _ := json.Marshal(Message{Type: MessageError, Error: errorMessage(err)})
	s.hub.sendTo(c, data)
}
