// Package stream fans engine frames out to renderer clients over WebSocket
// and accepts audio frames captured by those clients.
package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/metrics"
)

// ErrClosed is returned by Broadcast after Close.
var ErrClosed = errors.New("stream hub closed")

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Config tunes per-client buffering.
type Config struct {
	SendBuffer      int
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	InboundBuffer   int
}

// Inbound is an audio frame received from a client.
type Inbound struct {
	ClientID string
	Speaking bool
	Audio    *avatar3d.AudioFrame
	Received time.Time
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub tracks connected clients. It implements http.Handler for the stream path.
type Hub struct {
	cfg      Config
	logger   zerolog.Logger
	eventBus *bus.EventBus
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	inbound chan Inbound
	wg      sync.WaitGroup
}

// NewHub creates a hub. eventBus and m may be nil.
func NewHub(cfg Config, logger zerolog.Logger, eventBus *bus.EventBus, m *metrics.Metrics) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 << 10
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = 64
	}

	return &Hub{
		cfg:      cfg,
		logger:   logger.With().Str("component", "stream").Logger(),
		eventBus: eventBus,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Renderers are served from arbitrary origins
			},
		},
		clients: make(map[string]*client),
		inbound: make(chan Inbound, cfg.InboundBuffer),
	}
}

// Inbound returns audio frames sent by clients. It is never closed.
func (h *Hub) Inbound() <-chan Inbound {
	return h.inbound
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	go func() {
		defer h.wg.Done()
		h.writePump(c)
	}()
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	hello, err := json.Marshal(Message{Type: TypeHello, ClientID: c.id})
	if err != nil {
		return false
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.id] = c
	c.send <- hello
	h.wg.Add(1)
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.id).Str("remote", c.conn.RemoteAddr().String()).Int("clients", n).Msg("Client connected")
	if h.metrics != nil {
		h.metrics.ConnectedClients.Set(float64(n))
	}
	if h.eventBus != nil {
		h.eventBus.Publish(bus.Event{
			Type: bus.EventTypeClientConnected,
			Data: map[string]any{"client_id": c.id, "clients": n},
		})
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if !ok {
		return
	}

	h.logger.Info().Str("client_id", c.id).Int("clients", n).Msg("Client disconnected")
	if h.metrics != nil {
		h.metrics.ConnectedClients.Set(float64(n))
	}
	if h.eventBus != nil {
		h.eventBus.Publish(bus.Event{
			Type: bus.EventTypeClientDisconnected,
			Data: map[string]any{"client_id": c.id, "clients": n},
		})
	}
}

// readPump decodes client messages until the connection fails.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("client_id", c.id).Msg("Read error")
			}
			return
		}

		switch msg.Type {
		case TypeAudio:
			if msg.Audio == nil {
				h.reply(c, "audio message without payload")
				continue
			}
			h.forward(Inbound{
				ClientID: c.id,
				Speaking: msg.Audio.Speaking,
				Audio:    msg.Audio.AudioFrame(),
				Received: time.Now(),
			})
		default:
			h.reply(c, "unknown message type: "+msg.Type)
		}
	}
}

func (h *Hub) forward(in Inbound) {
	select {
	case h.inbound <- in:
		if h.metrics != nil {
			h.metrics.InboundFrames.Inc()
		}
	default:
		if h.metrics != nil {
			h.metrics.DroppedFrames.WithLabelValues("inbound_full").Inc()
		}
	}
}

func (h *Hub) reply(c *client, text string) {
	data, err := json.Marshal(Message{Type: TypeError, Error: text})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump drains the client's queue and keeps the connection alive.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug().Err(err).Str("client_id", c.id).Msg("Write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast sends a frame to every client. A client whose queue is full
// misses this frame.
func (h *Hub) Broadcast(frame *FrameMessage) error {
	data, err := json.Marshal(Message{Type: TypeFrame, Frame: frame})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}

	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			if h.metrics != nil {
				h.metrics.DroppedFrames.WithLabelValues("slow_client").Inc()
			}
		}
	}
	return nil
}

// Close disconnects every client and waits for their writers to finish.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ConnectedClients.Set(0)
	}
	h.logger.Info().Int("clients", len(clients)).Msg("Stream hub closed")

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
	return nil
}
