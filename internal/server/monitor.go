package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iat-probe/internal/iat"
	"github.com/iat-probe/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	subscriberSend = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// subscriber is one websocket client of the sample feed
type subscriber struct {
	ID       string
	Conn     *websocket.Conn
	SendChan chan []byte
	Done     chan struct{}
	once     sync.Once
}

func (c *subscriber) send(data []byte) bool {
	select {
	case c.SendChan <- data:
		return true
	case <-c.Done:
		return false
	default:
		return false
	}
}

func (c *subscriber) close() {
	c.once.Do(func() {
		close(c.Done)
	})
}

// Monitor serves /health and a websocket feed of session events on /samples.
// It implements Sink and can be shared by several servers.
type Monitor struct {
	addr        string
	logger      *slog.Logger
	status      func() map[string]any
	httpServer  *http.Server
	listener    net.Listener
	subscribers map[string]*subscriber
	seq         atomic.Uint64
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// Statistics
	eventsPublished atomic.Uint64
	eventsDropped   atomic.Uint64
}

// NewMonitor creates a monitor listening on addr. status, if set, is merged
// into the /health response.
func NewMonitor(addr string, logger *slog.Logger, status func() map[string]any) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		addr:        addr,
		logger:      logger.With("role", "monitor"),
		status:      status,
		subscribers: make(map[string]*subscriber),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start binds the HTTP listener and serves in the background
func (m *Monitor) Start() error {
	listener, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.addr, err)
	}
	m.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/samples", m.handleSamples)
	mux.HandleFunc("/health", m.handleHealth)

	m.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
	}

	m.logger.Info("monitor listening", "addr", listener.Addr().String())

	go func() {
		if err := m.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			m.logger.Error("monitor server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start
func (m *Monitor) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Stop disconnects all subscribers and shuts the HTTP server down
func (m *Monitor) Stop() error {
	m.logger.Info("stopping monitor")
	m.cancel()

	m.mu.Lock()
	for _, sub := range m.subscribers {
		sub.close()
	}
	m.mu.Unlock()

	if m.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.httpServer.Shutdown(ctx); err != nil {
			m.logger.Error("monitor shutdown error", "error", err)
		}
	}

	m.wg.Wait()

	m.logger.Info("monitor stopped",
		"events_published", m.eventsPublished.Load(),
		"events_dropped", m.eventsDropped.Load(),
	)
	return nil
}

// SubscriberCount returns the number of connected feed clients
func (m *Monitor) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// SessionOpened implements Sink
func (m *Monitor) SessionOpened(s *Session) {
	m.publish(protocol.NewSessionOpenEvent(s.ID, s.Transport, s.Remote))
}

// Sampled implements Sink
func (m *Monitor) Sampled(s *Session, sample iat.Sample, size int) {
	m.publish(protocol.NewSampleEvent(s.ID, s.Remote, sample, size))
}

// SessionClosed implements Sink
func (m *Monitor) SessionClosed(s *Session) {
	mean, jitter := s.Jitter()
	m.publish(protocol.NewSessionCloseEvent(s.ID, s.Packets(), mean, jitter))
}

func (m *Monitor) publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("failed to encode event", "error", err)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subscribers {
		if sub.send(data) {
			m.eventsPublished.Add(1)
		} else {
			m.eventsDropped.Add(1)
		}
	}
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"subscribers": m.SubscriberCount(),
	}
	if m.status != nil {
		for k, v := range m.status() {
			body[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (m *Monitor) handleSamples(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sub := &subscriber{
		ID:       fmt.Sprintf("sub-%d", m.seq.Add(1)),
		Conn:     conn,
		SendChan: make(chan []byte, subscriberSend),
		Done:     make(chan struct{}),
	}

	m.mu.Lock()
	select {
	case <-m.ctx.Done():
		m.mu.Unlock()
		conn.Close()
		return
	default:
	}
	m.subscribers[sub.ID] = sub
	m.mu.Unlock()

	m.logger.Info("subscriber connected", "subscriber", sub.ID, "remote", r.RemoteAddr)

	m.wg.Add(2)
	go m.subscriberReader(sub)
	go m.subscriberWriter(sub)
}

func (m *Monitor) removeSubscriber(sub *subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[sub.ID]; ok {
		delete(m.subscribers, sub.ID)
		m.logger.Info("subscriber disconnected", "subscriber", sub.ID)
	}
}

// subscriberReader drains the connection so pongs and close frames are
// processed
func (m *Monitor) subscriberReader(sub *subscriber) {
	defer m.wg.Done()
	defer sub.close()
	defer m.removeSubscriber(sub)

	conn := sub.Conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("subscriber read error", "error", err, "subscriber", sub.ID)
			}
			return
		}
	}
}

func (m *Monitor) subscriberWriter(sub *subscriber) {
	defer m.wg.Done()
	defer sub.Conn.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sub.Done:
			sub.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor stopping"),
				time.Now().Add(time.Second))
			return
		case data := <-sub.SendChan:
			sub.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.logger.Debug("subscriber write error", "error", err, "subscriber", sub.ID)
				sub.close()
				return
			}
		case <-ticker.C:
			sub.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.logger.Debug("ping failed", "error", err, "subscriber", sub.ID)
				sub.close()
				return
			}
		}
	}
}
