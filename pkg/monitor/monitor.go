// Package monitor mirrors the outbound event stream to websocket clients,
// for watching a running installation without an OSC receiver.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/menta2k/scene-tracker/pkg/events"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Config holds the monitor endpoint settings.
type Config struct {
	Addr   string // listen address, e.g. ":8077"
	Buffer int    // event queue depth before mirroring starts dropping
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{Addr: ":8077", Buffer: 256}
}

// wireEvent is the JSON shape sent to websocket clients.
type wireEvent struct {
	Topic string    `json:"topic"`
	Args  []any     `json:"args"`
	Time  time.Time `json:"time"`
}

// Monitor is a best-effort event mirror: Publish never blocks the pipeline,
// excess events are dropped when no client keeps up.
type Monitor struct {
	cfg      Config
	upgrader websocket.Upgrader
	statusFn func() map[string]any
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	dropped uint64

	queue     chan wireEvent
	closeOnce sync.Once
}

// New creates a monitor. statusFn, when non-nil, contributes to the /status
// payload.
func New(cfg Config, statusFn func() map[string]any, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Monitor{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		statusFn: statusFn,
		log:      log.With("component", "monitor"),
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		queue:    make(chan wireEvent, cfg.Buffer),
	}
}

// Publish queues the event for mirroring. Never blocks; when the queue is
// full the event is counted as dropped and delivery continues elsewhere.
func (m *Monitor) Publish(ev events.Event) error {
	we := wireEvent{Topic: string(ev.Topic), Args: ev.Args, Time: ev.Time}
	select {
	case m.queue <- we:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
	return nil
}

// Close stops accepting events.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() { close(m.queue) })
	return nil
}

// Run serves the websocket endpoint until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWS)
	mux.HandleFunc("/healthz", m.handleHealth)
	mux.HandleFunc("/status", m.handleStatus)

	httpServer := &http.Server{
		Addr:              m.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go m.broadcast(ctx)

	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	m.mu.Lock()
	writeMu := &sync.Mutex{}
	m.clients[conn] = writeMu
	m.mu.Unlock()

	hello := map[string]any{
		"type": "hello",
		"topics": []string{
			string(events.TopicPosition),
			string(events.TopicAbsent),
			string(events.TopicSummary),
			string(events.TopicComment),
			string(events.TopicAnnotation),
			string(events.TopicAnnounce),
		},
	}
	_ = m.writeJSON(conn, writeMu, hello)

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := m.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer m.removeClient(conn)
		for {
			// Drain client frames to keep the pong handler serviced; the
			// monitor carries no inbound protocol.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (m *Monitor) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (m *Monitor) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{}
	if m.statusFn != nil {
		if s := m.statusFn(); s != nil {
			payload = s
		}
	}
	m.mu.Lock()
	payload["ws_clients"] = len(m.clients)
	payload["dropped_events"] = m.dropped
	m.mu.Unlock()
	_ = json.NewEncoder(w).Encode(payload)
}

func (m *Monitor) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case we, ok := <-m.queue:
			if !ok {
				return
			}
			payload, err := json.Marshal(we)
			if err != nil {
				continue
			}
			var stale []*websocket.Conn
			m.mu.Lock()
			for conn, writeMu := range m.clients {
				if err := m.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			m.mu.Unlock()
			for _, conn := range stale {
				m.removeClient(conn)
			}
		}
	}
}

func (m *Monitor) removeClient(conn *websocket.Conn) {
	m.mu.Lock()
	delete(m.clients, conn)
	m.mu.Unlock()
	conn.Close()
}

func (m *Monitor) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (m *Monitor) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
