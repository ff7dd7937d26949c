package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultBroadcastInterval is how often connected clients receive a summary.
const DefaultBroadcastInterval = 2 * time.Second

// newUpgrader builds an upgrader that accepts same-host, localhost and
// allow-listed origins.
func newUpgrader(allowed func(origin string) bool) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // Allow requests without Origin header (same-origin or direct)
			}

			originURL, err := url.Parse(origin)
			if err != nil {
				return false
			}

			// Allow same origin (same host)
			if originURL.Host == r.Host {
				return true
			}

			// Allow localhost connections (common for development)
			if originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1" {
				return true
			}

			return allowed != nil && allowed(origin)
		},
	}
}

// WebSocketServer streams metrics summaries to connected clients.
type WebSocketServer struct {
	metrics  MetricsSource
	interval time.Duration
	upgrader websocket.Upgrader
	logger   *slog.Logger

	// Connected clients
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Done channel for shutdown
	done     chan struct{}
	stopOnce sync.Once
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(metrics MetricsSource, interval time.Duration, allowed func(string) bool, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	return &WebSocketServer{
		metrics:  metrics,
		interval: interval,
		upgrader: newUpgrader(allowed),
		logger:   logger,
		clients:  make(map[*websocket.Conn]bool),
		done:     make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		// Register client
		ws.clientsMu.Lock()
		ws.clients[conn] = true
		total := len(ws.clients)
		ws.clientsMu.Unlock()

		ws.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		// Handle client disconnect
		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			total := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		// Read messages (mainly for ping/pong)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

// Start begins the broadcasting goroutine.
func (ws *WebSocketServer) Start() {
	go ws.broadcastLoop()
}

// Stop stops broadcasting and closes all client connections. Safe to call
// more than once.
func (ws *WebSocketServer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.done)

		ws.clientsMu.Lock()
		for conn := range ws.clients {
			conn.Close()
		}
		ws.clients = make(map[*websocket.Conn]bool)
		ws.clientsMu.Unlock()
	})
}

func (ws *WebSocketServer) broadcastLoop() {
	ticker := time.NewTicker(ws.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			if ws.ClientCount() == 0 {
				continue
			}
			ws.broadcastSummary()
		}
	}
}

// broadcastSummary sends the current summary to all connected clients.
// Only the broadcast goroutine writes to connections.
func (ws *WebSocketServer) broadcastSummary() {
	data, err := json.Marshal(ws.metrics.Summary())
	if err != nil {
		ws.logger.Error("Failed to marshal summary", slog.String("error", err.Error()))
		return
	}

	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for conn := range ws.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			ws.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
			// Will be cleaned up by the read loop
		}
	}
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
