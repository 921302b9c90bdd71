package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tc.com/twap-oracle/pkg/logging"
	"tc.com/twap-oracle/pkg/oracle"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocketServer streams epoch decisions to connected clients.
type WebSocketServer struct {
	addr     string
	logger   *logging.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	// Client management
	mu      sync.RWMutex
	clients map[*wsClient]bool

	// Epoch decisions from the aggregator
	results chan oracle.EpochResult

	ctx    context.Context
	cancel context.CancelFunc
}

// wsClient is one connected WebSocket peer.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// EpochMessage is sent to clients for every epoch decision.
type EpochMessage struct {
	Type   string `json:"type"` // "epoch_result"
	Epoch  uint64 `json:"epoch"`
	Status string `json:"status"`
	Price  string `json:"price,omitempty"`
	Source string `json:"source,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// NewWebSocketServer creates a WebSocket server and registers its result
// channel with the aggregator.
func NewWebSocketServer(addr string, agg *oracle.Aggregator, logger *logging.Logger) *WebSocketServer {
	ctx, cancel := context.WithCancel(context.Background())

	s := &WebSocketServer{
		addr:   addr,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients: make(map[*wsClient]bool),
		results: make(chan oracle.EpochResult, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
	agg.Subscribe(s.results)
	return s
}

// Start starts the WebSocket server.
func (s *WebSocketServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.broadcastLoop()

	s.logger.Info("Starting WebSocket server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes all client connections and shuts down.
func (s *WebSocketServer) Stop(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	for client := range s.clients {
		close(client.send)
		_ = client.conn.Close()
	}
	s.clients = make(map[*wsClient]bool)
	s.mu.Unlock()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// broadcastLoop fans epoch results out to every connected client.
func (s *WebSocketServer) broadcastLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case result := <-s.results:
			msg := EpochMessage{
				Type:   "epoch_result",
				Epoch:  result.Epoch,
				Status: string(result.Status),
				Source: string(result.Source),
				Reason: string(result.Reason),
			}
			if result.Status == oracle.EpochCommitted {
				msg.Price = result.Price.String()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("Failed to encode epoch message", "error", err.Error())
				continue
			}

			s.mu.RLock()
			for client := range s.clients {
				select {
				case client.send <- data:
				default:
					// Slow client; drop the message rather than block.
				}
			}
			s.mu.RUnlock()
		}
	}
}

// handleWebSocket upgrades a connection and runs its pumps.
func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err.Error())
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 16),
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	s.logger.Debug("WebSocket client connected", "remote", conn.RemoteAddr().String())

	go s.writePump(client)
	go s.readPump(client)
}

// writePump sends broadcast messages and pings to one client.
func (s *WebSocketServer) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and detects disconnects.
func (s *WebSocketServer) readPump(client *wsClient) {
	defer s.removeClient(client)

	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WebSocketServer) removeClient(client *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[client] {
		delete(s.clients, client)
		close(client.send)
		_ = client.conn.Close()
	}
}
