// Package status serves the engine's observation surface: REST endpoints
// for current state, run history, and triggering passes, plus a WebSocket
// feed that pushes run lifecycle events to connected clients.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/casegallery/gallerysync/internal/engine"
	"github.com/casegallery/gallerysync/internal/registry"
)

// MessageType defines the type of a feed message
type MessageType string

const (
	// MessageTypeRunStarted indicates a sync pass was admitted
	MessageTypeRunStarted MessageType = "run_started"

	// MessageTypeRunFinished indicates a sync pass reached a terminal status
	MessageTypeRunFinished MessageType = "run_finished"

	// MessageTypeOrphansFound indicates a pass flagged stale registry rows
	MessageTypeOrphansFound MessageType = "orphans_found"

	// MessageTypeStats indicates refreshed log and registry statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a feed broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RunStartedData identifies a pass that just began
type RunStartedData struct {
	LogID   int64               `json:"log_id"`
	Session string              `json:"session"`
	Type    registry.SyncType   `json:"sync_type"`
	Source  registry.SyncSource `json:"sync_source"`
}

// RunFinishedData carries the outcome of a finished pass
type RunFinishedData struct {
	LogID     int64               `json:"log_id"`
	Session   string              `json:"session"`
	Type      registry.SyncType   `json:"sync_type"`
	Source    registry.SyncSource `json:"sync_source"`
	Status    registry.SyncStatus `json:"status"`
	Processed int64               `json:"items_processed"`
	Failed    int64               `json:"items_failed"`
	Orphans   int64               `json:"orphans_found"`
	Deleted   int64               `json:"orphans_deleted"`
	Duration  time.Duration       `json:"duration_ns"`
}

// OrphansFoundData reports stale rows flagged by a pass
type OrphansFoundData struct {
	Session string `json:"session"`
	Found   int64  `json:"found"`
	Deleted int64  `json:"deleted"`
}

// StatsData bundles log and registry statistics
type StatsData struct {
	Log      *registry.LogStats      `json:"log"`
	Registry *registry.RegistryStats `json:"registry"`
}

// Server manages the HTTP API and WebSocket feed for one engine
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	engine    *engine.Engine
	logs      *registry.LogStore
	items     *registry.ItemStore
	authToken string

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Logging
	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8377)
	Addr string

	// AuthToken guards the /api/v1 routes when set. Empty disables auth.
	AuthToken string

	// Logger for server activity (default: process default logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8377",
		Logger: log.Default(),
	}
}

// NewServer creates a status server bound to eng. It registers run hooks
// on the engine, so construct it during wiring before any pass runs.
func NewServer(config *Config, eng *engine.Engine, logs *registry.LogStore, items *registry.ItemStore) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Addr == "" {
		config.Addr = "127.0.0.1:8377"
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logs == nil || items == nil {
		return nil, fmt.Errorf("registry stores are required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:      config.Addr,
		engine:    eng,
		logs:      logs,
		items:     items,
		authToken: config.AuthToken,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}

	eng.BeforeRun(s.notifyRunStarted)
	eng.AfterRun(s.notifyRunFinished)

	return s, nil
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Start broadcast handler
	s.wg.Add(1)
	go s.broadcastLoop()

	// Start HTTP server
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Status server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping status server")

	// Signal shutdown
	s.cancel()

	// Close all WebSocket connections
	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	// Wait for goroutines
	s.wg.Wait()

	s.logger.Println("Status server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

func (s *Server) notifyRunStarted(res *engine.RunResult) {
	s.broadcastData(MessageTypeRunStarted, RunStartedData{
		LogID:   res.LogID,
		Session: res.Session,
		Type:    res.Type,
		Source:  res.Source,
	})
}

func (s *Server) notifyRunFinished(res *engine.RunResult, status registry.SyncStatus) {
	s.broadcastData(MessageTypeRunFinished, RunFinishedData{
		LogID:     res.LogID,
		Session:   res.Session,
		Type:      res.Type,
		Source:    res.Source,
		Status:    status,
		Processed: res.Processed,
		Failed:    res.Failed,
		Orphans:   res.Orphans,
		Deleted:   res.Deleted,
		Duration:  res.Duration,
	})
	if res.Orphans > 0 {
		s.broadcastData(MessageTypeOrphansFound, OrphansFoundData{
			Session: res.Session,
			Found:   res.Orphans,
			Deleted: res.Deleted,
		})
	}
	s.broadcastStats()
}

// broadcastStats pushes a fresh stats snapshot to the feed
func (s *Server) broadcastStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := s.collectStats(ctx)
	if err != nil {
		s.logger.Printf("Failed to collect stats for broadcast: %v", err)
		return
	}
	s.broadcastData(MessageTypeStats, stats)
}

func (s *Server) broadcastData(msgType MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s data: %v", msgType, err)
		return
	}
	s.Broadcast(Message{Type: msgType, Timestamp: time.Now(), Data: raw})
}

func (s *Server) collectStats(ctx context.Context) (*StatsData, error) {
	logStats, err := s.logs.StatsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read log stats: %w", err)
	}
	regStats, err := s.items.StatsByTypeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry stats: %w", err)
	}
	return &StatsData{Log: logStats, Registry: regStats}, nil
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send to clients (outside read lock to avoid blocking broadcasts)
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Dashboards connect from anywhere on the LAN
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Add client
	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Send an initial stats snapshot as the welcome message
	welcome := Message{Type: MessageTypeStats, Timestamp: time.Now()}
	statsCtx, cancelStats := context.WithTimeout(context.Background(), 5*time.Second)
	if stats, err := s.collectStats(statsCtx); err == nil {
		welcome.Data, _ = json.Marshal(stats)
	}
	cancelStats()

	welcomeData, _ := json.Marshal(welcome)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcomeData)
	cancel()

	// Keep connection alive (read loop)
	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// We don't process client messages, just keep connection alive
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
