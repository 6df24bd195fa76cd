// Package api provides the monitoring surface: a status snapshot, the
// Prometheus metrics endpoint, and a WebSocket stream of cycle reports.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/cycle"
)

// Server is the HTTP/WebSocket monitoring server.
type Server struct {
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	cycles     *cycle.Manager
	registry   *prometheus.Registry

	mu      sync.RWMutex
	clients map[string]*client

	reports chan *cycle.Report
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewServer wires the server to the cycle manager and metrics registry.
func NewServer(logger *zap.Logger, cycles *cycle.Manager, registry *prometheus.Registry) *Server {
	s := &Server{
		logger:   logger.Named("api"),
		router:   mux.NewRouter(),
		cycles:   cycles,
		registry: registry,
		clients:  make(map[string]*client),
		reports:  make(chan *cycle.Report, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	cycles.Subscribe(s.reports)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context, host string, port int) error {
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go s.broadcastLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Monitoring server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"status": "ok", "time": time.Now()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.cycles.Status())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 32),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Info("WebSocket client connected", zap.String("client", c.id))

	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.dropClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.send)
	}
	s.mu.Unlock()
	s.logger.Info("WebSocket client disconnected", zap.String("client", c.id))
}

// broadcastLoop fans cycle reports out to connected clients. Slow clients
// drop messages rather than stalling the loop.
func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case report := <-s.reports:
			payload, err := json.Marshal(map[string]any{
				"type":    "cycle_report",
				"payload": report,
			})
			if err != nil {
				continue
			}
			s.mu.RLock()
			for _, c := range s.clients {
				select {
				case c.send <- payload:
				default:
				}
			}
			s.mu.RUnlock()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encoding failed", zap.Error(err))
	}
}
