package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/xiaozhch5/openclaw/internal/config"
	"github.com/xiaozhch5/openclaw/internal/observability"
	"github.com/xiaozhch5/openclaw/pkg/runner"
)

// Server is the WebSocket gateway in front of the run orchestrator.
type Server struct {
	cfg    config.GatewayConfig
	runner *runner.Runner
	logger zerolog.Logger
	schema *gojsonschema.Schema

	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener

	mu      sync.Mutex
	clients map[string]*client
}

// NewServer creates a gateway server. The request schema is compiled once
// up front.
func NewServer(cfg config.GatewayConfig, r *runner.Runner, logger zerolog.Logger) (*Server, error) {
	if r == nil {
		return nil, fmt.Errorf("runner is required")
	}
	schema, err := compileRequestSchema()
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:    cfg,
		runner: r,
		logger: logger,
		schema: schema,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway binds to loopback; cross-origin pages may not
			// reach it.
			CheckOrigin: func(req *http.Request) bool {
				origin := req.Header.Get("Origin")
				return origin == "" || strings.Contains(origin, req.Host)
			},
		},
		clients: make(map[string]*client),
	}, nil
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Gateway listening")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound listen address, useful when the configured port
// is zero.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown closes all client connections and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		conn.Close()
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		return
	}

	c := newClient(id, conn, s, s.logger)
	s.addClient(c)
	c.logger.Info().Msg("Client connected")

	go func() {
		c.run()
		s.removeClient(c)
		c.logger.Info().Msg("Client disconnected")
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","clients":%d,"active_runs":%d}`,
		s.ClientCount(), s.runner.Registry().Count())
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	count := len(s.clients)
	s.mu.Unlock()
	observability.SetGatewayClients(count)
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	count := len(s.clients)
	s.mu.Unlock()
	observability.SetGatewayClients(count)
}
