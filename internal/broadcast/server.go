package broadcast

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/metrics"
)

// Server hosts the websocket endpoint plus the operational routes
// /metrics and /healthz.
type Server struct {
	logger   *zap.Logger
	hub      *Hub
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP server for the hub on addr.
func NewServer(addr string, hub *Hub, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		logger: logger.Named("ws-server"),
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards connect from their own origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.logger.Info("Starting websocket server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping websocket server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(s.hub, conn, s.logger)
	if !s.hub.connect(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
