package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/Taiwoayodeji/ChatGifs/internal/api"
	"github.com/Taiwoayodeji/ChatGifs/internal/config"
	"github.com/Taiwoayodeji/ChatGifs/internal/metrics"
	"github.com/Taiwoayodeji/ChatGifs/internal/profile"
)

// stopTimeout bounds graceful shutdown of the servers.
const stopTimeout = 5 * time.Second

// Server manages the gRPC server lifecycle for a profile daemon.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the profile's Unix domain socket.
func NewServer(p Params, logger *zap.Logger, svc *api.Service) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	api.Register(srv, svc)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop drains in-flight calls, forcing the rest once ctx or stopTimeout
// runs out, and removes the socket file. Watch streams only end on a
// forced stop.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-done
	}
	_ = os.Remove(s.socketPath)
}

// MetricsServer exposes Prometheus metrics when an address is configured.
type MetricsServer struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewMetricsServer(cfg *config.Config, logger *zap.Logger) *MetricsServer {
	m := &MetricsServer{logger: logger}
	if cfg.Metrics.Addr == "" {
		return m
	}
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	m.srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: r}
	return m
}

func (m *MetricsServer) Start() {
	if m.srv == nil {
		return
	}
	go func() {
		m.logger.Info("metrics server starting", zap.String("addr", m.srv.Addr))
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

func (m *MetricsServer) Stop(ctx context.Context) {
	if m.srv == nil {
		return
	}
	_ = m.srv.Shutdown(ctx)
}
