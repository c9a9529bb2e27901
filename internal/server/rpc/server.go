package rpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"

	"github.com/yndnr/graphmesh-go/internal/telemetry/metric"
)

// ServerConfig configures the RPC server.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string

	// ReadHeaderTimeout bounds reading request headers.
	ReadHeaderTimeout time.Duration

	// Logger for logging.
	Logger *slog.Logger

	// Metrics records request outcomes and, when set, is served on /metrics.
	Metrics *metric.Registry

	// TLS, when set, makes the server accept only TLS connections.
	TLS *tls.Config
}

// Server hosts the connect handlers of one node.
type Server struct {
	cfg        ServerConfig
	mux        *http.ServeMux
	httpServer *http.Server
	options    []connect.HandlerOption
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a server with no services registered.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}

	mux := http.NewServeMux()
	s := &Server{
		cfg: cfg,
		mux: mux,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		options: []connect.HandlerOption{
			connect.WithCodec(jsonCodec{}),
			connect.WithInterceptors(NewLoggingInterceptor(cfg.Logger, cfg.Metrics)),
		},
		logger: cfg.Logger,
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics.Handler())
	}
	return s
}

// RegisterIngest mounts IngestService.
func (s *Server) RegisterIngest(h *IngestHandler) {
	s.mux.Handle(SubmitWriteProcedure, connect.NewUnaryHandler(SubmitWriteProcedure, h.SubmitWrite, s.options...))
	s.mux.Handle(AdvanceSnapshotProcedure, connect.NewUnaryHandler(AdvanceSnapshotProcedure, h.AdvanceSnapshot, s.options...))
}

// RegisterStore mounts StoreService.
func (s *Server) RegisterStore(h *StoreHandler) {
	s.mux.Handle(ApplyBatchProcedure, connect.NewUnaryHandler(ApplyBatchProcedure, h.ApplyBatch, s.options...))
	s.mux.Handle(GetAppliedOffsetsProcedure, connect.NewUnaryHandler(GetAppliedOffsetsProcedure, h.GetAppliedOffsets, s.options...))
}

// RegisterCoordinator mounts CoordinatorService.
func (s *Server) RegisterCoordinator(h *CoordinatorHandler) {
	s.mux.Handle(GetTailOffsetsProcedure, connect.NewUnaryHandler(GetTailOffsetsProcedure, h.GetTailOffsets, s.options...))
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("rpc listen %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}
	s.listener = ln
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rpc server stopped", "error", err)
		}
	}()

	s.logger.Info("rpc server listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Done is closed when the serve loop exits. It is nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	if done != nil {
		<-done
	}
	return nil
}
