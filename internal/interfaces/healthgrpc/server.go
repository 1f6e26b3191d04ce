// Package healthgrpc exposes the standard gRPC health service so that
// orchestrators can health-check the gateway and its inference backend.
package healthgrpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ngoclaw/scenegate/pkg/safego"
)

// InferenceService is the health service name reporting the inference
// backend. The empty name reports the gateway as a whole.
const InferenceService = "scenegate.inference"

// Check reports whether a named service can currently serve.
type Check func() bool

// Server wraps a grpc.Server carrying only the health service.
type Server struct {
	port     int
	interval time.Duration
	health   *health.Server
	server   *grpc.Server
	logger   *zap.Logger

	mu     sync.Mutex
	checks map[string]Check
	stop   chan struct{}
	done   chan struct{}
}

// NewServer creates the health server. Checks are polled every interval
// once serving starts.
func NewServer(port int, interval time.Duration, logger *zap.Logger) *Server {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		port:     port,
		interval: interval,
		health:   hs,
		server:   gs,
		logger:   logger.With(zap.String("component", "health-grpc")),
		checks:   make(map[string]Check),
	}
}

// AddCheck registers a check for the named service. The service starts
// as NOT_SERVING until the first poll.
func (s *Server) AddCheck(service string, check Check) {
	s.mu.Lock()
	s.checks[service] = check
	s.mu.Unlock()
	s.health.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listen port %d: %w", s.port, err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on lis in the background and starts polling checks.
func (s *Server) Serve(lis net.Listener) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	s.stop, s.done = stop, done
	s.mu.Unlock()

	s.Poll()
	s.logger.Info("Starting gRPC health server", zap.String("address", lis.Addr().String()))

	safego.Go(s.logger, "health-grpc-serve", func() {
		if err := s.server.Serve(lis); err != nil {
			s.logger.Error("gRPC health server failed", zap.Error(err))
		}
	})
	safego.Go(s.logger, "health-grpc-poll", func() { s.pollLoop(stop, done) })
}

// Poll evaluates every check once and updates the reported status.
func (s *Server) Poll() {
	s.mu.Lock()
	checks := make(map[string]Check, len(s.checks))
	for name, p := range s.checks {
		checks[name] = p
	}
	s.mu.Unlock()

	for name, check := range checks {
		ok := false
		safego.Run(s.logger, "health-check-"+name, func() { ok = check() })
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if ok {
			status = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(name, status)
	}
}

func (s *Server) pollLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Poll()
		}
	}
}

// Stop marks every service NOT_SERVING and stops the server, waiting for
// in-flight RPCs until ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return
	}

	s.health.Shutdown()
	close(stop)
	<-done

	finished := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		s.server.Stop()
	}
	s.logger.Info("gRPC health server stopped")
}
