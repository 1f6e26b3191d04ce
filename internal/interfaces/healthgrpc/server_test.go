package healthgrpc

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startTestServer(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s.Serve(lis)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthServer_ReflectsChecks(t *testing.T) {
	var open atomic.Bool
	s := NewServer(0, time.Hour, zap.NewNop())
	s.AddCheck(InferenceService, func() bool { return !open.Load() })

	client := startTestServer(t, s)

	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall = %v", got)
	}
	if got := check(t, client, InferenceService); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("inference = %v", got)
	}

	open.Store(true)
	s.Poll()
	if got := check(t, client, InferenceService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("inference with open breaker = %v", got)
	}
}

func TestHealthServer_PanickingCheck(t *testing.T) {
	s := NewServer(0, time.Hour, zap.NewNop())
	s.AddCheck("flaky", func() bool { panic("boom") })

	client := startTestServer(t, s)
	if got := check(t, client, "flaky"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("flaky = %v", got)
	}
}

func TestHealthServer_StopIsIdempotent(t *testing.T) {
	s := NewServer(0, 10*time.Millisecond, zap.NewNop())
	s.Serve(bufconn.Listen(1024))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
}
