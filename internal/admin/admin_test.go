package admin

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/sagin-domain-engine/internal/observability"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func startTestServer(t *testing.T, collector *observability.EngineCollector) (string, *Server) {
	t.Helper()
	srv := NewServer(nil, collector)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.GracefulStop)
	return lis.Addr().String(), srv
}

func dialHealth(t *testing.T, addr string) healthgrpc.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return healthgrpc.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthgrpc.HealthClient, service string) healthgrpc.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthgrpc.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func TestAdminHealthTracksRunState(t *testing.T) {
	addr, srv := startTestServer(t, nil)
	client := dialHealth(t, addr)

	if got := checkStatus(t, client, ""); got != healthgrpc.HealthCheckResponse_SERVING {
		t.Fatalf("process health = %v, want SERVING", got)
	}
	if got := checkStatus(t, client, RunService); got != healthgrpc.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("run health before start = %v, want NOT_SERVING", got)
	}

	srv.SetRunActive(true)
	if got := checkStatus(t, client, RunService); got != healthgrpc.HealthCheckResponse_SERVING {
		t.Fatalf("run health while active = %v, want SERVING", got)
	}

	srv.SetRunActive(false)
	if got := checkStatus(t, client, RunService); got != healthgrpc.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("run health after termination = %v, want NOT_SERVING", got)
	}
}

func TestAdminRejectsUnknownHealthService(t *testing.T) {
	addr, _ := startTestServer(t, nil)
	client := dialHealth(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Check(ctx, &healthgrpc.HealthCheckRequest{Service: "engine.unknown"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("Check(unknown) code = %v, want NotFound", status.Code(err))
	}
}

func TestAdminRecordsRequestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := observability.NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	addr, _ := startTestServer(t, collector)
	client := dialHealth(t, addr)
	checkStatus(t, client, "")

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("admin_requests_total = %v, want 1", got)
	}
}
