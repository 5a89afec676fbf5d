package main

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/sagin-domain-engine/internal/admin"
	"github.com/signalsfoundry/sagin-domain-engine/internal/journal"
	"github.com/signalsfoundry/sagin-domain-engine/internal/logging"
	"github.com/signalsfoundry/sagin-domain-engine/model"
)

// smokeFeed keeps four nodes in one domain for two slots, then moves
// node 4 into its own domain in slot 3. Node 1 is the standalone MEO
// that hierarchy resolution promotes to master.
const smokeFeed = `{
  "total_slots": 3,
  "nodes": {
    "meo": [{"id": 1, "name": "MEO-1"}],
    "leo": [
      {"id": 2, "name": "LEO-2"},
      {"id": 3, "name": "LEO-3"},
      {"id": 4, "name": "LEO-4"}
    ],
    "ground": [{"id": 5, "name": "GS-5"}]
  },
  "time_slots": [
    {"node_positions": [
      {"domain": 0, "controller": 0, "latitude": 0, "longitude": 0, "altitude": 8000},
      {"domain": 1, "controller": 2, "latitude": 0, "longitude": 10, "altitude": 550},
      {"domain": 1, "controller": 2, "latitude": 0, "longitude": 12, "altitude": 550},
      {"domain": 1, "controller": 2, "latitude": 0, "longitude": 14, "altitude": 550},
      {"domain": 1, "controller": 2, "latitude": 0, "longitude": 11, "altitude": 0}
    ]},
    {"node_positions": [
      {"domain": 0, "controller": 0, "latitude": 0, "longitude": 2, "altitude": 8000},
      {"domain": 1, "controller": 2, "latitude": 0, "longitude": 12, "altitude": 550},
      {"domain": 1, "controller": 2, "latitude": 0, "longitude": 14, "altitude": 550},
      {"domain": 1, "controller": 2, "latitude": 0, "longitude": 16, "altitude": 550},
      {"domain": 1, "controller": 2, "latitude": 0, "longitude": 11, "altitude": 0}
    ]},
    {"node_positions": [
      {"domain": 0, "controller": 0, "latitude": 0, "longitude": 4, "altitude": 8000},
      {"domain": 1, "controller": 2, "latitude": 0, "longitude": 14, "altitude": 550},
      {"domain": 1, "controller": 2, "latitude": 0, "longitude": 16, "altitude": 550},
      {"domain": 2, "controller": 4, "latitude": 0, "longitude": 40, "altitude": 550},
      {"domain": 1, "controller": 2, "latitude": 0, "longitude": 11, "altitude": 0}
    ]}
  ]
}`

func writeTestFeed(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "feed.json")
	if err := os.WriteFile(path, []byte(smokeFeed), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	return path
}

func TestRunProcessesFeedAndWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		FeedPath:     writeTestFeed(t, dir),
		SlotDuration: time.Millisecond,
		Accelerated:  true,
		MetricsOut:   filepath.Join(dir, "metrics.json"),
		JournalPath:  filepath.Join(dir, "journal.db"),
		RunID:        "run-smoke",
	}

	if err := run(context.Background(), cfg, logging.Noop(), nil); err != nil {
		t.Fatalf("run() = %v, want nil", err)
	}

	raw, err := os.ReadFile(cfg.MetricsOut)
	if err != nil {
		t.Fatalf("read metrics artifact: %v", err)
	}
	var artifact struct {
		RunID       string           `json:"run_id"`
		Feed        string           `json:"feed"`
		Summary     model.RunSummary `json:"summary"`
		RemapEvents []struct {
			Slot   int `json:"slot"`
			NodeID int `json:"node_id"`
		} `json:"remap_events"`
	}
	if err := json.Unmarshal(raw, &artifact); err != nil {
		t.Fatalf("decode metrics artifact: %v", err)
	}
	if artifact.RunID != "run-smoke" {
		t.Errorf("artifact run_id = %q, want %q", artifact.RunID, "run-smoke")
	}
	if artifact.Feed != cfg.FeedPath {
		t.Errorf("artifact feed = %q, want %q", artifact.Feed, cfg.FeedPath)
	}
	if artifact.Summary.Slots != 3 || artifact.Summary.TotalRemaps != 1 {
		t.Errorf("artifact summary = %+v, want 3 slots with 1 remapping", artifact.Summary)
	}
	if artifact.Summary.TotalFlowRules != 42 {
		t.Errorf("artifact total flow rules = %d, want 42", artifact.Summary.TotalFlowRules)
	}
	if len(artifact.RemapEvents) != 1 || artifact.RemapEvents[0].NodeID != 4 {
		t.Errorf("artifact remap events = %+v, want one event for node 4", artifact.RemapEvents)
	}

	store, err := journal.Open(cfg.JournalPath)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer store.Close()
	rec, found, err := store.Run("run-smoke")
	if err != nil || !found {
		t.Fatalf("journal Run() = %v, %v, want record", found, err)
	}
	if rec.Feed != cfg.FeedPath {
		t.Errorf("journal feed = %q, want %q", rec.Feed, cfg.FeedPath)
	}
	if rec.Summary.Slots != 3 || rec.Summary.TotalFlowRules != 42 {
		t.Errorf("journal summary = %+v, want 3 slots and 42 flow rules", rec.Summary)
	}
	if rec.FinishedAt.IsZero() {
		t.Error("journal finished_at is zero, want set")
	}
}

func TestRunServesHealthAndStopsOnCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cfg := Config{
		FeedPath:     writeTestFeed(t, t.TempDir()),
		SlotDuration: time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, logging.Noop(), lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial admin: %v", err)
	}
	defer conn.Close()
	client := healthgrpc.NewHealthClient(conn)

	deadline := time.Now().Add(3 * time.Second)
	for {
		checkCtx, checkCancel := context.WithTimeout(context.Background(), time.Second)
		resp, err := client.Check(checkCtx, &healthgrpc.HealthCheckRequest{})
		checkCancel()
		if err == nil && resp.GetStatus() == healthgrpc.HealthCheckResponse_SERVING {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("admin health never became SERVING: resp=%v err=%v", resp, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	checkCtx, checkCancel := context.WithTimeout(context.Background(), time.Second)
	resp, err := client.Check(checkCtx, &healthgrpc.HealthCheckRequest{Service: admin.RunService})
	checkCancel()
	if err != nil {
		t.Fatalf("check run service: %v", err)
	}
	if got := resp.GetStatus(); got != healthgrpc.HealthCheckResponse_SERVING {
		t.Errorf("run service status = %v, want SERVING", got)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after context cancellation")
	}
}

func TestRunFailsOnMissingFeed(t *testing.T) {
	cfg := Config{FeedPath: filepath.Join(t.TempDir(), "absent.json")}
	err := run(context.Background(), cfg, logging.Noop(), nil)
	if err == nil || !strings.Contains(err.Error(), "open feed") {
		t.Fatalf("run() = %v, want feed open error", err)
	}
}
