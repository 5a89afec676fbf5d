// Command sagin-engine replays a placement feed through the slot
// pipeline: per slot it loads the node/domain assignments, detects
// controller remappings, resolves the controller hierarchy, and emits
// per-domain flow directives to the configured control plane.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/sagin-domain-engine/core"
	"github.com/signalsfoundry/sagin-domain-engine/internal/admin"
	"github.com/signalsfoundry/sagin-domain-engine/internal/journal"
	"github.com/signalsfoundry/sagin-domain-engine/internal/logging"
	"github.com/signalsfoundry/sagin-domain-engine/internal/observability"
	"github.com/signalsfoundry/sagin-domain-engine/internal/sbi"
	"github.com/signalsfoundry/sagin-domain-engine/internal/sim"
	"github.com/signalsfoundry/sagin-domain-engine/timectrl"
)

// Config carries everything run needs; main fills it from flags.
type Config struct {
	FeedPath        string
	MaxSlots        int
	SlotDuration    time.Duration
	Accelerated     bool
	ControlPlaneURL string
	MetricsOut      string
	JournalPath     string
	MetricsAddress  string
	AdminAddress    string
	LogLevel        string
	LogFormat       string
	RunID           string
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.FeedPath, "feed", "", "path to the placement feed JSON (required)")
	flag.IntVar(&cfg.MaxSlots, "slots", 0, "process at most this many slots (0 = whole feed)")
	flag.DurationVar(&cfg.SlotDuration, "slot-duration", time.Second, "wall time per slot in real-time mode")
	flag.BoolVar(&cfg.Accelerated, "accelerated", true, "run in accelerated mode (vs real-time)")
	flag.StringVar(&cfg.ControlPlaneURL, "control-plane", "", "control plane base URL for directive delivery (empty = log only)")
	flag.StringVar(&cfg.MetricsOut, "metrics-out", "", "path for the end-of-run metrics JSON artifact")
	flag.StringVar(&cfg.JournalPath, "journal", "", "path to the SQLite run journal (empty = no journal)")
	flag.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9464", "HTTP address for Prometheus /metrics (empty = disabled)")
	flag.StringVar(&cfg.AdminAddress, "admin-addr", ":9473", "gRPC address for health and reflection (empty = disabled)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "log format: text or json")
	flag.StringVar(&cfg.RunID, "run-id", "", "run identifier for the journal and sink payloads (empty = random)")
	flag.Parse()

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if cfg.FeedPath == "" {
		fmt.Fprintln(os.Stderr, "sagin-engine: -feed is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, nil); err != nil {
		log.Error(ctx, "engine failed", logging.Err(err))
		os.Exit(1)
	}
}

// run executes one engine run. adminLis, when non-nil, overrides
// cfg.AdminAddress; tests inject it to pick a free port.
func run(ctx context.Context, cfg Config, log logging.Logger, adminLis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewEngineCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddress, collector, log)
	defer func() {
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	f, err := os.Open(cfg.FeedPath)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	feed, err := core.LoadSlotFeed(f)
	f.Close()
	if err != nil {
		return err
	}
	log.Info(ctx, "feed loaded",
		logging.String("path", cfg.FeedPath),
		logging.Int("catalog_nodes", len(feed.Catalog())),
		logging.Int("total_slots", feed.TotalSlots()),
	)

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	var sink sbi.DirectiveSink = sbi.NewLogSink(log)
	if cfg.ControlPlaneURL != "" {
		sink = sbi.NewHTTPSink(cfg.ControlPlaneURL, runID, sbi.WithSinkLogger(log))
	}

	opts := []sim.Option{
		sim.WithLogger(log),
		sim.WithRunID(runID),
		sim.WithFeedName(cfg.FeedPath),
		sim.WithMetricsRecorder(collector),
		sim.WithSink(sink),
		sim.WithMaxSlots(cfg.MaxSlots),
	}
	if cfg.JournalPath != "" {
		store, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, sim.WithJournal(store))
	}
	runner := sim.NewRunner(feed, opts...)

	adminSrv, err := serveAdmin(cfg.AdminAddress, adminLis, log, collector)
	if err != nil {
		return err
	}
	if adminSrv != nil {
		defer adminSrv.GracefulStop()
	}

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now().UTC(), cfg.SlotDuration, mode)

	if adminSrv != nil {
		adminSrv.SetRunActive(true)
	}
	runErr := runner.Run(ctx, tc)
	if adminSrv != nil {
		adminSrv.SetRunActive(false)
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	if cfg.MetricsOut != "" {
		if err := runner.WriteMetricsFile(cfg.MetricsOut); err != nil {
			if runErr == nil {
				runErr = err
			} else {
				log.Error(ctx, "metrics artifact write failed", logging.Err(err))
			}
		} else {
			log.Info(ctx, "metrics artifact written", logging.String("path", cfg.MetricsOut))
		}
	}

	return runErr
}

func serveMetrics(addr string, collector *observability.EngineCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func serveAdmin(addr string, lis net.Listener, log logging.Logger, collector *observability.EngineCollector) (*admin.Server, error) {
	if lis == nil {
		if addr == "" {
			return nil, nil
		}
		var err error
		lis, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen for admin gRPC: %w", err)
		}
	}

	srv := admin.NewServer(log, collector)
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Warn(context.Background(), "admin server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving admin gRPC", logging.String("addr", lis.Addr().String()))
	return srv, nil
}
