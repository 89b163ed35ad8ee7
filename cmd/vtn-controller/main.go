// Package main provides the entry point for vtn-controller.
//
// vtn-controller is the control plane of the tenant overlay:
// - Mirrors networks, subnets and ports of the cloud orchestrator
// - Applies the service networks and service ports declared by tenants
// - Compiles forwarding rules for every attached workload instance
// - Groups service networks into chains and reports provider bandwidth
//
// Usage:
//
//	vtn-controller [flags]
//
// Flags:
//
//	--config string                Path to configuration file (default: uses env vars)
//	--metrics-bind-address string  Address for the metrics endpoint (overrides config)
//	--log-level string             Log level: debug, info, warn, error (overrides config)
//	--snapshot string              YAML snapshot serving both feeds (overrides config)
//	--chain-report-interval        Interval between provider bandwidth reports (default: 1m)
//
// Environment Variables:
//
//	VTN_CONFIG_FILE                Path to configuration file
//	VTN_ORCHESTRATOR_SNAPSHOT      Orchestrator snapshot file
//	VTN_INTENT_SNAPSHOT            Tenant intent snapshot file
//	VTN_OVSDB_ADDRESS              Open_vSwitch database address
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/jiayi-1994/zstack-vtn/pkg/chain"
	"github.com/jiayi-1994/zstack-vtn/pkg/config"
	"github.com/jiayi-1994/zstack-vtn/pkg/events"
	"github.com/jiayi-1994/zstack-vtn/pkg/feed"
	"github.com/jiayi-1994/zstack-vtn/pkg/handler"
	"github.com/jiayi-1994/zstack-vtn/pkg/host"
	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/manager"
	"github.com/jiayi-1994/zstack-vtn/pkg/metrics"
	"github.com/jiayi-1994/zstack-vtn/pkg/node"
	"github.com/jiayi-1994/zstack-vtn/pkg/ovsdb"
	"github.com/jiayi-1994/zstack-vtn/pkg/pipeline"
	"github.com/jiayi-1994/zstack-vtn/pkg/store"
)

var (
	// Version information (set at build time)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Options contains command-line options for the controller
type Options struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// MetricsBindAddress overrides the configured metrics address
	MetricsBindAddress string

	// LogLevel overrides the configured log level
	LogLevel string

	// Snapshot overrides the orchestrator and intent snapshot files
	Snapshot string

	// ChainReportInterval is the period of the provider bandwidth report
	ChainReportInterval time.Duration

	// PrintVersion prints version information and exits
	PrintVersion bool
}

func main() {
	opts := parseFlags()

	if opts.PrintVersion {
		printVersion()
		os.Exit(0)
	}

	cfg, err := loadConfiguration(opts)
	if err != nil {
		klog.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.InitGlobalLogger(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.File,
		AddCaller:  true,
		CallerSkip: 1,
	}); err != nil {
		klog.Fatalf("Failed to initialize logging: %v", err)
	}
	logger := logging.L()
	logger.RedirectKlog()
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting vtn-controller", "version", version, "commit", gitCommit, "built", buildDate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupSignalHandler(cancel)

	if err := runController(ctx, opts, cfg, logger); err != nil {
		logger.Error(err, "Controller failed")
		os.Exit(1)
	}

	logger.Info("Controller stopped")
}

// parseFlags parses command-line flags and returns Options
func parseFlags() *Options {
	opts := &Options{}

	flag.StringVar(&opts.ConfigFile, "config", "",
		"Path to configuration file (can also use VTN_CONFIG_FILE env var)")
	flag.StringVar(&opts.MetricsBindAddress, "metrics-bind-address", "",
		"Address for metrics endpoint (overrides config)")
	flag.StringVar(&opts.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
	flag.StringVar(&opts.Snapshot, "snapshot", "",
		"YAML snapshot serving both the orchestrator and intent feeds (overrides config)")
	flag.DurationVar(&opts.ChainReportInterval, "chain-report-interval", time.Minute,
		"Interval between provider bandwidth reports")
	flag.BoolVar(&opts.PrintVersion, "version", false,
		"Print version information and exit")

	klog.InitFlags(nil)

	flag.Parse()

	return opts
}

// loadConfiguration loads the configuration from file and environment
func loadConfiguration(opts *Options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.MetricsBindAddress != "" {
		cfg.Metrics.BindAddress = opts.MetricsBindAddress
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.Snapshot != "" {
		cfg.Orchestrator.SnapshotFile = opts.Snapshot
		cfg.Intent.SnapshotFile = opts.Snapshot
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		klog.Infof("Received signal %s, initiating shutdown...", sig)
		cancel()

		// Wait for second signal for force exit
		sig = <-sigCh
		klog.Infof("Received second signal %s, forcing exit", sig)
		os.Exit(1)
	}()
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("vtn-controller\n")
	fmt.Printf("  Version:    %s\n", version)
	fmt.Printf("  Git Commit: %s\n", gitCommit)
	fmt.Printf("  Build Date: %s\n", buildDate)
}

// runController wires the components and blocks until ctx is done
func runController(ctx context.Context, opts *Options, cfg *config.Config, logger *logging.Logger) error {
	metrics.Register()

	registry := events.NewRegistry()
	st := store.New(store.Options{
		SegmentBase:     cfg.Segment.Base,
		SegmentPoolSize: cfg.Segment.PoolSize,
		Logger:          logger.WithName("store"),
	})
	mgr := manager.New(st, nil, registry, logger.WithName("manager"))
	defer mgr.Close()

	inv, err := node.NewInventoryFromConfig(cfg, registry, logger.WithName("nodes"))
	if err != nil {
		return fmt.Errorf("failed to build node inventory: %w", err)
	}
	if cfg.OVSDB.Enabled {
		resolver := ovsdb.NewResolver(cfg.OVSDB)
		defer resolver.Close()
		inv.SetTunnelPortResolver(resolver)
		logger.Info("Tunnel port discovery enabled", "tunnel", inv.Tunnel().String())
	}

	tracker := host.NewTracker(mgr, logger.WithName("hosts"))
	mgr.SetInstanceResolver(tracker)
	tracker.SetAttachGuard(mgr)

	executor, stop := createExecutor(ctx, cfg, logger)
	defer stop()

	instanceHandler := handler.NewDefaultInstanceHandler(mgr, tracker, inv, executor, handler.Options{
		Logger: logger.WithName("instance-handler"),
	})
	tracker.AddHandler(instanceHandler)
	registry.Add(instanceHandler)

	chains := chain.New(mgr, tracker, inv, logger.WithName("service-chains"))
	registry.Add(chains)

	if cfg.Metrics.BindAddress != "" {
		go serveMetrics(ctx, cfg.Metrics.BindAddress, logger)
	}

	// Nodes seeded as complete still need their tunnel port
	for _, n := range inv.CompleteNodes() {
		if n.TunnelPort != 0 || !cfg.OVSDB.Enabled {
			continue
		}
		if err := inv.UpdateState(ctx, n.Hostname, node.StateComplete); err != nil {
			logger.Error(err, "Tunnel port discovery failed", "node", n.Hostname)
		}
	}

	snap, err := syncStates(ctx, cfg, mgr, logger)
	if err != nil {
		return err
	}
	if snap != nil {
		detectHosts(ctx, snap, tracker, logger)
	}

	logger.Info("Controller running",
		"networks", len(mgr.VtnNetworks()), "instances", tracker.Len(), "completeNodes", len(inv.CompleteNodes()))

	wait.UntilWithContext(ctx, func(ctx context.Context) {
		chains.TcHelper(ctx)
	}, opts.ChainReportInterval)
	return nil
}

// createExecutor returns the rule executor and a function stopping it
func createExecutor(ctx context.Context, cfg *config.Config, logger *logging.Logger) (pipeline.Executor, func()) {
	table := pipeline.NewFlowTable()
	if !cfg.UseAsyncExecutor() {
		logger.Info("Using synchronous flow table executor")
		return table, func() {}
	}

	async := pipeline.NewAsyncExecutor(table, pipeline.ExecutorOptions{
		MaxRequeues:   cfg.Pipeline.MaxRequeues,
		RetryInterval: cfg.Pipeline.RetryInterval,
		MaxRetries:    cfg.Pipeline.MaxRetries,
		Logger:        logger.WithName("executor"),
	})
	async.Start(ctx, cfg.Pipeline.Workers)
	return async, async.ShutDown
}

// syncStates runs the full resync from the configured snapshots. The
// orchestrator snapshot also serves the intent feed when no intent file is set.
func syncStates(ctx context.Context, cfg *config.Config, mgr *manager.Manager, logger *logging.Logger) (*feed.Snapshot, error) {
	if cfg.Orchestrator.SnapshotFile == "" {
		logger.Info("No orchestrator snapshot configured, starting empty")
		return nil, nil
	}

	orch, err := feed.LoadSnapshot(cfg.Orchestrator.SnapshotFile)
	if err != nil {
		return nil, err
	}
	intent := orch
	if cfg.Intent.SnapshotFile != "" && cfg.Intent.SnapshotFile != cfg.Orchestrator.SnapshotFile {
		if intent, err = feed.LoadSnapshot(cfg.Intent.SnapshotFile); err != nil {
			return nil, err
		}
	}

	syncCtx, cancel := context.WithTimeout(ctx, cfg.Orchestrator.SyncTimeout+cfg.Intent.SyncTimeout)
	defer cancel()
	if err := mgr.SyncStates(syncCtx, orch, intent); err != nil {
		return nil, fmt.Errorf("failed to sync states: %w", err)
	}
	return orch, nil
}

// detectHosts feeds the hosts recorded in the snapshot to the tracker.
// A host that fails to resolve is logged and skipped.
func detectHosts(ctx context.Context, snap *feed.Snapshot, tracker *host.Tracker, logger *logging.Logger) {
	hosts, err := snap.Hosts(ctx)
	if err != nil {
		logger.Error(err, "Failed to list hosts")
		return
	}
	for _, h := range hosts {
		if err := tracker.DetectHost(h); err != nil {
			logger.Error(err, "Failed to attach host", "mac", h.MAC.String(), "device", h.DeviceID)
		}
	}
}

// serveMetrics exposes the controller-runtime metrics registry until ctx is done
func serveMetrics(ctx context.Context, addr string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(err, "Metrics endpoint failed")
	}
}
