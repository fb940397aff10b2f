// Package main implements the vumigo worker entry point. One binary runs
// either a routing dispatcher or an SMPP-style transport, selected by the
// worker role in configuration.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/praekeltfoundation/vumigo/bus"
	"github.com/praekeltfoundation/vumigo/config"
	"github.com/praekeltfoundation/vumigo/connector"
	"github.com/praekeltfoundation/vumigo/dispatcher"
	"github.com/praekeltfoundation/vumigo/failures"
	"github.com/praekeltfoundation/vumigo/health"
	"github.com/praekeltfoundation/vumigo/kvstore"
	"github.com/praekeltfoundation/vumigo/message"
	"github.com/praekeltfoundation/vumigo/metric"
	"github.com/praekeltfoundation/vumigo/pkg/retry"
	"github.com/praekeltfoundation/vumigo/smpp"
	"github.com/praekeltfoundation/vumigo/window"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "vumigo"
)

// Retry delivery worker pool sizing
const (
	retryWorkers   = 4
	retryQueueSize = 64
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Worker failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Worker.LogLevel = cliCfg.LogLevel
	}

	logger := setupLogger(cfg.Worker.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid",
			"worker", cfg.Worker.Name, "role", cfg.Worker.Role)
		return nil
	}

	slog.Info("Starting worker",
		"version", Version,
		"build_time", BuildTime,
		"worker", cfg.Worker.Name,
		"role", cfg.Worker.Role,
		"config_path", cliCfg.ConfigPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := kvstore.NewRedisStore(cfg.Redis)
	if err != nil {
		return fmt.Errorf("create redis store: %w", err)
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}

	// NATS may come up after the worker under orchestration, so the
	// initial connect is retried with backoff
	b, err := retry.DoWithResult(ctx, retry.Quick(), func() (*bus.JetStreamBus, error) {
		return bus.ConnectJetStream(ctx, cfg.NATS, logger)
	})
	if err != nil {
		return fmt.Errorf("connect to jetstream: %w", err)
	}
	defer b.Close()

	registry := metric.NewMetricsRegistry()
	metricsServer := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	defer func() {
		if err := metricsServer.Stop(cliCfg.ShutdownTimeout); err != nil {
			logger.Error("metrics server shutdown failed", "error", err)
		}
	}()

	healthServer := startHealthServer(ctx, cfg, store, b, logger)
	defer stopHealthServer(healthServer, cliCfg.ShutdownTimeout, logger)

	switch cfg.Worker.Role {
	case config.RoleDispatcher:
		return runDispatcher(ctx, cfg, b, logger, registry)
	case config.RoleSMPP:
		return runSMPP(ctx, cfg, store, b, logger, registry, cliCfg.ShutdownTimeout)
	default:
		return fmt.Errorf("unknown worker role: %s", cfg.Worker.Role)
	}
}

// startHealthServer wires liveness probes for the store and the bus and
// serves them over HTTP.
func startHealthServer(ctx context.Context, cfg *config.Config, store *kvstore.RedisStore, b *bus.JetStreamBus, logger *slog.Logger) *http.Server {
	monitor := health.NewMonitor()
	monitor.RegisterCheck("redis", store.Ping)
	monitor.RegisterCheck("nats", b.Ping)
	go monitor.Run(ctx, cfg.Health.Interval)

	mux := http.NewServeMux()
	mux.Handle("/health", monitor.Handler(appName))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", "error", err)
		}
	}()
	return srv
}

func stopHealthServer(srv *http.Server, timeout time.Duration, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown failed", "error", err)
	}
}

// runDispatcher runs the routing-table dispatcher until a signal arrives
func runDispatcher(ctx context.Context, cfg *config.Config, b bus.Bus, logger *slog.Logger, registry *metric.MetricsRegistry) error {
	router, err := dispatcher.NewRoutingTableDispatcher(cfg.Dispatcher.Table)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	d, err := dispatcher.NewDispatcher(b, cfg.Dispatcher.Config, router, logger, registry)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	router.Attach(d)

	if err := d.Start(); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	slog.Info("Dispatcher started",
		"inbound_connectors", cfg.Dispatcher.ReceiveInboundConnectors,
		"outbound_connectors", cfg.Dispatcher.ReceiveOutboundConnectors)

	<-ctx.Done()
	slog.Info("Shutting down dispatcher")
	return d.Stop()
}

// runSMPP runs the windowed SMPP-style transport until a signal arrives
func runSMPP(ctx context.Context, cfg *config.Config, store kvstore.Store, b bus.Bus, logger *slog.Logger, registry *metric.MetricsRegistry, shutdownTimeout time.Duration) error {
	scfg := cfg.SMPP

	conn, err := connector.NewConnector(b, connector.Config{Name: scfg.TransportName}, logger, registry)
	if err != nil {
		return fmt.Errorf("create connector: %w", err)
	}

	// Retried failures re-enter the transport's outbound sub-stream
	outboundKey := conn.RoutingKey(message.DirectionOutbound)
	publish := func(ctx context.Context, data []byte) error {
		return b.Publish(ctx, outboundKey, data)
	}
	ledger, err := failures.NewLedger(store, scfg.Failures, publish, logger, registry)
	if err != nil {
		return fmt.Errorf("create failure ledger: %w", err)
	}
	delivery, err := failures.NewDelivery(ledger, retryWorkers, retryQueueSize, registry)
	if err != nil {
		return fmt.Errorf("create retry delivery: %w", err)
	}

	wm, err := window.NewManager(store, scfg.Window, logger, registry)
	if err != nil {
		return fmt.Errorf("create window manager: %w", err)
	}

	wire := smpp.NewBusWire(b, store, scfg.TransportName, logger)
	engine, err := smpp.NewEngine(store, scfg.Config, wire, conn, ledger, logger, registry)
	if err != nil {
		return fmt.Errorf("create correlation engine: %w", err)
	}
	if err := wire.Bind(engine); err != nil {
		return fmt.Errorf("bind wire protocol: %w", err)
	}

	pacer, err := smpp.NewPacer(wm, engine, conn, window.MonitorOptions{
		Interval: time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("create pacer: %w", err)
	}
	if err := pacer.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	// Start blocks on the sweep loop until ctx is cancelled
	deliveryErr := make(chan error, 1)
	go func() { deliveryErr <- delivery.Start(ctx) }()
	slog.Info("SMPP transport started", "transport", scfg.TransportName)

	<-ctx.Done()
	slog.Info("Shutting down transport", "transport", scfg.TransportName)

	var firstErr error
	if err := pacer.Stop(); err != nil {
		firstErr = err
	}
	if err := wire.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := <-deliveryErr; err != nil && firstErr == nil {
		firstErr = err
	}
	if err := delivery.Stop(shutdownTimeout); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
