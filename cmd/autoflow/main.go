// Package main implements the entry point for the AutoFlow automation
// engine: a rule-matching and playbook-dispatching service driven by
// platform events over NATS.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/autoflow/action"
	"github.com/c360/autoflow/config"
	"github.com/c360/autoflow/engine"
	"github.com/c360/autoflow/gateway"
	"github.com/c360/autoflow/health"
	"github.com/c360/autoflow/metric"
	"github.com/c360/autoflow/natsclient"
	"github.com/c360/autoflow/pkg/cache"
	"github.com/c360/autoflow/playbook"
	"github.com/c360/autoflow/rule"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "autoflow"
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
		slog.Error("Application failed", "error", err, "exit_code", 1)
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
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("Starting AutoFlow automation engine",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	ctx := context.Background()

	natsClient := natsclient.NewClient(cfg.NATS, logger)
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() {
		if err := natsClient.Close(); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()

	eng, metricsRegistry, err := buildEngine(ctx, cfg, natsClient, logger)
	if err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	gw := gateway.NewServer(cfg.Gateway, eng, metricsRegistry.Handler(), logger)
	serveErr, err := gw.Start()
	if err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	return waitForShutdown(ctx, eng, gw, serveErr, cliCfg.ShutdownTimeout, logger)
}

// buildEngine wires the KV stores, evaluation paths, and observability
// into an engine instance.
func buildEngine(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	logger *slog.Logger,
) (*engine.Engine, *metric.MetricsRegistry, error) {
	ruleBucket, err := natsClient.EnsureKeyValue(ctx, cfg.Engine.RuleBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure rule bucket: %w", err)
	}
	triggerBucket, err := natsClient.EnsureKeyValue(ctx, cfg.Engine.TriggerBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure trigger bucket: %w", err)
	}

	metricsRegistry := metric.NewMetricsRegistry()
	natsClient.SetReconnectCallback(metricsRegistry.Metrics.RecordNATSReconnect)
	aggregator := metric.NewAggregator(metricsRegistry.Metrics)
	monitor := health.NewMonitor()

	var ruleCache cache.Cache[[]*rule.AutomationRule]
	if cfg.Cache.Enabled {
		ruleCache = cache.NewTTL[[]*rule.AutomationRule](cfg.Cache.TTL)
	}
	rules := engine.NewRuleStore(natsClient.NewKVStore(ruleBucket), ruleCache, aggregator, logger)

	triggerStore := playbook.NewKVStore(natsClient.NewKVStore(triggerBucket), logger)
	executor := playbook.NewHTTPExecutor(cfg.Executor.BaseURL, cfg.Executor.Timeout, logger)
	dispatcher := playbook.NewDispatcher(triggerStore, executor, logger)

	actionRegistry := action.NewRegistry()
	action.RegisterBuiltins(actionRegistry, logger, natsClient, cfg.Engine.PublishSubject)
	actions := action.NewExecutor(actionRegistry, logger)

	eng := engine.New(cfg, natsClient, rules, dispatcher, actions,
		aggregator, metricsRegistry.Metrics, monitor, logger)
	return eng, metricsRegistry, nil
}

// waitForShutdown blocks until a signal or gateway failure, then stops the
// gateway and engine within the shutdown timeout.
func waitForShutdown(
	ctx context.Context,
	eng *engine.Engine,
	gw *gateway.Server,
	serveErr <-chan error,
	timeout time.Duration,
	logger *slog.Logger,
) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err, ok := <-serveErr:
		if ok && err != nil {
			logger.Error("Gateway serve failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var group errgroup.Group
	group.Go(func() error { return gw.Stop(shutdownCtx) })
	group.Go(func() error { return eng.Stop(shutdownCtx) })
	if err := group.Wait(); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
