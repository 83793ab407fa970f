// Chatindexd is the chat transcript index daemon.
//
// It indexes the transcript files given as arguments, keeps them current as
// they change on disk, optionally broadcasts index events over NATS and
// serves the index over HTTP.
//
// Configuration is loaded from ~/.config/chatindex/config.yaml (or --config)
// and CHATINDEX_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Index two transcripts and serve them
//	chatindexd ~/chats/a.txt ~/chats/b.txt
//
//	# Configure via environment
//	CHATINDEX_SERVER_PORT=9292 CHATINDEX_NATS_ENABLED=true chatindexd chat.txt
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/chatindex/internal/broadcast"
	"github.com/fyrsmithlabs/chatindex/internal/config"
	"github.com/fyrsmithlabs/chatindex/internal/engine"
	httpapi "github.com/fyrsmithlabs/chatindex/internal/http"
	"github.com/fyrsmithlabs/chatindex/internal/logging"
	"github.com/fyrsmithlabs/chatindex/internal/reindex"
	"github.com/fyrsmithlabs/chatindex/internal/telemetry"
	"github.com/fyrsmithlabs/chatindex/internal/watch"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/chatindex/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 && args[0] == "version" {
		printVersion()
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	if err := run(ctx, cfg, args); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("chatindexd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component and blocks until ctx is cancelled:
//  1. logger and telemetry
//  2. engine with reindex metrics
//  3. NATS broadcast (if enabled)
//  4. initial index of paths
//  5. file watcher and HTTP server
//
// Shutdown drains the HTTP server within server.shutdown_timeout.
func run(ctx context.Context, cfg *config.Config, paths []string) error {
	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zl := logger.Underlying()

	zl.Info("Starting chatindexd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.Int("paths", len(paths)),
		zap.Bool("nats", cfg.NATS.Enabled))

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), zl)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	eng, err := newEngine(cfg, tel, zl)
	if err != nil {
		return err
	}
	defer eng.Close()

	if cfg.NATS.Enabled {
		closeBroadcast, err := startBroadcast(cfg.NATS, eng, zl)
		if err != nil {
			return err
		}
		defer closeBroadcast()
	}

	abs, err := absPaths(paths)
	if err != nil {
		return err
	}
	if _, err := eng.IndexFiles(ctx, abs); err != nil {
		// Files that fail now are retried by the watcher on their next change.
		zl.Warn("initial index incomplete", zap.Error(err))
	}
	seqs, segs := eng.Stats()
	zl.Info("Initial index complete", zap.Int("sequences", seqs), zap.Int("segments", segs))

	watcher, err := watch.New(watch.Config{
		Debounce: cfg.Watch.Debounce.Duration(),
		Rate:     cfg.Watch.Rate,
		Burst:    cfg.Watch.Burst,
	}, watch.IndexHandler(eng), watch.WithLogger(zl))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	for _, p := range abs {
		if err := watcher.Add(p); err != nil {
			zl.Warn("cannot watch source", zap.String("source", p), zap.Error(err))
		}
	}

	srv, err := httpapi.NewServer(eng, zl, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, httpapi.WithTelemetryHealth(tel.Health), httpapi.WithVersion(version))
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	zl.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s/health", srv.Addr())),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zl.Warn("http shutdown failed", zap.Error(err))
		}
		return watcher.Close()
	})
	return g.Wait()
}

// initLogger builds the structured logger. OTel export goes through the
// global log provider, which is a no-op unless an SDK installed one.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg, err := logging.ConfigFromObservability(cfg.Observability)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(logCfg, global.GetLoggerProvider())
}

func newEngine(cfg *config.Config, tel *telemetry.Telemetry, logger *zap.Logger) (*engine.Engine, error) {
	metrics, err := reindex.NewMetrics(tel.Meter(reindex.InstrumentationName))
	if err != nil {
		logger.Warn("reindex metrics disabled", zap.Error(err))
	}
	eng, err := engine.New(engine.ConfigFrom(cfg), engine.WithLogger(logger), engine.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return eng, nil
}

// startBroadcast connects to NATS and forwards every engine event. The
// returned func detaches and drains the connection.
func startBroadcast(cfg config.NATSConfig, eng *engine.Engine, logger *zap.Logger) (func(), error) {
	nc, err := broadcast.Connect(cfg, logger)
	if err != nil {
		return nil, err
	}
	b := broadcast.New(nc, cfg.Subject, broadcast.WithLogger(logger))
	b.Attach(eng)
	logger.Info("Broadcasting index events",
		zap.String("url", cfg.URL),
		zap.String("subject", cfg.Subject),
		logging.Secret("nats_token", cfg.Token),
	)

	return func() {
		b.Detach()
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}, nil
}

// absPaths makes paths absolute so the watcher, the HTTP API and the
// initial index agree on sequence ids.
func absPaths(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		out = append(out, a)
	}
	return out, nil
}
