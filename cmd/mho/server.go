package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"mho/internal/api"
	"mho/internal/changes"
	"mho/internal/config"
	"mho/internal/hub"
	"mho/internal/logging"
	"mho/internal/otel"
	"mho/internal/sse"
	"mho/internal/version"
	"mho/internal/watcher"
)

const httpServerShutdownTimeout = 5 * time.Second

func runServer(args []string) int {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	return serve(context.Background(), args, os.Stdout, os.Stderr, signals)
}

// serve runs the file server until ctx is done or a signal arrives and
// returns the process exit code.
func serve(ctx context.Context, args []string, stdout, stderr io.Writer, signals <-chan os.Signal) int {
	cfg, err := config.LoadConfig(args)
	if err != nil {
		if config.IsHelp(err) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "mho %s\n", version.Get())
		return 0
	}

	logger := logging.NewLoggerWithOutput(cfg.LogLevel(), stdout)
	if cfg.Verbose {
		config.LogStartupFlags(logger, cfg)
	}
	logVersionInfo(logger, cfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopSignals := watchShutdownSignals(logger, cancel, signals)
	defer stopSignals()

	shutdownTelemetry, err := otel.SetupSDK(ctx, otel.SDKOptionsFromEnv())
	if err != nil {
		logger.Warn("telemetry setup failed", map[string]string{
			"error": err.Error(),
		})
	} else {
		defer flushTelemetry(logger, shutdownTelemetry)
	}

	coordinator := newShutdownCoordinator(logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
		defer shutdownCancel()
		_ = coordinator.Run(shutdownCtx)
	}()

	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		logger.Error("project root invalid", map[string]string{
			"project_root": cfg.ProjectRoot,
			"error":        err.Error(),
		})
		return 1
	}

	changesHub := hub.New(hub.Options[sse.Message]{
		Name:      "changes",
		Capacity:  cfg.QueueCapacity,
		Heartbeat: sse.Ping(),
		Logger:    logger,
	})
	feed := changes.NewFeed(root, changesHub, logger)

	projectWatcher, err := watcher.Start(root, watcher.Options{
		OnEvent:  feed.Handle,
		Logger:   logger,
		Debounce: cfg.Debounce,
	})
	if err != nil {
		var initErr *watcher.WatchInitError
		fields := map[string]string{"error": err.Error()}
		if errors.As(err, &initErr) {
			fields["project_root"] = initErr.Root
		}
		logger.Error("watch failed", fields)
		changesHub.Close()
		return 1
	}

	// The watcher stops before the hub so no event is published into a
	// closed hub.
	coordinator.Add("watcher", func(context.Context) error {
		metrics := projectWatcher.Metrics()
		logger.Info("watcher stopped", map[string]string{
			"root":       projectWatcher.Root(),
			"delivered":  strconv.FormatUint(metrics.EventsDelivered, 10),
			"coalesced":  strconv.FormatUint(metrics.EventsCoalesced, 10),
			"errors":     strconv.FormatUint(metrics.Errors, 10),
			"last_event": strconv.FormatUint(feed.Last(), 10),
		})
		return projectWatcher.Close()
	})
	coordinator.Add("hub", func(context.Context) error {
		stats := changesHub.Stats()
		changesHub.Close()
		logger.Info("change hub closed", map[string]string{
			"published": strconv.FormatInt(stats.Published, 10),
			"dropped":   strconv.FormatInt(stats.Dropped, 10),
			"pruned":    strconv.FormatInt(stats.Pruned, 10),
		})
		return nil
	})

	handler, err := api.NewHandler(api.Options{
		ProjectRoot:    root,
		DepsDir:        cfg.DepsDir,
		WorkerDir:      cfg.WorkerDir,
		ScaffoldingDir: cfg.ScaffoldingDir,
		Changes:        changesHub,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("http handler setup failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}

	listener, port, err := listenOn(cfg.Addr())
	if err != nil {
		logger.Error("listen failed", map[string]string{
			"addr":  cfg.Addr(),
			"error": err.Error(),
		})
		return 1
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go changesHub.Run(hubCtx, cfg.SweepInterval)

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	// Event streams never go idle on their own; closing the hub ends them so
	// Shutdown can finish.
	server.RegisterOnShutdown(changesHub.Close)

	logger.Info("mho listening", map[string]string{
		"addr":         listener.Addr().String(),
		"port":         strconv.Itoa(port),
		"project_root": root,
		"version":      version.Version,
	})

	runner := &ServerRunner{
		Logger:          logger,
		ShutdownTimeout: httpServerShutdownTimeout,
	}
	if err := runner.Run(ctx, ManagedServer{
		Name: "http",
		Serve: func() error {
			return server.Serve(listener)
		},
		Shutdown: server.Shutdown,
	}); err != nil {
		return 1
	}
	return 0
}

// listenOn binds addr and reports the port actually bound, which differs
// from the configured one when it is zero.
func listenOn(addr string) (net.Listener, int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, 0, err
	}
	tcpAddress, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		_ = listener.Close()
		return nil, 0, fmt.Errorf("unexpected listener address: %T", listener.Addr())
	}
	return listener, tcpAddress.Port, nil
}

func flushTelemetry(logger *logging.Logger, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", map[string]string{
			"error": err.Error(),
		})
	}
}

func logVersionInfo(logger *logging.Logger, cfg config.Config) {
	fields := map[string]string{
		"version": version.Get().Version,
	}
	if cfg.ConfigFile != "" {
		fields["config_file"] = cfg.ConfigFile
	}
	logger.Info("mho "+version.Get().Version, fields)
}
