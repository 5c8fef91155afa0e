package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/prometheus/client_golang/prometheus"
	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/somersstack/clier/internal/config"
	"github.com/somersstack/clier/internal/ipc"
	"github.com/somersstack/clier/internal/logger"
	"github.com/somersstack/clier/internal/metrics"
	"github.com/somersstack/clier/internal/orchestrator"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the process-orchestration daemon in the foreground.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	root, err := projectRoot()
	if err != nil {
		return fmt.Errorf("clier: resolve project root: %w", err)
	}

	if err := os.MkdirAll(clierDir(root), 0755); err != nil {
		return fmt.Errorf("clier: create %s: %w", clierDir(root), err)
	}
	if err := os.MkdirAll(daemonLogDir(root), 0755); err != nil {
		return fmt.Errorf("clier: create %s: %w", daemonLogDir(root), err)
	}

	setupDaemonLogging(root)

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("clier: load config: %w", err)
	}

	orch, err := orchestrator.New(cfg, filepath.Join(clierDir(root), "logs"))
	if err != nil {
		return fmt.Errorf("clier: build orchestrator: %w", err)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Warn("metrics registration failed", "err", err)
	}
	if addr := os.Getenv("CLIER_METRICS_LISTEN"); addr != "" {
		go serveMetrics(addr)
	}

	sock := socketPath(root)
	srv, err := ipc.NewServer(sock)
	if err != nil {
		return fmt.Errorf("clier: listen on %s: %w", sock, err)
	}

	runID := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	shutdown := func() { cancel() }
	clearLogs := func(level string) error { return clearDaemonLogFiles(root, level) }
	ipc.RegisterHandlers(srv, orch, shutdown, runID, clearLogs)

	if err := writePIDFile(pidFilePath(root), pidFileInfo{PID: os.Getpid(), SocketPath: sock}); err != nil {
		return fmt.Errorf("clier: write pid file: %w", err)
	}
	defer func() { _ = removePIDFile(pidFilePath(root)) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("received shutdown signal")
		cancel()
	}()

	go func() {
		if err := srv.Serve(ctx); err != nil {
			slog.Error("ipc server stopped", "err", err)
		}
	}()
	defer func() { _ = srv.Close() }()

	startPaused := os.Getenv("CLIER_START_PAUSED") == "true"
	slog.Info("clier daemon starting", "project", cfg.ProjectName, "socket", sock, "runId", runID)
	return orch.Run(ctx, startPaused)
}

// clearDaemonLogFiles truncates the daemon's own on-disk log files
// (combined.log and/or error.log, not a supervised process's logs — that's
// logs.clear). level selects which: "error" clears error.log, "all" clears
// both, anything else (including empty) clears combined.log.
func clearDaemonLogFiles(root, level string) error {
	var names []string
	switch strings.ToLower(level) {
	case "error":
		names = []string{"error.log"}
	case "all":
		names = []string{"combined.log", "error.log"}
	default:
		names = []string{"combined.log"}
	}
	for _, name := range names {
		path := filepath.Join(daemonLogDir(root), name)
		if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clier: truncate %s: %w", path, err)
		}
	}
	return nil
}

func setupDaemonLogging(root string) {
	level := slog.LevelInfo
	switch os.Getenv("CLIER_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	combined := &lj.Logger{
		Filename:   filepath.Join(daemonLogDir(root), "combined.log"),
		MaxSize:    logger.DefaultMaxSizeMB,
		MaxBackups: logger.DefaultMaxBackups,
		MaxAge:     logger.DefaultMaxAgeDays,
	}
	errLog := &lj.Logger{
		Filename:   filepath.Join(daemonLogDir(root), "error.log"),
		MaxSize:    logger.DefaultMaxSizeMB,
		MaxBackups: logger.DefaultMaxBackups,
		MaxAge:     logger.DefaultMaxAgeDays,
	}

	handler := &errorTeeHandler{
		main: logger.NewColorTextHandler(combined, &slog.HandlerOptions{Level: level}, false),
		errs: logger.NewColorTextHandler(errLog, &slog.HandlerOptions{Level: slog.LevelError}, false),
	}
	slog.SetDefault(slog.New(handler))
}

// errorTeeHandler duplicates error-level records into a second handler
// writing the daemon's error-only log file, alongside the combined log.
type errorTeeHandler struct {
	main slog.Handler
	errs slog.Handler
}

func (h *errorTeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.main.Enabled(ctx, level)
}

func (h *errorTeeHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.main.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level >= slog.LevelError {
		return h.errs.Handle(ctx, r)
	}
	return nil
}

func (h *errorTeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &errorTeeHandler{main: h.main.WithAttrs(attrs), errs: h.errs.WithAttrs(attrs)}
}

func (h *errorTeeHandler) WithGroup(name string) slog.Handler {
	return &errorTeeHandler{main: h.main.WithGroup(name), errs: h.errs.WithGroup(name)}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server stopped", "err", err)
	}
}
