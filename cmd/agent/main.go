package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"vellum/internal/agent"
	"vellum/internal/autosave"
	"vellum/internal/client"
	"vellum/internal/config"
	"vellum/internal/conflict"
	"vellum/internal/middleware"
	"vellum/internal/netmon"
	"vellum/internal/pending"
	"vellum/internal/suggest"
	"vellum/internal/version"
)

const defaultProbeInterval = 15 * time.Second

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		log.Fatalf("Failed to load tuning file: %v", err)
	}

	// Log to stdout and a rotated file under the data directory.
	logFile, err := config.SetupLogFile(filepath.Join(cfg.DataDir, "logs"), "agent", 5)
	if err != nil {
		log.Fatalf("Failed to set up log file: %v", err)
	}
	defer logFile.Close()

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, logFile), &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("agent starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"server_url", cfg.ServerURL,
		"data_dir", cfg.DataDir,
	)

	// Durable pending-write stores: LevelDB for the normal path, plain
	// fsynced files for the synchronous unload path.
	primary, err := pending.OpenLevelDB(filepath.Join(cfg.DataDir, "pending"), logger)
	if err != nil {
		log.Fatalf("Failed to open pending store: %v", err)
	}
	defer primary.Close()

	fallback, err := pending.NewFileStore(filepath.Join(cfg.DataDir, "unload"))
	if err != nil {
		log.Fatalf("Failed to open unload store: %v", err)
	}
	store := pending.NewLayered(primary, fallback, logger)

	gateway := client.New(cfg.ServerURL, cfg.AuthToken)

	probe := defaultProbeInterval
	if tuning.ProbeInterval() > 0 {
		probe = tuning.ProbeInterval()
	}
	monitor := netmon.New(gateway, probe, logger)
	monitor.Start()
	defer monitor.Stop()

	threshold := tuning.VersionThreshold
	if threshold <= 0 {
		threshold = version.DefaultThreshold
	}
	snapshots := version.NewSnapshotter(gateway, threshold, logger)
	resolver := conflict.NewResolver(gateway, store, logger)

	manager := autosave.NewManager(autosave.Deps{
		Gateway:   gateway,
		Store:     store,
		Monitor:   monitor,
		Snapshots: snapshots,
		Resolver:  resolver,
		Logger:    logger,
	}, autosave.Options{
		Debounce:       tuning.Debounce(),
		RetryBaseDelay: tuning.RetryBaseDelay(),
		RetryMaxDelay:  tuning.RetryMaxDelay(),
		MaxRetries:     tuning.MaxRetries,
	})

	var suggester *suggest.Client
	if cfg.SuggestURL != "" {
		suggester = suggest.NewClient(cfg.SuggestURL, cfg.SuggestToken)
	}
	apiHandler := agent.NewHandler(manager, snapshots, gateway, suggest.NewAnalyzer(), suggester, logger)

	mux := http.NewServeMux()
	apiHandler.Register(mux)

	var root http.Handler = mux
	root = middleware.Recovery(logger)(root)

	// CORS so the editor (browser) can reach the local agent.
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Last-Event-ID"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:         "127.0.0.1:" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	// Shut down on SIGINT/SIGTERM, flushing unsaved changes durably
	// before exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Close(shutdownCtx); err != nil {
			logger.Error("failed to flush pending saves", "error", err)
		}
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start agent: %v", err)
	}
}
