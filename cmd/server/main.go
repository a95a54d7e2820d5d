package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"vellum/internal/auth"
	"vellum/internal/config"
	"vellum/internal/handler"
	"vellum/internal/middleware"
	"vellum/internal/repository/postgres"
	"vellum/internal/service"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	verifier, err := auth.NewHMACVerifier(cfg.AuthSecret)
	if err != nil {
		log.Fatalf("Failed to create token verifier: %v", err)
	}

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected",
		"max_conns", 25,
		"min_conns", 5,
	)

	// Create repositories
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: postgres.NewTableNames(cfg.TablePrefix),
		Logger: logger,
	}
	docRepo := postgres.NewDocumentRepository(repoConfig)
	versionRepo := postgres.NewVersionRepository(repoConfig)

	// Create services
	docService := service.NewDocumentService(docRepo, logger)
	versionService := service.NewVersionService(versionRepo, docRepo, logger)

	// Create handlers
	docHandler := handler.NewDocumentHandler(docService, logger)
	versionHandler := handler.NewVersionHandler(versionService, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", docHandler.HealthCheck)

	mux.HandleFunc("POST /api/v1/documents", docHandler.CreateDocument)
	mux.HandleFunc("GET /api/v1/documents/{id}", docHandler.GetDocument)
	mux.HandleFunc("PATCH /api/v1/documents/{id}", docHandler.SaveDocument)
	mux.HandleFunc("PUT /api/v1/documents/{id}", docHandler.OverwriteDocument)

	mux.HandleFunc("POST /api/v1/documents/{id}/versions", versionHandler.CreateVersion)
	mux.HandleFunc("GET /api/v1/documents/{id}/versions", versionHandler.ListVersions)
	mux.HandleFunc("GET /api/v1/documents/{id}/versions/{number}", versionHandler.GetVersion)

	// Build middleware chain (applied in reverse order, they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	var root http.Handler = mux
	root = middleware.AuthMiddleware(verifier, logger)(root)
	root = middleware.Recovery(logger)(root)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
