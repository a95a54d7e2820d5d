package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"vellum/internal/config"
	"vellum/internal/repository/postgres"
	"vellum/internal/service"
)

func main() {
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed documents")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("BLOCKED: cannot run --drop-tables in production environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	log.Printf("Seeding database (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)

	if *dropTables {
		log.Println("Dropping all tables...")
		if err := dropAllTables(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("Tables dropped")
	}

	log.Println("Ensuring database schema is up to date...")
	if err := runSchema(ctx, pool, tables, cfg.TablePrefix); err != nil {
		log.Fatalf("Failed to run schema: %v", err)
	}
	log.Println("Schema ready")

	if *schemaOnly {
		log.Println("Schema setup complete (schema-only mode)")
		return
	}

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	docRepo := postgres.NewDocumentRepository(repoConfig)
	docService := service.NewDocumentService(docRepo, logger)

	log.Println("Seeding demo manuscripts...")
	for i, req := range seedDocuments() {
		doc, err := docService.CreateDocument(ctx, req)
		if err != nil {
			log.Printf("Failed to create document %q: %v", req.Title, err)
			continue
		}
		log.Printf("Created document %d: %s (ID: %s, words: %d)", i+1, doc.Title, doc.ID, doc.WordCount)
	}

	log.Println("Seeding complete")
}

// runSchema creates tables if they don't exist.
func runSchema(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames, tablePrefix string) error {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return err
	}

	createDocuments := `
		CREATE TABLE IF NOT EXISTS ` + tables.Documents + ` (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			title TEXT NOT NULL,
			content_rich JSONB,
			content_plain TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			word_count INTEGER DEFAULT 0,
			last_saved_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT clock_timestamp()
		)
	`
	if _, err := pool.Exec(ctx, createDocuments); err != nil {
		return err
	}

	createVersions := `
		CREATE TABLE IF NOT EXISTS ` + tables.Versions + ` (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			document_id UUID NOT NULL REFERENCES ` + tables.Documents + `(id) ON DELETE CASCADE,
			version_number INTEGER NOT NULL,
			content_rich JSONB,
			content_plain TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(document_id, version_number)
		)
	`
	if _, err := pool.Exec(ctx, createVersions); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `versions_document ON ` + tables.Versions + `(document_id, version_number DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `documents_updated ON ` + tables.Documents + `(updated_at)`,
	}
	for _, indexSQL := range indexes {
		if _, err := pool.Exec(ctx, indexSQL); err != nil {
			return err
		}
	}
	return nil
}

func dropAllTables(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	drops := []string{
		`DROP TABLE IF EXISTS ` + tables.Versions + ` CASCADE`,
		`DROP TABLE IF EXISTS ` + tables.Documents + ` CASCADE`,
	}
	for _, dropSQL := range drops {
		if _, err := pool.Exec(ctx, dropSQL); err != nil {
			return err
		}
	}
	return nil
}

func seedDocuments() []*service.CreateDocumentRequest {
	return []*service.CreateDocumentRequest{
		{
			Title: "The Lighthouse Keeper",
			ContentRich: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "paragraph",
						"content": []interface{}{
							map[string]interface{}{"type": "text", "text": "The lamp had burned for forty years without him."},
						},
					},
				},
			},
			ContentPlain: "The lamp had burned for forty years without him.",
		},
		{
			Title:        "Notes Toward a Second Act",
			ContentPlain: "Everything that can go wrong in act two, listed in order of how much it would hurt.",
		},
	}
}
