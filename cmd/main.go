package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/JDerekLomas/secondrenaissance-sub001/internal/config"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/core/job"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/logger"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/platform/postgres"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/platform/storage"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/platform/supaauth"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/server"
)

func main() {
	cfg := config.Load()
	log.Printf("[translate-engine] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")

	ctx := context.Background()

	// Postgres pool and schema
	pg, err := postgres.New(ctx, postgres.Options{URL: cfg.DatabaseURL})
	if err != nil {
		log.Fatal(err)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	// Upload storage (Supabase bucket, local fallback)
	files, err := storage.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	// User token verification
	auth, err := supaauth.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize auth service: %v", err)
	}

	// Core service
	jobSvc := job.NewService(postgres.NewStore(pg), files, cfg.DefaultProvider, cfg.WorkerMaxClaims)

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName:   "Second Renaissance Translation Engine",
		BodyLimit: 200 * 1024 * 1024, // uploaded facsimile PDFs are large
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	deps := server.Dependencies{
		Jobs:         jobSvc,
		Auth:         auth,
		Postgres:     pg,
		WorkerAPIKey: cfg.WorkerAPIKey,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	// Mark application as ready after all services are initialized
	go func() {
		time.Sleep(2 * time.Second)
		healthHandler.SetReady()
	}()

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
