package main

import (
	"context"
	"log"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"oppcore/internal/config"
	"oppcore/internal/database"
	"oppcore/internal/filestore"
	handlers "oppcore/internal/http/handler"
	"oppcore/internal/http/middleware"
	"oppcore/internal/llm"
	"oppcore/internal/otel"
	"oppcore/internal/service"
	"oppcore/internal/storage"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	// Initialize tracing (no-op when OTEL_SDK_DISABLED=true)
	shutdownTracing, err := otel.Init(context.Background())
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Open the traced database handle and build the admission pool over it
	db, err := database.NewPostgres(cfg.DatabaseURL, cfg.Pool)
	if err != nil {
		log.Fatalf("failed to connect to database %s: %v", database.RedactDSN(cfg.DatabaseURL), err)
	}
	defer db.Close()

	pool, err := database.NewPool(cfg.Pool, database.SQLConnDialer(db))
	if err != nil {
		log.Fatalf("failed to create connection pool: %v", err)
	}
	defer pool.Close()

	// Blocking queries run on a bounded worker set sized to pool capacity
	executor := database.NewExecutor(pool, 0)
	defer executor.Close()

	// Remote tier is optional: absent credentials degrade to local-only storage
	var remote storage.Storage
	if cfg.S3.Configured() {
		remote, err = storage.NewS3(cfg.S3)
		if err != nil {
			log.Fatalf("failed to initialize object storage: %v", err)
		}
	} else {
		log.Printf("remote tier not configured; files are local-only until S3 credentials are set")
	}

	files, err := filestore.New(afero.NewOsFs(), cfg.UploadDir, remote)
	if err != nil {
		log.Fatalf("failed to initialize file store: %v", err)
	}
	coordinator := filestore.NewCoordinator(files)

	// External completion API dispatcher (runs outside the pool entirely)
	completion := llm.NewClient(cfg.OpenRouter)

	svc := service.NewResources(executor, pool, completion, files, coordinator)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Register global middleware
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger())
	app.Use(otelfiber.Middleware())

	reg := prometheus.DefaultRegisterer
	promMW, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatalf("failed to register http metrics: %v", err)
	}
	app.Use(promMW.Handler())
	if _, err := database.NewPoolCollector(pool, reg); err != nil {
		log.Fatalf("failed to register pool metrics: %v", err)
	}

	// Register HTTP routes with the injected resource facade
	handlers.RegisterRoutes(app, svc)

	addr := ":" + cfg.Port

	if err := app.Listen(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
