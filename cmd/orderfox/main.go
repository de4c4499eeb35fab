package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	flog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/OrderFox/app/controllers"
	"github.com/ManuelReschke/OrderFox/internal/pkg/cache"
	"github.com/ManuelReschke/OrderFox/internal/pkg/catalog"
	"github.com/ManuelReschke/OrderFox/internal/pkg/database"
	"github.com/ManuelReschke/OrderFox/internal/pkg/env"
	"github.com/ManuelReschke/OrderFox/internal/pkg/fulfillment"
	"github.com/ManuelReschke/OrderFox/internal/pkg/idempotency"
	"github.com/ManuelReschke/OrderFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/OrderFox/internal/pkg/labelstore"
	"github.com/ManuelReschke/OrderFox/internal/pkg/mail"
	"github.com/ManuelReschke/OrderFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/OrderFox/internal/pkg/packeta"
	"github.com/ManuelReschke/OrderFox/internal/pkg/payment"
	"github.com/ManuelReschke/OrderFox/internal/pkg/router"
)

// Webhook requests are tiny; anything larger is not from Stripe.
const bodyLimit = 1 << 20

func main() {
	app, manager, cfg := NewApplication()

	go func() {
		if err := app.Listen(cfg.Addr()); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Printf("Shutting down...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if manager != nil {
		manager.Stop()
	}
	if err := cache.Close(); err != nil {
		log.Printf("Redis close: %v", err)
	}
}

// NewApplication wires every component from the environment. The returned
// manager is nil when the job queue is disabled.
func NewApplication() (*fiber.App, *jobqueue.Manager, *env.Config) {
	env.SetupEnvFile()
	if env.IsDev() {
		flog.SetLevel(flog.LevelDebug)
	}

	cfg, err := env.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	cache.SetupCache()
	redisClient := cache.GetClient()

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		log.Fatalf("Failed to load product catalog: %v", err)
	}
	log.Printf("Loaded %d catalog entries", cat.Len())

	mailer, err := mail.NewMailerFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to set up mailer: %v", err)
	}

	stripeClient := payment.NewClient(cfg.StripeSecretKey, cfg.StripeAPIURL)
	stages := counter.NewStages(redisClient)

	deps := fulfillment.Deps{
		Sessions: stripeClient,
		Invoices: stripeClient,
		Shipper: packeta.NewClient(packeta.Config{
			APIURL:      cfg.PacketaAPIURL,
			APIPassword: cfg.PacketaAPIPassword,
			Eshop:       cfg.PacketaEshop,
			LabelFormat: cfg.PacketaLabelFormat,
		}),
		Catalog:  cat,
		Mail:     mail.NewDispatcher(mailer, cfg.MailFrom, cfg.AdminEmail),
		Labels:   setupLabelArchive(),
		Counters: stages,
		ShopName: cfg.ShopName,
		Locale:   cfg.ShopLocale,
	}

	var queue *jobqueue.Queue
	if cfg.JobQueueEnabled {
		queue = jobqueue.NewQueue(redisClient, cfg.JobQueueWorkers, cfg.RetryBaseDelay)
		deps.Retry = queue
	}

	svc := fulfillment.NewService(deps)

	guard, tasks := setupGuard(cfg, redisClient)

	var manager *jobqueue.Manager
	var queueRunning func() bool
	if queue != nil {
		svc.RegisterHandlers(queue)
		manager = jobqueue.NewManager(queue, tasks...)
		manager.Start()
		queueRunning = queue.IsRunning
	}

	app := fiber.New(fiber.Config{
		BodyLimit: bodyLimit,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	handlers := router.Handlers{
		Webhook:           controllers.NewWebhookController(cfg.StripeWebhookSecret, guard, idempotency.NewMemoryGuard(cfg.IdempotencyTTL), svc),
		Health:            controllers.NewHealthController(cache.IsReachable, queueRunning),
		Admin:             controllers.NewAdminController(queue, stages, svc),
		AdminUser:         cfg.AdminUser,
		AdminPasswordHash: cfg.AdminPasswordHash,
	}
	if cfg.AdminPasswordHash != "" {
		handlers.LimiterStorage = cache.NewFiberStorage()
	}
	router.InstallRouter(app, handlers)

	return app, manager, cfg
}

// setupGuard builds the configured idempotency guard plus any housekeeping
// it needs. A database that cannot be reached degrades to the memory guard.
func setupGuard(cfg *env.Config, redisClient *redis.Client) (idempotency.Guard, []jobqueue.PeriodicTask) {
	switch cfg.IdempotencyBackend {
	case "memory":
		log.Printf("Idempotency: in-memory guard, records are lost on restart")
		return idempotency.NewMemoryGuard(cfg.IdempotencyTTL), nil
	case "database":
		if err := database.SetupDatabase(); err != nil {
			log.Printf("Idempotency: database unavailable (%v), using in-memory guard", err)
			return idempotency.NewMemoryGuard(cfg.IdempotencyTTL), nil
		}
		guard := idempotency.NewGormGuard(database.GetDB(), cfg.IdempotencyTTL)
		purge := jobqueue.PeriodicTask{
			Name:     "purge_processed_webhook_events",
			Interval: time.Hour,
			Run: func(ctx context.Context) error {
				n, err := guard.PurgeExpired(ctx)
				if n > 0 {
					flog.Infof("[Idempotency] Purged %d expired event records", n)
				}
				return err
			},
		}
		return guard, []jobqueue.PeriodicTask{purge}
	default:
		return idempotency.NewRedisGuard(redisClient, cfg.IdempotencyTTL), nil
	}
}

func setupLabelArchive() labelstore.Archive {
	lcfg, err := labelstore.LoadConfig()
	if err != nil {
		log.Printf("Label archive disabled: %v", err)
		return nil
	}
	if !lcfg.Enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := labelstore.NewS3Store(ctx, lcfg)
	if err != nil {
		log.Printf("Label archive disabled: %v", err)
		return nil
	}
	log.Printf("Archiving shipping labels to bucket %s", lcfg.BucketName)
	return store
}
