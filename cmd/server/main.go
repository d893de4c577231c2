package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "github.com/craftline/postpilot/configs"
	"github.com/craftline/postpilot/internal/api/handlers"
	"github.com/craftline/postpilot/internal/api/middleware"
	job "github.com/craftline/postpilot/internal/jobs"
	"github.com/craftline/postpilot/internal/platform"
	"github.com/craftline/postpilot/internal/queue"
	"github.com/craftline/postpilot/internal/repository"
	"github.com/craftline/postpilot/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	tenantRepo := repository.NewTenantRepository(db)
	contentRepo := repository.NewContentRepository(db)
	queueRepo := repository.NewQueueEntryRepository(db)
	connectionRepo := repository.NewSocialConnectionRepository(db)

	platforms := platform.NewRegistry(cfg)

	mediaService := service.NewMediaService(*cfg)
	tokenService := service.NewTokenService(*cfg, connectionRepo, tenantRepo, platforms)
	selectorService := service.NewSelectorService(contentRepo, queueRepo)
	fillerService := service.NewFillerService(*cfg, tenantRepo, connectionRepo, queueRepo, selectorService)
	publisherService := service.NewPublisherService(*cfg, queueRepo, tenantRepo, connectionRepo, contentRepo, tokenService, mediaService, platforms)

	cronAuth := middleware.NewCronAuthMiddleware(*cfg)

	connection := handlers.NewConnectionHandler(*cfg, tokenService, connectionRepo)
	app.Get("/connect/:platform", connection.Connect)
	app.Get("/connect/:platform/callback", connection.Callback)

	scheduler := handlers.NewSchedulerHandler(tenantRepo, fillerService, publisherService, client)
	hooks := app.Group("/hooks")
	hooks.Use(cronAuth.RequireSecret())
	hooks.Post("/fill", scheduler.FillQueues)
	hooks.Post("/publish", scheduler.ProcessDue)

	api := app.Group("/api")
	api.Use(cronAuth.RequireSecret())

	queueH := handlers.NewQueueHandler(queueRepo)
	api.Get("/queue", queueH.ListEntries)
	api.Post("/queue/reorder", queueH.Reorder)

	api.Get("/connections", connection.List)
	api.Post("/connections/disconnect", connection.Disconnect)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(connectionRepo, tokenService)

	queueW := queue.NewQueue(fillerService)

	if cfg.RunCronInProcess {
		c := cron.New()
		c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
		c.AddFunc("@every 00h05m00s", func() {
			if _, err := publisherService.ProcessDuePosts(context.Background()); err != nil {
				log.Printf("Publish sweep failed: %v", err)
			}
		})
		c.AddFunc("@daily", func() {
			sweepFillQueues(tenantRepo, client)
		})
		c.Start()
	}

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypeFillQueue, queueW.HandleFillQueueTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db)
}

func sweepFillQueues(tenantRepo repository.TenantRepository, client *asynq.Client) {
	tenants, err := tenantRepo.ListEligible(context.Background())
	if err != nil {
		log.Printf("Fill sweep failed to list tenants: %v", err)
		return
	}
	for _, tenant := range tenants {
		payload := queue.FillQueuePayload{TenantID: tenant.ID}
		if err := queue.EnqueueFill(client, payload); err != nil {
			log.Printf("Failed to enqueue fill for tenant %d: %v", tenant.ID, err)
		}
	}
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
