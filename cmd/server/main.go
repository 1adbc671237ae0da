package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/crypto"
	"github.com/claysader-arch/todo-aggregator/internal/database"
	"github.com/claysader-arch/todo-aggregator/internal/handlers"
	"github.com/claysader-arch/todo-aggregator/internal/jobs"
	"github.com/claysader-arch/todo-aggregator/internal/llm"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/notify"
	"github.com/claysader-arch/todo-aggregator/internal/pipeline"
	"github.com/claysader-arch/todo-aggregator/internal/retry"
	"github.com/claysader-arch/todo-aggregator/internal/services"
	"github.com/claysader-arch/todo-aggregator/internal/store"
)

const runLockTTL = 30 * time.Minute

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	logging.Init(cfg.Environment, cfg.LogLevel)
	log.Printf("🚀 Starting Todo Aggregator server (Port: %s, Env: %s)", cfg.Port, cfg.Environment)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	if cfg.APISecret == "" {
		log.Println("⚠️  API_SECRET not set, /api endpoints will reject every request")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model, err := llm.NewAnthropicModel(cfg.AnthropicAPIKey, cfg.AnthropicModel,
		llm.WithBaseURL(cfg.AnthropicBaseURL),
		llm.WithRateLimit(cfg.ModelRPS),
		llm.WithRetryPolicy(retry.DefaultPolicy(cfg.MaxRetries)),
		llm.WithLogger(logging.WithComponent(logrus.NewEntry(logrus.StandardLogger()), "llm")),
	)
	if err != nil {
		log.Fatalf("❌ Failed to create model client: %v", err)
	}

	healthChecks := make(map[string]handlers.Pinger)
	runOpts := []services.RunServiceOption{}
	routes := handlers.Routes{APISecret: cfg.APISecret}

	// User registry: MongoDB when configured, else the users file, else
	// request-only mode with no batch job.
	var registry store.UserRegistry
	var mongoDB *database.MongoDB
	switch {
	case cfg.MongoURI != "":
		mongoDB, err = database.NewMongoDB(cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}
		if err := mongoDB.Initialize(ctx); err != nil {
			log.Fatalf("❌ Failed to initialize MongoDB: %v", err)
		}
		enc, err := crypto.NewEncryptionService(cfg.EncryptionMasterKey)
		if err != nil {
			log.Fatalf("❌ ENCRYPTION_MASTER_KEY is required with MongoDB: %v", err)
		}
		mongoRegistry := store.NewMongoUserRegistry(mongoDB, enc)
		registry = mongoRegistry
		routes.Users = mongoRegistry
		routes.Lookup = mongoRegistry
		healthChecks["mongodb"] = mongoDB
		log.Println("✅ User registry: MongoDB")

	case cfg.UsersFile != "":
		fileRegistry, err := store.NewFileUserRegistry(cfg.UsersFile, logrus.NewEntry(logrus.StandardLogger()))
		if err != nil {
			log.Fatalf("❌ Failed to load users file: %v", err)
		}
		if err := fileRegistry.Watch(ctx); err != nil {
			log.Printf("⚠️  Users file hot reload disabled: %v", err)
		}
		registry = fileRegistry
		routes.Lookup = fileRegistry
		log.Printf("✅ User registry: %s", cfg.UsersFile)

	default:
		log.Println("⚠️  No MONGODB_URI or USERS_FILE, only POST /api/run is available")
	}
	if registry != nil {
		runOpts = append(runOpts, services.WithRegistry(registry))
	}

	// Run lock: Redis when configured so several replicas never run the same user
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		runOpts = append(runOpts, services.WithLocker(services.NewRedisRunLocker(redisService, runLockTTL)))
		healthChecks["redis"] = redisService
		log.Println("✅ Run lock: Redis")
	} else {
		log.Println("⚠️  REDIS_URL not set, run lock is process-local")
	}

	mailer := notify.NewMailer(cfg, logrus.NewEntry(logrus.StandardLogger()))
	if !mailer.Configured() {
		log.Println("⚠️  SMTP not configured, failure and digest emails are disabled")
	}
	runOpts = append(runOpts,
		services.WithNotifier(mailer),
		services.WithMetrics(pipeline.NewMetrics(prometheus.DefaultRegisterer)),
	)
	runService := services.NewRunService(cfg, model, runOpts...)
	routes.Runner = runService
	routes.Health = handlers.NewHealthHandler(healthChecks)

	// Daily batch
	var scheduler *jobs.Scheduler
	if registry != nil {
		loc, err := time.LoadLocation(cfg.BatchTimezone)
		if err != nil {
			log.Fatalf("❌ Invalid BATCH_TIMEZONE %q: %v", cfg.BatchTimezone, err)
		}
		scheduler, err = jobs.NewScheduler(loc)
		if err != nil {
			log.Fatalf("❌ Failed to create scheduler: %v", err)
		}
		if err := scheduler.Register(jobs.DailyRunJobName, cfg.BatchCron, jobs.NewDailyRunJob(registry, runService)); err != nil {
			log.Fatalf("❌ Failed to register daily run: %v", err)
		}
		scheduler.Start()
	}

	app := fiber.New(fiber.Config{
		AppName: "Todo Aggregator",
		// a run walks every platform and the model several times
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prom := fiberprometheus.New("todo_aggregator")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-API-Secret,X-Personal-Token",
	}))

	handlers.Setup(app, routes)

	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down server...")
		cancel()

		if scheduler != nil {
			if err := scheduler.Stop(); err != nil {
				log.Printf("⚠️ Error stopping scheduler: %v", err)
			}
		}
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️ Error closing Redis: %v", err)
			}
		}
		if mongoDB != nil {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if err := mongoDB.Close(closeCtx); err != nil {
				log.Printf("⚠️ Error closing MongoDB: %v", err)
			}
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
