package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pagesmith/orchestrator/internal/client"
	"github.com/pagesmith/orchestrator/internal/config"
	"github.com/pagesmith/orchestrator/internal/handler"
	"github.com/pagesmith/orchestrator/internal/metrics"
	"github.com/pagesmith/orchestrator/internal/middleware"
	"github.com/pagesmith/orchestrator/internal/service"
	"github.com/pagesmith/orchestrator/internal/worker"
	ws "github.com/pagesmith/orchestrator/internal/websocket"
	"github.com/pagesmith/orchestrator/pkg/response"
)

const shutdownGrace = 5 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// AWS clients (S3 artifact store + SQS queues)
	awsCfg, err := client.LoadAWSConfig(ctx, &cfg.AWS)
	if err != nil {
		logger.Fatal("aws config failed", zap.Error(err))
	}
	blob := client.NewS3Store(awsCfg, cfg.Storage.Bucket)
	queue := client.NewSQSQueue(awsCfg)

	// Redis backs the submission rate limiter when configured; without it the
	// limiter falls back to process-local state.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not available", zap.Error(err))
		}
	}

	validate := validator.New()
	m := metrics.New()

	// WebSocket hub
	hub := ws.NewHub(logger)
	go hub.Run()

	// Core pipeline
	index := service.NewJobIndex()
	dispatcher := service.NewDispatcher(blob, queue, cfg.Queues.Stages,
		cfg.Storage.KeyStyle, m, logger)
	pipeline := service.NewPipeline(index, dispatcher, blob, queue,
		cfg.Queues.Events, cfg.Storage.KeyStyle, hub, m, logger)

	// Queue consumers + reaper
	eventsConsumer := worker.NewEventsConsumer(queue, cfg.Queues.Events, pipeline, m, logger)
	submissionConsumer := worker.NewSubmissionConsumer(queue, cfg.Queues.Submissions,
		blob, pipeline, validate, logger)
	reaper := worker.NewReaper(index, cfg.Pipeline.ReaperInterval, cfg.Pipeline.ReaperTTL,
		cfg.Pipeline.StageTimeout, m, logger)

	go eventsConsumer.Run(ctx)
	go submissionConsumer.Run(ctx)
	go reaper.Run(ctx)

	// Handlers
	limiter := middleware.NewSubmitLimiter(redisClient, cfg.RateLimit.SubmitWindow, logger)
	jobsHandler := handler.NewJobsHandler(pipeline, index, validate, limiter)
	statusHandler := handler.NewStatusHandler(index)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(fiberlogger.New(fiberlogger.Config{Format: logFormat}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Routes
	app.Post("/jobs", limiter.Limit(), jobsHandler.Submit)
	app.Get("/jobs/:id", jobsHandler.Get)
	app.Get("/jobs", jobsHandler.Stats)
	app.Get("/tasks", jobsHandler.Tasks)
	app.Get("/health", statusHandler.Health)

	promHandler := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	app.Get("/metrics", adaptor.HTTPHandler(promHandler))

	// WebSocket job status stream
	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", fiberws.New(func(c *fiberws.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Dedicated metrics listener, when configured
	if cfg.Server.MetricsPort != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promHandler)
			addr := ":" + cfg.Server.MetricsPort
			logger.Info("metrics listener starting", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics listener error", zap.Error(err))
			}
		}()
	}

	// Graceful shutdown: stop accepting HTTP work, cancel the consumers, let
	// in-flight queue messages redeliver after restart.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down")
		cancel()
		if err := app.ShutdownWithTimeout(shutdownGrace); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info("server starting", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(response.ErrorResponse{
		Error: response.ErrorDetail{
			Code:    response.CodeServiceError,
			Message: message,
		},
	})
}
