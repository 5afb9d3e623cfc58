/**
 * @description
 * Main entry point for the debt service. It loads configuration, connects to
 * PostgreSQL, Redis and RabbitMQ, builds the ToyyibPay client and the ledger
 * service, starts the audit scheduler and serves HTTP until a shutdown signal.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Shared rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Service packages.
 * - pkg/toyyibpay, pkg/rabbitmq: External service clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/g-99215544-beep/pinjamanhutang/internal/api"
	"github.com/g-99215544-beep/pinjamanhutang/internal/app"
	"github.com/g-99215544-beep/pinjamanhutang/internal/config"
	"github.com/g-99215544-beep/pinjamanhutang/internal/store"
	"github.com/g-99215544-beep/pinjamanhutang/pkg/rabbitmq"
	"github.com/g-99215544-beep/pinjamanhutang/pkg/toyyibpay"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid configuration\" err=%v", err)
	}
	if cfg.CallbackURL() == "" {
		log.Println("level=warn component=bootstrap msg=\"callback base url not configured; bills will be created without a callback\" env=CALLBACK_BASE_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting debt-service\" port=%s", cfg.ServerPort)

	var repository store.Repository
	if cfg.DatabaseURL == "" {
		log.Println("level=warn component=bootstrap msg=\"database url missing; using in-memory store\" env=DATABASE_URL")
		repository = store.NewMemoryRepository(cfg.AtomicMaxAttempts)
	} else {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 20
		poolConfig.MinConns = 2
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()

		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
		err = store.ApplyMigrations(migrateCtx, dbpool)
		cancelMigrate()
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database migration failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"database connected\"")
		repository = store.NewPostgresRepository(dbpool, cfg.AtomicMaxAttempts)
	}

	var producer rabbitmq.Publisher
	if cfg.RabbitMQURL == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; ledger events disabled\" env=RABBITMQ_URL")
	} else if rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	gatewayClient := toyyibpay.NewClient(cfg.ToyyibPayBaseURL, cfg.ToyyibPaySecret, cfg.ToyyibPayCategory)
	ledgerService := app.NewService(repository, gatewayClient, app.NewGatewayVerifier(gatewayClient), producer, cfg.CallbackURL())
	ledgerService.SetEventsExchange(cfg.LedgerEventsExchange)
	ledgerService.SetSessionIssuer(app.NewSessionIssuer(cfg.SessionJWTSecret, time.Duration(cfg.SessionTTLMinutes)*time.Minute))

	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
	} else {
		redisClient := redis.NewClient(redisOptions)
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr := redisClient.Ping(pingCtx).Err()
		cancelPing()
		if pingErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
			redisClient.Close()
		} else {
			defer redisClient.Close()
			ledgerService.SetRateLimiter(
				app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
				cfg.BillRateLimitPerMinute,
				cfg.LoginRateLimitPerMinute,
			)
			log.Println("level=info component=bootstrap msg=\"redis connected\"")
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	scheduler := app.NewScheduler(app.NewJobs(repository, logger), logger, cfg.LedgerAuditSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	handlers := api.NewHandlers(ledgerService)
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           api.NewRouter(handlers, cfg.OperatorJWTSecret, cfg.AllowedOrigins()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
