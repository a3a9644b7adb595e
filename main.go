package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BassamT/bazar-com/internal/cache"
	"github.com/BassamT/bazar-com/internal/catalog"
	h "github.com/BassamT/bazar-com/internal/http"
	"github.com/BassamT/bazar-com/internal/publisher"
	"github.com/BassamT/bazar-com/internal/reconciler"
	"github.com/BassamT/bazar-com/internal/repository"
	"github.com/BassamT/bazar-com/internal/service"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("invalid duration in %s, using default %v", key, defaultValue)
	}
	return defaultValue
}

func main() {
	log.Println("order-service starting...")

	// Configuration
	httpPort := getEnv("HTTP_PORT", "5002")
	catalogURLs := strings.Split(getEnv("CATALOG_SERVICE_URLS", "http://localhost:5001"), ",")
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	kafkaBrokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	requestTimeout := getEnvDuration("REQUEST_TIMEOUT", 30*time.Second)
	catalogTimeout := getEnvDuration("CATALOG_TIMEOUT", 5*time.Second)
	reconcileInterval := getEnvDuration("RECONCILE_INTERVAL", 30*time.Second)
	staleAfter := getEnvDuration("RESERVATION_STALE_AFTER", 2*time.Minute)

	// Database setup
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbName := getEnv("DB_NAME", "bazar_orders")
	migrationsPath := getEnv("MIGRATIONS_PATH", "./internal/repository/migrations")

	port, err := strconv.Atoi(dbPort)
	if err != nil {
		log.Fatalf("Invalid DB_PORT: %v", err)
	}

	creds := &repository.Credentials{
		Host:              dbHost,
		Port:              port,
		User:              dbUser,
		Password:          dbPass,
		DBName:            dbName,
		MigrationsDirPath: migrationsPath,
	}

	repo, err := repository.NewRepository(creds)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(creds); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// Catalog client
	catalogClient, err := catalog.NewClient(catalog.Config{
		BaseURLs:       catalogURLs,
		RequestTimeout: catalogTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create catalog client: %v", err)
	}
	log.Printf("Catalog replicas: %v", catalogURLs)

	// Item metadata cache
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	itemCache := cache.NewRedisCache(redisClient)

	// Coordinator
	orderService := service.NewOrderService(repo, catalogClient, itemCache)

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	rec := reconciler.New(repo, catalogClient, reconcileInterval, staleAfter)
	go rec.Run(workerCtx)

	poller := publisher.NewOutboxPoller(repo, kafkaBrokers...)
	defer poller.Close()
	go poller.Run(workerCtx)

	// HTTP server
	ordersHandler := h.NewOrdersHandler(orderService, requestTimeout)

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(h.RequestIDMiddleware)
	router.Use(middleware.Timeout(requestTimeout))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Post("/orders", ordersHandler.PlaceOrder)
	router.Get("/orders", ordersHandler.ListOrders)
	router.Get("/orders/{order_id}", ordersHandler.GetOrder)

	server := &http.Server{Addr: ":" + httpPort, Handler: router}
	go func() {
		log.Printf("order-service listening on :%s", httpPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down order-service...")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down http server: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("Error closing redis client: %v", err)
	}

	log.Println("order-service stopped")
}
