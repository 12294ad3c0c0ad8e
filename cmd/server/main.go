package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/ministore/internal/adapter/handler"
	"github.com/rl1809/ministore/internal/adapter/storage"
	"github.com/rl1809/ministore/internal/config"
	"github.com/rl1809/ministore/internal/core/domain"
	"github.com/rl1809/ministore/internal/core/service"
	"github.com/rl1809/ministore/internal/port"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.WithError(err).Fatal("failed to connect mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.WithError(err).Fatal("failed to ping mysql")
	}
	log.Info("connected to mysql")

	if err := storage.EnsureSchema(ctx, db); err != nil {
		log.WithError(err).Fatal("failed to ensure schema")
	}
	if cfg.SeedData {
		if err := storage.SeedProducts(ctx, db); err != nil {
			log.WithError(err).Fatal("failed to seed products")
		}
		log.Info("seeded demo products")
	}

	// Redis backs the per-request idempotency guard; the service runs
	// without it, correctness rests on the database alone.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
	var cache port.CacheRepository
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unavailable, idempotency guard disabled")
	} else {
		cache = storage.NewRedisAdapter(rdb)
		log.Info("connected to redis")
	}

	orderService := service.NewOrderService(storage.NewMySQLAdapter(db), cache, cfg.QueueSize)

	// Audit workers drain the post-commit order stream.
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			auditLoop(id, orderService.Completed(), log)
		}(i)
	}
	log.WithField("workers", cfg.WorkerCount).Info("started audit workers")

	httpHandler := handler.NewHTTPHandler(orderService)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("http server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info("http server stopped")

	// Close the audit stream and wait for workers.
	orderService.Close()
	wg.Wait()
	log.Info("workers stopped")

	rdb.Close()
	db.Close()
	log.Info("connections closed")
}

func auditLoop(id int, orders <-chan domain.Order, log *logrus.Logger) {
	for o := range orders {
		log.WithFields(logrus.Fields{
			"worker":   id,
			"order_id": o.ID,
			"total":    o.Total.String(),
			"items":    len(o.Items),
		}).Info("order completed")
	}
}
