package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	config, err := NewConfig()
	if err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	defer rdb.Close()

	quotaClient := NewQuotaClient(config.QuotaToken, config.QuotaBaseURL)
	rateLimiter := NewRateLimiter(rdb)
	server := NewPolicyServer(quotaClient, rateLimiter)

	go StartMetricsServer(ctx, config.MetricsListenAddr, rdb)

	var wg sync.WaitGroup
	wg.Add(1)
	go StartPolicyServer(ctx, &wg, config.PolicyListenAddr, server)

	wg.Wait()
	logger.Info("All servers stopped")
}
