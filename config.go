package main

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the configuration for the application.
type Config struct {
	// PolicyListenAddr is the address to listen for policy delegation requests.
	PolicyListenAddr string

	// MetricsListenAddr is the address to listen for metrics requests.
	MetricsListenAddr string

	// QuotaBaseURL is the base URL of the quota service.
	QuotaBaseURL string

	// QuotaToken is the token for the quota service.
	QuotaToken string

	// RedisAddr is the address of the Redis server backing the rate limiter.
	RedisAddr string

	// RedisPassword is the password for the Redis server.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int
}

// NewConfig creates a new Config from the environment with default values.
func NewConfig() (*Config, error) {
	quotaBaseURL := os.Getenv("QUOTA_BASE_URL")
	if quotaBaseURL == "" {
		quotaBaseURL = "http://localhost:8000"
	}

	quotaToken := os.Getenv("QUOTA_TOKEN")
	if quotaToken == "" {
		return nil, fmt.Errorf("QUOTA_TOKEN is required")
	}

	policyListenAddr := os.Getenv("POLICY_LISTEN_ADDR")
	if policyListenAddr == "" {
		policyListenAddr = ":10005"
	}

	metricsListenAddr := os.Getenv("METRICS_LISTEN_ADDR")
	if metricsListenAddr == "" {
		metricsListenAddr = ":10006"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisDB := 0
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB must be a number: %w", err)
		}
		redisDB = db
	}

	return &Config{
		PolicyListenAddr:  policyListenAddr,
		MetricsListenAddr: metricsListenAddr,
		QuotaBaseURL:      quotaBaseURL,
		QuotaToken:        quotaToken,
		RedisAddr:         redisAddr,
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           redisDB,
	}, nil
}
