package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	policyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postfix_policy_adapter_requests_total",
		Help: "Total number of policy requests by stage and outcome",
	}, []string{"stage", "outcome"})

	policyRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postfix_policy_adapter_request_duration_seconds",
		Help:    "Duration of policy request handling",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"stage", "outcome"})

	protocolErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postfix_policy_adapter_protocol_errors_total",
		Help: "Total number of malformed policy requests",
	})

	quotaChecksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postfix_policy_adapter_quota_checks_total",
		Help: "Total number of quota checks performed",
	})

	quotaExceededTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postfix_policy_adapter_quota_exceeded_total",
		Help: "Total number of messages rejected for exceeding a quota",
	})

	activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postfix_policy_adapter_active_connections",
		Help: "Number of currently active policy connections",
	})

	connectionPoolUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postfix_policy_adapter_connection_pool_usage",
		Help: "Number of connections currently held in the pool",
	})
)

// healthHandler reports liveness.
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler reports readiness by pinging the Redis server backing the
// rate limiter.
func readyHandler(rdb redis.Cmdable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")

		if err := rdb.Ping(ctx).Err(); err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("timeout")
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf(`{"status":"unavailable","error":"%s"}`, err)))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// StartMetricsServer starts a new HTTP server for prometheus metrics and
// health endpoints and shuts it down when the context is cancelled.
func StartMetricsServer(ctx context.Context, listenAddr string, rdb redis.Cmdable) {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewGoCollector(),
		policyRequestsTotal,
		policyRequestDuration,
		protocolErrorsTotal,
		quotaChecksTotal,
		quotaExceededTotal,
		activeConnections,
		connectionPoolUsage,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(rdb))

	server := &http.Server{Addr: listenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics server started", zap.String("addr", listenAddr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server failed", zap.Error(err))
	}
}
