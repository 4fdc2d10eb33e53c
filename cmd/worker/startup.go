package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"payment-orchestrator/pkg/container"
)

// startServices checks dependencies once and starts the health server
func startServices(c *container.Container) error {
	log.Info().Str("app", c.Config.App.Name).Str("version", c.Config.App.Version).Msg("Worker starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for name, err := range c.HealthCheck(ctx) {
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		log.Info().Str("check", name).Msg("Health check OK")
	}

	go startHealthCheckServer(c)
	return nil
}

// startHealthCheckServer serves /health, /ready and /metrics
func startHealthCheckServer(c *container.Container) {
	addr := ":" + getEnv("WORKER_HEALTH_PORT", "9999")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP", "service": "payment-worker"})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, err := range c.HealthCheck(ctx) {
			if err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "NOT_READY", "failed": name})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "READY"})
	})
	mux.Handle("/metrics", promhttp.Handler())

	log.Info().Str("addr", addr).Msg("[Health] Starting health check server")
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("[Health] Failed to start")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
