package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fencelock/fencelock/core/infra/buildinfo"
	"github.com/fencelock/fencelock/core/infra/config"
	"github.com/fencelock/fencelock/core/infra/metrics"
	"github.com/fencelock/fencelock/core/lock"
	"github.com/fencelock/fencelock/core/lockd"
)

func main() {
	log.Println("fencelock store daemon starting...")
	buildinfo.Log("fencelock-stored")

	cfg := config.Load()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		log.Printf("stored metrics on %s/metrics", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	var store lock.Store
	if cfg.RedisURL == "memory:" {
		store = lock.NewMemoryStore()
		log.Println("stored using in-memory backend")
	} else {
		redisStore, err := lock.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to Redis backend: %v", err)
		}
		defer redisStore.Close()
		store = redisStore
	}

	server, err := lockd.New(store, metrics.NewHTTPProm("fencelock_stored"))
	if err != nil {
		log.Fatalf("failed to build lockd server: %v", err)
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("stored serving wire contract on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("stored server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("fencelock store daemon shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
