package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kmalykh/ragmesh/internal/adapters/http"
	"github.com/kmalykh/ragmesh/internal/bootstrap"
	"github.com/kmalykh/ragmesh/internal/config"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "api", cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	router := httpadapter.NewRouter(
		app.Orchestrator,
		app.Indexer,
		app.Metrics,
		app.Logger,
		httpadapter.Options{
			RateLimitRPS:   cfg.APIRateLimitRPS,
			RateLimitBurst: cfg.APIRateLimitBurst,
			MaxInFlight:    cfg.APIMaxInFlight,

			DefaultTopK:        cfg.RAGTopK,
			DefaultDenseWeight: cfg.RAGDenseWeight,
			DefaultRerankTopN:  cfg.RAGRerankTopN,
		},
	)
	// No WriteTimeout: chat responses stream for up to the orchestrator
	// idle window.
	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     router.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		app.Logger.Info("api listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("api shutdown error", "error", err)
	}
}
