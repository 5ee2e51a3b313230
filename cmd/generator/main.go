package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/cmd/generator/internal/generator"
	"github.com/shubham-shewale/price-relay/pkg/config"
	"github.com/shubham-shewale/price-relay/pkg/synth"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	feed := generator.NewFeedServer(
		logger,
		cfg.Upstream.APIKey,
		cfg.Feed.TickInterval,
		func() synth.Rand { return synth.NewRealRand() },
		synth.RealClock{},
	)

	srv := &http.Server{Addr: cfg.Feed.Port, Handler: feed}

	go func() {
		logger.Info("Feed simulator started",
			zap.String("port", cfg.Feed.Port),
			zap.Duration("tick", cfg.Feed.TickInterval),
			zap.Bool("token_required", cfg.HasUpstreamCredential()),
		)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	logger.Info("Feed simulator stopped")
}
