package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/bridge"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/events"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/generator"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/session"
	"github.com/shubham-shewale/price-relay/pkg/config"
	"github.com/shubham-shewale/price-relay/pkg/synth"
)

const shutdownTimeout = 10 * time.Second

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

	var store repository.SessionStore = repository.NopStore{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = repository.NewRedisStore(rdb, cfg.Redis.TTL)
		logger.Info("Session directory enabled", zap.String("redis", cfg.Redis.Addr))
	}
	defer store.Close()

	var pub events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		dialer := &events.RealKafkaDialer{Dialer: &kafka.Dialer{Timeout: 10 * time.Second}}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		events.NewTopicCreator(logger, dialer, synth.RealClock{}).Create(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		cancel()

		pub = events.NewKafkaPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger, synth.RealClock{})
		logger.Info("Session events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer pub.Close()

	if !cfg.HasUpstreamCredential() {
		logger.Warn("No upstream credential configured, running with synthetic prices")
	}

	reg := registry.NewRegistry(store, logger)
	gen := generator.NewSyntheticGenerator(logger, cfg.Relay.TickInterval,
		func() synth.Rand { return synth.NewRealRand() }, synth.RealClock{})
	up := bridge.NewUpstreamBridge(bridge.Config{
		URL:              cfg.Upstream.URL,
		Token:            cfg.Upstream.APIKey,
		HandshakeTimeout: cfg.Upstream.HandshakeTimeout,
		IdleTimeout:      cfg.Upstream.IdleTimeout,
		WriteTimeout:     cfg.Upstream.WriteTimeout,
	}, logger)

	relay := session.NewRelay(session.Config{
		HasCredential: cfg.HasUpstreamCredential(),
		DrainTimeout:  cfg.Relay.DrainTimeout,
	}, reg, gen, up, pub, logger)

	gw := gateway.NewServer(relay, reg, store, logger, gateway.Options{
		WriteTimeout:   cfg.Relay.WriteTimeout,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: gw.Routes()}

	go func() {
		logger.Info("Server Started",
			zap.String("port", cfg.App.Port),
			zap.String("source", string(relay.Source())),
		)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown", zap.Error(err))
	}
	// Hijacked connections are not tracked by the HTTP server
	if err := gw.Shutdown(ctx); err != nil {
		logger.Warn("Sessions still open at shutdown", zap.Int("sessions", reg.Len()), zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
