// Package processor folds relay session lifecycle events into Redis.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/pkg/config"
	"github.com/shubham-shewale/price-relay/pkg/models"
)

const (
	// StatsKey is a hash of lifecycle counters: "opened" and "closed:<reason>".
	StatsKey = "relay:stats"

	defaultStatusTTL = time.Hour
)

func StatusKey(symbol string) string   { return fmt.Sprintf("session:%s", symbol) }
func ChannelName(symbol string) string { return fmt.Sprintf("sessions.%s", symbol) }

type Processor struct {
	cfg        *config.Config
	logger     Logger
	rdb        RedisClient
	reader     KafkaReader
	numWorkers int
	statusTTL  time.Duration
}

func NewProcessor(cfg *config.Config, logger Logger, rdb RedisClient, reader KafkaReader) *Processor {
	ttl := cfg.Redis.TTL
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	numWorkers := cfg.Processor.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Processor{
		cfg:        cfg,
		logger:     logger,
		rdb:        rdb,
		reader:     reader,
		numWorkers: numWorkers,
		statusTTL:  ttl,
	}
}

// Run consumes until ctx is cancelled, then lets the workers drain.
func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				if ctx.Err() != nil {
					return
				}
				continue
			}

			// Deterministic Sharding: Same symbol always goes to same worker
			workerID := getWorkerID(m.Key, p.numWorkers)

			// Lifecycle events are rare, so block rather than drop
			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")
	<-readerDone

	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background()

	// Local state for deduplication (only works because of deterministic sharding)
	lastSeq := make(map[string]int64)

	for payload := range msgs {
		var ev models.SessionEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			p.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}
		if ev.Symbol == "" {
			p.logger.Warn("Session event without symbol", zap.String("session_id", ev.SessionID))
			continue
		}

		if ev.SeqID <= lastSeq[ev.Symbol] {
			p.logger.Debug("Skipping duplicate event", zap.String("symbol", ev.Symbol), zap.Int64("seq_id", ev.SeqID))
			continue
		}

		var pipe Pipeliner = p.rdb.Pipeline()
		pipe.Set(ctx, StatusKey(ev.Symbol), payload, p.statusTTL)
		pipe.Publish(ctx, ChannelName(ev.Symbol), payload)
		pipe.HIncrBy(ctx, StatsKey, statsField(ev), 1)

		_, err := pipe.Exec(ctx)
		if err != nil {
			p.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("symbol", ev.Symbol))
		} else {
			p.logger.Debug("Processed",
				zap.String("symbol", ev.Symbol),
				zap.String("kind", ev.Kind),
				zap.Int("worker_id", id),
			)
			lastSeq[ev.Symbol] = ev.SeqID
		}
	}
}

func statsField(ev models.SessionEvent) string {
	if ev.Kind == models.SessionClosed && ev.Reason != "" {
		return ev.Kind + ":" + ev.Reason
	}
	return ev.Kind
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
