// Package events publishes relay session lifecycle transitions to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/pkg/models"
	"github.com/shubham-shewale/price-relay/pkg/synth"
)

const publishTimeout = 3 * time.Second

type Publisher interface {
	Publish(ctx context.Context, ev models.SessionEvent) error
	Close() error
}

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.SessionEvent) error { return nil }
func (NopPublisher) Close() error                                       { return nil }

type KafkaPublisher struct {
	writer KafkaWriter
	logger *zap.Logger
	clock  synth.Clock

	mu      sync.Mutex
	lastSeq map[string]int64
}

func NewKafkaPublisher(writer KafkaWriter, logger *zap.Logger, clock synth.Clock) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  writer,
		logger:  logger,
		clock:   clock,
		lastSeq: make(map[string]int64),
	}
}

// NewWriter builds the kafka-go writer used in production. Messages are
// hashed by key so one symbol always lands on one partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// Publish stamps ev with a timestamp and a per-symbol sequence id, then
// writes it keyed by symbol.
func (p *KafkaPublisher) Publish(ctx context.Context, ev models.SessionEvent) error {
	now := p.clock.Now()
	ev.Timestamp = now.UnixMicro()
	ev.SeqID = p.nextSeq(ev.Symbol, now)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode session event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Symbol),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("write session event: %w", err)
	}

	p.logger.Debug("Session event published",
		zap.String("symbol", ev.Symbol),
		zap.String("kind", ev.Kind),
		zap.Int64("seq_id", ev.SeqID),
	)
	return nil
}

// nextSeq is seeded from the wall clock so ids keep increasing across
// gateway restarts.
func (p *KafkaPublisher) nextSeq(symbol string, now time.Time) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	seq := now.UnixNano()
	if prev := p.lastSeq[symbol]; seq <= prev {
		seq = prev + 1
	}
	p.lastSeq[symbol] = seq
	return seq
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
