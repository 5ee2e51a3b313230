package events

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/pkg/synth"
)

const (
	topicPartitions = 4
	readyAttempts   = 5
	readyBackoff    = 200 * time.Millisecond
)

// TopicCreator makes sure the lifecycle topic exists before the publisher
// starts writing. Failures are logged; the writer retries on its own.
type TopicCreator struct {
	logger *zap.Logger
	dialer KafkaDialer
	clock  synth.Clock
}

func NewTopicCreator(logger *zap.Logger, dialer KafkaDialer, clock synth.Clock) *TopicCreator {
	return &TopicCreator{
		logger: logger,
		dialer: dialer,
		clock:  clock,
	}
}

// Create reports whether the topic was seen with at least one partition.
func (tc *TopicCreator) Create(ctx context.Context, brokers []string, topicName string) bool {
	var conn KafkaConn
	var err error

	for _, addr := range brokers {
		conn, err = tc.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
	}
	if conn == nil {
		tc.logger.Warn("Failed to dial brokers", zap.Strings("brokers", brokers), zap.Error(err))
		return false
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		tc.logger.Warn("Failed to get controller", zap.Error(err))
		return false
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := tc.dialer.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		tc.logger.Warn("Failed to dial controller", zap.String("addr", controllerAddr), zap.Error(err))
		return false
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topicName,
		NumPartitions:     topicPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		tc.logger.Info("Topic creation finished (might already exist)", zap.Error(err))
	} else {
		tc.logger.Info("Topic creation request sent", zap.String("topic", topicName))
	}

	return tc.waitForTopic(ctx, conn, topicName)
}

func (tc *TopicCreator) waitForTopic(ctx context.Context, conn KafkaConn, topicName string) bool {
	for i := 0; i < readyAttempts; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-tc.clock.After(readyBackoff):
		}
		partitions, err := conn.ReadPartitions(topicName)
		if err == nil && len(partitions) > 0 {
			tc.logger.Info("Topic is ready", zap.String("topic", topicName), zap.Int("partitions", len(partitions)))
			return true
		}
	}
	tc.logger.Warn("Timed out waiting for topic", zap.String("topic", topicName))
	return false
}
