// Package generator stands in for the upstream feed when no credential is
// configured, emitting a random walk of prices to a single client.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/failure"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/price-relay/pkg/metrics"
	"github.com/shubham-shewale/price-relay/pkg/models"
	"github.com/shubham-shewale/price-relay/pkg/synth"
)

type SyntheticGenerator struct {
	logger   *zap.Logger
	interval time.Duration
	newRand  func() synth.Rand
	clock    synth.Clock
}

// NewSyntheticGenerator builds a generator ticking every interval. newRand
// is called once per Run so sessions never share a source.
func NewSyntheticGenerator(
	logger *zap.Logger,
	interval time.Duration,
	newRand func() synth.Rand,
	clock synth.Clock,
) *SyntheticGenerator {
	return &SyntheticGenerator{
		logger:   logger,
		interval: interval,
		newRand:  newRand,
		clock:    clock,
	}
}

// Run streams ping/trade pairs for symbol until a send fails, ctx is
// cancelled, or the generator faults. It never returns nil.
func (g *SyntheticGenerator) Run(ctx context.Context, symbol string, mode models.Mode, sink protocol.Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", failure.ErrGeneratorFault, r)
		}
	}()

	walk := synth.NewWalk(mode, g.newRand())
	g.logger.Debug("Synthetic feed seeded", zap.String("symbol", symbol), zap.Float64("base_price", walk.Price()))

	for {
		if err := g.send(sink, "ping", protocol.Ping()); err != nil {
			return err
		}

		trade := walk.Next(symbol, g.clock.Now())
		if err := g.send(sink, "trade", protocol.Trade(trade)); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.clock.After(g.interval):
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (g *SyntheticGenerator) send(sink protocol.Sink, kind string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", failure.ErrGeneratorFault, kind, err)
	}
	if err := sink.SendText(payload); err != nil {
		return fmt.Errorf("send %s: %w: %w", kind, failure.ErrClientDisconnect, err)
	}
	metrics.FramesSent.WithLabelValues(kind).Inc()
	return nil
}
