// Package session runs one client stream from accept to close.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/events"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/failure"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/price-relay/pkg/metrics"
	"github.com/shubham-shewale/price-relay/pkg/models"
)

type Config struct {
	// HasCredential selects the bridge over the synthetic feed for every
	// session of this process.
	HasCredential bool
	// DrainTimeout bounds the wait for the client to acknowledge close.
	DrainTimeout time.Duration
}

type Relay struct {
	registry  *registry.Registry
	synthetic Delegate
	upstream  Delegate
	events    events.Publisher
	logger    *zap.Logger

	source       models.Source
	drainTimeout time.Duration
}

func NewRelay(
	cfg Config,
	reg *registry.Registry,
	synthetic Delegate,
	upstream Delegate,
	pub events.Publisher,
	logger *zap.Logger,
) *Relay {
	source := models.SourceSynthetic
	if cfg.HasCredential {
		source = models.SourceBridge
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Relay{
		registry:     reg,
		synthetic:    synthetic,
		upstream:     upstream,
		events:       pub,
		logger:       logger,
		source:       source,
		drainTimeout: cfg.DrainTimeout,
	}
}

func (r *Relay) Source() models.Source { return r.source }

type session struct {
	id     string
	symbol string
	mode   models.Mode
	conn   ClientConn
	logger *zap.Logger
	states []State
}

func (s *session) enter(state State) {
	s.states = append(s.states, state)
	s.logger.Debug("Session state", zap.String("state", string(state)))
}

// Serve runs the session to completion. Every terminal condition is handled
// here; the connection is closed and the registry entry released on return.
func (r *Relay) Serve(ctx context.Context, conn ClientConn, rawSymbol string, cryptoFlag bool) Outcome {
	symbol := models.NormalizeSymbol(rawSymbol)
	s := &session{
		id:     uuid.NewString(),
		symbol: symbol,
		conn:   conn,
	}
	s.logger = r.logger.With(
		zap.String("session_id", s.id),
		zap.String("symbol", symbol),
		zap.String("client", conn.ID()),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.enter(Accepting)
	s.mode = models.ModeFor(symbol, cryptoFlag)
	startedAt := time.Now()
	entry := r.registry.Register(registry.Entry{
		SessionID: s.id,
		Symbol:    symbol,
		Mode:      s.mode,
		Source:    r.source,
		StartedAt: startedAt,
		Handle:    conn,
	})

	s.logger = s.logger.With(zap.String("mode", string(s.mode)), zap.String("source", string(r.source)))
	s.enter(ModeSelected)
	s.logger.Info("Session accepted")
	if r.source == models.SourceSynthetic {
		s.logger.Debug("Running in synthetic mode")
	}

	gauge := metrics.ActiveSessions.WithLabelValues(string(s.mode), string(r.source))
	gauge.Inc()
	r.publish(ctx, s, models.SessionOpened, failure.None)

	s.enter(Streaming)
	readerDone := make(chan struct{})
	go r.readClient(s, cancel, readerDone)

	err := r.runDelegate(ctx, s)

	s.enter(Draining)
	reason := failure.Classify(err)
	errorSent := r.drain(s, entry, reason, err, readerDone)

	s.enter(Closed)
	conn.Close()
	<-readerDone

	gauge.Dec()
	metrics.SessionsClosed.WithLabelValues(reason.String()).Inc()
	metrics.SessionDuration.Observe(time.Since(startedAt).Seconds())
	r.publish(ctx, s, models.SessionClosed, reason)

	s.logger.Info("Session closed",
		zap.String("reason", reason.String()),
		zap.Bool("error_sent", errorSent),
		zap.Duration("duration", time.Since(startedAt)),
	)

	return Outcome{
		SessionID: s.id,
		Symbol:    symbol,
		Mode:      s.mode,
		Source:    r.source,
		Reason:    reason,
		ErrorSent: errorSent,
		States:    s.states,
	}
}

// runDelegate streams through the process's delegate. A panic in either
// delegate ends only this session, as the fault kind of its source.
func (r *Relay) runDelegate(ctx context.Context, s *session) (err error) {
	delegate, fault := r.synthetic, failure.ErrGeneratorFault
	if r.source == models.SourceBridge {
		delegate, fault = r.upstream, failure.ErrUpstreamProtocol
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Delegate panicked", zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", fault, p)
		}
	}()
	return delegate.Run(ctx, s.symbol, s.mode, s.conn)
}

// readClient consumes client frames until the stream ends, then cancels the
// session so a blocked delegate wakes up.
func (r *Relay) readClient(s *session, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	defer cancel()

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			s.logger.Debug("Client stream ended", zap.Error(err))
			return
		}

		var frame protocol.ControlFrame
		if err := json.Unmarshal(msg, &frame); err == nil && frame.Type == protocol.TypePong {
			s.logger.Debug("Client pong")
			continue
		}
		s.logger.Debug("Ignoring client message", zap.Int("size", len(msg)))
	}
}

// drain reports the failure to the client at most once, gives the symbol
// back and closes the stream gracefully.
func (r *Relay) drain(s *session, entry *registry.Entry, reason failure.Kind, cause error, readerDone <-chan struct{}) bool {
	errorSent := false
	if reason.Surfaced() {
		s.logger.Warn("Session failed", zap.String("reason", reason.String()), zap.Error(cause))
		if err := s.conn.SendJSON(protocol.NewError(cause.Error())); err != nil {
			s.logger.Debug("Could not deliver error frame", zap.Error(err))
		} else {
			errorSent = true
			metrics.FramesSent.WithLabelValues("error").Inc()
		}
	}

	if !r.registry.Release(entry) {
		s.logger.Debug("Registry entry already replaced")
	}

	if err := s.conn.SendClose(); err != nil {
		s.logger.Debug("Could not send close frame", zap.Error(err))
	}

	timer := time.NewTimer(r.drainTimeout)
	defer timer.Stop()
	select {
	case <-readerDone:
	case <-timer.C:
		s.logger.Debug("Client did not acknowledge close", zap.Duration("timeout", r.drainTimeout))
	}
	return errorSent
}

// Lifecycle events are best effort and must outlive the session context.
func (r *Relay) publish(ctx context.Context, s *session, kind string, reason failure.Kind) {
	ev := models.SessionEvent{
		SessionID: s.id,
		Symbol:    s.symbol,
		Mode:      string(s.mode),
		Source:    string(r.source),
		Kind:      kind,
	}
	if kind == models.SessionClosed {
		ev.Reason = reason.String()
	}
	if err := r.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("Failed to publish session event", zap.String("kind", kind), zap.Error(err))
	}
}
