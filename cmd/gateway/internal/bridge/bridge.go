// Package bridge proxies one symbol's trades from the upstream market-data
// feed to a single client.
package bridge

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/failure"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/price-relay/pkg/metrics"
	"github.com/shubham-shewale/price-relay/pkg/models"
)

type Config struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	// IdleTimeout bounds every upstream read. Zero disables it.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

type UpstreamBridge struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewUpstreamBridge(cfg Config, logger *zap.Logger) *UpstreamBridge {
	return &UpstreamBridge{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger,
	}
}

// FeedURL is the configured endpoint with the credential attached as the
// token query parameter.
func (b *UpstreamBridge) FeedURL() (string, error) {
	u, err := url.Parse(b.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	if b.cfg.Token != "" {
		q := u.Query()
		q.Set("token", b.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Run subscribes to symbol and forwards every upstream text frame to sink
// unchanged. It returns when the upstream closes, fails, the client send
// fails, or ctx is cancelled. The mode does not change the subscription.
func (b *UpstreamBridge) Run(ctx context.Context, symbol string, mode models.Mode, sink protocol.Sink) error {
	conn, err := b.dial(ctx, symbol)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Closing the conn is the only way to unblock ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	log := b.logger.With(zap.String("symbol", symbol), zap.String("mode", string(mode)))
	log.Info("Subscribed to upstream feed")

	for {
		if b.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(b.cfg.IdleTimeout))
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ferr := classifyRead(err)
			log.Info("Upstream read ended", zap.Error(ferr))
			return ferr
		}

		switch msgType {
		case websocket.TextMessage:
			if err := sink.SendText(data); err != nil {
				return fmt.Errorf("forward upstream frame: %w: %w", failure.ErrClientDisconnect, err)
			}
			metrics.FramesSent.WithLabelValues("passthrough").Inc()
		default:
			log.Debug("Ignoring non-text upstream frame", zap.Int("type", msgType))
		}
	}
}

func (b *UpstreamBridge) dial(ctx context.Context, symbol string) (*websocket.Conn, error) {
	feedURL, err := b.FeedURL()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrUpstreamConnect, err)
	}

	conn, _, err := b.dialer.DialContext(ctx, feedURL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", failure.ErrUpstreamConnect, err)
	}

	if b.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	}
	if err := conn.WriteJSON(protocol.Subscribe(symbol)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", failure.ErrUpstreamConnect, symbol, err)
	}
	return conn, nil
}
