// Package generator simulates the upstream market-data feed: clients
// subscribe to symbols and receive trade frames built from random walks.
package generator

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/pkg/models"
	"github.com/shubham-shewale/price-relay/pkg/synth"
)

const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeError       = "error"

	// pingEvery is how many ticks pass between keepalive pings.
	pingEvery = 10

	writeWait      = 5 * time.Second
	maxMessageSize = 4096
)

// Request is a client control message.
type Request struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type pingMessage struct {
	Type string `json:"type"`
}

// ErrorMessage mirrors the provider's error frame.
type ErrorMessage struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type FeedServer struct {
	logger   *zap.Logger
	token    string
	interval time.Duration
	newRand  func() synth.Rand
	clock    synth.Clock
}

// NewFeedServer builds the simulator. An empty token accepts every client.
func NewFeedServer(logger *zap.Logger, token string, interval time.Duration, newRand func() synth.Rand, clock synth.Clock) *FeedServer {
	return &FeedServer{
		logger:   logger,
		token:    token,
		interval: interval,
		newRand:  newRand,
		clock:    clock,
	}
}

func (f *FeedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.token != "" && r.URL.Query().Get("token") != f.token {
		http.Error(w, "Invalid API key", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		f.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}
	f.Serve(r.Context(), conn)
}

// Serve runs one feed connection until the client leaves or ctx ends.
func (f *FeedServer) Serve(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &feedConn{
		conn:   conn,
		logger: f.logger.With(zap.String("client", conn.RemoteAddr().String())),
		rnd:    f.newRand(),
		walks:  make(map[string]*synth.Walk),
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer cancel()
		c.readLoop()
	}()

	c.logger.Info("Feed client connected")
	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			c.logger.Info("Feed client disconnected")
			return
		case <-f.clock.After(f.interval):
		}

		if tick%pingEvery == 0 {
			if err := c.write(pingMessage{Type: "ping"}); err != nil {
				return
			}
		}
		for _, trade := range c.tick(f.clock.Now()) {
			if err := c.write(models.NewTradeEvent(trade)); err != nil {
				return
			}
		}
	}
}

type feedConn struct {
	conn   net.Conn
	logger *zap.Logger

	wmu sync.Mutex

	mu    sync.Mutex
	rnd   synth.Rand
	walks map[string]*synth.Walk
}

// tick advances every subscribed walk once.
func (c *feedConn) tick(now time.Time) []models.Trade {
	c.mu.Lock()
	defer c.mu.Unlock()

	trades := make([]models.Trade, 0, len(c.walks))
	for symbol, walk := range c.walks {
		trades = append(trades, walk.Next(symbol, now))
	}
	return trades
}

func (c *feedConn) subscribe(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.walks[symbol]; ok {
		return
	}
	c.walks[symbol] = synth.NewWalk(modeOf(symbol), c.rnd)
}

func (c *feedConn) unsubscribe(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.walks, symbol)
}

// Exchange-qualified symbols such as BINANCE:BTCUSDT are crypto pairs.
func modeOf(symbol string) models.Mode {
	return models.ModeFor(symbol, strings.Contains(symbol, ":"))
}

func (c *feedConn) write(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerText(c.conn, b)
}

func (c *feedConn) readLoop() {
	reader := &wsutil.Reader{
		Source:       c.conn,
		State:        ws.StateServerSide,
		CheckUTF8:    true,
		MaxFrameSize: maxMessageSize,
	}
	control := func(h ws.Header, r io.Reader) error {
		c.wmu.Lock()
		defer c.wmu.Unlock()
		handler := wsutil.ControlHandler{Src: r, Dst: c.conn, State: ws.StateServerSide, DisableSrcCiphering: true}
		return handler.Handle(h)
	}
	reader.OnIntermediate = control

	for {
		h, err := reader.NextFrame()
		if err != nil {
			return
		}
		if h.OpCode.IsControl() {
			if err := control(h, reader); err != nil {
				return
			}
			continue
		}
		payload, err := io.ReadAll(io.LimitReader(reader, maxMessageSize+1))
		if err != nil {
			return
		}
		if len(payload) > maxMessageSize {
			c.logger.Debug("Dropping connection after oversized message", zap.Int("limit", maxMessageSize))
			return
		}
		if h.OpCode != ws.OpText {
			continue
		}
		c.handle(payload)
	}
}

func (c *feedConn) handle(payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		c.write(ErrorMessage{Type: TypeError, Msg: "Invalid JSON"})
		return
	}
	symbol := strings.TrimSpace(req.Symbol)

	switch req.Type {
	case TypeSubscribe:
		if symbol == "" {
			c.write(ErrorMessage{Type: TypeError, Msg: "Symbol is required"})
			return
		}
		c.subscribe(symbol)
		c.logger.Debug("Subscribed", zap.String("symbol", symbol))
	case TypeUnsubscribe:
		c.unsubscribe(symbol)
		c.logger.Debug("Unsubscribed", zap.String("symbol", symbol))
	default:
		c.write(ErrorMessage{Type: TypeError, Msg: "Unknown message type"})
	}
}
