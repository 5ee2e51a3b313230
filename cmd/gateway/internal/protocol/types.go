package protocol

import "github.com/shubham-shewale/price-relay/pkg/models"

const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeSubscribe = "subscribe"
)

// ControlFrame is the advisory {"type":"ping"} liveness frame. Clients may
// answer with a pong; nothing waits for it.
type ControlFrame struct {
	Type string `json:"type"`
}

// ErrorFrame is sent at most once per session, right before close.
type ErrorFrame struct {
	Error string `json:"error"`
}

// SubscribeRequest is the control message sent to the upstream feed.
type SubscribeRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func Ping() ControlFrame { return ControlFrame{Type: TypePing} }

func NewError(msg string) ErrorFrame { return ErrorFrame{Error: msg} }

func Subscribe(symbol string) SubscribeRequest {
	return SubscribeRequest{Type: TypeSubscribe, Symbol: symbol}
}

func Trade(t models.Trade) models.TradeEvent { return models.NewTradeEvent(t) }

// Sink is the outbound side of a client stream. SendText writes the bytes
// as-is; SendJSON encodes v first.
type Sink interface {
	SendJSON(v interface{}) error
	SendText(b []byte) error
}
