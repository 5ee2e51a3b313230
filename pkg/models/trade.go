package models

// Trade is one print inside a trade event. Field names follow the upstream
// feed so synthetic and proxied frames look the same to clients.
type Trade struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"` // rounded to 2 decimals
	Timestamp int64   `json:"t"` // unix millis
	Volume    float64 `json:"v"`
}

// TradeEvent is the {"type":"trade","data":[...]} frame.
type TradeEvent struct {
	Type string  `json:"type"`
	Data []Trade `json:"data"`
}

const TypeTrade = "trade"

func NewTradeEvent(trades ...Trade) TradeEvent {
	return TradeEvent{Type: TypeTrade, Data: trades}
}
