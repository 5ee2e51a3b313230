package models

// Session event kinds.
const (
	SessionOpened = "opened"
	SessionClosed = "closed"
)

// SessionEvent records one relay session lifecycle transition. It is keyed
// by symbol on the wire so per-symbol ordering survives partitioning.
type SessionEvent struct {
	SessionID string `json:"session_id"`
	Symbol    string `json:"symbol"`
	Mode      string `json:"mode"`   // "stock" or "crypto"
	Source    string `json:"source"` // "synthetic" or "bridge"
	Kind      string `json:"kind"`
	Reason    string `json:"reason,omitempty"` // terminal reason, closed events only
	Timestamp int64  `json:"timestamp"`        // unix micro
	SeqID     int64  `json:"seq_id"`           // monotonic per symbol
}
