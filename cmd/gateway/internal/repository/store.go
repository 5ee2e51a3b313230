package repository

import (
	"context"
)

// SessionRecord is the externally visible view of one active relay session.
type SessionRecord struct {
	SessionID string `json:"session_id"`
	Symbol    string `json:"symbol"`
	Mode      string `json:"mode"`
	Source    string `json:"source"`
	StartedAt int64  `json:"started_at"` // unix millis
}

// SessionStore mirrors the in-process registry somewhere operators can see it.
type SessionStore interface {
	PutSession(ctx context.Context, rec SessionRecord) error
	// DeleteSession removes the symbol's entry only if it still belongs to sessionID.
	DeleteSession(ctx context.Context, symbol, sessionID string) error
	ActiveSessions(ctx context.Context) ([]SessionRecord, error)
	Close() error
}

// NopStore is used when no directory backend is configured.
type NopStore struct{}

var _ SessionStore = NopStore{}

func (NopStore) PutSession(context.Context, SessionRecord) error         { return nil }
func (NopStore) DeleteSession(context.Context, string, string) error     { return nil }
func (NopStore) ActiveSessions(context.Context) ([]SessionRecord, error) { return nil, nil }
func (NopStore) Close() error                                            { return nil }
