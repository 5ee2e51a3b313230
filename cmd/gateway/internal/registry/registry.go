// Package registry tracks the single active relay session per symbol.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/price-relay/pkg/metrics"
	"github.com/shubham-shewale/price-relay/pkg/models"
)

const storeTimeout = 2 * time.Second

// Handle is the client connection owned by a session. Closing it must
// unblock every pending read and write on that connection.
type Handle interface {
	Close() error
}

type Entry struct {
	SessionID string        `json:"session_id"`
	Symbol    string        `json:"symbol"`
	Mode      models.Mode   `json:"mode"`
	Source    models.Source `json:"source"`
	StartedAt time.Time     `json:"started_at"`
	Handle    Handle        `json:"-"`
}

func (e *Entry) record() repository.SessionRecord {
	return repository.SessionRecord{
		SessionID: e.SessionID,
		Symbol:    e.Symbol,
		Mode:      string(e.Mode),
		Source:    string(e.Source),
		StartedAt: e.StartedAt.UnixMilli(),
	}
}

type Registry struct {
	entries map[string]*Entry

	store  repository.SessionStore
	logger *zap.Logger
	mu     sync.Mutex
}

func NewRegistry(store repository.SessionStore, logger *zap.Logger) *Registry {
	if store == nil {
		store = repository.NopStore{}
	}
	return &Registry{
		entries: make(map[string]*Entry),
		store:   store,
		logger:  logger,
	}
}

// Register makes e the active session for its symbol. A session already
// holding the symbol has its handle closed, which drives it into teardown.
func (r *Registry) Register(e Entry) *Entry {
	entry := &e

	r.mu.Lock()
	prior := r.entries[entry.Symbol]
	r.entries[entry.Symbol] = entry
	r.mu.Unlock()

	r.putStore(entry)

	if prior != nil {
		metrics.RegistryReplacements.Inc()
		r.logger.Info("Replacing active session",
			zap.String("symbol", entry.Symbol),
			zap.String("previous_session", prior.SessionID),
			zap.String("session_id", entry.SessionID),
		)
		if prior.Handle != nil {
			if err := prior.Handle.Close(); err != nil {
				r.logger.Debug("Closing replaced session", zap.String("session_id", prior.SessionID), zap.Error(err))
			}
		}
	}
	return entry
}

// Unregister removes whatever entry is held for symbol and returns it. The
// caller decides whether to close its handle. No-op when absent.
func (r *Registry) Unregister(symbol string) (Entry, bool) {
	r.mu.Lock()
	entry, ok := r.entries[symbol]
	if ok {
		delete(r.entries, symbol)
	}
	r.mu.Unlock()

	if !ok {
		return Entry{}, false
	}
	r.deleteStore(entry)
	return *entry, true
}

// Release removes entry only if it is still the active one for its symbol,
// and reports whether it did.
func (r *Registry) Release(entry *Entry) bool {
	if entry == nil {
		return false
	}

	r.mu.Lock()
	current := r.entries[entry.Symbol] == entry
	if current {
		delete(r.entries, entry.Symbol)
	}
	r.mu.Unlock()

	if current {
		r.deleteStore(entry)
	}
	return current
}

func (r *Registry) Lookup(symbol string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[symbol]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot copies all entries, ordered by symbol.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Directory writes run outside r.mu so a slow store never stalls the map.
// Deletes are owner-checked, so a late delete cannot evict a successor.
func (r *Registry) putStore(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.PutSession(ctx, entry.record()); err != nil {
		r.logger.Error("Failed to publish session to directory", zap.String("symbol", entry.Symbol), zap.Error(err))
	}
}

func (r *Registry) deleteStore(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.DeleteSession(ctx, entry.Symbol, entry.SessionID); err != nil {
		r.logger.Error("Failed to remove session from directory", zap.String("symbol", entry.Symbol), zap.Error(err))
	}
}
