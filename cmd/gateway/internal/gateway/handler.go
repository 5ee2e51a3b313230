package gateway

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/session"
	"github.com/shubham-shewale/price-relay/pkg/models"
)

//go:embed web/index.html
var indexHTML []byte

const directoryTimeout = 2 * time.Second

type Options struct {
	WriteTimeout   time.Duration
	MetricsEnabled bool
	MetricsPath    string
}

// Server owns the HTTP surface and every session started through it.
type Server struct {
	relay    *session.Relay
	registry *registry.Registry
	store    repository.SessionStore
	logger   *zap.Logger
	opts     Options

	baseCtx  context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

func NewServer(relay *session.Relay, reg *registry.Registry, store repository.SessionStore, logger *zap.Logger, opts Options) *Server {
	if store == nil {
		store = repository.NopStore{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		relay:    relay,
		registry: reg,
		store:    store,
		logger:   logger,
		opts:     opts,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{symbol}", s.handleStream)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /debug/sessions", s.handleSessions)
	mux.HandleFunc("DELETE /debug/sessions/{symbol}", s.handleEvict)
	if s.opts.MetricsEnabled {
		mux.Handle("GET "+s.opts.MetricsPath, promhttp.Handler())
	}
	return mux
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	symbol := models.NormalizeSymbol(r.PathValue("symbol"))
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	cryptoFlag := false
	if raw := r.URL.Query().Get("is_crypto"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "is_crypto must be a boolean", http.StatusBadRequest)
			return
		}
		cryptoFlag = v
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("Upgrade failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	client := NewClient(conn, s.logger, s.opts.WriteTimeout)
	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		s.relay.Serve(s.baseCtx, client, symbol, cryptoFlag)
	}()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

type healthResponse struct {
	Status         string        `json:"status"`
	Source         models.Source `json:"source"`
	ActiveSessions int           `json:"active_sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Source:         s.relay.Source(),
		ActiveSessions: s.registry.Len(),
	})
}

type sessionsResponse struct {
	Sessions  []registry.Entry           `json:"sessions"`
	Directory []repository.SessionRecord `json:"directory,omitempty"`
	Error     string                     `json:"directory_error,omitempty"`
}

// handleSessions lists the local registry next to the shared directory,
// which also holds sessions of other gateway instances.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	resp := sessionsResponse{Sessions: s.registry.Snapshot()}

	ctx, cancel := context.WithTimeout(r.Context(), directoryTimeout)
	defer cancel()
	dir, err := s.store.ActiveSessions(ctx)
	if err != nil {
		resp.Error = err.Error()
	}
	resp.Directory = dir

	writeJSON(w, http.StatusOK, resp)
}

// handleEvict drops the session holding a symbol and closes its stream,
// which ends it as a client disconnect.
func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	symbol := models.NormalizeSymbol(r.PathValue("symbol"))
	entry, ok := s.registry.Unregister(symbol)
	if !ok {
		http.Error(w, "no active session", http.StatusNotFound)
		return
	}
	if entry.Handle != nil {
		if err := entry.Handle.Close(); err != nil {
			s.logger.Debug("Closing evicted session", zap.String("session_id", entry.SessionID), zap.Error(err))
		}
	}
	s.logger.Info("Evicted session", zap.String("symbol", symbol), zap.String("session_id", entry.SessionID))
	writeJSON(w, http.StatusOK, entry)
}

// Shutdown cancels every running session and waits for them to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
