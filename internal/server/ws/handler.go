// Package ws serves the WebSocket connection of a client: the binary
// handshake with token rotation and sync version exchange, followed by the
// event relay loop guarded by a liveness timer.
package ws

import (
	"context"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/livesync/internal/config"
	"github.com/and161185/livesync/internal/event"
	"github.com/and161185/livesync/internal/limiter"
	"github.com/and161185/livesync/internal/metrics"
	"github.com/and161185/livesync/internal/model"
)

// AccessTokenHeader carries the access token on the upgrade request.
const AccessTokenHeader = "x-access-token"

// TokenResolver maps an access token to its account.
type TokenResolver interface {
	Resolve(token model.AccessToken) (uuid.UUID, bool)
}

// Sessions persists token pairs and ends connection sessions.
type Sessions interface {
	RefreshToken(ctx context.Context, id uuid.UUID) ([]byte, error)
	SetAuthPair(ctx context.Context, id uuid.UUID, pair model.AuthPair, addr netip.AddrPort) error
	ResetPendingNotifications(ctx context.Context, id uuid.UUID) error
	Logout(ctx context.Context, id uuid.UUID, token model.AccessToken) error
	EndConnectionSession(ctx context.Context, id uuid.UUID, addr netip.AddrPort) error
}

// Reconciler builds the event burst for a client's sync versions.
type Reconciler interface {
	Reconcile(ctx context.Context, id uuid.UUID, versions []model.SyncVersionFromClient) ([]event.Event, error)
}

// Options are the connection timings and limits.
type Options struct {
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	LivenessTimeout   time.Duration
	KeepaliveInterval time.Duration
	MaxMessageSize    int64
}

// OptionsFromConfig picks the connection settings out of cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		HandshakeTimeout:  cfg.HandshakeTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		LivenessTimeout:   cfg.LivenessTimeout,
		KeepaliveInterval: cfg.KeepaliveInterval,
		MaxMessageSize:    cfg.MaxMessageSize,
	}
}

// Deps are the collaborators of Handler. Limiter and Metrics may be nil.
type Deps struct {
	Tokens     TokenResolver
	Sessions   Sessions
	Reconciler Reconciler
	Bus        event.Bus
	Limiter    limiter.Limiter
	Metrics    *metrics.Metrics
	Log        *zap.Logger
}

// Handler upgrades authenticated requests and runs their sessions.
type Handler struct {
	tokens     TokenResolver
	sessions   Sessions
	reconciler Reconciler
	bus        event.Bus
	limiter    limiter.Limiter
	metrics    *metrics.Metrics
	log        *zap.Logger

	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	closing bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewHandler constructs Handler.
func NewHandler(d Deps, opts Options) *Handler {
	lim := d.Limiter
	if lim == nil {
		lim = limiter.Nop{}
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		tokens:     d.Tokens,
		sessions:   d.Sessions,
		reconciler: d.Reconciler,
		bus:        d.Bus,
		limiter:    lim,
		metrics:    d.Metrics,
		log:        log,
		opts:       opts,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: opts.HandshakeTimeout,
			// Clients are native apps, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
}

// ServeHTTP authenticates the request with the access token header and
// runs the connection until it ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := model.AccessToken(r.Header.Get(AccessTokenHeader))
	id, ok := h.tokens.Resolve(token)
	if token == "" || !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	addr, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		h.log.Error("remote address", zap.String("addr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "bad remote address", http.StatusBadRequest)
		return
	}
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	ipHash := hashAddr(addr)

	allowed, retry, err := h.limiter.Allow(r.Context(), id, ipHash)
	if err != nil {
		h.log.Error("limiter allow", zap.Stringer("account", id), zap.Error(err))
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)))
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
		return
	}

	if !h.begin() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(h.opts.MaxMessageSize)

	s := &session{
		h:      h,
		conn:   conn,
		log:    h.log.With(zap.Stringer("account", id), zap.Stringer("addr", addr)),
		id:     id,
		addr:   addr,
		ipHash: ipHash,
		token:  token,
	}
	runErr := s.run(r.Context())

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.opts.WriteTimeout)
	defer cancel()
	s.finish(ctx, runErr)
}

func (h *Handler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

// Shutdown makes every live session end through the shutdown path and
// waits for them until ctx is done. New connections are refused.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if !h.closing {
		h.closing = true
		close(h.quit)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
