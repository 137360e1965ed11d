package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/livesync/internal/cache"
	"github.com/and161185/livesync/internal/event"
	"github.com/and161185/livesync/internal/metrics"
	"github.com/and161185/livesync/internal/model"
	"github.com/and161185/livesync/internal/service"
)

const refreshLen = 384

type memTokens struct {
	mu    sync.Mutex
	pairs map[uuid.UUID]model.AuthPair
}

func (m *memTokens) RefreshToken(_ context.Context, id uuid.UUID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairs[id].Refresh, nil
}

func (m *memTokens) AccessToken(_ context.Context, id uuid.UUID) (model.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairs[id].Access, nil
}

func (m *memTokens) SetAuthPair(_ context.Context, id uuid.UUID, p model.AuthPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[id] = p
	return nil
}

func (m *memTokens) ClearAuthPair(_ context.Context, id uuid.UUID, access model.AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pairs[id].Access == access {
		delete(m.pairs, id)
	}
	return nil
}

func (m *memTokens) stored(id uuid.UUID) (model.AuthPair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairs[id]
	return p, ok
}

type fakeLimiter struct {
	mu        sync.Mutex
	block     time.Duration
	failures  int
	successes int
}

func (l *fakeLimiter) Allow(context.Context, uuid.UUID, []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block == 0, l.block, nil
}

func (l *fakeLimiter) Success(context.Context, uuid.UUID, []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successes++
	return nil
}

func (l *fakeLimiter) Failure(context.Context, uuid.UUID, []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	return false, 0, nil
}

func (l *fakeLimiter) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures, l.successes
}

type reconcileFunc func(ctx context.Context, id uuid.UUID, v []model.SyncVersionFromClient) ([]event.Event, error)

func (f reconcileFunc) Reconcile(ctx context.Context, id uuid.UUID, v []model.SyncVersionFromClient) ([]event.Event, error) {
	return f(ctx, id, v)
}

type testEnv struct {
	id      uuid.UUID
	access  model.AccessToken
	refresh []byte

	cache   *cache.Cache
	tokens  *memTokens
	bus     *event.Manager
	limiter *fakeLimiter
	reg     *prometheus.Registry
	h       *Handler
	url     string
}

func testOptions() Options {
	return Options{
		HandshakeTimeout:  2 * time.Second,
		WriteTimeout:      2 * time.Second,
		LivenessTimeout:   5 * time.Second,
		KeepaliveInterval: time.Second,
		MaxMessageSize:    4096,
	}
}

func newTestEnv(t *testing.T, opts Options, rec Reconciler) *testEnv {
	t.Helper()

	log := zaptest.NewLogger(t)
	id := uuid.Must(uuid.NewV4())
	c := cache.New()
	require.NoError(t, c.InsertIfAbsent(id))

	pair := model.AuthPair{Access: "initial-access", Refresh: bytes.Repeat([]byte{7}, refreshLen)}
	tokens := &memTokens{pairs: map[uuid.UUID]model.AuthPair{id: pair}}
	require.NoError(t, c.Bind(id, "", pair.Access, netip.AddrPort{}))

	if rec == nil {
		rec = reconcileFunc(func(context.Context, uuid.UUID, []model.SyncVersionFromClient) ([]event.Event, error) {
			return nil, nil
		})
	}
	bus := event.NewManager(16, log)
	lim := &fakeLimiter{}
	reg := prometheus.NewRegistry()
	h := NewHandler(Deps{
		Tokens:     c,
		Sessions:   service.NewSessionService(tokens, c, bus, log),
		Reconciler: rec,
		Bus:        bus,
		Limiter:    lim,
		Metrics:    metrics.New(reg),
		Log:        log,
	}, opts)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})

	return &testEnv{
		id: id, access: pair.Access, refresh: pair.Refresh,
		cache: c, tokens: tokens, bus: bus, limiter: lim, reg: reg, h: h,
		url: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (e *testEnv) dial(t *testing.T, token model.AccessToken) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(AccessTokenHeader, string(token))
	conn, _, err := websocket.DefaultDialer.Dial(e.url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) counter(t *testing.T, name, label, value string) float64 {
	t.Helper()
	mfs, err := e.reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (e *testEnv) waitEnded(t *testing.T, reason string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.counter(t, "livesync_session_end_total", "reason", reason) >= 1
	}, 3*time.Second, 10*time.Millisecond, "session end %q", reason)
}

func (e *testEnv) waitHandshake(t *testing.T, result string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.counter(t, "livesync_handshakes_total", "result", result) >= 1
	}, 3*time.Second, 10*time.Millisecond, "handshake %q", result)
}

func write(t *testing.T, conn *websocket.Conn, typ int, data []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(typ, data))
}

func read(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return typ, data
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()
	for {
		typ, data := read(t, conn)
		if typ == websocket.BinaryMessage && len(data) == 0 {
			continue // keepalive
		}
		require.Equal(t, websocket.TextMessage, typ)
		var ev event.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	}
}

func requireClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				t.Fatalf("connection still open")
			}
			return
		}
		if typ == websocket.BinaryMessage && len(data) == 0 {
			continue
		}
		t.Fatalf("unexpected frame type %d: %q", typ, data)
	}
}

var androidHello = EncodeHello(ClientInfo{Type: ClientAndroid, Major: 1, Minor: 4, Patch: 0})

// handshake runs the client side up to steady state and returns the new pair.
func handshake(t *testing.T, conn *websocket.Conn, refresh, versions []byte) model.AuthPair {
	t.Helper()
	write(t, conn, websocket.BinaryMessage, androidHello)
	write(t, conn, websocket.BinaryMessage, refresh)

	typ, newRefresh := read(t, conn)
	require.Equal(t, websocket.BinaryMessage, typ)
	require.Len(t, newRefresh, refreshLen)

	typ, access := read(t, conn)
	require.Equal(t, websocket.TextMessage, typ)
	require.NotEmpty(t, access)

	write(t, conn, websocket.BinaryMessage, versions)
	return model.AuthPair{Access: model.AccessToken(access), Refresh: newRefresh}
}

func TestHandler_Handshake(t *testing.T) {
	gotVersions := make(chan []model.SyncVersionFromClient, 1)
	rec := reconcileFunc(func(_ context.Context, _ uuid.UUID, v []model.SyncVersionFromClient) ([]event.Event, error) {
		gotVersions <- v
		return []event.Event{
			event.AccountState(model.AccountStateNormal),
			event.Simple(event.MatchesChanged),
			event.SyncVersion(3),
		}, nil
	})
	env := newTestEnv(t, testOptions(), rec)
	conn := env.dial(t, env.access)

	pair := handshake(t, conn, env.refresh, []byte{0, 2, 5, 255, 99, 1})

	ev := readEvent(t, conn)
	require.Equal(t, event.AccountStateChanged, ev.Name)
	require.Equal(t, model.AccountStateNormal, *ev.AccountState)
	require.Equal(t, event.MatchesChanged, readEvent(t, conn).Name)
	last := readEvent(t, conn)
	require.Equal(t, event.AccountSyncVersionChanged, last.Name)
	require.Equal(t, model.SyncVersion(3), *last.SyncVersion)

	require.Equal(t, []model.SyncVersionFromClient{
		{DataType: model.SyncAccount, Version: 2},
		{DataType: model.SyncMatches, Version: model.SyncVersionUnknown},
	}, <-gotVersions)

	owner, ok := env.cache.Resolve(pair.Access)
	require.True(t, ok)
	require.Equal(t, env.id, owner)
	_, ok = env.cache.Resolve(env.access)
	require.False(t, ok, "old access token must stop resolving")

	stored, ok := env.tokens.stored(env.id)
	require.True(t, ok)
	require.Equal(t, pair.Refresh, stored.Refresh)
	require.Equal(t, pair.Access, stored.Access)

	connAddr, err := env.cache.Connection(env.id)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort(conn.LocalAddr().String()), connAddr)

	_, successes := env.limiter.counts()
	require.Equal(t, 1, successes)
	env.waitHandshake(t, "ok")

	// Events published after the handshake are relayed; stray frames are ignored.
	write(t, conn, websocket.TextMessage, []byte("hello?"))
	require.NoError(t, env.bus.Publish(context.Background(), env.id, event.Simple(event.NewMessageReceived)))
	require.Equal(t, event.NewMessageReceived, readEvent(t, conn).Name)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	env.waitEnded(t, "closed")

	connAddr, err = env.cache.Connection(env.id)
	require.NoError(t, err)
	require.False(t, connAddr.IsValid())
	_, ok = env.cache.Resolve(pair.Access)
	require.True(t, ok, "token survives a normal close")
	require.False(t, env.bus.Connected(env.id))
}

func TestHandler_TokenMismatchLogsOut(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	conn := env.dial(t, env.access)

	write(t, conn, websocket.BinaryMessage, androidHello)
	write(t, conn, websocket.BinaryMessage, bytes.Repeat([]byte{8}, refreshLen))
	requireClosed(t, conn)

	env.waitHandshake(t, "token_mismatch")
	_, ok := env.cache.Resolve(env.access)
	require.False(t, ok, "old access token must be revoked")
	_, ok = env.tokens.stored(env.id)
	require.False(t, ok, "stored pair must be cleared")

	failures, _ := env.limiter.counts()
	require.Equal(t, 1, failures)
}

func TestHandler_OutOfOrderFrames(t *testing.T) {
	tests := []struct {
		name   string
		frames func(env *testEnv) [][]byte
		text   bool
	}{
		{
			name:   "refresh token before hello",
			frames: func(env *testEnv) [][]byte { return [][]byte{env.refresh} },
		},
		{
			name:   "sync versions before refresh token",
			frames: func(*testEnv) [][]byte { return [][]byte{androidHello, {0, 1, 5, 3}} },
		},
		{
			name:   "text hello",
			frames: func(*testEnv) [][]byte { return [][]byte{androidHello} },
			text:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testOptions(), nil)
			conn := env.dial(t, env.access)

			typ := websocket.BinaryMessage
			if tt.text {
				typ = websocket.TextMessage
			}
			for _, f := range tt.frames(env) {
				write(t, conn, typ, f)
			}
			requireClosed(t, conn)
			env.waitHandshake(t, "protocol_error")

			_, ok := env.cache.Resolve(env.access)
			require.True(t, ok, "errors before rotation keep the token")
			_, ok = env.tokens.stored(env.id)
			require.True(t, ok)
		})
	}
}

func TestHandler_UnsupportedClient(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	conn := env.dial(t, env.access)

	write(t, conn, websocket.BinaryMessage, EncodeHello(ClientInfo{Type: 42, Major: 1}))
	write(t, conn, websocket.BinaryMessage, env.refresh)

	typ, data := read(t, conn)
	require.Equal(t, websocket.TextMessage, typ)
	require.Empty(t, data)
	requireClosed(t, conn)

	env.waitHandshake(t, "unsupported")
	_, ok := env.cache.Resolve(env.access)
	require.False(t, ok)
}

func TestHandler_SupersededSessionEndsGracefully(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)

	first := env.dial(t, env.access)
	pair := handshake(t, first, env.refresh, nil)
	env.waitHandshake(t, "ok")

	second := env.dial(t, pair.Access)
	next := handshake(t, second, pair.Refresh, nil)

	requireClosed(t, first)
	env.waitEnded(t, "channel_broken")

	connAddr, err := env.cache.Connection(env.id)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort(second.LocalAddr().String()), connAddr,
		"the superseded session must not clear its successor")
	owner, ok := env.cache.Resolve(next.Access)
	require.True(t, ok)
	require.Equal(t, env.id, owner)

	require.NoError(t, env.bus.Publish(context.Background(), env.id, event.Simple(event.SentLikesChanged)))
	require.Equal(t, event.SentLikesChanged, readEvent(t, second).Name)
}

func TestHandler_LivenessTimeout(t *testing.T) {
	opts := testOptions()
	opts.LivenessTimeout = 300 * time.Millisecond
	opts.KeepaliveInterval = 100 * time.Millisecond
	env := newTestEnv(t, opts, nil)

	conn := env.dial(t, env.access)
	pair := handshake(t, conn, env.refresh, nil)

	// Pings keep the connection alive well past the timeout.
	for i := 0; i < 8; i++ {
		if i%2 == 0 {
			write(t, conn, websocket.BinaryMessage, nil)
		} else {
			require.NoError(t, conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)))
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.Zero(t, env.counter(t, "livesync_session_end_total", "reason", "timeout"))

	env.waitEnded(t, "timeout")
	connAddr, err := env.cache.Connection(env.id)
	require.NoError(t, err)
	require.False(t, connAddr.IsValid(), "connection address cleared")
	_, ok := env.cache.Resolve(pair.Access)
	require.True(t, ok, "token not revoked on timeout")
	_, ok = env.tokens.stored(env.id)
	require.True(t, ok)
}

func TestHandler_RejectsBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)

	_, resp, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env.limiter.mu.Lock()
	env.limiter.block = 30 * time.Second
	env.limiter.mu.Unlock()

	header := http.Header{}
	header.Set(AccessTokenHeader, string(env.access))
	_, resp, err = websocket.DefaultDialer.Dial(env.url, header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "30", resp.Header.Get("Retry-After"))
}

func TestHandler_Shutdown(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	conn := env.dial(t, env.access)
	pair := handshake(t, conn, env.refresh, nil)
	env.waitHandshake(t, "ok")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, env.h.Shutdown(ctx))
	env.waitEnded(t, "shutdown")

	connAddr, err := env.cache.Connection(env.id)
	require.NoError(t, err)
	require.False(t, connAddr.IsValid())
	_, ok := env.cache.Resolve(pair.Access)
	require.True(t, ok)

	header := http.Header{}
	header.Set(AccessTokenHeader, string(pair.Access))
	_, resp, err := websocket.DefaultDialer.Dial(env.url, header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
