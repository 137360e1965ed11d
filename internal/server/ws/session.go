package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/livesync/internal/crypto"
	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/event"
	"github.com/and161185/livesync/internal/limiter"
	"github.com/and161185/livesync/internal/model"
)

// State is a step of the connection state machine.
type State uint8

const (
	AwaitClientHello State = iota
	AwaitRefreshToken
	SendNewRefreshToken
	SendNewAccessToken
	AwaitSyncVersionVector
	Reconciling
	SteadyState
	Done
)

var stateNames = [...]string{
	"await_client_hello",
	"await_refresh_token",
	"send_new_refresh_token",
	"send_new_access_token",
	"await_sync_version_vector",
	"reconciling",
	"steady_state",
	"done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Conn is the part of *websocket.Conn used by a session.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPingHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

type frame struct {
	typ  int
	data []byte
	err  error
}

// session runs one connection. It is used by a single goroutine except for
// the reader started in steady state.
type session struct {
	h    *Handler
	conn Conn
	log  *zap.Logger

	id     uuid.UUID
	addr   netip.AddrPort
	ipHash []byte

	state   State
	info    ClientInfo
	rotated bool
	// token is the access token to revoke on logout: the one presented at
	// upgrade until rotation, the new one after.
	token model.AccessToken
	rcv   *event.Receiver
}

func (s *session) run(ctx context.Context) error {
	if err := s.handshake(ctx); err != nil {
		return err
	}
	s.h.metrics.Handshake("ok")
	s.h.metrics.ConnectionOpened()
	defer s.h.metrics.ConnectionClosed()
	return s.loop(ctx)
}

func (s *session) handshake(ctx context.Context) error {
	s.state = AwaitClientHello
	hello, err := s.readBinary()
	if err != nil {
		return err
	}
	if s.info, err = ParseHello(hello); err != nil {
		return newError(ProtocolError, err)
	}
	s.log.Debug("client hello", zap.Stringer("client", s.info))

	s.state = AwaitRefreshToken
	current, err := s.h.sessions.RefreshToken(ctx, s.id)
	if err != nil {
		return newError(StoreError, err)
	}
	if current == nil {
		return newError(StoreError, fmt.Errorf("refresh token of %s: %w", s.id, errs.ErrNotFound))
	}
	got, err := s.readBinary()
	if err != nil {
		return err
	}
	if len(got) != len(current) {
		return protocolErrorf("refresh token frame of %d bytes", len(got))
	}
	if subtle.ConstantTimeCompare(got, current) != 1 {
		blocked, d, lerr := s.h.limiter.Failure(ctx, s.id, s.ipHash)
		if lerr != nil {
			s.log.Warn("limiter failure", zap.Error(lerr))
		} else if blocked {
			s.log.Warn("connect blocked", zap.Duration("dur", d))
		}
		return newError(TokenMismatch, errs.ErrUnauthorized)
	}

	if !s.info.Supported() {
		_ = s.write(websocket.TextMessage, nil)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.h.opts.WriteTimeout))
		return newError(Unsupported, fmt.Errorf("client %s", s.info))
	}
	if err := s.h.limiter.Success(ctx, s.id, s.ipHash); err != nil {
		s.log.Warn("limiter success", zap.Error(err))
	}

	s.state = SendNewRefreshToken
	pair, err := pkgcrypto.NewAuthPair()
	if err != nil {
		return newError(StoreError, err)
	}
	if err := s.write(websocket.BinaryMessage, pair.Refresh); err != nil {
		return err
	}
	s.rotated = true
	if err := s.h.sessions.SetAuthPair(ctx, s.id, pair, s.addr); err != nil {
		return newError(StoreError, err)
	}
	s.token = pair.Access

	s.state = SendNewAccessToken
	if err := s.write(websocket.TextMessage, []byte(pair.Access)); err != nil {
		return err
	}

	s.state = AwaitSyncVersionVector
	raw, err := s.readBinary()
	if err != nil {
		return err
	}
	versions, err := ParseSyncVersions(raw)
	if err != nil {
		return newError(ProtocolError, err)
	}

	s.state = Reconciling
	s.rcv = s.h.bus.Subscribe(s.id)
	if err := s.h.sessions.ResetPendingNotifications(ctx, s.id); err != nil {
		return newError(StoreError, err)
	}
	burst, err := s.h.reconciler.Reconcile(ctx, s.id, versions)
	if err != nil {
		return newError(StoreError, err)
	}
	for _, ev := range burst {
		if err := s.sendEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// loop relays events until the client leaves, the liveness timer fires, the
// receiver is taken over or the server shuts down.
func (s *session) loop(ctx context.Context) error {
	s.state = SteadyState
	_ = s.conn.SetReadDeadline(time.Time{})

	activity := make(chan struct{}, 1)
	s.conn.SetPingHandler(func(data string) error {
		select {
		case activity <- struct{}{}:
		default:
		}
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.h.opts.WriteTimeout))
		var ne net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	})

	quit := make(chan struct{})
	defer close(quit)
	frames := make(chan frame)
	go s.readFrames(quit, frames)

	live := NewLiveness(s.h.opts.LivenessTimeout)
	defer live.Stop()
	keepalive := time.NewTicker(s.h.opts.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case f := <-frames:
			if f.err != nil {
				var ce *websocket.CloseError
				if !errors.As(f.err, &ce) {
					s.log.Debug("read", zap.Error(f.err))
				}
				return newError(Closed, f.err)
			}
			switch {
			case f.typ == websocket.BinaryMessage && len(f.data) == 0:
				live.Reset()
			default:
				s.log.Warn("unexpected client frame",
					zap.Int("type", f.typ), zap.Int("len", len(f.data)), zap.Stringer("addr", s.addr))
			}

		case <-activity:
			live.Reset()

		case ev, ok := <-s.rcv.C:
			if !ok {
				if errors.Is(s.rcv.Err(), event.ErrClosed) {
					return newError(Closed, s.rcv.Err())
				}
				return newError(ChannelBroken, s.rcv.Err())
			}
			if err := s.sendEvent(ev); err != nil {
				return err
			}

		case <-keepalive.C:
			if err := s.write(websocket.BinaryMessage, nil); err != nil {
				return err
			}

		case <-live.C():
			return newError(Timeout, nil)

		case <-s.h.quit:
			return newError(Shutdown, nil)

		case <-ctx.Done():
			return newError(Shutdown, ctx.Err())
		}
	}
}

func (s *session) readFrames(quit <-chan struct{}, out chan<- frame) {
	for {
		typ, data, err := s.conn.ReadMessage()
		select {
		case out <- frame{typ: typ, data: data, err: err}:
		case <-quit:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *session) readBinary() ([]byte, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.h.opts.HandshakeTimeout))
	typ, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, newError(ReceiveError, fmt.Errorf("%s: %w", s.state, err))
	}
	if typ != websocket.BinaryMessage {
		return nil, protocolErrorf("%s: frame type %d, want binary", s.state, typ)
	}
	return data, nil
}

func (s *session) write(typ int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.h.opts.WriteTimeout))
	if err := s.conn.WriteMessage(typ, data); err != nil {
		return newError(SendError, fmt.Errorf("%s: %w", s.state, err))
	}
	return nil
}

func (s *session) sendEvent(ev event.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return newError(SerializationError, err)
	}
	if err := s.write(websocket.TextMessage, b); err != nil {
		return err
	}
	s.h.metrics.EventSent()
	return nil
}

// finish deregisters the session. Logout revokes the pair; otherwise only
// the connection address is cleared and the token stays valid.
func (s *session) finish(ctx context.Context, err error) {
	kind := KindOf(err)
	if kind.Graceful() {
		s.log.Info("session ended", zap.Stringer("reason", kind))
	} else {
		s.log.Warn("session ended", zap.Stringer("reason", kind), zap.Error(err))
	}

	if kind.Logout(s.rotated) {
		if lerr := s.h.sessions.Logout(ctx, s.id, s.token); lerr != nil {
			s.log.Error("logout", zap.Error(lerr))
		}
	} else if eerr := s.h.sessions.EndConnectionSession(ctx, s.id, s.addr); eerr != nil {
		s.log.Error("end connection session", zap.Error(eerr))
	}
	if s.rcv != nil {
		s.h.bus.Unsubscribe(s.rcv)
	}

	if s.state == SteadyState {
		s.h.metrics.SessionEnded(kind.String())
	} else {
		s.h.metrics.Handshake(kind.String())
	}
	s.state = Done
}

// hashAddr returns the limiter key of the client address.
func hashAddr(addr netip.AddrPort) []byte {
	return limiter.HashIP(addr.Addr())
}
