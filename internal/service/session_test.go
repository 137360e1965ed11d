package service

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/and161185/livesync/internal/cache"
	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

func newSessionEnv(t *testing.T) (*SessionService, *fakeTokens, *cache.Cache, *fakePush, uuid.UUID) {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	c := cache.New()
	if err := c.InsertIfAbsent(id); err != nil {
		t.Fatal(err)
	}
	tokens := newFakeTokens()
	push := &fakePush{}
	return NewSessionService(tokens, c, push, zap.NewNop()), tokens, c, push, id
}

func TestSession_SetAuthPairAndLogout(t *testing.T) {
	t.Parallel()

	s, tokens, c, push, id := newSessionEnv(t)
	ctx := context.Background()
	addr := netip.MustParseAddrPort("10.0.0.9:4444")
	pair := model.AuthPair{Access: "acc", Refresh: []byte("ref")}

	if err := s.SetAuthPair(ctx, id, pair, addr); err != nil {
		t.Fatalf("SetAuthPair: %v", err)
	}
	if got, _ := s.RefreshToken(ctx, id); string(got) != "ref" {
		t.Fatalf("refresh token = %q", got)
	}
	if conn, _ := c.Connection(id); conn != addr {
		t.Fatalf("connection = %v", conn)
	}

	if err := s.Logout(ctx, id, pair.Access); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, ok := c.Resolve("acc"); ok {
		t.Fatalf("token still bound after logout")
	}
	if _, ok := tokens.pairs[id]; ok {
		t.Fatalf("pair still stored after logout")
	}
	if conn, _ := c.Connection(id); conn.IsValid() {
		t.Fatalf("connection not cleared")
	}
	if len(push.ids) != 1 {
		t.Fatalf("push check not triggered")
	}

	if err := s.Logout(ctx, id, pair.Access); err != nil {
		t.Fatalf("repeated logout must be harmless: %v", err)
	}

	tokens.clearErr = errors.New("db down")
	if err := s.Logout(ctx, id, ""); err == nil {
		t.Fatalf("want store error")
	}
}

func TestSession_ReplacedTokenLogoutKeepsSuccessor(t *testing.T) {
	t.Parallel()

	s, tokens, c, _, id := newSessionEnv(t)
	ctx := context.Background()
	a := model.AuthPair{Access: "acc-a", Refresh: []byte("ref-a")}
	b := model.AuthPair{Access: "acc-b", Refresh: []byte("ref-b")}
	addrB := netip.MustParseAddrPort("10.0.0.2:2222")

	if err := s.SetAuthPair(ctx, id, a, netip.MustParseAddrPort("10.0.0.1:1111")); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAuthPair(ctx, id, b, addrB); err != nil {
		t.Fatal(err)
	}

	if err := s.Logout(ctx, id, a.Access); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if got, _ := s.RefreshToken(ctx, id); string(got) != "ref-b" {
		t.Fatalf("successor pair removed, refresh=%q", got)
	}
	if _, ok := tokens.pairs[id]; !ok {
		t.Fatalf("successor pair not stored")
	}
	if conn, _ := c.Connection(id); conn != addrB {
		t.Fatalf("successor connection = %v", conn)
	}
	if owner, ok := c.Resolve(b.Access); !ok || owner != id {
		t.Fatalf("successor token unbound")
	}
}

func TestSession_EndKeepsToken(t *testing.T) {
	t.Parallel()

	s, _, c, push, id := newSessionEnv(t)
	ctx := context.Background()
	addr := netip.MustParseAddrPort("10.0.0.9:4444")
	if err := s.SetAuthPair(ctx, id, model.AuthPair{Access: "acc", Refresh: []byte("r")}, addr); err != nil {
		t.Fatal(err)
	}

	if err := s.EndConnectionSession(ctx, id, netip.MustParseAddrPort("10.0.0.1:1")); err != nil {
		t.Fatal(err)
	}
	if conn, _ := c.Connection(id); conn != addr {
		t.Fatalf("foreign session end cleared connection")
	}

	if err := s.EndConnectionSession(ctx, id, addr); err != nil {
		t.Fatal(err)
	}
	if conn, _ := c.Connection(id); conn.IsValid() {
		t.Fatalf("connection not cleared")
	}
	if owner, ok := c.Resolve("acc"); !ok || owner != id {
		t.Fatalf("token must stay bound")
	}
	if len(push.ids) != 2 {
		t.Fatalf("push checks = %d", len(push.ids))
	}
}

func TestSession_PendingAndPushCheck(t *testing.T) {
	t.Parallel()

	s, _, c, _, id := newSessionEnv(t)
	ctx := context.Background()

	if err := c.AddPending(id, cache.PendingNewMessage); err != nil {
		t.Fatal(err)
	}
	s.CheckPush(ctx, id)
	s.CheckPush(ctx, uuid.Must(uuid.NewV4()))

	if err := s.ResetPendingNotifications(ctx, id); err != nil {
		t.Fatal(err)
	}
	if p, _ := c.TakePending(id); p != 0 {
		t.Fatalf("pending not reset: %v", p)
	}
}
