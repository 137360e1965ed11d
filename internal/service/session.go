package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/livesync/internal/cache"
	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/model"
	"github.com/and161185/livesync/internal/repository"
)

// PushTrigger queues a push notification check for an account.
type PushTrigger interface {
	TriggerPushCheck(id uuid.UUID)
}

// SessionService owns token rotation and the end of connection sessions.
type SessionService struct {
	tokens repository.TokenRepository
	cache  *cache.Cache
	push   PushTrigger
	log    *zap.Logger
}

// NewSessionService constructs SessionService.
func NewSessionService(tokens repository.TokenRepository, c *cache.Cache, push PushTrigger, log *zap.Logger) *SessionService {
	return &SessionService{tokens: tokens, cache: c, push: push, log: log}
}

// RefreshToken returns the stored refresh token of the account.
func (s *SessionService) RefreshToken(ctx context.Context, id uuid.UUID) ([]byte, error) {
	return s.tokens.RefreshToken(ctx, id)
}

// SetAuthPair persists pair, binds the new access token and records addr as
// the live connection.
func (s *SessionService) SetAuthPair(ctx context.Context, id uuid.UUID, pair model.AuthPair, addr netip.AddrPort) error {
	return storeAndBind(ctx, s.tokens, s.cache, id, pair, addr)
}

// Logout revokes token: the stored pair and the token binding are removed
// and the connection address is cleared. A token already replaced by a newer
// session or login is left alone together with its successor's state.
func (s *SessionService) Logout(ctx context.Context, id uuid.UUID, token model.AccessToken) error {
	var result error
	if err := s.tokens.ClearAuthPair(ctx, id, token); err != nil {
		result = fmt.Errorf("logout %s: %w", id, err)
	}
	switch err := s.cache.Unbind(id, token); {
	case errors.Is(err, errs.ErrNotFound):
		s.log.Info("logout of a replaced token skipped", zap.Stringer("account", id))
	case err != nil:
		result = errors.Join(result, err)
	default:
		s.log.Info("account logged out", zap.Stringer("account", id))
	}
	s.push.TriggerPushCheck(id)
	return result
}

// EndConnectionSession marks the account disconnected if addr is still its
// connection. The token stays valid.
func (s *SessionService) EndConnectionSession(_ context.Context, id uuid.UUID, addr netip.AddrPort) error {
	if _, err := s.cache.ClearConnectionIf(id, addr); err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	s.push.TriggerPushCheck(id)
	return nil
}

// ResetPendingNotifications drops pending flags once a session delivers
// state directly.
func (s *SessionService) ResetPendingNotifications(_ context.Context, id uuid.UUID) error {
	_, err := s.cache.TakePending(id)
	return err
}

// CheckPush runs for accounts queued by TriggerPushCheck. Delivery is done
// by an external notifier; this only decides whether one is needed.
func (s *SessionService) CheckPush(_ context.Context, id uuid.UUID) {
	type state struct {
		connected bool
		pending   cache.PendingNotification
	}
	st, err := cache.Read(s.cache, id, func(d *cache.EntryData) state {
		return state{connected: d.Connection.IsValid(), pending: d.Pending}
	})
	if err != nil {
		s.log.Warn("push check", zap.Stringer("account", id), zap.Error(err))
		return
	}
	if st.connected || st.pending == 0 {
		return
	}
	s.log.Info("push notification needed",
		zap.Stringer("account", id), zap.Uint32("pending", uint32(st.pending)))
}
