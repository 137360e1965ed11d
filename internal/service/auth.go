// Package service contains application services for accounts and
// connection sessions.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/livesync/internal/cache"
	pkgcrypto "github.com/and161185/livesync/internal/crypto"
	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/model"
	"github.com/and161185/livesync/internal/repository"
)

// EntryLoader populates a freshly inserted cache entry.
type EntryLoader interface {
	LoadEntry(ctx context.Context, c *cache.Cache, id uuid.UUID) error
}

// AuthService registers accounts and signs them in.
type AuthService struct {
	creds  repository.CredentialRepository
	tokens repository.TokenRepository
	cache  *cache.Cache
	loader EntryLoader
	log    *zap.Logger
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	creds repository.CredentialRepository,
	tokens repository.TokenRepository,
	c *cache.Cache,
	loader EntryLoader,
	log *zap.Logger,
) *AuthService {
	return &AuthService{creds: creds, tokens: tokens, cache: c, loader: loader, log: log}
}

// Register creates a new account and its cache entry.
func (s *AuthService) Register(ctx context.Context, username, password string) (uuid.UUID, error) {
	if username == "" || password == "" {
		return uuid.Nil, errors.New("empty username/password")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	salt, err := pkgcrypto.RandBytes(pkgcrypto.SaltLen)
	if err != nil {
		return uuid.Nil, err
	}

	c := &model.Credential{
		AccountID: id,
		Username:  username,
		PwdHash:   pkgcrypto.HashPassword([]byte(password), salt),
		SaltAuth:  salt,
	}
	if err := s.creds.Create(ctx, c); err != nil {
		return uuid.Nil, err
	}

	if err := s.cache.InsertIfAbsent(id); err != nil {
		return uuid.Nil, err
	}
	if err := s.loader.LoadEntry(ctx, s.cache, id); err != nil {
		return uuid.Nil, fmt.Errorf("register %s: %w", id, err)
	}
	s.log.Info("account registered", zap.Stringer("account", id))
	return id, nil
}

// Login verifies the password and issues a new auth pair. The previous pair
// of the account stops working.
func (s *AuthService) Login(ctx context.Context, username, password string) (uuid.UUID, model.AuthPair, error) {
	c, err := s.creds.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return uuid.Nil, model.AuthPair{}, errs.ErrUnauthorized
		}
		return uuid.Nil, model.AuthPair{}, err
	}
	if !pkgcrypto.VerifyPassword([]byte(password), c.SaltAuth, c.PwdHash) {
		return uuid.Nil, model.AuthPair{}, errs.ErrUnauthorized
	}

	pair, err := pkgcrypto.NewAuthPair()
	if err != nil {
		return uuid.Nil, model.AuthPair{}, err
	}
	if err := storeAndBind(ctx, s.tokens, s.cache, c.AccountID, pair, netip.AddrPort{}); err != nil {
		return uuid.Nil, model.AuthPair{}, err
	}
	return c.AccountID, pair, nil
}

// storeAndBind persists pair and swaps the token index binding. A failed
// bind rolls the stored pair back so store and cache agree.
func storeAndBind(
	ctx context.Context,
	tokens repository.TokenRepository,
	c *cache.Cache,
	id uuid.UUID,
	pair model.AuthPair,
	addr netip.AddrPort,
) error {
	old, err := c.CurrentToken(id)
	if err != nil {
		return err
	}
	if err := tokens.SetAuthPair(ctx, id, pair); err != nil {
		return fmt.Errorf("store auth pair %s: %w", id, err)
	}
	if err := c.Bind(id, old, pair.Access, addr); err != nil {
		if cerr := tokens.ClearAuthPair(ctx, id, pair.Access); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return err
	}
	return nil
}
