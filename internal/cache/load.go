package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/livesync/internal/config"
	"github.com/and161185/livesync/internal/location"
	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AccountSource reads account data from the persistent store.
type AccountSource interface {
	AccountIDs(ctx context.Context) ([]uuid.UUID, error)
	Account(ctx context.Context, id uuid.UUID) (model.Account, error)
	Profile(ctx context.Context, id uuid.UUID) (model.Profile, error)
	LocationKey(ctx context.Context, id uuid.UUID) (model.LocationKey, error)
}

// TokenSource reads the persisted access token of an account.
type TokenSource interface {
	AccessToken(ctx context.Context, id uuid.UUID) (model.AccessToken, error)
}

// Loader populates the cache from the persistent store.
type Loader struct {
	Accounts    AccountSource
	Tokens      TokenSource
	Index       location.Index
	Components  config.Components
	Log         *zap.Logger
	Parallelism int // entries populated concurrently; <= 0 means 8
}

// LoadAll creates an entry for every persisted account and populates it.
// Any failure aborts: the cache must mirror the store before serving traffic.
func (l *Loader) LoadAll(ctx context.Context, c *Cache) error {
	l.Log.Info("loading accounts into cache")

	ids, err := l.Accounts.AccountIDs(ctx)
	if err != nil {
		return fmt.Errorf("cache load: account ids: %w", err)
	}
	for _, id := range ids {
		if err := c.InsertIfAbsent(id); err != nil {
			return fmt.Errorf("cache load: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	n := l.Parallelism
	if n <= 0 {
		n = 8
	}
	g.SetLimit(n)
	for _, id := range ids {
		g.Go(func() error { return l.LoadEntry(gctx, c, id) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	l.Log.Info("cache loaded", zap.Int("accounts", len(ids)))
	return nil
}

// LoadEntry populates the existing entry of id. It is used at startup and
// when an account is referenced for the first time after registration.
func (l *Loader) LoadEntry(ctx context.Context, c *Cache, id uuid.UUID) error {
	token, err := l.Tokens.AccessToken(ctx, id)
	if err != nil {
		return fmt.Errorf("cache load %s: access token: %w", id, err)
	}
	if token != "" {
		if err := c.Bind(id, "", token, noConnection); err != nil {
			return fmt.Errorf("cache load: %w", err)
		}
	}

	var account *model.Account
	if l.Components.Account {
		a, err := l.Accounts.Account(ctx, id)
		if err != nil {
			return fmt.Errorf("cache load %s: account: %w", id, err)
		}
		account = &a
		if err := Fill[model.Account, AccountKind](c, id, a); err != nil {
			return err
		}
	}

	if !l.Components.Profile {
		return nil
	}
	profile, err := l.Accounts.Profile(ctx, id)
	if err != nil {
		return fmt.Errorf("cache load %s: profile: %w", id, err)
	}
	key, err := l.Accounts.LocationKey(ctx, id)
	if err != nil {
		return fmt.Errorf("cache load %s: location: %w", id, err)
	}
	_, err = Write(c, id, func(d *EntryData) (struct{}, error) {
		prev := location.IteratorState{}
		if d.Profile != nil {
			prev = d.Profile.Location.Iterator
		}
		d.Profile = &CachedProfile{
			Data: profile,
			Location: LocationData{
				Position: key,
				Iterator: l.Index.ResetIterator(prev, key),
			},
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}
	if account != nil && account.Visibility == model.VisibilityPublic {
		l.Index.Update(id, nil, key)
	}
	return nil
}
