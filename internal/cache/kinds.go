package cache

import (
	"fmt"

	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Kind plugs an entity type into the generic Get/Put/Fill pathway.
// Implementations are zero-size marker types.
type Kind[T any] interface {
	load(d *EntryData) (T, bool)
	replace(d *EntryData, v T) bool
	fill(d *EntryData, v T)
}

// AccountKind caches model.Account.
type AccountKind struct{}

func (AccountKind) load(d *EntryData) (model.Account, bool) {
	if d.Account == nil {
		return model.Account{}, false
	}
	return *d.Account, true
}

func (AccountKind) replace(d *EntryData, v model.Account) bool {
	if d.Account == nil {
		return false
	}
	*d.Account = v
	return true
}

func (AccountKind) fill(d *EntryData, v model.Account) { d.Account = &v }

// ProfileKind caches model.Profile. Location state is kept as is.
type ProfileKind struct{}

func (ProfileKind) load(d *EntryData) (model.Profile, bool) {
	if d.Profile == nil {
		return model.Profile{}, false
	}
	return d.Profile.Data, true
}

func (ProfileKind) replace(d *EntryData, v model.Profile) bool {
	if d.Profile == nil {
		return false
	}
	d.Profile.Data = v
	return true
}

func (ProfileKind) fill(d *EntryData, v model.Profile) {
	if d.Profile == nil {
		d.Profile = &CachedProfile{}
	}
	d.Profile.Data = v
}

// Get returns a copy of the cached value. ErrNotInCache means the caller
// must fall back to the persistent store.
func Get[T any, K Kind[T]](c *Cache, id uuid.UUID) (T, error) {
	var k K
	var ok bool
	v, err := Read(c, id, func(d *EntryData) T {
		var v T
		v, ok = k.load(d)
		return v
	})
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("account %s: %w", id, errs.ErrNotInCache)
	}
	return v, nil
}

// Put replaces the cached value after a persistent write. Values that were
// never loaded stay uncached and Put reports false.
func Put[T any, K Kind[T]](c *Cache, id uuid.UUID, v T) (bool, error) {
	var k K
	return Write(c, id, func(d *EntryData) (bool, error) {
		return k.replace(d, v), nil
	})
}

// Fill populates the cache with v regardless of the previous state.
func Fill[T any, K Kind[T]](c *Cache, id uuid.UUID, v T) error {
	var k K
	_, err := Write(c, id, func(d *EntryData) (struct{}, error) {
		k.fill(d, v)
		return struct{}{}, nil
	})
	return err
}

// Account returns the cached account snapshot.
func (c *Cache) Account(id uuid.UUID) (model.Account, error) {
	return Get[model.Account, AccountKind](c, id)
}

// Profile returns the cached profile snapshot.
func (c *Cache) Profile(id uuid.UUID) (model.Profile, error) {
	return Get[model.Profile, ProfileKind](c, id)
}
