// Package cache keeps the in-memory mirror of account state and the access
// token index used to authenticate requests without touching the database.
//
// # Locking
//
// The cache has three kinds of locks:
//
//   - accountsMu guards the existence of entries in the accounts map.
//   - tokensMu guards the token index map.
//   - Entry.mu guards the cached data of one account.
//
// accountsMu is only ever held for a map lookup or insert and is released
// before any other lock is taken. When both tokensMu and an Entry.mu are
// needed, tokensMu is acquired first. Entry.mu is held only for the duration
// of a single read or write closure and never across network I/O. Entries are
// never removed, so a pointer obtained under accountsMu stays valid after the
// lock is released.
package cache

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/location"
	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// PendingNotification is a bit set of events the client has not fetched yet.
type PendingNotification uint32

const (
	PendingNewMessage PendingNotification = 1 << iota
	PendingReceivedLikesChanged
)

// LocationData is the cached location index state of a profile.
type LocationData struct {
	Position model.LocationKey
	Iterator location.IteratorState
}

// CachedProfile is the cached profile with its location index state.
type CachedProfile struct {
	Data     model.Profile
	Location LocationData
}

// EntryData is the mutable per-account state. Nil Account or Profile means
// "not cached": callers must read the persistent store instead.
type EntryData struct {
	Account *model.Account
	Profile *CachedProfile

	// Connection is the address of the live WebSocket; invalid when disconnected.
	Connection netip.AddrPort
	// AccessToken is the token currently bound in the token index, if any.
	AccessToken model.AccessToken

	Pending PendingNotification
}

var noConnection netip.AddrPort

// Entry is shared between the accounts map and the token index.
type Entry struct {
	id   uuid.UUID
	mu   sync.RWMutex
	data EntryData
}

// ID returns the account id of the entry.
func (e *Entry) ID() uuid.UUID { return e.id }

// Cache is the process wide account cache. Construct once and pass the
// pointer to every component that needs it.
type Cache struct {
	accountsMu sync.RWMutex
	accounts   map[uuid.UUID]*Entry

	tokensMu sync.RWMutex
	tokens   map[model.AccessToken]*Entry
}

// New constructs an empty cache.
func New() *Cache {
	return &Cache{
		accounts: make(map[uuid.UUID]*Entry),
		tokens:   make(map[model.AccessToken]*Entry),
	}
}

// InsertIfAbsent creates an empty entry for id. The check and the insert
// happen in one exclusive critical section.
func (c *Cache) InsertIfAbsent(id uuid.UUID) error {
	c.accountsMu.Lock()
	defer c.accountsMu.Unlock()

	if _, ok := c.accounts[id]; ok {
		return fmt.Errorf("insert %s: %w", id, errs.ErrAlreadyExists)
	}
	c.accounts[id] = &Entry{id: id}
	return nil
}

// Len returns the number of cached accounts.
func (c *Cache) Len() int {
	c.accountsMu.RLock()
	defer c.accountsMu.RUnlock()
	return len(c.accounts)
}

// entry looks the entry up under the shared map lock and releases it.
func (c *Cache) entry(id uuid.UUID) (*Entry, error) {
	c.accountsMu.RLock()
	e, ok := c.accounts[id]
	c.accountsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	return e, nil
}

// Read runs fn under the shared lock of the account's entry.
// fn must not retain d.
func Read[T any](c *Cache, id uuid.UUID, fn func(d *EntryData) T) (T, error) {
	e, err := c.entry(id)
	if err != nil {
		var zero T
		return zero, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(&e.data), nil
}

// Write runs fn under the exclusive lock of the account's entry.
func Write[T any](c *Cache, id uuid.UUID, fn func(d *EntryData) (T, error)) (T, error) {
	e, err := c.entry(id)
	if err != nil {
		var zero T
		return zero, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.data)
}

// Connection returns the cached connection address of the account.
func (c *Cache) Connection(id uuid.UUID) (netip.AddrPort, error) {
	return Read(c, id, func(d *EntryData) netip.AddrPort { return d.Connection })
}

// ClearConnectionIf clears the connection address only while it still equals
// addr, so a superseded session cannot disconnect its successor.
func (c *Cache) ClearConnectionIf(id uuid.UUID, addr netip.AddrPort) (bool, error) {
	return Write(c, id, func(d *EntryData) (bool, error) {
		if d.Connection != addr {
			return false, nil
		}
		d.Connection = netip.AddrPort{}
		return true, nil
	})
}

// TakePending returns and clears the pending notification flags.
func (c *Cache) TakePending(id uuid.UUID) (PendingNotification, error) {
	return Write(c, id, func(d *EntryData) (PendingNotification, error) {
		p := d.Pending
		d.Pending = 0
		return p, nil
	})
}

// AddPending sets notification flags for the account.
func (c *Cache) AddPending(id uuid.UUID, flags PendingNotification) error {
	_, err := Write(c, id, func(d *EntryData) (struct{}, error) {
		d.Pending |= flags
		return struct{}{}, nil
	})
	return err
}
