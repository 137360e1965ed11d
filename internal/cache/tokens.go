package cache

import (
	"fmt"
	"net/netip"

	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Bind replaces the account's access token binding. The old token (if not
// empty) is removed and next is inserted in one critical section of the token
// index, so no reader observes both or neither. A next value held by another
// account is a conflict and leaves the index unchanged. A valid addr becomes
// the connection address; an invalid one keeps the current connection.
func (c *Cache) Bind(id uuid.UUID, old, next model.AccessToken, addr netip.AddrPort) error {
	if next == "" {
		return fmt.Errorf("bind %s: empty access token", id)
	}
	e, err := c.entry(id)
	if err != nil {
		return err
	}

	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()

	if holder, ok := c.tokens[next]; ok && holder != e {
		return fmt.Errorf("bind %s: %w", id, errs.ErrTokenConflict)
	}
	if old != "" && old != next {
		if holder, ok := c.tokens[old]; ok && holder == e {
			delete(c.tokens, old)
		}
	}

	e.mu.Lock()
	if e.data.AccessToken != "" && e.data.AccessToken != next && e.data.AccessToken != old {
		// Stale binding left by a caller that did not know the current token.
		if holder, ok := c.tokens[e.data.AccessToken]; ok && holder == e {
			delete(c.tokens, e.data.AccessToken)
		}
	}
	e.data.AccessToken = next
	if addr.IsValid() {
		e.data.Connection = addr
	}
	e.mu.Unlock()

	c.tokens[next] = e
	return nil
}

// Unbind clears the connection address and removes token from the index.
// Nothing changes unless token is the account's current binding, so a
// replaced token cannot disconnect the session that replaced it.
func (c *Cache) Unbind(id uuid.UUID, token model.AccessToken) error {
	e, err := c.entry(id)
	if err != nil {
		return err
	}

	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()

	holder, ok := c.tokens[token]
	if token == "" || !ok || holder != e {
		return fmt.Errorf("unbind %s: %w", id, errs.ErrNotFound)
	}
	delete(c.tokens, token)

	e.mu.Lock()
	e.data.Connection = netip.AddrPort{}
	if e.data.AccessToken == token {
		e.data.AccessToken = ""
	}
	e.mu.Unlock()
	return nil
}

// CurrentToken returns the access token bound to the account, or "".
func (c *Cache) CurrentToken(id uuid.UUID) (model.AccessToken, error) {
	return Read(c, id, func(d *EntryData) model.AccessToken { return d.AccessToken })
}

// Resolve returns the account holding token.
func (c *Cache) Resolve(token model.AccessToken) (uuid.UUID, bool) {
	c.tokensMu.RLock()
	defer c.tokensMu.RUnlock()

	e, ok := c.tokens[token]
	if !ok {
		return uuid.Nil, false
	}
	return e.id, true
}

// ResolveWithAddress is Resolve that also requires the cached connection to
// come from the same IP as addr. Ports are not compared.
func (c *Cache) ResolveWithAddress(token model.AccessToken, addr netip.Addr) (uuid.UUID, bool) {
	c.tokensMu.RLock()
	defer c.tokensMu.RUnlock()

	e, ok := c.tokens[token]
	if !ok {
		return uuid.Nil, false
	}
	e.mu.RLock()
	conn := e.data.Connection
	e.mu.RUnlock()

	if !conn.IsValid() || conn.Addr().Unmap() != addr.Unmap() {
		return uuid.Nil, false
	}
	return e.id, true
}
