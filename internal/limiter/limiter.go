// Package limiter locks out clients that keep presenting wrong refresh
// tokens during the connection handshake.
package limiter

import (
	"context"
	"crypto/sha256"
	"net/netip"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Limiter tracks failed refresh token checks per (account, client IP).
type Limiter interface {
	// Allow reports whether a connection attempt may proceed and, if not, for how long it stays blocked.
	Allow(ctx context.Context, id uuid.UUID, ipHash []byte) (bool, time.Duration, error)
	// Success resets the counters after a successful token check.
	Success(ctx context.Context, id uuid.UUID, ipHash []byte) error
	// Failure records a wrong token; it reports whether a block was placed.
	Failure(ctx context.Context, id uuid.UUID, ipHash []byte) (bool, time.Duration, error)
}

// HashIP returns a stable hash of the client IP so raw addresses are not
// stored. The port is ignored and IPv4-mapped addresses hash like IPv4.
func HashIP(addr netip.Addr) []byte {
	h := sha256.Sum256(addr.Unmap().AsSlice())
	return h[:]
}

// Nop allows everything. It is used when no database is configured.
type Nop struct{}

func (Nop) Allow(context.Context, uuid.UUID, []byte) (bool, time.Duration, error) {
	return true, 0, nil
}
func (Nop) Success(context.Context, uuid.UUID, []byte) error { return nil }
func (Nop) Failure(context.Context, uuid.UUID, []byte) (bool, time.Duration, error) {
	return false, 0, nil
}
