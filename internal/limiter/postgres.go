package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a sliding failure window and a
// fixed lockout.
type PG struct {
	db       querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a limiter over q (a pool or a transaction).
func NewPG(q querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{db: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

var _ Limiter = (*PG)(nil)

// Allow implements Limiter.
func (l *PG) Allow(ctx context.Context, id uuid.UUID, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM connect_limiter WHERE account_id=$1 AND ip_hash=$2`
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, q, id, ipHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if left := blockedUntil.Sub(l.now()); left > 0 {
			return false, left, nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success implements Limiter.
func (l *PG) Success(ctx context.Context, id uuid.UUID, ipHash []byte) error {
	const q = `DELETE FROM connect_limiter WHERE account_id=$1 AND ip_hash=$2`
	_, err := l.db.Exec(ctx, q, id, ipHash)
	return err
}

// Failure implements Limiter.
func (l *PG) Failure(ctx context.Context, id uuid.UUID, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO connect_limiter (account_id, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, 'epoch', now())
ON CONFLICT (account_id, ip_hash) DO UPDATE
SET
  fail_count = CASE WHEN now() - connect_limiter.updated_at > $3::interval THEN 1 ELSE connect_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.db.QueryRow(ctx, q, id, ipHash, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}

	const upd = `UPDATE connect_limiter SET blocked_until=$3 WHERE account_id=$1 AND ip_hash=$2`
	if _, err := l.db.Exec(ctx, upd, id, ipHash, l.now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
