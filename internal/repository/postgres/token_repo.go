package postgres

import (
	"context"
	"errors"

	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// TokenRepo implements TokenRepository using PostgreSQL. A missing row
// means the account is logged out.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

// RefreshToken selects the stored refresh token.
func (r *TokenRepo) RefreshToken(ctx context.Context, id uuid.UUID) ([]byte, error) {
	const q = `SELECT refresh_token FROM auth_tokens WHERE account_id=$1`
	var tok []byte
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&tok); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return tok, nil
}

// AccessToken selects the stored access token.
func (r *TokenRepo) AccessToken(ctx context.Context, id uuid.UUID) (model.AccessToken, error) {
	const q = `SELECT access_token FROM auth_tokens WHERE account_id=$1`
	var tok string
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&tok); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return model.AccessToken(tok), nil
}

// SetAuthPair replaces the stored pair.
func (r *TokenRepo) SetAuthPair(ctx context.Context, id uuid.UUID, p model.AuthPair) error {
	const q = `
INSERT INTO auth_tokens (account_id, access_token, refresh_token, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (account_id)
DO UPDATE SET access_token=EXCLUDED.access_token, refresh_token=EXCLUDED.refresh_token, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, id, string(p.Access), p.Refresh)
	if isUniqueViolation(err) {
		return errs.ErrTokenConflict
	}
	return err
}

// ClearAuthPair deletes the stored pair if it still carries access.
func (r *TokenRepo) ClearAuthPair(ctx context.Context, id uuid.UUID, access model.AccessToken) error {
	const q = `DELETE FROM auth_tokens WHERE account_id=$1 AND access_token=$2`
	_, err := r.db.Pool.Exec(ctx, q, id, string(access))
	return err
}
