package postgres

import (
	"context"
	"errors"

	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// CredentialRepo implements CredentialRepository using PostgreSQL.
type CredentialRepo struct{ db *DB }

// NewCredentialRepo constructs a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo { return &CredentialRepo{db: db} }

// Create inserts the account, its default profile and chat rows, and the
// credential in one transaction.
func (r *CredentialRepo) Create(ctx context.Context, c *model.Credential) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const insAccount = `INSERT INTO accounts (id) VALUES ($1)`
	const insProfile = `INSERT INTO profiles (account_id, version) VALUES ($1, $2)`
	const insChat = `INSERT INTO chat_state (account_id) VALUES ($1)`
	const insCred = `
INSERT INTO credentials (account_id, username, pwd_hash, salt_auth)
VALUES ($1, $2, $3, $4)`

	if _, err = tx.Exec(ctx, insAccount, c.AccountID); err != nil {
		return err
	}
	version, err := uuid.NewV4()
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, insProfile, c.AccountID, version); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, insChat, c.AccountID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, insCred, c.AccountID, c.Username, c.PwdHash, c.SaltAuth); err != nil {
		if isUniqueViolation(err) {
			err = errs.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetByUsername selects a credential by username.
func (r *CredentialRepo) GetByUsername(ctx context.Context, username string) (*model.Credential, error) {
	const q = `
SELECT account_id, username, pwd_hash, salt_auth, created_at
FROM credentials WHERE username=$1`
	var c model.Credential
	if err := r.db.Pool.QueryRow(ctx, q, username).Scan(&c.AccountID, &c.Username, &c.PwdHash, &c.SaltAuth, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
