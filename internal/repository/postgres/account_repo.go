package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// AccountIDs lists all account ids.
func (r *AccountRepo) AccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	const q = `SELECT id FROM accounts ORDER BY id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Account selects the account-state snapshot.
func (r *AccountRepo) Account(ctx context.Context, id uuid.UUID) (model.Account, error) {
	const q = `
SELECT state, visibility, sync_version,
       perm_admin_moderate_profiles, perm_admin_view_all_profiles,
       perm_admin_server_maintenance, perm_user_view_public_profiles
FROM accounts WHERE id=$1`
	var (
		a                        model.Account
		state, visibility, syncV int16
	)
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(
		&state, &visibility, &syncV,
		&a.Permissions.AdminModerateProfiles, &a.Permissions.AdminViewAllProfiles,
		&a.Permissions.AdminServerMaintenance, &a.Permissions.UserViewPublicProfiles,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
		}
		return model.Account{}, err
	}
	a.State = model.AccountState(state)
	a.Visibility = model.ProfileVisibility(visibility)
	a.SyncVersion = model.SyncVersion(syncV)
	return a, nil
}

// UpdateAccount stores the account-state snapshot.
func (r *AccountRepo) UpdateAccount(ctx context.Context, id uuid.UUID, a model.Account) error {
	const q = `
UPDATE accounts
SET state=$2, visibility=$3, sync_version=$4,
    perm_admin_moderate_profiles=$5, perm_admin_view_all_profiles=$6,
    perm_admin_server_maintenance=$7, perm_user_view_public_profiles=$8
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id,
		int16(a.State), int16(a.Visibility), int16(a.SyncVersion),
		a.Permissions.AdminModerateProfiles, a.Permissions.AdminViewAllProfiles,
		a.Permissions.AdminServerMaintenance, a.Permissions.UserViewPublicProfiles,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// ResetAccountSyncVersion sets the account sync version to 0.
func (r *AccountRepo) ResetAccountSyncVersion(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE accounts SET sync_version=0 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// Profile selects the profile snapshot.
func (r *AccountRepo) Profile(ctx context.Context, id uuid.UUID) (model.Profile, error) {
	const q = `SELECT name, profile_text, age, version FROM profiles WHERE account_id=$1`
	var (
		p   model.Profile
		age int32
	)
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&p.Name, &p.Text, &age, &p.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Profile{}, fmt.Errorf("profile %s: %w", id, errs.ErrNotFound)
		}
		return model.Profile{}, err
	}
	p.Age = int(age)
	return p, nil
}

// LocationKey selects the location index cell of the profile.
func (r *AccountRepo) LocationKey(ctx context.Context, id uuid.UUID) (model.LocationKey, error) {
	const q = `SELECT location_x, location_y FROM profiles WHERE account_id=$1`
	var x, y int32
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&x, &y); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LocationKey{}, fmt.Errorf("location %s: %w", id, errs.ErrNotFound)
		}
		return model.LocationKey{}, err
	}
	return model.LocationKey{X: uint16(x), Y: uint16(y)}, nil
}
