// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// CredentialRepository stores sign-in credentials.
type CredentialRepository interface {
	// Create inserts the account with default state rows and its credential.
	Create(ctx context.Context, c *model.Credential) error
	// GetByUsername loads a credential by username.
	GetByUsername(ctx context.Context, username string) (*model.Credential, error)
}

// AccountRepository provides account and profile state.
type AccountRepository interface {
	// AccountIDs lists every persisted account.
	AccountIDs(ctx context.Context) ([]uuid.UUID, error)
	// Account loads the account-state snapshot.
	Account(ctx context.Context, id uuid.UUID) (model.Account, error)
	// UpdateAccount stores the account-state snapshot including its sync version.
	UpdateAccount(ctx context.Context, id uuid.UUID, a model.Account) error
	// ResetAccountSyncVersion sets the account sync version to 0.
	ResetAccountSyncVersion(ctx context.Context, id uuid.UUID) error
	// Profile loads the profile snapshot.
	Profile(ctx context.Context, id uuid.UUID) (model.Profile, error)
	// LocationKey loads the location index cell of the profile.
	LocationKey(ctx context.Context, id uuid.UUID) (model.LocationKey, error)
}

// TokenRepository stores the single auth pair of an account.
type TokenRepository interface {
	// RefreshToken returns the stored refresh token, nil if logged out.
	RefreshToken(ctx context.Context, id uuid.UUID) ([]byte, error)
	// AccessToken returns the stored access token, empty if logged out.
	AccessToken(ctx context.Context, id uuid.UUID) (model.AccessToken, error)
	// SetAuthPair replaces the stored pair.
	SetAuthPair(ctx context.Context, id uuid.UUID, p model.AuthPair) error
	// ClearAuthPair removes the stored pair while its access token is still
	// access. A pair already replaced by a newer login is kept.
	ClearAuthPair(ctx context.Context, id uuid.UUID, access model.AccessToken) error
}

// ChatRepository provides chat sync versions and pending messages.
type ChatRepository interface {
	// ChatState loads the chat category versions.
	ChatState(ctx context.Context, id uuid.UUID) (model.ChatState, error)
	// ResetChatSyncVersion sets the version of one chat category to 0.
	ResetChatSyncVersion(ctx context.Context, id uuid.UUID, t model.SyncDataType) error
	// IncrementChatSyncVersion advances one chat category version and returns the new value.
	IncrementChatSyncVersion(ctx context.Context, id uuid.UUID, t model.SyncDataType) (model.SyncVersion, error)
	// PendingMessageCount returns the number of messages not yet fetched by the account.
	PendingMessageCount(ctx context.Context, id uuid.UUID) (int, error)
}
