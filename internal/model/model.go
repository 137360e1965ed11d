// Package model defines domain entities used by services, the cache and repositories.
package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// AccessToken is the opaque bearer credential bound to one live connection.
type AccessToken string

// AuthPair is the single valid token pair of an account.
type AuthPair struct {
	Access  AccessToken
	Refresh []byte
}

// Credential is the stored sign-in data of an account. Passwords are never stored in plaintext.
type Credential struct {
	AccountID uuid.UUID // PK, FK -> accounts.id
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-account auth salt
	CreatedAt time.Time
}

// AccountState is the lifecycle state of an account.
type AccountState uint8

const (
	AccountStateInitialSetup AccountState = iota
	AccountStateNormal
	AccountStateBanned
	AccountStatePendingDeletion
)

var accountStateNames = [...]string{"InitialSetup", "Normal", "Banned", "PendingDeletion"}

func (s AccountState) String() string {
	if int(s) < len(accountStateNames) {
		return accountStateNames[s]
	}
	return "Unknown"
}

// MarshalText encodes the state by name for client events.
func (s AccountState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *AccountState) UnmarshalText(b []byte) error {
	for i, n := range accountStateNames {
		if n == string(b) {
			*s = AccountState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown account state %q", b)
}

// Permissions are the capabilities granted to an account.
type Permissions struct {
	AdminModerateProfiles  bool `json:"admin_moderate_profiles,omitempty"`
	AdminViewAllProfiles   bool `json:"admin_view_all_profiles,omitempty"`
	AdminServerMaintenance bool `json:"admin_server_maintenance,omitempty"`
	UserViewPublicProfiles bool `json:"user_view_public_profiles,omitempty"`
}

// ProfileVisibility tells whether the profile is shown to others. Pending values
// wait for moderation before taking effect.
type ProfileVisibility uint8

const (
	VisibilityPendingPrivate ProfileVisibility = iota
	VisibilityPendingPublic
	VisibilityPrivate
	VisibilityPublic
)

var visibilityNames = [...]string{"PendingPrivate", "PendingPublic", "Private", "Public"}

func (v ProfileVisibility) String() string {
	if int(v) < len(visibilityNames) {
		return visibilityNames[v]
	}
	return "Unknown"
}

// MarshalText encodes the visibility by name for client events.
func (v ProfileVisibility) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText decodes a visibility name.
func (v *ProfileVisibility) UnmarshalText(b []byte) error {
	for i, n := range visibilityNames {
		if n == string(b) {
			*v = ProfileVisibility(i)
			return nil
		}
	}
	return fmt.Errorf("unknown profile visibility %q", b)
}

// IsPublic reports whether the visibility currently or soon makes the profile public.
func (v ProfileVisibility) IsPublic() bool {
	return v == VisibilityPublic || v == VisibilityPendingPublic
}

// Account is the account-state snapshot. State, Permissions and Visibility share one SyncVersion.
type Account struct {
	State       AccountState
	Permissions Permissions
	Visibility  ProfileVisibility
	SyncVersion SyncVersion
}

// Profile is the profile-state snapshot.
type Profile struct {
	Name    string    `json:"name"`
	Text    string    `json:"profile_text"`
	Age     int       `json:"age"`
	Version uuid.UUID `json:"version"`
}

// LocationKey is the cell of the location index the profile is currently stored in.
type LocationKey struct {
	X uint16 `json:"x"`
	Y uint16 `json:"y"`
}

// ChatState holds the per-category sync versions of chat related data.
type ChatState struct {
	ReceivedBlocks SyncVersion
	ReceivedLikes  SyncVersion
	SentBlocks     SyncVersion
	SentLikes      SyncVersion
	Matches        SyncVersion
}

// Version returns a pointer to the version of a chat category, or false for
// categories that are not part of the chat state.
func (c *ChatState) Version(t SyncDataType) (*SyncVersion, bool) {
	switch t {
	case SyncReceivedBlocks:
		return &c.ReceivedBlocks, true
	case SyncReceivedLikes:
		return &c.ReceivedLikes, true
	case SyncSentBlocks:
		return &c.SentBlocks, true
	case SyncSentLikes:
		return &c.SentLikes, true
	case SyncMatches:
		return &c.Matches, true
	default:
		return nil, false
	}
}
