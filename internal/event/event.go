// Package event delivers account change notifications to the live
// WebSocket session of an account.
package event

import (
	"github.com/and161185/livesync/internal/model"
)

// Name identifies the kind of an event on the wire.
type Name string

const (
	AccountStateChanged       Name = "AccountStateChanged"
	AccountPermissionsChanged Name = "AccountPermissionsChanged"
	ProfileVisibilityChanged  Name = "ProfileVisibilityChanged"
	AccountSyncVersionChanged Name = "AccountSyncVersionChanged"
	NewMessageReceived        Name = "NewMessageReceived"
	ReceivedLikesChanged      Name = "ReceivedLikesChanged"
	ReceivedBlocksChanged     Name = "ReceivedBlocksChanged"
	SentLikesChanged          Name = "SentLikesChanged"
	SentBlocksChanged         Name = "SentBlocksChanged"
	MatchesChanged            Name = "MatchesChanged"
)

// Event is one client notification. Only the field matching Name is set.
type Event struct {
	Name Name `json:"event"`

	AccountState *model.AccountState      `json:"latest_account_state,omitempty"`
	Permissions  *model.Permissions       `json:"latest_permissions,omitempty"`
	Visibility   *model.ProfileVisibility `json:"latest_profile_visibility,omitempty"`
	SyncVersion  *model.SyncVersion       `json:"latest_account_sync_version,omitempty"`
}

// Simple returns an event without payload.
func Simple(n Name) Event { return Event{Name: n} }

// AccountState returns an AccountStateChanged event.
func AccountState(s model.AccountState) Event {
	return Event{Name: AccountStateChanged, AccountState: &s}
}

// Permissions returns an AccountPermissionsChanged event.
func Permissions(p model.Permissions) Event {
	return Event{Name: AccountPermissionsChanged, Permissions: &p}
}

// Visibility returns a ProfileVisibilityChanged event.
func Visibility(v model.ProfileVisibility) Event {
	return Event{Name: ProfileVisibilityChanged, Visibility: &v}
}

// SyncVersion returns the AccountSyncVersionChanged marker. It must be the
// last event of a burst so the client commits its version only after
// applying everything before it.
func SyncVersion(v model.SyncVersion) Event {
	return Event{Name: AccountSyncVersionChanged, SyncVersion: &v}
}

// AccountEvents returns the sub-events bundled under the account sync
// version, without the marker.
func AccountEvents(a model.Account) []Event {
	return []Event{
		AccountState(a.State),
		Permissions(a.Permissions),
		Visibility(a.Visibility),
	}
}

var chatEvents = map[model.SyncDataType]Name{
	model.SyncReceivedBlocks: ReceivedBlocksChanged,
	model.SyncReceivedLikes:  ReceivedLikesChanged,
	model.SyncSentBlocks:     SentBlocksChanged,
	model.SyncSentLikes:      SentLikesChanged,
	model.SyncMatches:        MatchesChanged,
}

// ForChat returns the change event of a chat category.
func ForChat(t model.SyncDataType) (Event, bool) {
	n, ok := chatEvents[t]
	if !ok {
		return Event{}, false
	}
	return Simple(n), true
}
