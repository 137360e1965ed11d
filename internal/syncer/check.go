// Package syncer decides what a connecting client must receive for each
// synchronizable data category and emits change events afterwards.
package syncer

import "github.com/and161185/livesync/internal/model"

// Outcome is the result of comparing client and server sync versions.
type Outcome uint8

const (
	DoNothing Outcome = iota
	Sync
	ResetAndSync
)

func (o Outcome) String() string {
	switch o {
	case DoNothing:
		return "do_nothing"
	case Sync:
		return "sync"
	case ResetAndSync:
		return "reset_and_sync"
	default:
		return "unknown"
	}
}

// RecoverableWindow is how far the client may lag behind the server before
// the counter is considered ambiguous. A client ahead of the server shows
// up as a distance close to the modulus and is always out of the window.
const RecoverableWindow = 32

// Check compares one category. Ambiguity resolves to resending full state.
func Check(client, server model.SyncVersion) Outcome {
	if client == server {
		return DoNothing
	}
	if client == model.SyncVersionUnknown || server == model.SyncVersionUnknown {
		return ResetAndSync
	}
	if distance(client, server) > RecoverableWindow {
		return ResetAndSync
	}
	return Sync
}

// distance returns how many increments take client to server.
func distance(client, server model.SyncVersion) int {
	const mod = int(model.SyncVersionUnknown)
	return ((int(server)-int(client))%mod + mod) % mod
}
