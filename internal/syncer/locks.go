package syncer

import (
	"sync"

	"github.com/gofrs/uuid/v5"
)

// accountLocks serializes read-modify-write sequences of one account across
// Notifier and Reconciler. The cache entry lock is never held across store
// calls, so these stripes order the store write and the cache update.
var accountLocks [64]sync.Mutex

func lockAccount(id uuid.UUID) func() {
	mu := &accountLocks[int(id[len(id)-1])%len(accountLocks)]
	mu.Lock()
	return mu.Unlock
}
