package cache

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func newID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.Must(uuid.NewV4())
}

func TestInsertIfAbsent_Duplicate(t *testing.T) {
	t.Parallel()

	c := New()
	id := newID(t)
	require.NoError(t, c.InsertIfAbsent(id))
	require.ErrorIs(t, c.InsertIfAbsent(id), errs.ErrAlreadyExists)
	require.Equal(t, 1, c.Len())
}

func TestInsertIfAbsent_ConcurrentSameID(t *testing.T) {
	t.Parallel()

	c := New()
	id := newID(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.InsertIfAbsent(id) == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, ok)
}

func TestReadWrite_UnknownAccount(t *testing.T) {
	t.Parallel()

	c := New()
	_, err := Read(c, newID(t), func(d *EntryData) int { return 1 })
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = Write(c, newID(t), func(d *EntryData) (int, error) { return 1, nil })
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetPut_NotInCacheUntilFilled(t *testing.T) {
	t.Parallel()

	c := New()
	id := newID(t)
	require.NoError(t, c.InsertIfAbsent(id))

	_, err := c.Account(id)
	require.ErrorIs(t, err, errs.ErrNotInCache)

	stored, err := Put[model.Account, AccountKind](c, id, model.Account{State: model.AccountStateNormal})
	require.NoError(t, err)
	require.False(t, stored)

	require.NoError(t, Fill[model.Account, AccountKind](c, id, model.Account{State: model.AccountStateBanned}))
	acc, err := c.Account(id)
	require.NoError(t, err)
	require.Equal(t, model.AccountStateBanned, acc.State)

	stored, err = Put[model.Account, AccountKind](c, id, model.Account{State: model.AccountStateNormal, SyncVersion: 3})
	require.NoError(t, err)
	require.True(t, stored)
	acc, _ = c.Account(id)
	require.Equal(t, model.SyncVersion(3), acc.SyncVersion)
}

func TestGet_ReturnsCopy(t *testing.T) {
	t.Parallel()

	c := New()
	id := newID(t)
	require.NoError(t, c.InsertIfAbsent(id))
	require.NoError(t, Fill[model.Profile, ProfileKind](c, id, model.Profile{Name: "a"}))

	p, err := c.Profile(id)
	require.NoError(t, err)
	p.Name = "changed"

	p2, _ := c.Profile(id)
	require.Equal(t, "a", p2.Name)
}

func TestPending_TakeClears(t *testing.T) {
	t.Parallel()

	c := New()
	id := newID(t)
	require.NoError(t, c.InsertIfAbsent(id))
	require.NoError(t, c.AddPending(id, PendingNewMessage))
	require.NoError(t, c.AddPending(id, PendingReceivedLikesChanged))

	p, err := c.TakePending(id)
	require.NoError(t, err)
	require.Equal(t, PendingNewMessage|PendingReceivedLikesChanged, p)

	p, _ = c.TakePending(id)
	require.Zero(t, p)
}

func TestConcurrentWritesOnDifferentAccounts(t *testing.T) {
	t.Parallel()

	c := New()
	ids := make([]uuid.UUID, 16)
	for i := range ids {
		ids[i] = newID(t)
		require.NoError(t, c.InsertIfAbsent(ids[i]))
		require.NoError(t, Fill[model.Account, AccountKind](c, ids[i], model.Account{}))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := Write(c, id, func(d *EntryData) (struct{}, error) {
					d.Account.SyncVersion = d.Account.SyncVersion.Next()
					return struct{}{}, nil
				})
				require.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	for _, id := range ids {
		acc, err := c.Account(id)
		require.NoError(t, err)
		require.Equal(t, model.SyncVersion(8), acc.SyncVersion)
	}
}

func TestClearConnectionIf_KeepsSuccessor(t *testing.T) {
	t.Parallel()

	c := New()
	id := newID(t)
	require.NoError(t, c.InsertIfAbsent(id))
	first := netip.MustParseAddrPort("10.0.0.1:1000")
	second := netip.MustParseAddrPort("10.0.0.2:2000")
	require.NoError(t, c.Bind(id, "", "a", first))
	require.NoError(t, c.Bind(id, "a", "b", second))

	cleared, err := c.ClearConnectionIf(id, first)
	require.NoError(t, err)
	require.False(t, cleared)
	got, _ := c.Connection(id)
	require.Equal(t, second, got)

	cleared, err = c.ClearConnectionIf(id, second)
	require.NoError(t, err)
	require.True(t, cleared)
}
