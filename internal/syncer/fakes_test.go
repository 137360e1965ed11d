package syncer

import (
	"context"
	"sync"

	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
)

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]model.Account
	resets   int
	err      error
	onReset  func()
}

func (f *fakeAccounts) AccountIDs(context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, 0, len(f.accounts))
	for id := range f.accounts {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeAccounts) Account(_ context.Context, id uuid.UUID) (model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return model.Account{}, errs.ErrNotFound
	}
	return a, nil
}

func (f *fakeAccounts) UpdateAccount(_ context.Context, id uuid.UUID, a model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.accounts[id] = a
	return nil
}

func (f *fakeAccounts) ResetAccountSyncVersion(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	a := f.accounts[id]
	a.SyncVersion = 0
	f.accounts[id] = a
	f.resets++
	hook := f.onReset
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeAccounts) stored(id uuid.UUID) model.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id]
}

func (f *fakeAccounts) Profile(context.Context, uuid.UUID) (model.Profile, error) {
	return model.Profile{}, nil
}

func (f *fakeAccounts) LocationKey(context.Context, uuid.UUID) (model.LocationKey, error) {
	return model.LocationKey{}, nil
}

type fakeChat struct {
	mu      sync.Mutex
	state   map[uuid.UUID]model.ChatState
	pending map[uuid.UUID]int
	resets  []model.SyncDataType
	err     error
}

func (f *fakeChat) ChatState(_ context.Context, id uuid.UUID) (model.ChatState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.ChatState{}, f.err
	}
	return f.state[id], nil
}

func (f *fakeChat) ResetChatSyncVersion(_ context.Context, id uuid.UUID, t model.SyncDataType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state[id]
	v, _ := s.Version(t)
	*v = 0
	f.state[id] = s
	f.resets = append(f.resets, t)
	return nil
}

func (f *fakeChat) IncrementChatSyncVersion(_ context.Context, id uuid.UUID, t model.SyncDataType) (model.SyncVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state[id]
	v, _ := s.Version(t)
	*v = v.Next()
	f.state[id] = s
	return *v, nil
}

func (f *fakeChat) PendingMessageCount(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[id], nil
}

type pushRecorder struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (p *pushRecorder) TriggerPushCheck(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
}
