package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/livesync/internal/cache"
	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/event"
	"github.com/and161185/livesync/internal/location"
	"github.com/and161185/livesync/internal/model"
	"github.com/and161185/livesync/internal/repository"
)

// PushTrigger queues a push notification check for an account.
type PushTrigger interface {
	TriggerPushCheck(id uuid.UUID)
}

// Notifier applies state-changing writes that advance a sync version and
// publishes the matching events to the live session.
type Notifier struct {
	Accounts repository.AccountRepository
	Chat     repository.ChatRepository
	Cache    *cache.Cache
	Bus      event.Bus
	Index    location.Index
	Push     PushTrigger
	Log      *zap.Logger
}

// Account returns the cached account state, reading the store when the
// account component never cached it.
func (n *Notifier) Account(ctx context.Context, id uuid.UUID) (model.Account, error) {
	a, err := n.Cache.Account(id)
	if errors.Is(err, errs.ErrNotInCache) {
		a, err = n.Accounts.Account(ctx, id)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("account %s: %w", id, err)
	}
	return a, nil
}

// AccountChanged applies mutate to the account state, advances the account
// sync version, persists and caches the result, then publishes the account
// events followed by the version marker.
func (n *Notifier) AccountChanged(ctx context.Context, id uuid.UUID, mutate func(a *model.Account)) (model.Account, error) {
	unlock := lockAccount(id)
	defer unlock()

	a, err := n.Account(ctx, id)
	if err != nil {
		return model.Account{}, fmt.Errorf("account changed: %w", err)
	}

	prev := a
	mutate(&a)
	a.SyncVersion = prev.SyncVersion.Next()

	if err := n.Accounts.UpdateAccount(ctx, id, a); err != nil {
		return model.Account{}, fmt.Errorf("account changed %s: store: %w", id, err)
	}
	if _, err := cache.Put[model.Account, cache.AccountKind](n.Cache, id, a); err != nil {
		return model.Account{}, err
	}
	if prev.Visibility != a.Visibility {
		n.reindex(id, a.Visibility == model.VisibilityPublic)
	}

	evs := append(event.AccountEvents(a), event.SyncVersion(a.SyncVersion))
	for _, ev := range evs {
		if err := n.Bus.Publish(ctx, id, ev); err != nil {
			return a, fmt.Errorf("account changed %s: publish: %w", id, err)
		}
	}
	return a, nil
}

func (n *Notifier) reindex(id uuid.UUID, public bool) {
	if n.Index == nil {
		return
	}
	key, err := cache.Read(n.Cache, id, func(d *cache.EntryData) *model.LocationKey {
		if d.Profile == nil {
			return nil
		}
		k := d.Profile.Location.Position
		return &k
	})
	if err != nil || key == nil {
		return
	}
	if public {
		n.Index.Update(id, nil, *key)
	} else {
		n.Index.Remove(id, *key)
	}
}

// CategoryChanged advances the version of a chat category and publishes its
// change event. Received likes of an offline account are also recorded as a
// pending notification.
func (n *Notifier) CategoryChanged(ctx context.Context, id uuid.UUID, t model.SyncDataType) (model.SyncVersion, error) {
	ev, ok := event.ForChat(t)
	if !ok {
		return 0, fmt.Errorf("category changed %s: %s is not a chat category", id, t)
	}

	v, err := n.Chat.IncrementChatSyncVersion(ctx, id, t)
	if err != nil {
		return 0, fmt.Errorf("category changed %s: store: %w", id, err)
	}
	if err := n.Bus.Publish(ctx, id, ev); err != nil {
		return v, fmt.Errorf("category changed %s: publish: %w", id, err)
	}
	if t == model.SyncReceivedLikes {
		n.pendingIfOffline(id, cache.PendingReceivedLikesChanged)
	}
	return v, nil
}

// MessageReceived notifies the account about a new pending message.
func (n *Notifier) MessageReceived(ctx context.Context, id uuid.UUID) error {
	if err := n.Bus.Publish(ctx, id, event.Simple(event.NewMessageReceived)); err != nil {
		return fmt.Errorf("message received %s: publish: %w", id, err)
	}
	n.pendingIfOffline(id, cache.PendingNewMessage)
	return nil
}

func (n *Notifier) pendingIfOffline(id uuid.UUID, flag cache.PendingNotification) {
	conn, err := n.Cache.Connection(id)
	if err != nil {
		n.Log.Warn("pending notification for unknown account", zap.Stringer("account", id))
		return
	}
	if conn.IsValid() {
		return
	}
	if err := n.Cache.AddPending(id, flag); err != nil {
		return
	}
	if n.Push != nil {
		n.Push.TriggerPushCheck(id)
	}
}
