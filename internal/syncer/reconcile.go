package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/livesync/internal/cache"
	"github.com/and161185/livesync/internal/config"
	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/event"
	"github.com/and161185/livesync/internal/metrics"
	"github.com/and161185/livesync/internal/model"
	"github.com/and161185/livesync/internal/repository"
)

// Reconciler builds the event burst sent right after the handshake.
type Reconciler struct {
	Accounts   repository.AccountRepository
	Chat       repository.ChatRepository
	Cache      *cache.Cache
	Components config.Components
	Metrics    *metrics.Metrics
	Log        *zap.Logger
}

// Reconcile checks every client record and returns the events to send in
// order. Unknown categories are ignored. The account sync version marker,
// if any, is the last element.
func (r *Reconciler) Reconcile(ctx context.Context, id uuid.UUID, versions []model.SyncVersionFromClient) ([]event.Event, error) {
	var (
		burst  []event.Event
		marker *event.Event
		chat   *model.ChatState
	)

	for _, v := range versions {
		switch {
		case v.DataType == model.SyncAccount:
			if !r.Components.Account {
				continue
			}
			evs, m, err := r.account(ctx, id, v.Version)
			if err != nil {
				return nil, err
			}
			burst = append(burst, evs...)
			if m != nil {
				marker = m
			}

		case v.DataType.IsChat():
			if !r.Components.Chat {
				continue
			}
			if chat == nil {
				s, err := r.Chat.ChatState(ctx, id)
				if err != nil {
					return nil, fmt.Errorf("reconcile %s: chat state: %w", id, err)
				}
				chat = &s
			}
			ev, ok, err := r.chat(ctx, id, chat, v)
			if err != nil {
				return nil, err
			}
			if ok {
				burst = append(burst, ev)
			}

		default:
			r.Log.Debug("ignoring unknown sync data type",
				zap.Stringer("account", id), zap.Uint8("data_type", uint8(v.DataType)))
		}
	}

	if r.Components.Chat {
		n, err := r.Chat.PendingMessageCount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: pending messages: %w", id, err)
		}
		if n > 0 {
			burst = append(burst, event.Simple(event.NewMessageReceived))
		}
	}

	if marker != nil {
		burst = append(burst, *marker)
	}
	return burst, nil
}

func (r *Reconciler) account(ctx context.Context, id uuid.UUID, client model.SyncVersion) ([]event.Event, *event.Event, error) {
	unlock := lockAccount(id)
	defer unlock()

	a, err := r.Cache.Account(id)
	if errors.Is(err, errs.ErrNotInCache) {
		a, err = r.Accounts.Account(ctx, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reconcile %s: account: %w", id, err)
	}

	outcome := Check(client, a.SyncVersion)
	r.Metrics.Reconciled(model.SyncAccount.String(), outcome.String())
	switch outcome {
	case DoNothing:
		return nil, nil, nil
	case ResetAndSync:
		if err := r.Accounts.ResetAccountSyncVersion(ctx, id); err != nil {
			return nil, nil, fmt.Errorf("reconcile %s: reset account version: %w", id, err)
		}
		// The store is the source of truth after the reset.
		if a, err = r.Accounts.Account(ctx, id); err != nil {
			return nil, nil, fmt.Errorf("reconcile %s: account after reset: %w", id, err)
		}
		if _, err := cache.Put[model.Account, cache.AccountKind](r.Cache, id, a); err != nil {
			return nil, nil, err
		}
	}

	m := event.SyncVersion(a.SyncVersion)
	return event.AccountEvents(a), &m, nil
}

func (r *Reconciler) chat(ctx context.Context, id uuid.UUID, s *model.ChatState, v model.SyncVersionFromClient) (event.Event, bool, error) {
	server, _ := s.Version(v.DataType)

	outcome := Check(v.Version, *server)
	r.Metrics.Reconciled(v.DataType.String(), outcome.String())
	switch outcome {
	case DoNothing:
		return event.Event{}, false, nil
	case ResetAndSync:
		if err := r.Chat.ResetChatSyncVersion(ctx, id, v.DataType); err != nil {
			return event.Event{}, false, fmt.Errorf("reconcile %s: reset %s version: %w", id, v.DataType, err)
		}
		*server = 0
	}

	ev, _ := event.ForChat(v.DataType)
	return ev, true, nil
}
