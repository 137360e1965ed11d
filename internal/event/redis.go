package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannelPrefix prefixes the per-account Redis channel name.
const DefaultChannelPrefix = "livesync:events:"

// PubSub is the subset of *redis.Client used by the relay.
type PubSub interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisRelay is a Bus shared by several server processes. Publish goes
// through Redis; Run receives every account channel and hands events to the
// local Manager, which only delivers to sessions connected to this process.
type RedisRelay struct {
	rdb    PubSub
	local  *Manager
	prefix string
	log    *zap.Logger
}

var _ Bus = (*RedisRelay)(nil)

// NewRedisRelay constructs a relay over the local manager.
func NewRedisRelay(rdb PubSub, local *Manager, log *zap.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, local: local, prefix: DefaultChannelPrefix, log: log}
}

func (r *RedisRelay) channel(id uuid.UUID) string { return r.prefix + id.String() }

// Subscribe implements Bus.
func (r *RedisRelay) Subscribe(id uuid.UUID) *Receiver { return r.local.Subscribe(id) }

// Unsubscribe implements Bus.
func (r *RedisRelay) Unsubscribe(rcv *Receiver) { r.local.Unsubscribe(rcv) }

// Publish implements Bus.
func (r *RedisRelay) Publish(ctx context.Context, id uuid.UUID, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel(id), b).Err(); err != nil {
		return fmt.Errorf("relay publish %s: %w", id, err)
	}
	return nil
}

// Run receives relayed events until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer ps.Close()

	r.log.Info("event relay subscribed", zap.String("pattern", r.prefix+"*"))
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return nil
			}
			r.log.Warn("event relay receive", zap.Error(err))
			continue
		}
		r.deliver(ctx, msg)
	}
}

func (r *RedisRelay) deliver(ctx context.Context, msg *redis.Message) {
	raw, ok := strings.CutPrefix(msg.Channel, r.prefix)
	if !ok {
		return
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		r.log.Warn("event relay: bad channel", zap.String("channel", msg.Channel))
		return
	}
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		r.log.Warn("event relay: bad payload", zap.Stringer("account", id), zap.Error(err))
		return
	}
	_ = r.local.Publish(ctx, id, ev)
}
