package event

import (
	"context"
	"errors"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// ErrOverflow is reported by a receiver whose buffer filled up. The session
// is dropped so the client reconnects and resynchronizes.
var ErrOverflow = errors.New("event buffer overflow")

// ErrSuperseded is reported by a receiver replaced by a newer session.
var ErrSuperseded = errors.New("session superseded")

// ErrClosed is reported by a receiver its own session unsubscribed.
var ErrClosed = errors.New("session closed")

// Bus is the event delivery contract used by the WebSocket session and by
// writers that change account data.
type Bus interface {
	Subscribe(id uuid.UUID) *Receiver
	Unsubscribe(r *Receiver)
	Publish(ctx context.Context, id uuid.UUID, ev Event) error
}

// Receiver is the event stream of one session. C is closed when the session
// ends for any reason; Err tells why.
type Receiver struct {
	C <-chan Event

	id  uuid.UUID
	ch  chan Event
	err error // guarded by Manager.mu
	mgr *Manager
}

// Account returns the account the receiver belongs to.
func (r *Receiver) Account() uuid.UUID { return r.id }

// Err returns the reason C was closed, or nil while it is open.
func (r *Receiver) Err() error {
	r.mgr.mu.Lock()
	defer r.mgr.mu.Unlock()
	return r.err
}

// Manager keeps at most one receiver per account.
type Manager struct {
	mu     sync.Mutex
	slots  map[uuid.UUID]*Receiver
	buffer int

	push chan uuid.UUID
	log  *zap.Logger
}

var _ Bus = (*Manager)(nil)

// NewManager constructs a manager whose receivers buffer up to buffer events.
func NewManager(buffer int, log *zap.Logger) *Manager {
	if buffer <= 0 {
		buffer = 1
	}
	return &Manager{
		slots:  make(map[uuid.UUID]*Receiver),
		buffer: buffer,
		push:   make(chan uuid.UUID, 1024),
		log:    log,
	}
}

// Subscribe installs a new receiver for id. A previous receiver of the same
// account is closed with ErrSuperseded.
func (m *Manager) Subscribe(id uuid.UUID) *Receiver {
	ch := make(chan Event, m.buffer)
	r := &Receiver{C: ch, id: id, ch: ch, mgr: m}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.slots[id]; ok {
		m.closeLocked(old, ErrSuperseded)
	}
	m.slots[id] = r
	return r
}

// Unsubscribe removes r if it is still the current receiver of its account.
func (m *Manager) Unsubscribe(r *Receiver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.slots[r.id]; ok && cur == r {
		delete(m.slots, r.id)
		m.closeLocked(r, ErrClosed)
	}
}

// Connected reports whether id has a live receiver.
func (m *Manager) Connected(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[id]
	return ok
}

func (m *Manager) closeLocked(r *Receiver, reason error) {
	if r.err != nil {
		return
	}
	r.err = reason
	close(r.ch)
}

// Publish enqueues ev for the live session of id. Without a session the
// event is dropped: the next handshake reconciles the state anyway.
func (m *Manager) Publish(_ context.Context, id uuid.UUID, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.slots[id]
	if !ok {
		return nil
	}
	select {
	case r.ch <- ev:
	default:
		delete(m.slots, id)
		m.closeLocked(r, ErrOverflow)
		m.log.Warn("event buffer overflow, dropping session", zap.Stringer("account", id))
	}
	return nil
}

// TriggerPushCheck queues a push notification check for id.
func (m *Manager) TriggerPushCheck(id uuid.UUID) {
	select {
	case m.push <- id:
	default:
		m.log.Warn("push check queue full", zap.Stringer("account", id))
	}
}

// RunPushChecks calls check for every queued account until ctx is done.
func (m *Manager) RunPushChecks(ctx context.Context, check func(ctx context.Context, id uuid.UUID)) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.push:
			check(ctx, id)
		}
	}
}
