package ws

import "time"

// Liveness fires when no ping was seen for the configured duration.
type Liveness struct {
	d time.Duration
	t *time.Timer
}

// NewLiveness starts the timer.
func NewLiveness(d time.Duration) *Liveness {
	return &Liveness{d: d, t: time.NewTimer(d)}
}

// C delivers once the connection is considered dead.
func (l *Liveness) C() <-chan time.Time { return l.t.C }

// Reset restarts the full timeout.
func (l *Liveness) Reset() { l.t.Reset(l.d) }

// Stop releases the timer.
func (l *Liveness) Stop() { l.t.Stop() }
