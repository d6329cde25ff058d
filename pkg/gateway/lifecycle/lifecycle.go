// Package lifecycle holds process state shared by handlers: when the
// process started and whether it is draining calls before shutdown.
package lifecycle

import (
	"sync/atomic"
	"time"
)

type Lifecycle struct {
	started  time.Time
	now      func() time.Time
	draining atomic.Bool
}

func New(now func() time.Time) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{started: now(), now: now}
}

// Drain marks the process as no longer accepting calls.
func (l *Lifecycle) Drain() {
	if l == nil {
		return
	}
	l.draining.Store(true)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

func (l *Lifecycle) Uptime() time.Duration {
	if l == nil {
		return 0
	}
	return l.now().Sub(l.started).Truncate(time.Second)
}
