package session

import (
	"time"

	"golang.org/x/time/rate"
)

// inboundLimiter caps caller audio by frames and bytes per second. A frame
// is admitted only when both budgets allow it.
type inboundLimiter struct {
	now    func() time.Time
	frames *rate.Limiter
	bytes  *rate.Limiter
}

func newInboundLimiter(now func() time.Time, fps, bps, burstSeconds int) *inboundLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	l := &inboundLimiter{now: now}
	if fps > 0 {
		l.frames = rate.NewLimiter(rate.Limit(fps), fps*burstSeconds)
	}
	if bps > 0 {
		l.bytes = rate.NewLimiter(rate.Limit(bps), bps*burstSeconds)
	}
	return l
}

func (l *inboundLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	t := l.now()
	var frame *rate.Reservation
	if l.frames != nil {
		frame = l.frames.ReserveN(t, 1)
		if !frame.OK() || frame.DelayFrom(t) > 0 {
			frame.CancelAt(t)
			return false
		}
	}
	if l.bytes != nil && frameBytes > 0 {
		r := l.bytes.ReserveN(t, frameBytes)
		if !r.OK() || r.DelayFrom(t) > 0 {
			r.CancelAt(t)
			if frame != nil {
				frame.CancelAt(t)
			}
			return false
		}
	}
	return true
}
