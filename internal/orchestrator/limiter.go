package orchestrator

import "context"

// Limiter is a process-wide counting semaphore bounding simultaneous
// outbound worker calls across all concurrent runs. The external model
// API is the scarce shared resource, so one limiter is constructed at
// process start and shared by every scheduler instance.
type Limiter struct {
	slots chan struct{}
}

// NewLimiter creates a limiter with n slots. n defaults to 24 when
// non-positive.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = 24
	}
	return &Limiter{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (l *Limiter) Release() {
	<-l.slots
}

// Cap returns the limiter's slot count.
func (l *Limiter) Cap() int {
	return cap(l.slots)
}
