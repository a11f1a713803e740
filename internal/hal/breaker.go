package hal

import (
	"errors"
	"sync"
	"time"
)

// ErrUnavailable is returned without contacting the HAL service while the
// breaker is open.
var ErrUnavailable = errors.New("HAL service unavailable")

const (
	breakerThreshold = 5
	breakerCooldown  = 10 * time.Second
)

// breaker stops the client from hammering a HAL service that is down.
// After breakerThreshold consecutive failures it rejects calls until the
// cooldown passes, then lets a single trial call through. A successful trial
// closes it again; a failed one restarts the cooldown.
type breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	probing  bool
}

func newBreaker() *breaker {
	return &breaker{
		threshold: breakerThreshold,
		cooldown:  breakerCooldown,
		now:       time.Now,
	}
}

// allow reports whether a call may go out.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return nil
	}
	if b.probing || b.now().Sub(b.openedAt) < b.cooldown {
		return ErrUnavailable
	}
	b.probing = true
	return nil
}

// record feeds a call outcome back. Only transport failures and 5xx
// responses count against the service.
func (b *breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = b.now()
	}
}

// release ends a call that was cancelled by the caller without judging the
// service.
func (b *breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.threshold
}
