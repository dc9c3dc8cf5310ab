package remote

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LinearBackOff waits Base, 2*Base, 3*Base, ... between attempts.
type LinearBackOff struct {
	Base time.Duration

	attempt int64
}

// NextBackOff implements backoff.BackOff.
func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.Base * time.Duration(b.attempt)
}

// Reset implements backoff.BackOff.
func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// NewReconnectPolicy returns the reconnect schedule: linear delays, and
// backoff.Stop once maxAttempts delays have been handed out.
func NewReconnectPolicy(base time.Duration, maxAttempts int) backoff.BackOff {
	return backoff.WithMaxRetries(&LinearBackOff{Base: base}, uint64(maxAttempts))
}
