package protocol

import "time"

// Reconnection and liveness policy shared by server and clients.
const (
	// DefaultBackoffInitial is the delay before the first reconnect attempt.
	DefaultBackoffInitial = time.Second
	// DefaultBackoffMax caps the delay between reconnect attempts.
	DefaultBackoffMax = 60 * time.Second
	// DefaultBackoffAttempts bounds reconnect attempts before the condition
	// becomes terminal and is surfaced to the operator.
	DefaultBackoffAttempts = 10

	// HeartbeatInterval is how often an active connection emits a heartbeat.
	HeartbeatInterval = 30 * time.Second
	// HeartbeatTimeout is the silence window after which a peer is declared
	// dead: three missed heartbeat intervals.
	HeartbeatTimeout = 90 * time.Second
)

// Backoff implements the bounded exponential reconnect policy: delays double
// from Initial up to Max, for at most MaxAttempts attempts. A successful
// connection resets the sequence. Backoff is not safe for concurrent use.
type Backoff struct {
	// Initial is the first delay.
	Initial time.Duration
	// Max caps the delay growth.
	Max time.Duration
	// MaxAttempts bounds the number of attempts; zero means the defaults
	// have not been applied yet.
	MaxAttempts int

	// attempt counts delays handed out since the last reset.
	attempt int
}

// NewBackoff returns a backoff with the default policy.
func NewBackoff() *Backoff {
	return &Backoff{
		Initial:     DefaultBackoffInitial,
		Max:         DefaultBackoffMax,
		MaxAttempts: DefaultBackoffAttempts,
	}
}

// Next returns the delay before the next attempt and whether an attempt is
// still allowed. Once attempts are exhausted it keeps returning false.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempt >= b.MaxAttempts {
		return 0, false
	}

	delay := b.Initial << b.attempt
	if delay > b.Max || delay <= 0 {
		delay = b.Max
	}

	b.attempt++

	return delay, true
}

// Reset restores the initial state after a successful connection.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns how many attempts have been consumed since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
