package stream

import "time"

// Backoff computes reconnect delays as min(base*2^attempt, max). The attempt
// counter only moves through Next and Reset.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

// Delay returns the delay for the current attempt without advancing it.
func (b *Backoff) Delay() time.Duration {
	if b.Base <= 0 {
		return 0
	}
	delay := b.Base
	for i := 0; i < b.attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Next returns the current delay and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Delay()
	b.attempt++
	return delay
}

// Reset returns the counter to zero after a successful connection.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempts reports how many delays have been handed out since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}
