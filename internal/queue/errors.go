package queue

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Failure taxonomy shared by the consumers.
var (
	ErrTransientUpstream = errors.New("transient upstream error")
	ErrMalformedResponse = errors.New("malformed upstream response")
	ErrStoreWrite        = errors.New("store write failure")
	ErrExhaustedRetries  = errors.New("exhausted retries")
)

// Failure kinds, used as dead-letter classification and metric labels.
const (
	KindTransient      = "transient_upstream"
	KindMalformed      = "malformed_response"
	KindStoreWrite     = "store_write"
	KindExhausted      = "exhausted_retries"
	KindInvalidPayload = "invalid_payload"
	KindPanic          = "panic"
)

// KindOf classifies err against the taxonomy.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformed
	case errors.Is(err, ErrStoreWrite):
		return KindStoreWrite
	case errors.Is(err, ErrExhaustedRetries):
		return KindExhausted
	default:
		return KindTransient
	}
}

// Backoff computes exponential delays with full jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewBackoff(base, maxDelay time.Duration) *Backoff {
	return &Backoff{
		Base: base,
		Max:  maxDelay,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Duration returns the delay before attempt+1, never below one second so SQS
// does not redeliver immediately.
func (b *Backoff) Duration(attempt int) time.Duration {
	if b.Base <= 0 {
		return time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	multiplier := math.Pow(2, float64(attempt-1))
	raw := time.Duration(float64(b.Base) * multiplier)
	if b.Max > 0 && (raw > b.Max || raw <= 0) {
		raw = b.Max
	}

	b.mu.Lock()
	n := b.rnd.Int63n(int64(raw) + 1)
	b.mu.Unlock()

	return max(time.Duration(n), time.Second)
}

// RetryPolicy decides between redelivery and dead-lettering for a failed attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     *Backoff
}

// Failed maps a failed attempt to an Outcome: a jittered retry while budget
// remains, a dead letter once attempt reaches MaxAttempts.
func (p RetryPolicy) Failed(attempt int, err error) Outcome {
	if attempt >= p.MaxAttempts {
		return DeadLetter(KindExhausted, fmt.Sprintf("%s after %d attempts: %v", KindOf(err), attempt, err))
	}
	if p.Backoff == nil {
		return RetryAfter(time.Second)
	}
	return RetryAfter(p.Backoff.Duration(attempt))
}
