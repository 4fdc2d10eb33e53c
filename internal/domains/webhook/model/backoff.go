package model

import "time"

const MaxBackoff = time.Hour

// Backoff doubles the delay per failed attempt starting at Initial, capped
// at Max (and never above one hour).
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: 30 * time.Second, Max: MaxBackoff}
}

// Delay returns the wait before the retry following failure number
// retryCount (1-based): Initial * 2^(retryCount-1).
func (b Backoff) Delay(retryCount int) time.Duration {
	limit := b.Max
	if limit <= 0 || limit > MaxBackoff {
		limit = MaxBackoff
	}
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultBackoff().Initial
	}
	if initial >= limit {
		return limit
	}
	if retryCount < 1 {
		retryCount = 1
	}

	delay := initial
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	return delay
}
