package circuitbreaker

import (
	"context"
	"time"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Cache is the shared store behind the gate. Writes are advisory and last
// writer wins; a missing entry reads as closed.
type Cache interface {
	GetState(ctx context.Context, provider string) (State, error)
	// SetState stores state for ttl. An open entry decays to half-open once
	// ttl has elapsed and disappears after the cache's half-open window.
	SetState(ctx context.Context, provider string, state State, ttl time.Duration) error
	// IncrementFailures counts a failure and returns the count so far. The
	// window is fixed: it starts at the first failure and lasts window.
	IncrementFailures(ctx context.Context, provider string, window time.Duration) (int64, error)
	ResetFailures(ctx context.Context, provider string) error
	// ClaimProbe hands the half-open trial call to exactly one caller. The
	// claim lapses after lease and is cleared by any SetState.
	ClaimProbe(ctx context.Context, provider string, lease time.Duration) (bool, error)
}

const DefaultHalfOpenWindow = time.Minute

// effectiveState applies open → half-open decay.
func effectiveState(stored State, openUntil, now time.Time) State {
	if stored == StateOpen && !now.Before(openUntil) {
		return StateHalfOpen
	}
	return stored
}
