package domain

import (
	"math"
	"time"
)

// Lockout defaults: five consecutive failures lock the account for fifteen minutes.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 15 * time.Minute
)

// LockoutState captures the brute-force counters stored on a user row.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockoutPolicy is the account lockout state machine. It performs no I/O;
// callers persist the returned state together with the authentication decision.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// NewLockoutPolicy builds a policy, falling back to the defaults for non-positive values.
func NewLockoutPolicy(threshold int, duration time.Duration) LockoutPolicy {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	return LockoutPolicy{Threshold: threshold, Duration: duration}
}

// RecordFailure increments the failure counter. Once the counter is at or above
// the threshold every failure (re)sets the lock and the second return value is true.
// The counter is never reset here, so a failure after an expired lock relocks at once.
func (p LockoutPolicy) RecordFailure(state LockoutState, now time.Time) (LockoutState, bool) {
	next := LockoutState{FailedAttempts: state.FailedAttempts + 1}
	if state.LockedUntil != nil {
		until := *state.LockedUntil
		next.LockedUntil = &until
	}

	if next.FailedAttempts >= p.threshold() {
		until := now.Add(p.duration())
		next.LockedUntil = &until
		return next, true
	}

	return next, false
}

// RecordSuccess resets the counter and clears any lock.
func (p LockoutPolicy) RecordSuccess(LockoutState) LockoutState {
	return LockoutState{}
}

// IsLocked reports whether a lock is set and still in the future.
func (p LockoutPolicy) IsLocked(state LockoutState, now time.Time) bool {
	return state.LockedUntil != nil && state.LockedUntil.After(now)
}

// MinutesRemaining rounds the remaining lock time up to whole minutes.
func (p LockoutPolicy) MinutesRemaining(state LockoutState, now time.Time) int {
	if !p.IsLocked(state, now) {
		return 0
	}
	minutes := int(math.Ceil(state.LockedUntil.Sub(now).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func (p LockoutPolicy) threshold() int {
	if p.Threshold <= 0 {
		return DefaultLockoutThreshold
	}
	return p.Threshold
}

func (p LockoutPolicy) duration() time.Duration {
	if p.Duration <= 0 {
		return DefaultLockoutDuration
	}
	return p.Duration
}
