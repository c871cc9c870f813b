// Package limiter implements the per-session login throttle as a pure state machine.
//
// A session that accumulates Threshold consecutive failures is locked out; each
// lockout in the same session lasts Increment longer than the previous one
// (60s, 120s, 180s, ...). A successful login clears everything.
package limiter

import (
	"math"
	"time"

	"github.com/and161185/cafe-backoffice/internal/model"
)

const (
	// Threshold is the number of consecutive failures that engages a lockout.
	Threshold = 3
	// Increment is added to the lockout duration on every engagement.
	Increment = 60 * time.Second
)

// Outcome is the result of a credential check fed into Step.
type Outcome int

const (
	Failure Outcome = iota
	Success
)

// Verdict classifies a Decision.
type Verdict int

const (
	// Allowed means the attempt may proceed (Check) or succeeded (Step).
	Allowed Verdict = iota
	// CooldownActive means a lockout is in force; no credential lookup may happen.
	CooldownActive
	// InvalidCredentials means the attempt failed without engaging a lockout.
	InvalidCredentials
	// LockoutEngaged means this very failure engaged a lockout.
	LockoutEngaged
)

// Decision is returned by Check and Step.
type Decision struct {
	Verdict Verdict
	// AttemptsRemaining before the next lockout (InvalidCredentials).
	AttemptsRemaining int
	// Wait is the remaining cooldown (CooldownActive) or the full
	// duration of the lockout that just engaged (LockoutEngaged).
	Wait time.Duration
}

// RetryAfterSeconds rounds Wait up to whole seconds, minimum 1 when Wait > 0.
func (d Decision) RetryAfterSeconds() int {
	if d.Wait <= 0 {
		return 0
	}
	return int(math.Ceil(d.Wait.Seconds()))
}

// Check reports whether a login attempt may touch the credential store at now.
func Check(st *model.ThrottleState, now time.Time) Decision {
	if st != nil && st.CooldownUntil != nil && now.Before(*st.CooldownUntil) {
		return Decision{Verdict: CooldownActive, Wait: st.CooldownUntil.Sub(now)}
	}
	return Decision{Verdict: Allowed}
}

// Step applies the outcome of a credential check and returns the next state.
// The input state is never mutated. A nil result state means "nothing to keep".
func Step(st *model.ThrottleState, out Outcome, now time.Time) (*model.ThrottleState, Decision) {
	if out == Success {
		return nil, Decision{Verdict: Allowed}
	}

	next := model.ThrottleState{}
	if st != nil {
		next = *st
	}
	next.FailedAttempts++

	if next.FailedAttempts < Threshold {
		return &next, Decision{
			Verdict:           InvalidCredentials,
			AttemptsRemaining: Threshold - next.FailedAttempts,
		}
	}

	next.FailedAttempts = 0
	next.CooldownSeconds += int(Increment / time.Second)
	wait := time.Duration(next.CooldownSeconds) * time.Second
	until := now.Add(wait)
	next.CooldownUntil = &until

	return &next, Decision{Verdict: LockoutEngaged, Wait: wait}
}
