// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Outcome labels recorded by the credential service.
const (
	OutcomeSuccess  = "success"
	OutcomeInvalid  = "invalid"
	OutcomeConflict = "conflict"
	OutcomeFailure  = "failure"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Recorder captures metric events for the application.
type Recorder interface {
	IncSignup(outcome string)
	IncLogin(outcome string)
	IncPasswordReset(outcome string)
	IncEmailCheck(outcome string)

	IncEmailCacheHit()
	IncEmailCacheMiss()
	IncEmailCacheError()

	ObserveHashDuration(duration time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
