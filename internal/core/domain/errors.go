package domain

import "errors"

// Sentinel errors distinguishing the error taxonomy the scheduler and
// command surface react to differently: transient errors get retried with
// backoff, policy-invalid errors reject the whole import atomically,
// shortage reschedules the enforcer, and invariant-violated degrades a
// single key rather than the whole task.
var (
	ErrDatabaseUnavailable  = errors.New("database unavailable")
	ErrConstraintViolation  = errors.New("constraint violation")
	ErrPolicyInvalid        = errors.New("policy invalid")
	ErrShortage             = errors.New("key material shortage")
	ErrInvariantViolated    = errors.New("invariant violated")
)
