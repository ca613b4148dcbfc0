package profile

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrRestricted    = errors.New("operation restricted")
	ErrPersistence   = errors.New("persistence error")
	ErrOwnerNotFound = errors.New("owner not loaded")

	ErrNotFound       = errors.New("profile not found")
	ErrAlreadyActive  = errors.New("profile already active")
	ErrDuplicate      = errors.New("profile already exists")
	ErrLimitReached   = errors.New("profile limit reached")
	ErrActiveProfile  = errors.New("cannot delete the active profile")
	ErrDefaultProfile = errors.New("cannot delete the default profile")
	ErrNotPermitted   = errors.New("not permitted")
	ErrSwitching      = errors.New("already switching")
	ErrInCombat       = errors.New("in combat")
	ErrSwitchTarget   = errors.New("profile is the target of a pending switch")
	ErrInvalidName    = errors.New("invalid profile name")
	ErrNameTooLong    = errors.New("profile name too long")
	ErrSwitchNotFound = errors.New("no switch in progress")
)

// ValidationError reports a request that can never succeed as issued.
type ValidationError struct {
	Field  string
	Reason error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ErrValidation.Error()
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %v", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Reason
}

// RestrictionError reports a request refused because of transient owner
// state. RemainingSeconds is set for combat restrictions.
type RestrictionError struct {
	Reason           error
	RemainingSeconds int
}

func (e *RestrictionError) Error() string {
	if e == nil {
		return ErrRestricted.Error()
	}
	if e.RemainingSeconds > 0 {
		return fmt.Sprintf("%v (%ds remaining)", e.Reason, e.RemainingSeconds)
	}
	return e.Reason.Error()
}

func (e *RestrictionError) Is(target error) bool { return target == ErrRestricted }

func (e *RestrictionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Reason
}

// PersistenceError reports a backend operation that failed after the retry
// budget was spent.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ErrPersistence.Error()
	}
	return fmt.Sprintf("%s: %s failed after %d attempts: %v", ErrPersistence, e.Op, e.Attempts, e.Err)
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func Invalid(field string, reason error) error {
	return &ValidationError{Field: field, Reason: reason}
}

func Restricted(reason error, remainingSeconds int) error {
	return &RestrictionError{Reason: reason, RemainingSeconds: remainingSeconds}
}
