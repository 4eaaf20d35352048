package sim

import "fmt"

// ValidationError reports a constructor or setter argument outside its domain.
// The target value is never modified when a ValidationError is returned.
type ValidationError struct {
	Entity string  // element, reservoir or society name
	Field  string  // offending field
	Value  float64 // rejected value
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("invalid %s=%g: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("%s: invalid %s=%g: %s", e.Entity, e.Field, e.Value, e.Reason)
}

func invalid(entity, field string, value float64, reason string) error {
	return &ValidationError{Entity: entity, Field: field, Value: value, Reason: reason}
}

// InvariantError is a fatal model fault detected during tick, such as a
// reservoir drawn below zero. The simulator stops the run when one is returned.
type InvariantError struct {
	Entity string
	Field  string
	Value  float64
	Time   Time
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated at %s: %s.%s=%g: %s", e.Time, e.Entity, e.Field, e.Value, e.Reason)
}
