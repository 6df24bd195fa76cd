// Package cycle orchestrates one end-to-end trading cycle: fetch,
// featurize, classify, vote, predict, fuse, risk-evaluate, verify,
// execute, stop-check. Each step carries a distinct error class with its
// own recovery policy; only genuinely unexpected failures escape a cycle.
package cycle

import (
	"errors"
	"fmt"
)

// ErrorClass is the taxonomy of cycle failures. Each class maps to a
// fixed policy: most skip the cycle and continue, feature errors degrade
// to fallbacks, and only system errors propagate out wrapped.
type ErrorClass string

const (
	ErrClassData       ErrorClass = "data"
	ErrClassFeature    ErrorClass = "feature"
	ErrClassModel      ErrorClass = "model"
	ErrClassStrategy   ErrorClass = "strategy"
	ErrClassConnection ErrorClass = "connection"
	ErrClassValue      ErrorClass = "value"
	ErrClassPreExec    ErrorClass = "pre_execution"
	ErrClassSystem     ErrorClass = "system"
)

// Error wraps a step failure with its class and the state it occurred in.
type Error struct {
	Class ErrorClass
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error in %s: %v", e.Class, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds a classified cycle error.
func newError(class ErrorClass, state State, err error) *Error {
	return &Error{Class: class, State: state, Err: err}
}

// ClassOf extracts the error class, defaulting unknown errors to system.
func ClassOf(err error) ErrorClass {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ErrClassSystem
}
