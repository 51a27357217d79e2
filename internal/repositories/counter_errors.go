package repositories

import (
	"errors"
	"fmt"
)

// CounterErrorCode classifies sequence allocation failures.
type CounterErrorCode string

const (
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the next value would pass the counter's configured maximum.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
	// CounterErrorUnavailable means the store did not answer; no value was allocated.
	CounterErrorUnavailable CounterErrorCode = "counter_unavailable"
)

// CounterError is returned by CounterRepository implementations.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *CounterError) IsNotFound() bool { return false }

func (e *CounterError) IsConflict() bool { return false }

func (e *CounterError) IsUnavailable() bool { return e != nil && e.Code == CounterErrorUnavailable }

// NewCounterError builds a CounterError. An empty message defaults to the code.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

// CounterErrorOf returns the CounterError wrapped in err, or nil.
func CounterErrorOf(err error) *CounterError {
	var counterErr *CounterError
	if errors.As(err, &counterErr) {
		return counterErr
	}
	return nil
}
