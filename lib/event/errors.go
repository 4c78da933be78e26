// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"errors"
	"fmt"
)

// Error is a structured bus error. Callers use errors.As to extract
// the code:
//
//	var busErr *event.Error
//	if errors.As(err, &busErr) {
//	    if busErr.Code == event.ErrCodeCapacityExceeded { ... }
//	}
type Error struct {
	// Code is one of the ErrCode constants.
	Code string `json:"code"`
	// Message is the human-readable description.
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("event: %s: %s", e.Code, e.Message)
}

// Bus error codes.
const (
	ErrCodeCapacityExceeded = "capacity_exceeded"
	ErrCodeNotFound         = "not_found"
	ErrCodeInvalidState     = "invalid_state"
	ErrCodeTimeout          = "timeout"
	ErrCodeExecutionError   = "execution_error"
)

// IsError checks whether err is an *Error with the given code.
func IsError(err error, code string) bool {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr.Code == code
	}
	return false
}

// errorf builds an *Error with a formatted message.
func errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
