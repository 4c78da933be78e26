// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package orchestration

import (
	"errors"
	"fmt"
)

// Error is a structured orchestration error. Callers use errors.As to
// extract the code:
//
//	var orchErr *orchestration.Error
//	if errors.As(err, &orchErr) {
//	    if orchErr.Code == orchestration.ErrCodeOrchestrationDisabled { ... }
//	}
type Error struct {
	// Code is one of the ErrCode constants.
	Code string `json:"code"`
	// Message is the human-readable description.
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("orchestration: %s: %s", e.Code, e.Message)
}

// Orchestration error codes.
const (
	// ErrCodeOrchestrationDisabled marks operations that require the
	// full engine while the bridge is in basic mode.
	ErrCodeOrchestrationDisabled = "orchestration_disabled"

	// ErrCodeInvalidState marks operations whose collaborator is not
	// configured, such as store access without a store.
	ErrCodeInvalidState = "invalid_state"
)

// IsError checks whether err is an *Error with the given code.
func IsError(err error, code string) bool {
	var orchErr *Error
	if errors.As(err, &orchErr) {
		return orchErr.Code == code
	}
	return false
}

// errorf builds an *Error with a formatted message.
func errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
