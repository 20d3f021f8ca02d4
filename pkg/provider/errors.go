/*
Copyright 2025 The Gatekeeper Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package provider

import (
	"errors"
	"fmt"
)

// A Code is a stable, machine-readable error classification. Codes let the
// orchestrator and its callers decide retry policy without coupling to
// engine-specific error text.
type Code string

// Codes a provider or the orchestrator may raise.
const (
	CodeNotInitialized     Code = "NOT_INITIALIZED"
	CodeUserExists         Code = "USER_EXISTS"
	CodeRoleNotFound       Code = "ROLE_NOT_FOUND"
	CodeUserCreationFailed Code = "USER_CREATION_FAILED"
	CodeUserDropFailed     Code = "USER_DROP_FAILED"
	CodeUserListFailed     Code = "USER_LIST_FAILED"
	CodeCleanupFailed      Code = "CLEANUP_FAILED"
	CodeProviderNotFound   Code = "PROVIDER_NOT_FOUND"
	CodeProviderInitError  Code = "PROVIDER_INIT_ERROR"
	CodeRolePackError      Code = "ROLE_PACK_ERROR"
	CodeNotImplemented     Code = "NOT_IMPLEMENTED"
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeRevocationError    Code = "REVOCATION_ERROR"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// An Error is a classified provider failure.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Engine    string

	cause error
}

// NewError returns a classified error wrapping an optional cause.
func NewError(engine string, code Code, message string, retryable bool, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Engine:    engine,
		cause:     cause,
	}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is treats two provider errors with the same code as equivalent, so that
// errors.Is(err, &Error{Code: CodeUserExists}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// AsError extracts a classified error from an error chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeOf returns the classification of err, or CodeInternalError for
// unclassified faults.
func CodeOf(err error) Code {
	if pe, ok := AsError(err); ok {
		return pe.Code
	}
	return CodeInternalError
}

// IsRetryable reports whether the caller may retry the failed operation.
// Unclassified faults are considered retryable.
func IsRetryable(err error) bool {
	if pe, ok := AsError(err); ok {
		return pe.Retryable
	}
	return true
}
