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

package jobs

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// MaxTTLMinutes is the schema ceiling for a session TTL (one day). A
// deployment may configure a lower maximum; never a higher one.
const MaxTTLMinutes = 1440

// MaxReasonLength bounds the free-text reason on create_session jobs.
const MaxReasonLength = 256

var (
	sessionIDPattern = regexp.MustCompile(`^ses_[A-Za-z0-9]{4,60}$`)
	usernamePattern  = regexp.MustCompile(`^gk_[A-Za-z0-9]{1,60}$`)
	targetIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// A ValidationError reports the offending field and why it was rejected.
// Validation failures are never retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// ValidateJobID checks the idempotency handle's length bounds.
func ValidateJobID(id string) error {
	if len(id) < 1 || len(id) > 128 {
		return &ValidationError{Field: "id", Reason: "must be between 1 and 128 characters"}
	}
	return nil
}

// ValidateCorrelationID checks the correlation id is a UUID.
func ValidateCorrelationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Field: "correlationId", Reason: "must be a UUID"}
	}
	return nil
}

// ValidateTTL checks a TTL sits within [1, max] minutes.
func ValidateTTL(ttlMinutes, maxMinutes int) error {
	if ttlMinutes < 1 {
		return &ValidationError{Field: "ttlMinutes", Reason: "must be at least 1"}
	}
	if ttlMinutes > maxMinutes {
		return &ValidationError{Field: "ttlMinutes", Reason: fmt.Sprintf("must not exceed %d", maxMinutes)}
	}
	return nil
}

// ValidateSessionID checks the canonical session id shape.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return &ValidationError{Field: "sessionId", Reason: "must match ses_[A-Za-z0-9]{4,60}"}
	}
	return nil
}

// ValidateUsername checks an ephemeral username against the gk_ pattern.
func ValidateUsername(name string) error {
	if !usernamePattern.MatchString(name) {
		return &ValidationError{Field: "username", Reason: "must match gk_[A-Za-z0-9]{1,60}"}
	}
	return nil
}

// ValidateTargetID checks a target identifier (for example a database name).
func ValidateTargetID(id string) error {
	if !targetIDPattern.MatchString(id) {
		return &ValidationError{Field: "targetId", Reason: "must match [A-Za-z0-9_-]{1,64}"}
	}
	return nil
}

// ValidateReason checks the optional free-text reason length.
func ValidateReason(reason string) error {
	if len(reason) > MaxReasonLength {
		return &ValidationError{Field: "reason", Reason: fmt.Sprintf("must not exceed %d characters", MaxReasonLength)}
	}
	return nil
}
