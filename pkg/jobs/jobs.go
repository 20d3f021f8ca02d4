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

// Package jobs defines the tagged-union job contract consumed by the agent
// and the result shapes it returns.
package jobs

import (
	"encoding/json"
)

// Type tags a job variant.
type Type string

// Job variants.
const (
	TypeCreateSession Type = "create_session"
	TypeRevokeSession Type = "revoke_session"
	TypeCleanup       Type = "cleanup"
)

// Role is a permission tier backed by a role pack on the target engine.
type Role string

// Permission tiers.
const (
	RoleRead  Role = "read"
	RoleWrite Role = "write"
	RoleAdmin Role = "admin"
)

// SessionStatus is the observable state of a session.
type SessionStatus string

// Session states. Ready, failed, revoked, expired and not_found are
// terminal; once a DSN is issued the session stays observable as alive
// until revoked or expired.
const (
	StatusPending  SessionStatus = "pending"
	StatusReady    SessionStatus = "ready"
	StatusRevoked  SessionStatus = "revoked"
	StatusExpired  SessionStatus = "expired"
	StatusFailed   SessionStatus = "failed"
	StatusNotFound SessionStatus = "not_found"

	StatusCompleted SessionStatus = "completed"
)

// A Target locates the database a session is requested against.
type Target struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode,omitempty"`
}

// A Requester identifies who asked for a session.
type Requester struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

// A Job is one unit of work submitted to the agent. Which fields are set
// depends on Type. A job is immutable once accepted; its ID is the
// idempotency handle and never maps to two different results.
type Job struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlationId"`
	Type          Type   `json:"type"`

	// create_session fields.
	Target     *Target    `json:"target,omitempty"`
	Role       Role       `json:"role,omitempty"`
	TTLMinutes int        `json:"ttlMinutes,omitempty"`
	Requester  *Requester `json:"requester,omitempty"`
	Reason     string     `json:"reason,omitempty"`

	// revoke_session fields.
	SessionID string `json:"sessionId,omitempty"`

	// cleanup fields.
	OlderThanMinutes *int `json:"olderThanMinutes,omitempty"`
}

// DefaultOlderThanMinutes is the cleanup grace period applied when the job
// does not carry one.
const DefaultOlderThanMinutes = 5

// Decode parses a job payload, applies defaults, and validates it against
// the variant's schema. Failures are *ValidationError values.
func Decode(raw []byte) (*Job, error) {
	j := &Job{}
	if err := json.Unmarshal(raw, j); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: "malformed JSON: " + err.Error()}
	}

	if err := j.applyDefaultsAndValidate(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Job) applyDefaultsAndValidate() error {
	if err := ValidateJobID(j.ID); err != nil {
		return err
	}
	if err := ValidateCorrelationID(j.CorrelationID); err != nil {
		return err
	}

	switch j.Type {
	case TypeCreateSession:
		return j.validateCreate()
	case TypeRevokeSession:
		if j.SessionID == "" {
			return &ValidationError{Field: "sessionId", Reason: "must not be empty"}
		}
		return nil
	case TypeCleanup:
		if j.OlderThanMinutes == nil {
			d := DefaultOlderThanMinutes
			j.OlderThanMinutes = &d
		}
		if *j.OlderThanMinutes < 0 {
			return &ValidationError{Field: "olderThanMinutes", Reason: "must not be negative"}
		}
		return nil
	default:
		return &ValidationError{Field: "type", Reason: "unknown job type " + string(j.Type)}
	}
}

func (j *Job) validateCreate() error {
	if j.Target == nil {
		return &ValidationError{Field: "target", Reason: "is required"}
	}
	if j.Target.Host == "" {
		return &ValidationError{Field: "target.host", Reason: "must not be empty"}
	}
	if j.Target.Port < 1 || j.Target.Port > 65535 {
		return &ValidationError{Field: "target.port", Reason: "must be between 1 and 65535"}
	}
	if err := ValidateTargetID(j.Target.Database); err != nil {
		return &ValidationError{Field: "target.database", Reason: err.(*ValidationError).Reason}
	}
	if j.Target.SSLMode == "" {
		j.Target.SSLMode = "prefer"
	}

	switch j.Role {
	case RoleRead, RoleWrite, RoleAdmin:
	default:
		return &ValidationError{Field: "role", Reason: "must be one of read, write, admin"}
	}

	if err := ValidateTTL(j.TTLMinutes, MaxTTLMinutes); err != nil {
		return err
	}

	if j.Requester == nil || j.Requester.UserID == "" {
		return &ValidationError{Field: "requester.userId", Reason: "must not be empty"}
	}

	return ValidateReason(j.Reason)
}

// An ErrorDetail is the stable error shape carried in failed results.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// A CreateResult answers a create_session job.
type CreateResult struct {
	SessionID     string        `json:"sessionId"`
	Status        SessionStatus `json:"status"`
	DSN           string        `json:"dsn,omitempty"`
	ExpiresAt     string        `json:"expiresAt,omitempty"`
	Username      string        `json:"username,omitempty"`
	Error         *ErrorDetail  `json:"error,omitempty"`
	CorrelationID string        `json:"correlationId,omitempty"`
}

// A RevokeResult answers a revoke_session job.
type RevokeResult struct {
	Status        SessionStatus `json:"status"`
	Error         *ErrorDetail  `json:"error,omitempty"`
	CorrelationID string        `json:"correlationId,omitempty"`
}

// A CleanupResult answers a cleanup job.
type CleanupResult struct {
	Status        SessionStatus `json:"status"`
	CleanedCount  int           `json:"cleanedCount"`
	Error         *ErrorDetail  `json:"error,omitempty"`
	CorrelationID string        `json:"correlationId,omitempty"`
}
