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
	"testing"

	"github.com/google/go-cmp/cmp"
)

const correlationID = "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0"

func validCreate() string {
	return `{
		"id": "job-1",
		"correlationId": "` + correlationID + `",
		"type": "create_session",
		"target": {"host": "db.internal", "port": 5432, "database": "orders"},
		"role": "read",
		"ttlMinutes": 30,
		"requester": {"userId": "u-123", "email": "dev@example.com"},
		"reason": "debug incident 4821"
	}`
}

func TestDecodeCreateSession(t *testing.T) {
	j, err := Decode([]byte(validCreate()))
	if err != nil {
		t.Fatalf("Decode(...): unexpected error: %v", err)
	}

	want := &Job{
		ID:            "job-1",
		CorrelationID: correlationID,
		Type:          TypeCreateSession,
		Target:        &Target{Host: "db.internal", Port: 5432, Database: "orders", SSLMode: "prefer"},
		Role:          RoleRead,
		TTLMinutes:    30,
		Requester:     &Requester{UserID: "u-123", Email: "dev@example.com"},
		Reason:        "debug incident 4821",
	}
	if diff := cmp.Diff(want, j); diff != "" {
		t.Errorf("Decode(...): -want, +got:\n%s", diff)
	}
}

func TestDecodeRejections(t *testing.T) {
	longReason := make([]byte, MaxReasonLength+1)
	for i := range longReason {
		longReason[i] = 'x'
	}

	cases := map[string]struct {
		reason    string
		raw       string
		wantField string
	}{
		"MalformedJSON": {
			reason:    "A payload that is not JSON fails on the payload itself.",
			raw:       `{"id": `,
			wantField: "payload",
		},
		"MissingID": {
			reason:    "The idempotency handle is mandatory.",
			raw:       `{"correlationId": "` + correlationID + `", "type": "cleanup"}`,
			wantField: "id",
		},
		"BadCorrelationID": {
			reason:    "The correlation id must be a UUID.",
			raw:       `{"id": "job-1", "correlationId": "nope", "type": "cleanup"}`,
			wantField: "correlationId",
		},
		"UnknownType": {
			reason:    "An unknown job type is rejected, not ignored.",
			raw:       `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "rotate"}`,
			wantField: "type",
		},
		"CreateWithoutTarget": {
			reason:    "create_session requires a target.",
			raw:       `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "create_session"}`,
			wantField: "target",
		},
		"PortOutOfRange": {
			reason: "Ports above 65535 are rejected.",
			raw: `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "create_session",
				"target": {"host": "db", "port": 70000, "database": "orders"},
				"role": "read", "ttlMinutes": 30, "requester": {"userId": "u-123"}}`,
			wantField: "target.port",
		},
		"BadDatabaseName": {
			reason: "Database names outside the identifier pattern are rejected.",
			raw: `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "create_session",
				"target": {"host": "db", "port": 5432, "database": "orders;drop"},
				"role": "read", "ttlMinutes": 30, "requester": {"userId": "u-123"}}`,
			wantField: "target.database",
		},
		"BadRole": {
			reason: "Roles outside the read/write/admin tiers are rejected.",
			raw: `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "create_session",
				"target": {"host": "db", "port": 5432, "database": "orders"},
				"role": "superuser", "ttlMinutes": 30, "requester": {"userId": "u-123"}}`,
			wantField: "role",
		},
		"ZeroTTL": {
			reason: "A zero TTL is below the one-minute floor.",
			raw: `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "create_session",
				"target": {"host": "db", "port": 5432, "database": "orders"},
				"role": "read", "ttlMinutes": 0, "requester": {"userId": "u-123"}}`,
			wantField: "ttlMinutes",
		},
		"TTLOverCeiling": {
			reason: "A TTL above the schema ceiling is rejected.",
			raw: `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "create_session",
				"target": {"host": "db", "port": 5432, "database": "orders"},
				"role": "read", "ttlMinutes": 1441, "requester": {"userId": "u-123"}}`,
			wantField: "ttlMinutes",
		},
		"MissingRequester": {
			reason: "create_session requires the requesting user.",
			raw: `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "create_session",
				"target": {"host": "db", "port": 5432, "database": "orders"},
				"role": "read", "ttlMinutes": 30}`,
			wantField: "requester.userId",
		},
		"ReasonTooLong": {
			reason: "The free-text reason is length-bounded.",
			raw: `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "create_session",
				"target": {"host": "db", "port": 5432, "database": "orders"},
				"role": "read", "ttlMinutes": 30, "requester": {"userId": "u-123"},
				"reason": "` + string(longReason) + `"}`,
			wantField: "reason",
		},
		"RevokeWithoutSession": {
			reason:    "revoke_session requires a session id.",
			raw:       `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "revoke_session"}`,
			wantField: "sessionId",
		},
		"NegativeGracePeriod": {
			reason:    "cleanup rejects a negative grace period.",
			raw:       `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "cleanup", "olderThanMinutes": -1}`,
			wantField: "olderThanMinutes",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			if err == nil {
				t.Fatalf("\n%s\nDecode(...): want error, got nil", tc.reason)
			}
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("\n%s\nDecode(...): want *ValidationError, got %T", tc.reason, err)
			}
			if ve.Field != tc.wantField {
				t.Errorf("\n%s\nDecode(...): want field %s, got %s", tc.reason, tc.wantField, ve.Field)
			}
		})
	}
}

func TestDecodeDefaults(t *testing.T) {
	t.Run("CleanupGracePeriod", func(t *testing.T) {
		j, err := Decode([]byte(`{"id": "job-1", "correlationId": "` + correlationID + `", "type": "cleanup"}`))
		if err != nil {
			t.Fatalf("Decode(...): unexpected error: %v", err)
		}
		if j.OlderThanMinutes == nil || *j.OlderThanMinutes != DefaultOlderThanMinutes {
			t.Errorf("Decode(...): want default grace period %d, got %v", DefaultOlderThanMinutes, j.OlderThanMinutes)
		}
	})

	t.Run("CleanupZeroGracePeriodKept", func(t *testing.T) {
		j, err := Decode([]byte(`{"id": "job-1", "correlationId": "` + correlationID + `", "type": "cleanup", "olderThanMinutes": 0}`))
		if err != nil {
			t.Fatalf("Decode(...): unexpected error: %v", err)
		}
		if j.OlderThanMinutes == nil || *j.OlderThanMinutes != 0 {
			t.Errorf("Decode(...): an explicit zero must not be replaced, got %v", j.OlderThanMinutes)
		}
	})

	t.Run("TTLCeilingAccepted", func(t *testing.T) {
		raw := `{"id": "job-1", "correlationId": "` + correlationID + `", "type": "create_session",
			"target": {"host": "db", "port": 5432, "database": "orders"},
			"role": "admin", "ttlMinutes": 1440, "requester": {"userId": "u-123"}}`
		if _, err := Decode([]byte(raw)); err != nil {
			t.Errorf("Decode(...): the ceiling itself is valid, got %v", err)
		}
	})
}
