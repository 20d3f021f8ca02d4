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
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestValidateSessionID(t *testing.T) {
	cases := map[string]struct {
		reason string
		id     string
		wantOK bool
	}{
		"Canonical":   {reason: "A ses_ prefix with hex body is the canonical shape.", id: "ses_a1b2c3d4e5f6", wantOK: true},
		"MinimumBody": {reason: "Four body characters is the floor.", id: "ses_abcd", wantOK: true},
		"TooShort":    {reason: "Three body characters is below the floor.", id: "ses_abc", wantOK: false},
		"NoPrefix":    {reason: "The ses_ prefix is mandatory.", id: "a1b2c3d4e5f6", wantOK: false},
		"BadRune":     {reason: "Only alphanumerics are allowed in the body.", id: "ses_a1b2;drop", wantOK: false},
		"Empty":       {reason: "An empty id never matches.", id: "", wantOK: false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateSessionID(tc.id)
			if (err == nil) != tc.wantOK {
				t.Errorf("\n%s\nValidateSessionID(%q): want ok %t, got %v", tc.reason, tc.id, tc.wantOK, err)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	cases := map[string]struct {
		reason string
		name   string
		wantOK bool
	}{
		"Canonical": {reason: "A gk_ prefix with hex body is the canonical shape.", name: "gk_a1b2c3d4e5f6", wantOK: true},
		"ShortBody": {reason: "A single body character is allowed.", name: "gk_a", wantOK: true},
		"NoPrefix":  {reason: "The gk_ prefix is mandatory.", name: "admin", wantOK: false},
		"TooLong":   {reason: "Bodies longer than sixty characters exceed the role name bound.", name: "gk_" + strings.Repeat("a", 61), wantOK: false},
		"Quoting":   {reason: "Quote characters never pass; names go into DDL.", name: `gk_a"b`, wantOK: false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateUsername(tc.name)
			if (err == nil) != tc.wantOK {
				t.Errorf("\n%s\nValidateUsername(%q): want ok %t, got %v", tc.reason, tc.name, tc.wantOK, err)
			}
		})
	}
}

func TestValidateTargetID(t *testing.T) {
	cases := map[string]struct {
		reason string
		id     string
		wantOK bool
	}{
		"Plain":      {reason: "Simple identifiers pass.", id: "orders", wantOK: true},
		"Separators": {reason: "Underscores and hyphens are allowed.", id: "orders_v2-replica", wantOK: true},
		"Empty":      {reason: "Empty identifiers are rejected.", id: "", wantOK: false},
		"TooLong":    {reason: "Identifiers above 64 characters are rejected.", id: strings.Repeat("a", 65), wantOK: false},
		"Injection":  {reason: "Statement separators never pass.", id: "orders;drop", wantOK: false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateTargetID(tc.id)
			if (err == nil) != tc.wantOK {
				t.Errorf("\n%s\nValidateTargetID(%q): want ok %t, got %v", tc.reason, tc.id, tc.wantOK, err)
			}
		})
	}
}

func TestValidateTTL(t *testing.T) {
	cases := map[string]struct {
		reason string
		ttl    int
		max    int
		wantOK bool
	}{
		"Floor":       {reason: "One minute is the floor.", ttl: 1, max: 60, wantOK: true},
		"Ceiling":     {reason: "The maximum itself is allowed.", ttl: 60, max: 60, wantOK: true},
		"Zero":        {reason: "Zero is below the floor.", ttl: 0, max: 60, wantOK: false},
		"Negative":    {reason: "Negative TTLs are below the floor.", ttl: -5, max: 60, wantOK: false},
		"OverCeiling": {reason: "One past the maximum is rejected.", ttl: 61, max: 60, wantOK: false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateTTL(tc.ttl, tc.max)
			if (err == nil) != tc.wantOK {
				t.Errorf("\n%s\nValidateTTL(%d, %d): want ok %t, got %v", tc.reason, tc.ttl, tc.max, tc.wantOK, err)
			}
		})
	}
}

func TestValidateJobID(t *testing.T) {
	if err := ValidateJobID(strings.Repeat("a", 128)); err != nil {
		t.Errorf("ValidateJobID(...): 128 characters is the ceiling, got %v", err)
	}
	if err := ValidateJobID(strings.Repeat("a", 129)); err == nil {
		t.Error("ValidateJobID(...): want error above 128 characters")
	}
	if err := ValidateJobID(""); err == nil {
		t.Error("ValidateJobID(...): want error for an empty id")
	}
}

func TestIsValidationError(t *testing.T) {
	if !IsValidationError(&ValidationError{Field: "x", Reason: "y"}) {
		t.Error("IsValidationError(...): want true for a *ValidationError")
	}
	if IsValidationError(errors.New("boom")) {
		t.Error("IsValidationError(...): want false for a plain error")
	}
}
