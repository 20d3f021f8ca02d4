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
	"testing"

	"github.com/pkg/errors"
)

func TestErrorClassification(t *testing.T) {
	errBoom := errors.New("boom")

	cases := map[string]struct {
		reason        string
		err           error
		wantCode      Code
		wantRetryable bool
	}{
		"TypedError": {
			reason:        "A classified error should report its own code and retryability.",
			err:           NewError("postgres", CodeUserExists, "user already exists", false, errBoom),
			wantCode:      CodeUserExists,
			wantRetryable: false,
		},
		"WrappedTypedError": {
			reason:        "Classification should survive wrapping with pkg/errors.",
			err:           errors.Wrap(NewError("postgres", CodeUserDropFailed, "cannot drop user", true, errBoom), "outer"),
			wantCode:      CodeUserDropFailed,
			wantRetryable: true,
		},
		"PlainError": {
			reason:        "An unclassified fault is internal and retryable.",
			err:           errBoom,
			wantCode:      CodeInternalError,
			wantRetryable: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.wantCode {
				t.Errorf("\n%s\nCodeOf(...): want %s, got %s", tc.reason, tc.wantCode, got)
			}
			if got := IsRetryable(tc.err); got != tc.wantRetryable {
				t.Errorf("\n%s\nIsRetryable(...): want %t, got %t", tc.reason, tc.wantRetryable, got)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := NewError("postgres", CodeRoleNotFound, "role pack not found", false, nil)

	if !errors.Is(err, &Error{Code: CodeRoleNotFound}) {
		t.Error("errors.Is(...): errors sharing a code should match")
	}
	if errors.Is(err, &Error{Code: CodeUserExists}) {
		t.Error("errors.Is(...): errors with different codes should not match")
	}
}

func TestErrorUnwrap(t *testing.T) {
	errBoom := errors.New("boom")
	err := NewError("postgres", CodeCleanupFailed, "cannot clean up", true, errBoom)

	if !errors.Is(err, errBoom) {
		t.Error("errors.Is(...): the cause should be reachable through Unwrap")
	}
}
