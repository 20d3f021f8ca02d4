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

package agent

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/crossplane/crossplane-runtime/pkg/password"
)

// The agent owns identifier and password generation; providers receive the
// generated material as inputs and only enforce the name pattern at the
// database boundary.

const randomSuffixBytes = 6 // 12 hex characters, 48 bits

func randomSuffix() (string, error) {
	b := make([]byte, randomSuffixBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewSessionID returns a fresh ses_<hex12> session identifier.
func NewSessionID() (string, error) {
	s, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return "ses_" + s, nil
}

// NewUsername returns a fresh gk_<hex12> ephemeral username.
func NewUsername() (string, error) {
	s, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return "gk_" + s, nil
}

// NewPassword returns a fresh login password.
func NewPassword() (string, error) {
	return password.Generate()
}
