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

// Package provider defines the capability surface a database engine must
// satisfy to issue and reclaim ephemeral credentials.
package provider

import (
	"context"
	"time"
)

// A Connection locates a target database server.
type Connection struct {
	Host     string
	Port     int
	Database string
	SSLMode  string
}

// Credentials authenticate the administrative principal a provider uses to
// manage ephemeral logins. The password is write-only: it is never logged
// and never read back out of a provider.
type Credentials struct {
	User     string
	Password string
}

// A CreateUserRequest asks a provider to provision one ephemeral login.
// The caller owns username and password generation; the provider only
// enforces the name pattern at the database boundary.
type CreateUserRequest struct {
	Username        string
	Password        string
	RolePack        string
	TTLMinutes      int
	ConnectionLimit int
}

// A CreatedUser describes a freshly provisioned login.
type CreatedUser struct {
	Username        string
	DSN             string
	ExpiresAt       time.Time
	ConnectionLimit int
	Metadata        map[string]string
}

// An EphemeralUser is a currently provisioned login and its state.
type EphemeralUser struct {
	Username          string
	ExpiresAt         time.Time
	Expired           bool
	ConnectionLimit   int
	ActiveConnections int
}

// A CleanupResult reports the outcome of one cleanup candidate.
type CleanupResult struct {
	Username   string
	WasExpired bool
	Dropped    bool
	Error      string
}

// A RolePack is a named, versioned bundle of grants for one engine. Packs
// are installed idempotently and never mutated in place; a new version is a
// new pack.
type RolePack struct {
	Engine      string
	Name        string
	Version     string
	Description string
	Statements  []string
	Definition  map[string]string
}

// HealthStatus is the tri-state reported by a provider health check.
type HealthStatus string

// Health check states.
const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// Health is the result of a provider health check.
type Health struct {
	Status    HealthStatus
	Message   string
	CheckedAt time.Time
	Details   map[string]interface{}
}

// A Provider manages ephemeral database logins for one engine.
type Provider interface {
	// Initialize opens the admin connection pool and verifies the
	// bootstrap setup, failing fast on privilege mismatch.
	Initialize(ctx context.Context, conn Connection, creds Credentials) error

	// HealthCheck reports connectivity and per-check setup status.
	HealthCheck(ctx context.Context) Health

	// CreateEphemeralUser provisions one login with a hard expiry.
	CreateEphemeralUser(ctx context.Context, req CreateUserRequest) (*CreatedUser, error)

	// DropUser removes a login. It is idempotent: the boolean reports
	// whether a login was actually removed, and absence is not an error.
	DropUser(ctx context.Context, username string) (bool, error)

	// ListEphemeralUsers enumerates currently provisioned logins.
	ListEphemeralUsers(ctx context.Context) ([]EphemeralUser, error)

	// CleanupExpiredUsers drops logins whose expiry is older than now
	// minus the supplied grace period, returning one row per candidate.
	CleanupExpiredUsers(ctx context.Context, olderThanMinutes int) ([]CleanupResult, error)

	// AvailableRolePacks returns this engine's pack catalog.
	AvailableRolePacks(ctx context.Context) ([]RolePack, error)

	// InstallRolePack installs a pack at a fixed version, idempotently.
	InstallRolePack(ctx context.Context, pack RolePack) error

	// GenerateDSN builds the engine-specific connection string for the
	// supplied login. The result carries credentials and must never be
	// logged.
	GenerateDSN(conn Connection, username, password string) string

	// TestConnection is a best-effort reachability check of a DSN.
	TestConnection(ctx context.Context, dsn string) error

	// Close releases the pool and any background work. Subsequent calls
	// are no-ops.
	Close() error

	// Engine returns the engine tag, e.g. "postgres".
	Engine() string

	// Version returns the provider implementation version.
	Version() string
}
