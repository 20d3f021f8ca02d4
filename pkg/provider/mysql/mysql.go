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

// Package mysql is a placeholder provider for MySQL targets. Lifecycle
// operations are not implemented yet; only DSN shaping and reachability
// checks are real. The interface and error taxonomy match the PostgreSQL
// provider so a full implementation is a drop-in addition.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/gatekeeper-dev/gatekeeper/pkg/provider"
)

// EngineTag identifies this provider in the registry.
const EngineTag = "mysql"

const providerVersion = "0.1.0"

const errNotImplemented = "mysql provider is not implemented"

// A Provider is a stub for MySQL targets.
type Provider struct {
	log logging.Logger
}

// New returns the stub MySQL provider.
func New(log logging.Logger) *Provider {
	return &Provider{log: log.WithValues("engine", EngineTag)}
}

// Register installs the stub factory in the default registry.
func Register(log logging.Logger) {
	provider.Register(EngineTag, func() provider.Provider { return New(log) })
}

// Engine returns the engine tag.
func (p *Provider) Engine() string { return EngineTag }

// Version returns the provider implementation version.
func (p *Provider) Version() string { return providerVersion }

func (p *Provider) notImplemented() error {
	return provider.NewError(EngineTag, provider.CodeNotImplemented, errNotImplemented, false, nil)
}

// Initialize is not implemented.
func (p *Provider) Initialize(_ context.Context, _ provider.Connection, _ provider.Credentials) error {
	return p.notImplemented()
}

// HealthCheck reports the stub as unhealthy.
func (p *Provider) HealthCheck(_ context.Context) provider.Health {
	return provider.Health{Status: provider.Unhealthy, Message: errNotImplemented}
}

// CreateEphemeralUser is not implemented.
func (p *Provider) CreateEphemeralUser(_ context.Context, _ provider.CreateUserRequest) (*provider.CreatedUser, error) {
	return nil, p.notImplemented()
}

// DropUser is not implemented.
func (p *Provider) DropUser(_ context.Context, _ string) (bool, error) {
	return false, p.notImplemented()
}

// ListEphemeralUsers is not implemented.
func (p *Provider) ListEphemeralUsers(_ context.Context) ([]provider.EphemeralUser, error) {
	return nil, p.notImplemented()
}

// CleanupExpiredUsers is not implemented.
func (p *Provider) CleanupExpiredUsers(_ context.Context, _ int) ([]provider.CleanupResult, error) {
	return nil, p.notImplemented()
}

// AvailableRolePacks is not implemented.
func (p *Provider) AvailableRolePacks(_ context.Context) ([]provider.RolePack, error) {
	return nil, p.notImplemented()
}

// InstallRolePack is not implemented.
func (p *Provider) InstallRolePack(_ context.Context, _ provider.RolePack) error {
	return p.notImplemented()
}

// GenerateDSN builds a go-sql-driver DSN for the supplied login.
func (p *Provider) GenerateDSN(conn provider.Connection, username, password string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?tls=preferred",
		username, password, conn.Host, conn.Port, conn.Database)
}

// TestConnection is a best-effort reachability check of a DSN.
func (p *Provider) TestConnection(ctx context.Context, dsn string) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck
	return db.PingContext(ctx)
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }
