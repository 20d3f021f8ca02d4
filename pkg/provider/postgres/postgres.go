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

// Package postgres implements the ephemeral-credential provider for
// PostgreSQL. All privilege-escalating statements go through the helper
// routines installed by the bootstrap; the provider itself only ever calls
// those routines with bound parameters.
package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/gatekeeper-dev/gatekeeper/pkg/clients/postgresql"
	"github.com/gatekeeper-dev/gatekeeper/pkg/clients/xsql"
	"github.com/gatekeeper-dev/gatekeeper/pkg/provider"
)

const (
	// EngineTag identifies this provider in the registry.
	EngineTag = "postgres"

	// ProviderVersion is reported in results and health details.
	ProviderVersion = "1.0.0"

	// RolePackVersion tags the built-in read/write/admin packs.
	RolePackVersion = "pg-1.0.0"
)

const (
	queryProbe          = "SELECT 1"
	queryServerVersion  = "SELECT current_setting('server_version')"
	queryCreateUser     = "SELECT gatekeeper.create_ephemeral($1, $2, $3, $4, $5)"
	queryDropUser       = "SELECT gatekeeper.drop_ephemeral($1)"
	queryListUsers      = "SELECT username, expires_at, is_expired, connection_limit, active_connections FROM gatekeeper.list_ephemeral()"
	queryCleanupExpired = "SELECT username, was_expired, dropped, error_message FROM gatekeeper.cleanup_expired($1)"
	queryValidateSetup  = "SELECT check_name, status, details FROM gatekeeper.validate_setup()"
	queryRoleExists     = "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)"
)

const (
	errNotInitialized  = "provider is not initialized"
	errInitialize      = "cannot open admin connection pool"
	errVerifySetup     = "cannot verify bootstrap setup"
	errCreateUser      = "cannot create ephemeral user"
	errDropUser        = "cannot drop user"
	errListUsers       = "cannot list ephemeral users"
	errCleanupUsers    = "cannot clean up expired users"
	errInstallRolePack = "cannot install role pack"
	errWrongEngine     = "role pack is not for the postgres engine"
)

// A Provider manages ephemeral PostgreSQL logins through the bootstrap's
// privileged helper routines.
type Provider struct {
	log   logging.Logger
	newDB func(cfg postgresql.Config) (xsql.DB, error)

	mu     sync.Mutex
	db     xsql.DB
	conn   provider.Connection
	closed bool
}

// New returns an uninitialized PostgreSQL provider.
func New(log logging.Logger) *Provider {
	return &Provider{
		log:   log.WithValues("engine", EngineTag),
		newDB: postgresql.New,
	}
}

// Register installs the PostgreSQL provider factory in the default registry.
func Register(log logging.Logger) {
	provider.Register(EngineTag, func() provider.Provider { return New(log) })
}

// Engine returns the engine tag.
func (p *Provider) Engine() string { return EngineTag }

// Version returns the provider implementation version.
func (p *Provider) Version() string { return ProviderVersion }

// Initialize opens the admin pool and verifies the bootstrap is installed.
// Calling it again on an initialized provider is a no-op.
func (p *Provider) Initialize(ctx context.Context, conn provider.Connection, creds provider.Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return nil
	}

	db, err := p.newDB(postgresql.Config{
		Host:     conn.Host,
		Port:     strconv.Itoa(conn.Port),
		Database: conn.Database,
		User:     creds.User,
		Password: creds.Password,
		Options:  postgresql.Options{SSLMode: conn.SSLMode},
	})
	if err != nil {
		return provider.NewError(EngineTag, provider.CodeProviderInitError, errInitialize, true, err)
	}

	var one int
	if err := db.Scan(ctx, xsql.Query{String: queryProbe}, &one); err != nil {
		db.Close() //nolint:errcheck
		return provider.NewError(EngineTag, provider.CodeProviderInitError, errInitialize, true, err)
	}

	checks, err := validateSetup(ctx, db)
	if err != nil {
		db.Close() //nolint:errcheck
		return provider.NewError(EngineTag, provider.CodeProviderInitError, errVerifySetup, false, err)
	}
	for name, status := range checks {
		if status != "ok" {
			db.Close() //nolint:errcheck
			return provider.NewError(EngineTag, provider.CodeProviderInitError,
				errVerifySetup+": check "+name+" is "+status, false, nil)
		}
	}

	p.db = db
	p.conn = conn
	p.closed = false
	p.log.Debug("Initialized provider", "host", conn.Host, "database", conn.Database)
	return nil
}

func (p *Provider) handle() (xsql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil, provider.NewError(EngineTag, provider.CodeNotInitialized, errNotInitialized, false, nil)
	}
	return p.db, nil
}

// CreateEphemeralUser provisions one login with a hard expiry. The expiry
// is computed from the orchestrator's clock and enforced by the database's
// VALID UNTIL clause; the helper refuses names outside the gk_ pattern.
func (p *Provider) CreateEphemeralUser(ctx context.Context, req provider.CreateUserRequest) (*provider.CreatedUser, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(time.Duration(req.TTLMinutes) * time.Minute)
	started := time.Now()

	err = db.ExecTx(ctx, []xsql.Query{{
		String: queryCreateUser,
		Parameters: []interface{}{
			req.Username,
			req.Password,
			expiresAt,
			req.RolePack,
			req.ConnectionLimit,
		},
	}})
	if err != nil {
		return nil, classifyCreateError(err)
	}

	metadata := map[string]string{
		"role_pack":         req.RolePack,
		"role_pack_version": RolePackVersion,
		"provider_version":  ProviderVersion,
	}
	var serverVersion string
	if err := db.Scan(ctx, xsql.Query{String: queryServerVersion}, &serverVersion); err == nil {
		metadata["server_version"] = serverVersion
	}

	p.log.Info("Created ephemeral user",
		"username", req.Username,
		"rolePack", req.RolePack,
		"ttlMinutes", req.TTLMinutes,
		"duration", time.Since(started).String())

	return &provider.CreatedUser{
		Username:        req.Username,
		DSN:             p.GenerateDSN(p.connection(), req.Username, req.Password),
		ExpiresAt:       expiresAt,
		ConnectionLimit: req.ConnectionLimit,
		Metadata:        metadata,
	}, nil
}

func classifyCreateError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case postgresql.IsDuplicateObject(err) || strings.Contains(msg, "already exists"):
		return provider.NewError(EngineTag, provider.CodeUserExists, "user already exists", false, err)
	case postgresql.IsUndefinedObject(err) || strings.Contains(msg, "unknown role pack"):
		return provider.NewError(EngineTag, provider.CodeRoleNotFound, "role pack not found", false, err)
	default:
		return provider.NewError(EngineTag, provider.CodeUserCreationFailed, errCreateUser, true, err)
	}
}

// DropUser removes a login through the drop helper. The helper returns
// false, without error, when no such login exists.
func (p *Provider) DropUser(ctx context.Context, username string) (bool, error) {
	db, err := p.handle()
	if err != nil {
		return false, err
	}

	var dropped bool
	if err := db.Scan(ctx, xsql.Query{String: queryDropUser, Parameters: []interface{}{username}}, &dropped); err != nil {
		return false, provider.NewError(EngineTag, provider.CodeUserDropFailed, errDropUser, true, err)
	}

	p.log.Info("Dropped user", "username", username, "removed", dropped)
	return dropped, nil
}

// ListEphemeralUsers enumerates logins matching the gk_ pattern.
func (p *Provider) ListEphemeralUsers(ctx context.Context) ([]provider.EphemeralUser, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, xsql.Query{String: queryListUsers})
	if err != nil {
		return nil, provider.NewError(EngineTag, provider.CodeUserListFailed, errListUsers, true, err)
	}
	defer rows.Close() //nolint:errcheck

	users := []provider.EphemeralUser{}
	for rows.Next() {
		var (
			u         provider.EphemeralUser
			expiresAt sql.NullTime
			active    sql.NullInt64
		)
		if err := rows.Scan(&u.Username, &expiresAt, &u.Expired, &u.ConnectionLimit, &active); err != nil {
			return nil, provider.NewError(EngineTag, provider.CodeUserListFailed, errListUsers, true, err)
		}
		if expiresAt.Valid {
			u.ExpiresAt = expiresAt.Time.UTC()
		}
		u.ActiveConnections = int(active.Int64)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, provider.NewError(EngineTag, provider.CodeUserListFailed, errListUsers, true, err)
	}
	return users, nil
}

// CleanupExpiredUsers drops logins whose expiry is older than now minus the
// grace period, returning one row per candidate.
func (p *Provider) CleanupExpiredUsers(ctx context.Context, olderThanMinutes int) ([]provider.CleanupResult, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, xsql.Query{String: queryCleanupExpired, Parameters: []interface{}{olderThanMinutes}})
	if err != nil {
		return nil, provider.NewError(EngineTag, provider.CodeCleanupFailed, errCleanupUsers, true, err)
	}
	defer rows.Close() //nolint:errcheck

	results := []provider.CleanupResult{}
	for rows.Next() {
		var (
			r      provider.CleanupResult
			errMsg sql.NullString
		)
		if err := rows.Scan(&r.Username, &r.WasExpired, &r.Dropped, &errMsg); err != nil {
			return nil, provider.NewError(EngineTag, provider.CodeCleanupFailed, errCleanupUsers, true, err)
		}
		r.Error = errMsg.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, provider.NewError(EngineTag, provider.CodeCleanupFailed, errCleanupUsers, true, err)
	}

	p.log.Info("Cleanup pass finished", "candidates", len(results), "olderThanMinutes", olderThanMinutes)
	return results, nil
}

// HealthCheck pings the pool, then asks validate_setup for per-check
// status. All green is healthy, any red check is degraded, and a
// connectivity failure is unhealthy.
func (p *Provider) HealthCheck(ctx context.Context) provider.Health {
	h := provider.Health{CheckedAt: time.Now().UTC(), Details: map[string]interface{}{}}

	db, err := p.handle()
	if err != nil {
		h.Status = provider.Unhealthy
		h.Message = errNotInitialized
		return h
	}

	stats := db.Stats()
	h.Details["pool"] = map[string]interface{}{
		"total": stats.OpenConnections,
		"idle":  stats.Idle,
		// Cumulative since pool creation, not a live gauge.
		"wait_count": stats.WaitCount,
	}

	var one int
	if err := db.Scan(ctx, xsql.Query{String: queryProbe}, &one); err != nil {
		h.Status = provider.Unhealthy
		h.Message = "database is unreachable"
		return h
	}

	checks, err := validateSetup(ctx, db)
	if err != nil {
		h.Status = provider.Degraded
		h.Message = errVerifySetup
		return h
	}
	h.Details["checks"] = checks

	h.Status = provider.Healthy
	h.Message = "all checks passed"
	for name, status := range checks {
		if status != "ok" {
			h.Status = provider.Degraded
			h.Message = "check " + name + " is " + status
			break
		}
	}
	return h
}

func validateSetup(ctx context.Context, db xsql.DB) (map[string]string, error) {
	rows, err := db.Query(ctx, xsql.Query{String: queryValidateSetup})
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	checks := map[string]string{}
	for rows.Next() {
		var name, status string
		var details sql.NullString
		if err := rows.Scan(&name, &status, &details); err != nil {
			return nil, err
		}
		checks[name] = status
	}
	return checks, rows.Err()
}

// AvailableRolePacks returns the built-in read/write/admin catalog.
func (p *Provider) AvailableRolePacks(_ context.Context) ([]provider.RolePack, error) {
	return RolePacks(), nil
}

// InstallRolePack installs a pack's role if it is absent. The built-in
// packs are written by the bootstrap, so installation is normally a no-op.
func (p *Provider) InstallRolePack(ctx context.Context, pack provider.RolePack) error {
	if pack.Engine != EngineTag {
		return provider.NewError(EngineTag, provider.CodeRolePackError, errWrongEngine, false, nil)
	}

	db, err := p.handle()
	if err != nil {
		return err
	}

	var exists bool
	if err := db.Scan(ctx, xsql.Query{String: queryRoleExists, Parameters: []interface{}{pack.Definition["role"]}}, &exists); err != nil {
		return provider.NewError(EngineTag, provider.CodeRolePackError, errInstallRolePack, true, err)
	}
	if exists {
		return nil
	}

	ql := make([]xsql.Query, 0, len(pack.Statements))
	for _, s := range pack.Statements {
		ql = append(ql, xsql.Query{String: s})
	}
	if err := db.ExecTx(ctx, ql); err != nil {
		return provider.NewError(EngineTag, provider.CodeRolePackError, errInstallRolePack, false, err)
	}

	p.log.Info("Installed role pack", "name", pack.Name, "version", pack.Version)
	return nil
}

// GenerateDSN builds a postgresql:// connection string for the supplied
// login. The result carries the password and must never be logged.
func (p *Provider) GenerateDSN(conn provider.Connection, username, password string) string {
	sslmode := conn.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}
	return postgresql.DSN(username, password, conn.Host, strconv.Itoa(conn.Port), conn.Database, "sslmode="+sslmode)
}

// TestConnection is a best-effort reachability check of a DSN.
func (p *Provider) TestConnection(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck
	return db.PingContext(ctx)
}

// Close releases the admin pool. Subsequent calls are no-ops.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.db == nil {
		p.closed = true
		return nil
	}
	p.closed = true
	db := p.db
	p.db = nil
	return db.Close()
}

func (p *Provider) connection() provider.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}
