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

package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/lib/pq"

	"github.com/gatekeeper-dev/gatekeeper/pkg/clients/xsql"
)

const (
	// https://www.postgresql.org/docs/current/errcodes-appendix.html
	// These are not available as part of the pq library.
	pqInvalidCatalog  = pq.ErrorCode("3D000")
	pqInvalidPassword = pq.ErrorCode("28P01")
	pqUniqueViolation = pq.ErrorCode("23505")
	pqDuplicateObject = pq.ErrorCode("42710")
	pqUndefinedObject = pq.ErrorCode("42704")

	defaultMaxOpenConns     = 10
	defaultConnMaxIdleTime  = 30 * time.Second
	defaultConnectTimeout   = 10 * time.Second
	defaultStatementTimeout = 30 * time.Second
)

// A Config describes how to reach a PostgreSQL server as a given user.
type Config struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string

	Options Options

	// Pool bounds. Zero values select the defaults above.
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
}

// Options shape the DSN query string.
type Options struct {
	// SSLMode defaults to "prefer".
	SSLMode string

	// ConnectTimeout and StatementTimeout bound each new connection and
	// each statement run on it. Zero values select the defaults above.
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
}

func (o Options) queryString() string {
	v := url.Values{}
	sslmode := o.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}
	v.Set("sslmode", sslmode)

	ct := o.ConnectTimeout
	if ct == 0 {
		ct = defaultConnectTimeout
	}
	v.Set("connect_timeout", fmt.Sprintf("%d", int(ct.Seconds())))

	st := o.StatementTimeout
	if st == 0 {
		st = defaultStatementTimeout
	}
	// statement_timeout is not a pq driver option; it is passed through
	// to the server as a run-time parameter in the startup packet.
	v.Set("statement_timeout", fmt.Sprintf("%d", st.Milliseconds()))

	return v.Encode()
}

type postgresDB struct {
	db  *sql.DB
	dsn string
}

// New returns a pooled PostgreSQL database client. Open errors are returned
// eagerly, but a failed liveness probe is not fatal to the pool: subsequent
// operations ping again and reacquire a connection.
func New(cfg Config) (xsql.DB, error) {
	dsn := DSN(cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.Options.queryString())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = defaultMaxOpenConns
	}
	idle := cfg.ConnMaxIdleTime
	if idle == 0 {
		idle = defaultConnMaxIdleTime
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxIdleTime(idle)

	return postgresDB{db: db, dsn: dsn}, nil
}

// DSN returns the DSN URL for the supplied parts. The username and password
// are percent-encoded for use in the userinfo portion of the URL.
func DSN(username, password, host, port, database, query string) string {
	userInfo := url.UserPassword(username, password)
	dsn := "postgresql://" +
		userInfo.String() + "@" +
		host + ":" +
		port + "/" +
		database
	if query != "" {
		dsn += "?" + query
	}
	return dsn
}

// ExecTx executes an array of queries, committing if all are successful and
// rolling back immediately on failure. The named return lets the deferred
// commit report its error; a swallowed COMMIT failure would report a rolled
// back transaction as success.
func (c postgresDB) ExecTx(ctx context.Context, ql []xsql.Query) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Rollback or Commit based on error state. Defer close in defer to make
	// sure the connection is always closed.
	defer func() {
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return
		}
		err = tx.Commit()
	}()

	for _, q := range ql {
		if _, err = tx.Exec(q.String, q.Parameters...); err != nil {
			return err
		}
	}
	return err
}

// Exec the supplied query.
func (c postgresDB) Exec(ctx context.Context, q xsql.Query) error {
	_, err := c.db.ExecContext(ctx, q.String, q.Parameters...)
	return err
}

// Query the supplied query.
func (c postgresDB) Query(ctx context.Context, q xsql.Query) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, q.String, q.Parameters...)
}

// Scan the results of the supplied query into the supplied destination.
func (c postgresDB) Scan(ctx context.Context, q xsql.Query, dest ...interface{}) error {
	return c.db.QueryRowContext(ctx, q.String, q.Parameters...).Scan(dest...)
}

// Ping verifies a connection can still be acquired.
func (c postgresDB) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Stats returns the pool's statistics.
func (c postgresDB) Stats() sql.DBStats {
	return c.db.Stats()
}

// Close releases the pool.
func (c postgresDB) Close() error {
	return c.db.Close()
}

// IsInvalidCatalog returns true if passed a pq error indicating
// that the database does not exist.
func IsInvalidCatalog(err error) bool {
	return hasCode(err, pqInvalidCatalog)
}

// IsInvalidPassword returns true if passed a pq error indicating
// that authentication failed.
func IsInvalidPassword(err error) bool {
	return hasCode(err, pqInvalidPassword)
}

// IsUniqueViolation returns true if passed a pq error indicating
// a uniqueness constraint was violated.
func IsUniqueViolation(err error) bool {
	return hasCode(err, pqUniqueViolation)
}

// IsDuplicateObject returns true if passed a pq error indicating
// the object to be created already exists.
func IsDuplicateObject(err error) bool {
	return hasCode(err, pqDuplicateObject)
}

// IsUndefinedObject returns true if passed a pq error indicating
// a referenced object (such as a role) does not exist.
func IsUndefinedObject(err error) bool {
	return hasCode(err, pqUndefinedObject)
}

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == code
	}
	return false
}
