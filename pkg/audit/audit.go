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

// Package audit appends tamper-evident events to the target database's
// audit log. Each event's hash chains to the previous row's hash.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/pkg/errors"

	"github.com/gatekeeper-dev/gatekeeper/pkg/clients/xsql"
)

// Event types written by the core.
const (
	EventSetupCompleted  = "setup.completed"
	EventSessionCreated  = "session.created"
	EventSessionRevoked  = "session.revoked"
	EventSessionsCleaned = "sessions.cleaned"
)

const (
	queryTailHash = "SELECT event_hash FROM gatekeeper.audit_log ORDER BY id DESC LIMIT 1"
	queryInsert   = "INSERT INTO gatekeeper.audit_log (event_type, session_id, username, correlation_id, event_data, prev_hash, event_hash) VALUES ($1, $2, $3, $4, $5, $6, $7)"
	queryLookup   = "SELECT username FROM gatekeeper.audit_log WHERE event_type = $1 AND session_id = $2 AND username IS NOT NULL ORDER BY id DESC LIMIT 1"

	errReadTail    = "cannot read audit log tail"
	errWriteEvent  = "cannot write audit event"
	errEncodeEvent = "cannot encode audit event data"
	errLookup      = "cannot look up session in audit log"
)

// An Event is one append-only audit record. Data must never contain a DSN
// or a password; callers pass whitelisted job metadata only.
type Event struct {
	Type          string
	SessionID     string
	Username      string
	CorrelationID string
	Data          map[string]interface{}
}

// A Recorder serialises audit inserts so the prev_hash linkage stays
// consistent under concurrent jobs. Audit throughput is bounded by this
// lock; acceptable for now.
type Recorder struct {
	db  xsql.DB
	log logging.Logger

	mu sync.Mutex
}

// NewRecorder returns a recorder writing through the supplied client.
func NewRecorder(db xsql.DB, log logging.Logger) *Recorder {
	return &Recorder{db: db, log: log}
}

// Record appends one event, chaining its hash to the current tail.
func (r *Recorder) Record(ctx context.Context, e Event) error {
	hash, data, err := HashEvent(e.Type, e.Data)
	if err != nil {
		return errors.Wrap(err, errEncodeEvent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var prev sql.NullString
	err = r.db.Scan(ctx, xsql.Query{String: queryTailHash}, &prev.String)
	switch {
	case xsql.IsNoRows(err):
		// First row in the chain.
	case err != nil:
		return errors.Wrap(err, errReadTail)
	default:
		prev.Valid = true
	}

	err = r.db.Exec(ctx, xsql.Query{
		String: queryInsert,
		Parameters: []interface{}{
			e.Type,
			nullable(e.SessionID),
			nullable(e.Username),
			nullable(e.CorrelationID),
			data,
			prev,
			hash,
		},
	})
	if err != nil {
		return errors.Wrap(err, errWriteEvent)
	}

	r.log.Debug("Recorded audit event", "eventType", e.Type, "sessionId", e.SessionID, "correlationId", e.CorrelationID)
	return nil
}

// LookupUsername resolves a session id to the username recorded at
// creation. The boolean reports whether a mapping was found.
func (r *Recorder) LookupUsername(ctx context.Context, sessionID string) (string, bool, error) {
	var username string
	err := r.db.Scan(ctx, xsql.Query{
		String:     queryLookup,
		Parameters: []interface{}{EventSessionCreated, sessionID},
	}, &username)
	if xsql.IsNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, errLookup)
	}
	return username, true, nil
}

// HashEvent computes the content hash over {event_type, event_data}. The
// JSON encoding is canonical: fixed field order, map keys sorted (Go's
// encoder sorts map keys). Returns the hex hash and the encoded data.
func HashEvent(eventType string, data map[string]interface{}) (hash string, encodedData []byte, err error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	encodedData, err = json.Marshal(data)
	if err != nil {
		return "", nil, err
	}

	envelope := struct {
		EventData json.RawMessage `json:"event_data"`
		EventType string          `json:"event_type"`
	}{EventData: encodedData, EventType: eventType}

	canonical, err := json.Marshal(envelope)
	if err != nil {
		return "", nil, err
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), encodedData, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
