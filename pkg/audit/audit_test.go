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

package audit

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/gatekeeper-dev/gatekeeper/pkg/clients/xsql"
)

type mockDB struct {
	xsql.DB

	MockExec func(ctx context.Context, q xsql.Query) error
	MockScan func(ctx context.Context, q xsql.Query, dest ...interface{}) error
}

func (m mockDB) Exec(ctx context.Context, q xsql.Query) error {
	return m.MockExec(ctx, q)
}

func (m mockDB) Scan(ctx context.Context, q xsql.Query, dest ...interface{}) error {
	return m.MockScan(ctx, q, dest...)
}

// chainDB remembers every inserted row and serves the tail hash back, like
// the audit table would.
type chainDB struct {
	xsql.DB

	rows [][]interface{}
}

func (c *chainDB) Scan(_ context.Context, q xsql.Query, dest ...interface{}) error {
	if len(c.rows) == 0 {
		return sql.ErrNoRows
	}
	last := c.rows[len(c.rows)-1]
	*dest[0].(*string) = last[6].(string)
	return nil
}

func (c *chainDB) Exec(_ context.Context, q xsql.Query) error {
	c.rows = append(c.rows, q.Parameters)
	return nil
}

func TestRecordChaining(t *testing.T) {
	db := &chainDB{}
	r := NewRecorder(db, logging.NewNopLogger())
	ctx := context.Background()

	first := Event{
		Type:          EventSessionCreated,
		SessionID:     "ses_a1b2c3d4e5f6",
		Username:      "gk_a1b2c3d4e5f6",
		CorrelationID: "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0",
		Data:          map[string]interface{}{"role": "read", "ttl_minutes": 30},
	}
	if err := r.Record(ctx, first); err != nil {
		t.Fatalf("Record(...): unexpected error: %v", err)
	}

	second := Event{
		Type:      EventSessionRevoked,
		SessionID: "ses_a1b2c3d4e5f6",
		Username:  "gk_a1b2c3d4e5f6",
	}
	if err := r.Record(ctx, second); err != nil {
		t.Fatalf("Record(...): unexpected error: %v", err)
	}

	if len(db.rows) != 2 {
		t.Fatalf("Record(...): want 2 rows, got %d", len(db.rows))
	}

	firstPrev := db.rows[0][5].(sql.NullString)
	if firstPrev.Valid {
		t.Errorf("Record(...): the first row's prev_hash must be NULL, got %q", firstPrev.String)
	}

	firstHash := db.rows[0][6].(string)
	secondPrev := db.rows[1][5].(sql.NullString)
	if !secondPrev.Valid || secondPrev.String != firstHash {
		t.Errorf("Record(...): want prev_hash %q on the second row, got %+v", firstHash, secondPrev)
	}

	secondHash := db.rows[1][6].(string)
	if secondHash == firstHash {
		t.Error("Record(...): distinct events must not share a hash")
	}
}

func TestRecordFirstRowAfterTailError(t *testing.T) {
	errBoom := errors.New("boom")
	db := mockDB{
		MockScan: func(_ context.Context, q xsql.Query, dest ...interface{}) error {
			return errBoom
		},
	}
	r := NewRecorder(db, logging.NewNopLogger())

	err := r.Record(context.Background(), Event{Type: EventSessionCreated})
	if !errors.Is(err, errBoom) {
		t.Errorf("Record(...): a tail read failure must surface, got %v", err)
	}
}

func TestHashEvent(t *testing.T) {
	h1, _, err := HashEvent(EventSessionCreated, map[string]interface{}{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("HashEvent(...): unexpected error: %v", err)
	}
	h2, _, err := HashEvent(EventSessionCreated, map[string]interface{}{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("HashEvent(...): unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Error("HashEvent(...): key order must not change the hash")
	}

	h3, _, err := HashEvent(EventSessionRevoked, map[string]interface{}{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("HashEvent(...): unexpected error: %v", err)
	}
	if h3 == h1 {
		t.Error("HashEvent(...): the event type must be part of the hash")
	}

	if len(h1) != 64 {
		t.Errorf("HashEvent(...): want a 64-hex-digit digest, got %d characters", len(h1))
	}

	hNil, dataNil, err := HashEvent(EventSessionsCleaned, nil)
	if err != nil {
		t.Fatalf("HashEvent(...): unexpected error: %v", err)
	}
	hEmpty, _, err := HashEvent(EventSessionsCleaned, map[string]interface{}{})
	if err != nil {
		t.Fatalf("HashEvent(...): unexpected error: %v", err)
	}
	if hNil != hEmpty {
		t.Error("HashEvent(...): nil and empty data must hash identically")
	}
	if diff := cmp.Diff("{}", string(dataNil)); diff != "" {
		t.Errorf("HashEvent(...): -want, +got:\n%s", diff)
	}
}

func TestLookupUsername(t *testing.T) {
	errBoom := errors.New("boom")

	cases := map[string]struct {
		reason    string
		scanErr   error
		username  string
		wantFound bool
		wantErr   bool
	}{
		"Found": {
			reason:    "A recorded session resolves to its username.",
			username:  "gk_a1b2c3d4e5f6",
			wantFound: true,
		},
		"NotFound": {
			reason:  "An unknown session is not an error.",
			scanErr: sql.ErrNoRows,
		},
		"Fault": {
			reason:  "A query fault surfaces as an error.",
			scanErr: errBoom,
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			db := mockDB{
				MockScan: func(_ context.Context, q xsql.Query, dest ...interface{}) error {
					if tc.scanErr != nil {
						return tc.scanErr
					}
					if len(q.Parameters) != 2 || q.Parameters[0] != EventSessionCreated {
						t.Errorf("LookupUsername(...): want a session.created lookup, got %v", q.Parameters)
					}
					*dest[0].(*string) = tc.username
					return nil
				},
			}
			r := NewRecorder(db, logging.NewNopLogger())

			got, found, err := r.LookupUsername(context.Background(), "ses_a1b2c3d4e5f6")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("\n%s\nLookupUsername(...): want error, got nil", tc.reason)
				}
				return
			}
			if err != nil {
				t.Fatalf("\n%s\nLookupUsername(...): unexpected error: %v", tc.reason, err)
			}
			if found != tc.wantFound {
				t.Errorf("\n%s\nLookupUsername(...): want found %t, got %t", tc.reason, tc.wantFound, found)
			}
			if got != tc.username {
				t.Errorf("\n%s\nLookupUsername(...): want %q, got %q", tc.reason, tc.username, got)
			}
		})
	}
}
