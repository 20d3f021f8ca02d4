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

package postgres

import (
	"github.com/gatekeeper-dev/gatekeeper/pkg/provider"
)

// RolePacks returns the built-in PostgreSQL permission tiers. Packs are
// versioned as a unit: changing a grant means minting a new version, never
// editing these in place.
func RolePacks() []provider.RolePack {
	return []provider.RolePack{
		{
			Engine:      EngineTag,
			Name:        "read",
			Version:     RolePackVersion,
			Description: "Read-only access to all tables in the public schema.",
			Statements: []string{
				"CREATE ROLE gk_read NOLOGIN",
				"GRANT USAGE ON SCHEMA public TO gk_read",
				"GRANT SELECT ON ALL TABLES IN SCHEMA public TO gk_read",
				"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT SELECT ON TABLES TO gk_read",
			},
			Definition: map[string]string{"role": "gk_read"},
		},
		{
			Engine:      EngineTag,
			Name:        "write",
			Version:     RolePackVersion,
			Description: "Read-write access to all tables and sequences in the public schema.",
			Statements: []string{
				"CREATE ROLE gk_write NOLOGIN",
				"GRANT USAGE ON SCHEMA public TO gk_write",
				"GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO gk_write",
				"GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO gk_write",
				"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT SELECT, INSERT, UPDATE, DELETE ON TABLES TO gk_write",
				"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT USAGE, SELECT ON SEQUENCES TO gk_write",
			},
			Definition: map[string]string{"role": "gk_write"},
		},
		{
			Engine:      EngineTag,
			Name:        "admin",
			Version:     RolePackVersion,
			Description: "Full access to objects in the public schema, including DDL.",
			Statements: []string{
				"CREATE ROLE gk_admin NOLOGIN",
				"GRANT ALL PRIVILEGES ON SCHEMA public TO gk_admin",
				"GRANT ALL PRIVILEGES ON ALL TABLES IN SCHEMA public TO gk_admin",
				"GRANT ALL PRIVILEGES ON ALL SEQUENCES IN SCHEMA public TO gk_admin",
				"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL PRIVILEGES ON TABLES TO gk_admin",
				"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL PRIVILEGES ON SEQUENCES TO gk_admin",
			},
			Definition: map[string]string{"role": "gk_admin"},
		},
	}
}
