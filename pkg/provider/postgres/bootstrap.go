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
	"context"
	_ "embed"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/pkg/errors"

	"github.com/gatekeeper-dev/gatekeeper/pkg/clients/xsql"
)

//go:embed sql/bootstrap.sql
var bootstrapSQL string

const (
	errInstallBootstrap = "cannot install bootstrap schema"
	errValidateSetup    = "cannot validate bootstrap setup"
)

// Bootstrap installs the gatekeeper schema, role packs, privileged helper
// routines, and audit log into the target database. The supplied client must
// authenticate as a role allowed to create roles and security definer
// functions; the agent's own admin principal is not privileged enough.
//
// The script is idempotent, and writes the setup.completed audit event on
// first installation only.
func Bootstrap(ctx context.Context, db xsql.DB, log logging.Logger) error {
	if err := db.Exec(ctx, xsql.Query{String: bootstrapSQL}); err != nil {
		return errors.Wrap(err, errInstallBootstrap)
	}

	checks, err := validateSetup(ctx, db)
	if err != nil {
		return errors.Wrap(err, errValidateSetup)
	}
	for name, status := range checks {
		if status != "ok" {
			return errors.Errorf("%s: check %s is %s", errValidateSetup, name, status)
		}
		log.Debug("Bootstrap check passed", "check", name)
	}

	log.Info("Bootstrap installed", "checks", len(checks))
	return nil
}
