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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-logr/zapr"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/gatekeeper-dev/gatekeeper/pkg/agent"
	"github.com/gatekeeper-dev/gatekeeper/pkg/audit"
	"github.com/gatekeeper-dev/gatekeeper/pkg/clients/postgresql"
	"github.com/gatekeeper-dev/gatekeeper/pkg/jobs"
	"github.com/gatekeeper-dev/gatekeeper/pkg/provider"
	"github.com/gatekeeper-dev/gatekeeper/pkg/provider/mssql"
	"github.com/gatekeeper-dev/gatekeeper/pkg/provider/mysql"
	"github.com/gatekeeper-dev/gatekeeper/pkg/provider/postgres"
)

func main() {
	var (
		app   = kingpin.New(filepath.Base(os.Args[0]), "Gatekeeper: short-lived database credentials on demand.").DefaultEnvars()
		debug = app.Flag("debug", "Run with debug logging.").Short('d').Bool()

		engine        = app.Flag("engine", "Database engine of the target.").Default(postgres.EngineTag).String()
		dbHost        = app.Flag("db-host", "Target database host.").Default("localhost").String()
		dbPort        = app.Flag("db-port", "Target database port.").Default("5432").Int()
		dbName        = app.Flag("db-name", "Target database name.").Default("postgres").String()
		adminUser     = app.Flag("admin-user", "Administrative principal the agent connects as.").Default("gatekeeper_admin").String()
		adminPassword = app.Flag("admin-password", "Administrative principal's password.").String()
		sslMode       = app.Flag("ssl-mode", "SSL mode for admin connections.").Default("prefer").String()
		poolMax       = app.Flag("pool-max", "Maximum admin pool connections.").Default("10").Int()
		maxTTL        = app.Flag("max-ttl-minutes", "Maximum session TTL the agent accepts.").Default("1440").Int()

		runCmd  = app.Command("run", "Process one JSON job and print the result.")
		runFile = runCmd.Arg("file", "Job file; reads stdin when omitted.").String()

		bootstrapCmd      = app.Command("bootstrap", "Install the gatekeeper schema, role packs, helper routines, and audit log.")
		bootstrapUser     = bootstrapCmd.Flag("bootstrap-user", "Role to install as; must be allowed to create roles. Defaults to the admin user.").String()
		bootstrapPassword = bootstrapCmd.Flag("bootstrap-password", "Password for the bootstrap role.").String()

		healthCmd = app.Command("health", "Print the agent's aggregated health.")

		cleanupCmd   = app.Command("cleanup", "Drop expired ephemeral logins.")
		cleanupOlder = cleanupCmd.Flag("older-than", "Grace period in minutes beyond expiry.").Default("5").Int()
	)
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	zcfg := zap.NewProductionConfig()
	if *debug {
		zcfg = zap.NewDevelopmentConfig()
	}
	zl, err := zcfg.Build()
	kingpin.FatalIfError(err, "Cannot build logger")
	defer zl.Sync() //nolint:errcheck
	log := logging.NewLogrLogger(zapr.NewLogger(zl).WithName("gatekeeper"))

	postgres.Register(log)
	mysql.Register(log)
	mssql.Register(log)

	conn := provider.Connection{Host: *dbHost, Port: *dbPort, Database: *dbName, SSLMode: *sslMode}
	creds := provider.Credentials{User: *adminUser, Password: *adminPassword}

	ctx := context.Background()

	if cmd == bootstrapCmd.FullCommand() {
		user, pass := *bootstrapUser, *bootstrapPassword
		if user == "" {
			user, pass = *adminUser, *adminPassword
		}
		db, err := postgresql.New(postgresql.Config{
			Host:     *dbHost,
			Port:     strconv.Itoa(*dbPort),
			Database: *dbName,
			User:     user,
			Password: pass,
			Options:  postgresql.Options{SSLMode: *sslMode},
		})
		kingpin.FatalIfError(err, "Cannot connect to target database")
		defer db.Close() //nolint:errcheck
		kingpin.FatalIfError(postgres.Bootstrap(ctx, db, log), "Cannot bootstrap target database")
		fmt.Println("bootstrap complete")
		return
	}

	p, err := provider.Create(*engine)
	kingpin.FatalIfError(err, "Cannot create provider")

	auditDB, err := postgresql.New(postgresql.Config{
		Host:         *dbHost,
		Port:         strconv.Itoa(*dbPort),
		Database:     *dbName,
		User:         *adminUser,
		Password:     *adminPassword,
		Options:      postgresql.Options{SSLMode: *sslMode},
		MaxOpenConns: *poolMax,
	})
	kingpin.FatalIfError(err, "Cannot open audit connection")
	defer auditDB.Close() //nolint:errcheck

	a := agent.New(agent.Config{
		Engine:        *engine,
		Connection:    conn,
		Credentials:   creds,
		MaxTTLMinutes: *maxTTL,
	}, p, audit.NewRecorder(auditDB, log), log)
	defer a.Shutdown() //nolint:errcheck

	switch cmd {
	case runCmd.FullCommand():
		raw, err := readJob(*runFile)
		kingpin.FatalIfError(err, "Cannot read job payload")
		result := a.Process(ctx, raw)
		printJSON(result)
		if failed(result) {
			os.Exit(1)
		}

	case healthCmd.FullCommand():
		h := a.Health(ctx)
		printJSON(h)
		if h.Status == agent.HealthDown {
			os.Exit(1)
		}

	case cleanupCmd.FullCommand():
		job := jobs.Job{
			ID:               uuid.NewString(),
			CorrelationID:    uuid.NewString(),
			Type:             jobs.TypeCleanup,
			OlderThanMinutes: cleanupOlder,
		}
		raw, err := json.Marshal(job)
		kingpin.FatalIfError(err, "Cannot encode cleanup job")
		result := a.Process(ctx, raw)
		printJSON(result)
		if failed(result) {
			os.Exit(1)
		}
	}
}

func readJob(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	kingpin.FatalIfError(err, "Cannot encode result")
	fmt.Println(string(out))
}

func failed(result interface{}) bool {
	switch r := result.(type) {
	case jobs.CreateResult:
		return r.Status == jobs.StatusFailed
	case jobs.RevokeResult:
		return r.Status == jobs.StatusFailed
	case jobs.CleanupResult:
		return r.Status == jobs.StatusFailed
	}
	return false
}
