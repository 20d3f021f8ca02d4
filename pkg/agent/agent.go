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

// Package agent orchestrates the credential lifecycle: it validates jobs,
// routes them to the configured provider, and emits audit events. It holds
// no state beyond the provider handle, the initialized flag, and the
// session-to-username hook.
package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/gatekeeper-dev/gatekeeper/pkg/audit"
	"github.com/gatekeeper-dev/gatekeeper/pkg/jobs"
	"github.com/gatekeeper-dev/gatekeeper/pkg/provider"
)

// Overall agent health, mapped from the provider's tri-state.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// Sessions get a connection cap of 2: the interactive session plus one
// spare. Fixed at the call site, not in the role pack.
const sessionConnectionLimit = 2

// A Config parameterises one agent instance.
type Config struct {
	Engine        string
	Connection    provider.Connection
	Credentials   provider.Credentials
	MaxTTLMinutes int
}

// A Recorder persists audit events and resolves past sessions.
type Recorder interface {
	Record(ctx context.Context, e audit.Event) error
	LookupUsername(ctx context.Context, sessionID string) (string, bool, error)
}

// An Agent accepts job payloads and dispatches them to its provider.
type Agent struct {
	cfg      Config
	provider provider.Provider
	recorder Recorder
	log      logging.Logger

	initMu      sync.Mutex
	initialized bool

	sessMu   sync.RWMutex
	sessions map[string]string

	shutdownOnce sync.Once
}

// New returns an agent for the supplied provider. The provider is
// initialized lazily on the first job.
func New(cfg Config, p provider.Provider, rec Recorder, log logging.Logger) *Agent {
	if cfg.MaxTTLMinutes == 0 {
		cfg.MaxTTLMinutes = jobs.MaxTTLMinutes
	}
	return &Agent{
		cfg:      cfg,
		provider: p,
		recorder: rec,
		log:      log,
		sessions: map[string]string{},
	}
}

// Health reports the agent's aggregated state.
type Health struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message"`
	CheckedAt time.Time              `json:"checkedAt"`
	Details   map[string]interface{} `json:"details"`
}

// Process decodes one job payload and returns the variant's result shape.
// Failures never escape as errors; they are mapped into failed results with
// a stable code, message, and retryability flag.
func (a *Agent) Process(ctx context.Context, raw []byte) interface{} {
	// Peek at the variant tag so validation failures can be answered in
	// the right result shape.
	var peek struct {
		Type          jobs.Type `json:"type"`
		CorrelationID string    `json:"correlationId"`
	}
	_ = json.Unmarshal(raw, &peek)

	job, err := jobs.Decode(raw)
	if err != nil {
		a.log.Info("Rejected job", "jobType", string(peek.Type), "correlationId", peek.CorrelationID, "error", err.Error())
		return failedResult(peek.Type, peek.CorrelationID, validationErrorDetail(err))
	}

	log := a.log.WithValues("jobId", job.ID, "jobType", string(job.Type), "correlationId", job.CorrelationID)

	if err := a.ensureInitialized(ctx); err != nil {
		log.Info("Provider initialization failed", "error", err.Error())
		return failedResult(job.Type, job.CorrelationID, errorDetail(err))
	}

	switch job.Type {
	case jobs.TypeCreateSession:
		return a.createSession(ctx, log, job)
	case jobs.TypeRevokeSession:
		return a.revokeSession(ctx, log, job)
	default:
		return a.cleanup(ctx, log, job)
	}
}

// ensureInitialized performs on-demand initialization. Concurrent first
// jobs may race to call it; the provider's Initialize is idempotent, so the
// flag is merely an optimisation.
func (a *Agent) ensureInitialized(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.initialized {
		return nil
	}
	if err := a.provider.Initialize(ctx, a.cfg.Connection, a.cfg.Credentials); err != nil {
		return err
	}
	a.initialized = true
	return nil
}

func (a *Agent) createSession(ctx context.Context, log logging.Logger, job *jobs.Job) jobs.CreateResult {
	if err := jobs.ValidateTTL(job.TTLMinutes, a.cfg.MaxTTLMinutes); err != nil {
		log.Info("Rejected session request", "error", err.Error())
		return jobs.CreateResult{
			Status:        jobs.StatusFailed,
			Error:         validationErrorDetail(err),
			CorrelationID: job.CorrelationID,
		}
	}

	sessionID, err := NewSessionID()
	if err != nil {
		return jobs.CreateResult{Status: jobs.StatusFailed, Error: errorDetail(err), CorrelationID: job.CorrelationID}
	}
	username, err := NewUsername()
	if err != nil {
		return jobs.CreateResult{Status: jobs.StatusFailed, Error: errorDetail(err), CorrelationID: job.CorrelationID}
	}
	pw, err := NewPassword()
	if err != nil {
		return jobs.CreateResult{Status: jobs.StatusFailed, Error: errorDetail(err), CorrelationID: job.CorrelationID}
	}

	created, err := a.provider.CreateEphemeralUser(ctx, provider.CreateUserRequest{
		Username:        username,
		Password:        pw,
		RolePack:        string(job.Role),
		TTLMinutes:      job.TTLMinutes,
		ConnectionLimit: sessionConnectionLimit,
	})
	if err != nil {
		log.Info("Session provisioning failed", "username", username, "error", err.Error())
		return jobs.CreateResult{
			SessionID:     sessionID,
			Status:        jobs.StatusFailed,
			Error:         errorDetail(err),
			CorrelationID: job.CorrelationID,
		}
	}

	a.RecordSession(sessionID, created.Username)

	data := map[string]interface{}{
		"job_id":           job.ID,
		"role":             string(job.Role),
		"ttl_minutes":      job.TTLMinutes,
		"requester":        job.Requester.UserID,
		"target_host":      job.Target.Host,
		"target_port":      job.Target.Port,
		"target_database":  job.Target.Database,
		"provider":         a.provider.Engine(),
		"provider_version": a.provider.Version(),
	}
	if job.Reason != "" {
		data["reason"] = job.Reason
	}
	a.record(ctx, log, audit.Event{
		Type:          audit.EventSessionCreated,
		SessionID:     sessionID,
		Username:      created.Username,
		CorrelationID: job.CorrelationID,
		Data:          data,
	})

	log.Info("Session ready", "sessionId", sessionID, "username", created.Username, "expiresAt", created.ExpiresAt.Format(time.RFC3339))

	return jobs.CreateResult{
		SessionID:     sessionID,
		Status:        jobs.StatusReady,
		DSN:           created.DSN,
		ExpiresAt:     created.ExpiresAt.Format(time.RFC3339),
		Username:      created.Username,
		CorrelationID: job.CorrelationID,
	}
}

func (a *Agent) revokeSession(ctx context.Context, log logging.Logger, job *jobs.Job) jobs.RevokeResult {
	username, ok := a.lookupSession(ctx, job.SessionID)
	if !ok {
		log.Info("Session not found", "sessionId", job.SessionID)
		return jobs.RevokeResult{Status: jobs.StatusNotFound, CorrelationID: job.CorrelationID}
	}

	dropped, err := a.provider.DropUser(ctx, username)
	if err != nil {
		log.Info("Session revocation failed", "sessionId", job.SessionID, "username", username, "error", err.Error())
		return jobs.RevokeResult{
			Status: jobs.StatusFailed,
			Error: &jobs.ErrorDetail{
				Code:      string(provider.CodeRevocationError),
				Message:   err.Error(),
				Retryable: true,
			},
			CorrelationID: job.CorrelationID,
		}
	}
	if !dropped {
		return jobs.RevokeResult{Status: jobs.StatusNotFound, CorrelationID: job.CorrelationID}
	}

	a.forgetSession(job.SessionID)
	a.record(ctx, log, audit.Event{
		Type:          audit.EventSessionRevoked,
		SessionID:     job.SessionID,
		Username:      username,
		CorrelationID: job.CorrelationID,
		Data:          map[string]interface{}{"job_id": job.ID},
	})

	log.Info("Session revoked", "sessionId", job.SessionID, "username", username)
	return jobs.RevokeResult{Status: jobs.StatusRevoked, CorrelationID: job.CorrelationID}
}

func (a *Agent) cleanup(ctx context.Context, log logging.Logger, job *jobs.Job) jobs.CleanupResult {
	results, err := a.provider.CleanupExpiredUsers(ctx, *job.OlderThanMinutes)
	if err != nil {
		log.Info("Cleanup failed", "error", err.Error())
		return jobs.CleanupResult{
			Status:        jobs.StatusFailed,
			CleanedCount:  0,
			Error:         errorDetail(err),
			CorrelationID: job.CorrelationID,
		}
	}

	cleaned := []string{}
	for _, r := range results {
		if r.Dropped {
			cleaned = append(cleaned, r.Username)
		}
	}

	if len(cleaned) > 0 {
		a.record(ctx, log, audit.Event{
			Type:          audit.EventSessionsCleaned,
			CorrelationID: job.CorrelationID,
			Data: map[string]interface{}{
				"job_id":        job.ID,
				"cleaned_count": len(cleaned),
				"cleaned_users": cleaned,
			},
		})
	}

	log.Info("Cleanup completed", "candidates", len(results), "cleanedCount", len(cleaned))
	return jobs.CleanupResult{
		Status:        jobs.StatusCompleted,
		CleanedCount:  len(cleaned),
		CorrelationID: job.CorrelationID,
	}
}

// Health proxies the provider's health check, enriched with the provider's
// tag and version. Initializes the provider on demand like any other
// operation.
func (a *Agent) Health(ctx context.Context) Health {
	if err := a.ensureInitialized(ctx); err != nil {
		return Health{
			Status:    HealthDown,
			Message:   err.Error(),
			CheckedAt: time.Now().UTC(),
			Details: map[string]interface{}{
				"provider":        a.provider.Engine(),
				"providerVersion": a.provider.Version(),
			},
		}
	}

	ph := a.provider.HealthCheck(ctx)

	status := HealthDown
	switch ph.Status {
	case provider.Healthy:
		status = HealthOK
	case provider.Degraded:
		status = HealthDegraded
	}

	details := map[string]interface{}{}
	for k, v := range ph.Details {
		details[k] = v
	}
	details["provider"] = a.provider.Engine()
	details["providerVersion"] = a.provider.Version()

	return Health{Status: status, Message: ph.Message, CheckedAt: ph.CheckedAt, Details: details}
}

// RecordSession registers a session-to-username mapping so revocation can
// resolve it without the audit trail. The mapping is in-memory for now; a
// durable store can replace it without changing the provider contract.
func (a *Agent) RecordSession(sessionID, username string) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	a.sessions[sessionID] = username
}

func (a *Agent) forgetSession(sessionID string) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	delete(a.sessions, sessionID)
}

func (a *Agent) lookupSession(ctx context.Context, sessionID string) (string, bool) {
	a.sessMu.RLock()
	username, ok := a.sessions[sessionID]
	a.sessMu.RUnlock()
	if ok {
		return username, true
	}

	username, ok, err := a.recorder.LookupUsername(ctx, sessionID)
	if err != nil {
		a.log.Info("Audit trail lookup failed", "sessionId", sessionID, "error", err.Error())
		return "", false
	}
	return username, ok
}

// Shutdown closes the provider once. Subsequent calls are no-ops.
func (a *Agent) Shutdown() error {
	var err error
	a.shutdownOnce.Do(func() {
		err = a.provider.Close()
	})
	return err
}

// record writes an audit event after the effect it describes has been
// committed. A failed audit write does not fail the job; the principal is
// reclaimed by expiry regardless, and the gap is logged.
func (a *Agent) record(ctx context.Context, log logging.Logger, e audit.Event) {
	if err := a.recorder.Record(ctx, e); err != nil {
		log.Info("Audit write failed", "eventType", e.Type, "error", err.Error())
	}
}

func validationErrorDetail(err error) *jobs.ErrorDetail {
	return &jobs.ErrorDetail{
		Code:      string(provider.CodeValidationError),
		Message:   err.Error(),
		Retryable: false,
	}
}

func errorDetail(err error) *jobs.ErrorDetail {
	if pe, ok := provider.AsError(err); ok {
		return &jobs.ErrorDetail{Code: string(pe.Code), Message: pe.Message, Retryable: pe.Retryable}
	}
	return &jobs.ErrorDetail{
		Code:      string(provider.CodeInternalError),
		Message:   err.Error(),
		Retryable: true,
	}
}

func failedResult(t jobs.Type, correlationID string, detail *jobs.ErrorDetail) interface{} {
	switch t {
	case jobs.TypeRevokeSession:
		return jobs.RevokeResult{Status: jobs.StatusFailed, Error: detail, CorrelationID: correlationID}
	case jobs.TypeCleanup:
		return jobs.CleanupResult{Status: jobs.StatusFailed, CleanedCount: 0, Error: detail, CorrelationID: correlationID}
	default:
		return jobs.CreateResult{Status: jobs.StatusFailed, Error: detail, CorrelationID: correlationID}
	}
}
