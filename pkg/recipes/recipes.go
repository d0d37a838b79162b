// Package recipes is the embeddable public surface of the recipe engine
// (C1-C9 wired together): the seven tool operations in §6 — execute,
// resume, list, validate, approvals, approve, deny — each returning the
// exact success payload shape the tool boundary documents, and failing
// with a ToolError carrying a structured {message, type, errors,
// warnings} payload rather than an ad-hoc error string.
//
// Grounded on the teacher's pkg/contracts package: that package exposes
// the control plane's internal services (router, gateway, workflow
// engine) behind a stable pkg/ boundary so callers outside the module
// never import internal/. Facade plays the same role for
// internal/engine, but as a concrete struct rather than a swappable
// interface — there is no enterprise/community split here to model.
package recipes

import (
	"context"
	"errors"
	"fmt"

	"github.com/robotdad/amplifier-collection-recipes/internal/engine"
	"github.com/robotdad/amplifier-collection-recipes/internal/sessionstore"
	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
	"github.com/robotdad/amplifier-collection-recipes/pkg/spawner"
)

// ToolError is the structured failure payload every tool operation
// raises on error, per §7: "every error surfaces with a structured
// payload {message, type, optional errors[], warnings[]} at the tool
// boundary."
type ToolError struct {
	Message  string   `json:"message"`
	Type     string   `json:"type"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	cause    error
}

func (e *ToolError) Error() string { return e.Message }
func (e *ToolError) Unwrap() error { return e.cause }

// Error type tags used in ToolError.Type, matching the error-kind
// taxonomy in §7.
const (
	ErrLoad           = "load_error"
	ErrValidation     = "validation_error"
	ErrNotFound       = "not_found"
	ErrDenied         = "denied"
	ErrTimeoutDenied  = "timeout_denied"
	ErrNoPending      = "no_pending_approval"
	ErrStageMismatch  = "stage_mismatch"
	ErrRuntime        = "runtime_error"
)

func wrapErr(err error) *ToolError {
	var notFound *sessionstore.NotFoundError
	var denied *engine.DeniedError
	var timeoutDenied *engine.TimeoutDeniedError
	switch {
	case errors.As(err, &notFound):
		return &ToolError{Message: err.Error(), Type: ErrNotFound, cause: err}
	case errors.As(err, &denied):
		return &ToolError{Message: err.Error(), Type: ErrDenied, cause: err}
	case errors.As(err, &timeoutDenied):
		return &ToolError{Message: err.Error(), Type: ErrTimeoutDenied, cause: err}
	default:
		return &ToolError{Message: err.Error(), Type: ErrRuntime, cause: err}
	}
}

// Facade wires the lower components together behind the tool
// operations. Construct one per embedding process (or per test) with
// New; it holds no request-scoped state of its own.
type Facade struct {
	eng *engine.Engine
}

// Config bundles what New needs to build a Facade: where session state
// lives, the agent spawner callback, and (optionally) the set of agent
// names the validator should recognize — unknown agents only ever
// produce warnings, never errors, per §4.4.
type Config struct {
	BaseSessionDir  string
	AutoCleanupDays int
	Spawner         spawner.Spawner
	KnownAgents     map[string]bool
}

// New builds a Facade from a Config.
func New(cfg Config) *Facade {
	store := sessionstore.New(cfg.BaseSessionDir, cfg.AutoCleanupDays)
	eng := engine.New(store, cfg.Spawner)
	eng.KnownAgents = cfg.KnownAgents
	return &Facade{eng: eng}
}

// ExecuteResult is the shared success payload for execute and resume.
type ExecuteResult struct {
	Status      string          `json:"status"` // "completed" | "paused_for_approval"
	SessionID   string          `json:"session_id"`
	Context     models.Context  `json:"context"`
	PausedStage string          `json:"paused_stage,omitempty"`
	Prompt      string          `json:"prompt,omitempty"`
}

func fromEngineResult(r *engine.Result) *ExecuteResult {
	return &ExecuteResult{
		Status:      r.Status,
		SessionID:   r.SessionID,
		Context:     r.Context,
		PausedStage: r.PausedStage,
		Prompt:      r.Prompt,
	}
}

// Execute loads recipePath, validates it, and runs it to completion or
// to its first approval gate, seeding context with callerVars.
func (f *Facade) Execute(ctx context.Context, recipePath string, callerVars models.Context) (*ExecuteResult, error) {
	res, err := f.eng.Execute(ctx, recipePath, callerVars)
	if err != nil {
		return nil, wrapErr(err)
	}
	return fromEngineResult(res), nil
}

// Resume continues a session by id, handling any pending approval
// gate first (denied, timed-out-denied, or still-pending all stop the
// run here; approved clears the gate and continues).
func (f *Facade) Resume(ctx context.Context, sessionID string) (*ExecuteResult, error) {
	res, err := f.eng.Resume(ctx, sessionID)
	if err != nil {
		return nil, wrapErr(err)
	}
	return fromEngineResult(res), nil
}

// ListResult is the `list` operation's success payload.
type ListResult struct {
	Sessions []models.SessionSummary `json:"sessions"`
	Count    int                     `json:"count"`
}

// List enumerates sessions recorded under projectPath.
func (f *Facade) List(projectPath string) (*ListResult, error) {
	sessions, err := f.eng.List(projectPath)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &ListResult{Sessions: sessions, Count: len(sessions)}, nil
}

// ValidateResult is the `validate` operation's success payload.
type ValidateResult struct {
	Status   string   `json:"status"` // always "valid" on success
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate loads and statically checks recipePath without executing
// it. A structurally invalid recipe is reported as a ToolError whose
// Errors field carries every violation found, not just the first.
func (f *Facade) Validate(recipePath string) (*ValidateResult, error) {
	result, recipe, err := f.eng.Validate(recipePath)
	if err != nil {
		return nil, wrapErr(err)
	}
	if !result.IsValid() {
		return nil, &ToolError{
			Message:  fmt.Sprintf("recipe %s failed validation", recipePath),
			Type:     ErrValidation,
			Errors:   result.Errors,
			Warnings: result.Warnings,
		}
	}
	return &ValidateResult{
		Status:   "valid",
		Name:     recipe.Name,
		Version:  recipe.Version,
		Warnings: result.Warnings,
	}, nil
}

// ApprovalsResult is the `approvals` operation's success payload.
type ApprovalsResult struct {
	PendingApprovals []models.PendingApprovalSummary `json:"pending_approvals"`
	Count            int                              `json:"count"`
}

// Approvals lists every session across every project currently parked
// at an approval gate.
func (f *Facade) Approvals() (*ApprovalsResult, error) {
	pending, err := f.eng.Approvals()
	if err != nil {
		return nil, wrapErr(err)
	}
	return &ApprovalsResult{PendingApprovals: pending, Count: len(pending)}, nil
}

// ApprovalActionResult is the shared success payload for approve/deny.
type ApprovalActionResult struct {
	Status    string `json:"status"` // "approved" | "denied"
	SessionID string `json:"session_id"`
	Stage     string `json:"stage_name"`
}

// Approve marks sessionID's pending gate at stage approved. The run
// itself only advances on the next Resume.
func (f *Facade) Approve(sessionID, stage string) (*ApprovalActionResult, error) {
	if err := f.eng.Approve(sessionID, stage); err != nil {
		return nil, wrapErr(err)
	}
	return &ApprovalActionResult{Status: "approved", SessionID: sessionID, Stage: stage}, nil
}

// Deny marks sessionID's pending gate at stage denied with reason. A
// denied session never resumes past that stage.
func (f *Facade) Deny(sessionID, stage, reason string) (*ApprovalActionResult, error) {
	if err := f.eng.Deny(sessionID, stage, reason); err != nil {
		return nil, wrapErr(err)
	}
	return &ApprovalActionResult{Status: "denied", SessionID: sessionID, Stage: stage}, nil
}
