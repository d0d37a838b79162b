// Package models holds the recipe engine's data model: the declarative
// recipe document (Recipe/Stage/Step), the live execution context, and the
// durable session checkpoint record.
package models

import "time"

// ── Value ────────────────────────────────────────────────────

// Value is the tagged-value representation used for context and recipe
// context entries. In practice it is just interface{} constrained to the
// shapes produced by encoding/json and gopkg.in/yaml.v3: nil, bool,
// float64/int, string, []interface{}, map[string]interface{}.
type Value = interface{}

// Context is the live execution context visible to templates and
// conditions. Keys are variable names; values may be nested maps (for
// dotted-path resolution), scalars, or lists.
type Context map[string]Value

// Clone returns a shallow copy of the context (new top-level map, same
// nested value references). Used to give each parallel loop iteration
// its own context.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ── Recursion ────────────────────────────────────────────────

// Recursion configures the recursion/step-count budget for a recipe or a
// single sub-recipe step override.
type Recursion struct {
	MaxDepth      int `yaml:"max_depth" json:"max_depth"`
	MaxTotalSteps int `yaml:"max_total_steps" json:"max_total_steps"`
}

// DefaultMaxDepth is applied when a recipe omits `recursion.max_depth`.
const DefaultMaxDepth = 5

// DefaultMaxTotalSteps is applied when a recipe omits `recursion.max_total_steps`.
const DefaultMaxTotalSteps = 100

// ── Retry ────────────────────────────────────────────────────

type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
)

type Retry struct {
	MaxAttempts  int     `yaml:"max_attempts" json:"max_attempts"`
	Backoff      Backoff `yaml:"backoff" json:"backoff"`
	InitialDelay int     `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     int     `yaml:"max_delay" json:"max_delay"`
}

const (
	DefaultMaxAttempts  = 1
	DefaultInitialDelay = 5
	DefaultMaxDelay     = 300
)

// ── OnError ──────────────────────────────────────────────────

type OnError string

const (
	OnErrorFail          OnError = "fail"
	OnErrorContinue      OnError = "continue"
	OnErrorSkipRemaining OnError = "skip_remaining"
)

// ── Step ─────────────────────────────────────────────────────

// StepKind distinguishes an agent-calling leaf step from a sub-recipe
// composition step.
type StepKind string

const (
	StepAgent  StepKind = "agent"
	StepRecipe StepKind = "recipe"
)

// Reserved output names a step may not claim — they collide with the
// context's injected metadata sub-mappings.
var ReservedOutputNames = map[string]bool{
	"recipe":  true,
	"session": true,
	"step":    true,
}

// Step is a single unit of work within a recipe's steps/stage.steps list.
type Step struct {
	ID        string `yaml:"id" json:"id"`
	Output    string `yaml:"output,omitempty" json:"output,omitempty"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	Foreach       string `yaml:"foreach,omitempty" json:"foreach,omitempty"`
	As            string `yaml:"as,omitempty" json:"as,omitempty"`
	Collect       string `yaml:"collect,omitempty" json:"collect,omitempty"`
	Parallel      bool   `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	MaxIterations int    `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`

	Timeout int     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retry   *Retry  `yaml:"retry,omitempty" json:"retry,omitempty"`
	OnError OnError `yaml:"on_error,omitempty" json:"on_error,omitempty"`

	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Kind is inferred at load time: "recipe" if the Recipe field is set,
	// "agent" otherwise (the YAML document never spells it out directly).
	Kind StepKind `yaml:"-" json:"kind"`

	// Agent-step fields.
	Agent       string                 `yaml:"agent,omitempty" json:"agent,omitempty"`
	Prompt      string                 `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Mode        string                 `yaml:"mode,omitempty" json:"mode,omitempty"`
	AgentConfig map[string]Value       `yaml:"agent_config,omitempty" json:"agent_config,omitempty"`

	// Recipe (sub-recipe) step fields.
	Recipe          string           `yaml:"recipe,omitempty" json:"recipe,omitempty"`
	RecipeContext   map[string]Value `yaml:"context,omitempty" json:"context,omitempty"`
	RecipeRecursion *Recursion       `yaml:"recursion,omitempty" json:"recursion,omitempty"`
}

// DefaultMaxIterations is used when a foreach step omits max_iterations.
const DefaultMaxIterations = 100

// DefaultStepTimeout is used when a step omits timeout.
const DefaultStepTimeout = 600

// ── Approval ─────────────────────────────────────────────────

type ApprovalDefault string

const (
	ApprovalDefaultApprove ApprovalDefault = "approve"
	ApprovalDefaultDeny    ApprovalDefault = "deny"
)

// ApprovalConfig gates progression past the end of a stage until a human
// approves or denies, or the wait times out.
type ApprovalConfig struct {
	Required bool            `yaml:"required,omitempty" json:"required,omitempty"`
	Prompt   string          `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Timeout  int             `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Default  ApprovalDefault `yaml:"default,omitempty" json:"default,omitempty"`
}

// ApprovalStatus is the lifecycle state of one stage's approval gate.
type ApprovalStatus string

const (
	ApprovalNotRequired ApprovalStatus = "not_required"
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalDenied      ApprovalStatus = "denied"
	ApprovalTimedOut    ApprovalStatus = "timeout"
)

// ApprovalHistoryEntry records one resolution of a stage's approval gate.
type ApprovalHistoryEntry struct {
	Stage     string         `json:"stage"`
	Status    ApprovalStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Reason    string         `json:"reason,omitempty"`
}

// ── Stage ────────────────────────────────────────────────────

// Stage groups steps in staged-mode recipes and may gate progression past
// its end behind a human approval.
type Stage struct {
	Name     string          `yaml:"name" json:"name"`
	Steps    []Step          `yaml:"steps" json:"steps"`
	Approval *ApprovalConfig `yaml:"approval,omitempty" json:"approval,omitempty"`
}

// ── Recipe ───────────────────────────────────────────────────

// Recipe is the declarative workflow document loaded from YAML.
type Recipe struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description" json:"description"`
	Version     string           `yaml:"version" json:"version"`
	Author      string           `yaml:"author,omitempty" json:"author,omitempty"`
	Created     string           `yaml:"created,omitempty" json:"created,omitempty"`
	Updated     string           `yaml:"updated,omitempty" json:"updated,omitempty"`
	Tags        []string         `yaml:"tags,omitempty" json:"tags,omitempty"`
	Context     map[string]Value `yaml:"context,omitempty" json:"context,omitempty"`
	Recursion   *Recursion       `yaml:"recursion,omitempty" json:"recursion,omitempty"`

	Steps  []Step  `yaml:"steps,omitempty" json:"steps,omitempty"`
	Stages []Stage `yaml:"stages,omitempty" json:"stages,omitempty"`

	// Dir is the directory the recipe file was loaded from, used to
	// resolve sub-recipe `recipe:` paths relative to the referring
	// recipe rather than the project root. Not serialized.
	Dir string `yaml:"-" json:"-"`
}

// IsStaged reports whether the recipe uses staged mode (stages) instead
// of flat mode (steps). The loader rejects a recipe with both Steps and
// Stages non-empty; the validator rejects one with neither.
func (r *Recipe) IsStaged() bool {
	return len(r.Stages) > 0
}

// AllSteps returns every step in the recipe in execution order,
// flattening stages when present. Used by the validator for ID
// uniqueness/dependency checks that span stage boundaries.
func (r *Recipe) AllSteps() []Step {
	if !r.IsStaged() {
		return r.Steps
	}
	var all []Step
	for _, s := range r.Stages {
		all = append(all, s.Steps...)
	}
	return all
}

// ── SessionState ─────────────────────────────────────────────

// SessionState is the durable checkpoint record written after every
// successfully completed step.
type SessionState struct {
	SessionID     string    `json:"session_id"`
	RecipeName    string    `json:"recipe_name"`
	RecipeVersion string    `json:"recipe_version"`
	Started       time.Time `json:"started"`
	ProjectPath   string    `json:"project_path"`
	Context       Context   `json:"context"`
	CompletedSteps []string `json:"completed_steps"`

	// Flat mode.
	CurrentStepIndex int `json:"current_step_index,omitempty"`

	// Staged mode.
	IsStaged           bool     `json:"is_staged,omitempty"`
	CurrentStageIndex  int      `json:"current_stage_index,omitempty"`
	CurrentStepInStage int      `json:"current_step_in_stage,omitempty"`
	CompletedStages    []string `json:"completed_stages,omitempty"`

	// Pending approval gate, if a staged run is parked between stages.
	PendingApprovalStage       string    `json:"pending_approval_stage,omitempty"`
	PendingApprovalPrompt      string    `json:"pending_approval_prompt,omitempty"`
	PendingApprovalTimeout     int       `json:"pending_approval_timeout,omitempty"`
	PendingApprovalDefault     ApprovalDefault `json:"pending_approval_default,omitempty"`
	PendingApprovalRequestedAt time.Time `json:"pending_approval_requested_at,omitempty"`

	StageApprovals  map[string]ApprovalStatus `json:"stage_approvals,omitempty"`
	ApprovalHistory []ApprovalHistoryEntry    `json:"approval_history,omitempty"`
}

// HasPendingApproval reports whether the session is currently parked at
// an approval gate.
func (s *SessionState) HasPendingApproval() bool {
	return s.PendingApprovalStage != ""
}

// ClearPendingApproval removes the pending-approval fields. Called once
// the gate resolves (approved, denied, or timed out) and the driver is
// about to resume.
func (s *SessionState) ClearPendingApproval() {
	s.PendingApprovalStage = ""
	s.PendingApprovalPrompt = ""
	s.PendingApprovalTimeout = 0
	s.PendingApprovalDefault = ""
	s.PendingApprovalRequestedAt = time.Time{}
}

// SessionSummary is the condensed record returned by list operations —
// everything list_sessions needs without exposing the full context.
type SessionSummary struct {
	SessionID        string   `json:"session_id"`
	RecipeName       string   `json:"recipe_name"`
	Started          time.Time `json:"started"`
	CurrentStepIndex int      `json:"current_step_index"`
	CompletedSteps   []string `json:"completed_steps"`
}

// PendingApprovalSummary is one entry in the list_pending_approvals result.
type PendingApprovalSummary struct {
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
	Prompt    string `json:"prompt"`
}
