// Package engine implements the top-level recipe executor (C9): the
// flat and staged drivers, checkpointing, approval gates, and
// sub-recipe composition.
//
// Grounded on the teacher's internal/workflow/engine.go Engine, but
// restructured from an async DAG runner (ExecuteRecipe launches a
// goroutine and returns a run id immediately, progress polled via
// GetPendingGates) into a synchronous, file-checkpointed driver — the
// spec's execute/resume tool operations return
// {status, session_id, context} directly, so there is no async handoff
// to model. The human-gate channel+poll pattern in the teacher's
// executeHumanGate is replaced by returning an ApprovalGatePaused
// control value instead of blocking inside the engine.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/robotdad/amplifier-collection-recipes/internal/condition"
	"github.com/robotdad/amplifier-collection-recipes/internal/loopexec"
	"github.com/robotdad/amplifier-collection-recipes/internal/outcome"
	"github.com/robotdad/amplifier-collection-recipes/internal/recipeyaml"
	"github.com/robotdad/amplifier-collection-recipes/internal/recursion"
	"github.com/robotdad/amplifier-collection-recipes/internal/sessionstore"
	"github.com/robotdad/amplifier-collection-recipes/internal/stepexec"
	"github.com/robotdad/amplifier-collection-recipes/internal/telemetry"
	"github.com/robotdad/amplifier-collection-recipes/internal/template"
	"github.com/robotdad/amplifier-collection-recipes/internal/validate"
	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
	"github.com/robotdad/amplifier-collection-recipes/pkg/spawner"
)

// Engine ties the lower components (C1-C8) together behind the tool
// operations in spec §6. Everything it needs is injected at
// construction — no package-level mutable state.
type Engine struct {
	Store       *sessionstore.Store
	Spawner     spawner.Spawner
	KnownAgents map[string]bool
}

// New constructs an Engine.
func New(store *sessionstore.Store, sp spawner.Spawner) *Engine {
	return &Engine{Store: store, Spawner: sp}
}

// Result is the payload returned by Execute/Resume on success.
type Result struct {
	Status      string // "completed" | "paused_for_approval"
	SessionID   string
	Context     models.Context
	PausedStage string
	Prompt      string
}

// DeniedError reports that a staged run's approval gate was denied.
type DeniedError struct {
	SessionID, Stage, Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("session %s: stage %q denied: %s", e.SessionID, e.Stage, e.Reason)
}

// TimeoutDeniedError reports that a pending approval timed out with
// default=deny.
type TimeoutDeniedError struct {
	SessionID, Stage string
}

func (e *TimeoutDeniedError) Error() string {
	return fmt.Sprintf("session %s: stage %q timed out with no approval", e.SessionID, e.Stage)
}

// Execute loads a recipe from disk, validates it, creates a new
// session, and runs it to completion or to its first approval gate.
func (e *Engine) Execute(ctx context.Context, recipePath string, callerVars models.Context) (*Result, error) {
	recipe, err := recipeyaml.Load(recipePath)
	if err != nil {
		return nil, err
	}
	recipeyaml.ApplyDefaults(recipe)

	vres := validate.Recipe(recipe, validate.Options{KnownAgents: e.KnownAgents})
	if !vres.IsValid() {
		return nil, fmt.Errorf("recipe %s is invalid: %v", recipePath, vres.Errors)
	}

	absPath, err := filepath.Abs(recipePath)
	if err != nil {
		return nil, fmt.Errorf("resolving recipe path: %w", err)
	}
	projectPath := filepath.Dir(absPath)

	state, err := e.Store.CreateSession(recipe, projectPath, absPath)
	if err != nil {
		return nil, err
	}
	log.Info().Str("session_id", state.SessionID).Str("recipe", recipe.Name).Str("project", projectPath).Msg("recipe session created")

	injectReservedContext(state, recipe, projectPath)
	for k, v := range callerVars {
		state.Context[k] = v
	}

	recState := recursion.NewTopLevel(recipe)
	return e.run(ctx, recipe, state, projectPath, recState)
}

// Resume locates an existing session by id (scanning every project
// under the store's base dir, since the resume tool operation takes
// only a session id per spec §6) and continues it.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*Result, error) {
	projectPath, err := e.findProjectForSession(sessionID)
	if err != nil {
		return nil, err
	}
	state, err := e.Store.LoadState(sessionID, projectPath)
	if err != nil {
		return nil, err
	}

	recipePath := filepath.Join(e.Store.BaseDir, sessionstore.ProjectSlug(projectPath), "recipe-sessions", sessionID, "recipe.yaml")
	recipe, err := recipeyaml.Load(recipePath)
	if err != nil {
		return nil, fmt.Errorf("loading recipe for resume: %w", err)
	}
	recipeyaml.ApplyDefaults(recipe)

	recState := recursion.NewTopLevel(recipe)

	if recipe.IsStaged() {
		if resolved, res, err := e.resolvePendingApproval(state, projectPath); err != nil || resolved {
			return res, err
		}
	}

	return e.run(ctx, recipe, state, projectPath, recState)
}

// findProjectForSession locates which project slug directory under the
// store's base dir holds sessionID, since the resume/approve/deny tool
// operations take only a session id (§6). It reads state.json directly
// rather than going through Store, because the slug can't be reversed
// back into the original project path — the stored project_path field
// inside the state is the only reliable source of truth.
func (e *Engine) findProjectForSession(sessionID string) (string, error) {
	slugs, err := listDirNames(e.Store.BaseDir)
	if err != nil {
		return "", fmt.Errorf("scanning for session %s: %w", sessionID, err)
	}
	for _, slug := range slugs {
		path := filepath.Join(e.Store.BaseDir, slug, "recipe-sessions", sessionID, "state.json")
		state, err := loadStateByPath(path)
		if err != nil {
			continue
		}
		return state.ProjectPath, nil
	}
	return "", &sessionstore.NotFoundError{SessionID: sessionID}
}

// resolvePendingApproval handles §4.9.2's "on resume, first handle
// pending approval" step. Returns resolved=true with a Result or error
// when the run must stop here (paused, denied, or timed-out-denied);
// resolved=false means the gate cleared and the staged driver should
// proceed.
func (e *Engine) resolvePendingApproval(state *models.SessionState, projectPath string) (bool, *Result, error) {
	if !state.HasPendingApproval() {
		return false, nil, nil
	}

	switch outcome := sessionstore.CheckApprovalTimeout(state); outcome {
	case sessionstore.TimedOutDenied:
		return true, nil, &TimeoutDeniedError{SessionID: state.SessionID, Stage: state.PendingApprovalStage}
	case sessionstore.TimedOutApproved:
		state.ClearPendingApproval()
		if err := e.Store.SaveState(state.SessionID, projectPath, state); err != nil {
			return true, nil, err
		}
		return false, nil, nil
	}

	status := sessionstore.GetStageApprovalStatus(state, state.PendingApprovalStage)
	switch status {
	case models.ApprovalPending:
		return true, &Result{
			Status:      "paused_for_approval",
			SessionID:   state.SessionID,
			Context:     state.Context,
			PausedStage: state.PendingApprovalStage,
			Prompt:      state.PendingApprovalPrompt,
		}, nil
	case models.ApprovalDenied:
		return true, nil, &DeniedError{SessionID: state.SessionID, Stage: state.PendingApprovalStage}
	case models.ApprovalApproved:
		state.ClearPendingApproval()
		if err := e.Store.SaveState(state.SessionID, projectPath, state); err != nil {
			return true, nil, err
		}
		return false, nil, nil
	}
	return false, nil, nil
}

func injectReservedContext(state *models.SessionState, recipe *models.Recipe, projectPath string) {
	state.Context["recipe"] = map[string]interface{}{
		"name":        recipe.Name,
		"version":     recipe.Version,
		"description": recipe.Description,
	}
	state.Context["session"] = map[string]interface{}{
		"id":      state.SessionID,
		"started": state.Started,
		"project": projectPath,
	}
}

func (e *Engine) run(ctx context.Context, recipe *models.Recipe, state *models.SessionState, projectPath string, recState *recursion.State) (*Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "recipe.run")
	span.SetAttributes(
		attribute.String("recipe.name", recipe.Name),
		attribute.String("session.id", state.SessionID),
		attribute.Bool("recipe.staged", recipe.IsStaged()),
	)
	defer span.End()

	var result *Result
	var err error
	if recipe.IsStaged() {
		result, err = e.runStaged(ctx, recipe, state, projectPath, recState)
	} else {
		result, err = e.runFlat(ctx, recipe, state, projectPath, recState)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Str("session_id", state.SessionID).Msg("recipe run failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("recipe.result_status", result.Status))
	if result.Status == "completed" {
		log.Info().Str("session_id", state.SessionID).Msg("recipe run completed")
		_, _ = e.Store.CleanupOldSessions(projectPath)
	} else {
		log.Info().Str("session_id", state.SessionID).Str("stage", result.PausedStage).Msg("recipe run paused for approval")
	}
	return result, nil
}

// ── Flat driver (§4.9.1) ─────────────────────────────────────────

func (e *Engine) runFlat(ctx context.Context, recipe *models.Recipe, state *models.SessionState, projectPath string, recState *recursion.State) (*Result, error) {
	steps := recipe.Steps
	for i := state.CurrentStepIndex; i < len(steps); i++ {
		step := steps[i]
		state.Context["step"] = map[string]interface{}{"id": step.ID, "index": i}

		if step.Condition != "" {
			ok, err := condition.Evaluate(step.Condition, state.Context)
			if err != nil {
				return nil, e.checkpointAndFail(state, projectPath, err)
			}
			if !ok {
				appendSkipped(state.Context, step.ID)
				continue
			}
		}

		out, err := e.runOneStep(ctx, &step, recipe.Dir, state.Context, state.SessionID, recState)
		if err != nil {
			var skip *outcome.SkipRemainingSignal
			if errors.As(err, &skip) {
				break
			}
			return nil, e.checkpointAndFail(state, projectPath, err)
		}
		if out.Kind == outcome.Skipped {
			appendSkipped(state.Context, step.ID)
			continue
		}
		if out.Kind == outcome.SkipRemaining {
			break
		}

		storeStepResult(&step, state.Context, out.Result)
		state.CompletedSteps = append(state.CompletedSteps, step.ID)
		state.CurrentStepIndex = i + 1
		if err := e.Store.SaveState(state.SessionID, projectPath, state); err != nil {
			return nil, err
		}
	}

	return &Result{Status: "completed", SessionID: state.SessionID, Context: state.Context}, nil
}

func (e *Engine) checkpointAndFail(state *models.SessionState, projectPath string, cause error) error {
	log.Warn().Err(cause).Str("session_id", state.SessionID).Msg("checkpointing failed run")
	_ = e.Store.SaveState(state.SessionID, projectPath, state)
	return cause
}

func appendSkipped(ctx models.Context, stepID string) {
	skipped, _ := ctx["_skipped_steps"].([]string)
	ctx["_skipped_steps"] = append(skipped, stepID)
}

func storeStepResult(step *models.Step, ctx models.Context, result models.Value) {
	if step.Foreach != "" {
		return // loop results are stored by runLoopStep itself
	}
	if step.Output != "" {
		ctx[step.Output] = result
	}
}

// runOneStep dispatches a single (non-loop or loop) step: if
// step.Foreach is set it runs the loop executor (C8); otherwise it
// dispatches directly to the agent executor (C7) or recurses into a
// sub-recipe.
func (e *Engine) runOneStep(ctx context.Context, step *models.Step, recipeDir string, recipeCtx models.Context, sessionID string, recState *recursion.State) (outcome.Step, error) {
	if step.Foreach != "" {
		return e.runLoopStep(ctx, step, recipeDir, recipeCtx, sessionID, recState)
	}
	return e.runLeafStep(ctx, step, recipeDir, recipeCtx, sessionID, recState)
}

func (e *Engine) runLeafStep(ctx context.Context, step *models.Step, recipeDir string, recipeCtx models.Context, sessionID string, recState *recursion.State) (outcome.Step, error) {
	if step.Kind == models.StepRecipe {
		result, err := e.runSubRecipeStep(ctx, step, recipeDir, recipeCtx, sessionID, recState)
		if err != nil {
			return outcome.Step{}, err
		}
		return outcome.CompletedOutcome(result), nil
	}
	if err := recState.IncrementSteps(1); err != nil {
		return outcome.Step{}, err
	}
	ctx, span := telemetry.Tracer().Start(ctx, "recipe.step")
	span.SetAttributes(attribute.String("step.id", step.ID), attribute.String("step.agent", step.Agent))
	defer span.End()
	out, err := stepexec.ExecuteWithRetry(ctx, e.Spawner, step, recipeCtx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (e *Engine) runLoopStep(ctx context.Context, step *models.Step, recipeDir string, recipeCtx models.Context, sessionID string, recState *recursion.State) (outcome.Step, error) {
	iterationBudget := 0
	if step.Parallel && step.Kind != models.StepRecipe {
		iterationBudget = 1
	}

	out, results, err := loopexec.Run(ctx, step, recipeCtx, recState, iterationBudget, func(ctx context.Context, iterCtx models.Context, index int) (models.Value, error) {
		if step.Kind == models.StepRecipe {
			return e.runSubRecipeStep(ctx, step, recipeDir, iterCtx, sessionID, recState)
		}
		if !step.Parallel {
			// Parallel agent iterations were already pre-incremented in
			// bulk above; sequential iterations increment one at a time,
			// same as a non-loop agent step, so a mid-loop budget
			// violation stops the loop rather than being silently
			// absorbed by the pre-check.
			if err := recState.IncrementSteps(1); err != nil {
				return nil, err
			}
		}
		o, err := stepexec.ExecuteWithRetry(ctx, e.Spawner, step, iterCtx, sessionID)
		if err != nil {
			return nil, err
		}
		if o.Kind == outcome.SkipRemaining {
			return nil, &outcome.SkipRemainingSignal{StepID: step.ID}
		}
		return o.Result, nil
	})
	if err != nil {
		return outcome.Step{}, err
	}

	switch out.Kind {
	case outcome.Skipped:
		return out, nil
	case outcome.SkipRemaining:
		return out, nil
	default:
		if step.Collect != "" {
			recipeCtx[step.Collect] = results
		} else if step.Output != "" && len(results) > 0 {
			recipeCtx[step.Output] = results[len(results)-1]
		}
		return outcome.CompletedOutcome(results), nil
	}
}

// runSubRecipeStep resolves, loads, and recurses into a sub-recipe,
// per §4.9.4: a fresh isolated context built only from the step's
// `context` mapping, with recursion state inherited (or overridden) and
// propagated back after the call returns.
func (e *Engine) runSubRecipeStep(ctx context.Context, step *models.Step, parentDir string, recipeCtx models.Context, sessionID string, recState *recursion.State) (models.Value, error) {
	pathTmpl, err := template.Substitute(step.Recipe, recipeCtx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", step.ID, err)
	}
	resolvedPath := pathTmpl
	if !filepath.IsAbs(resolvedPath) {
		resolvedPath = filepath.Join(parentDir, resolvedPath)
	}

	sub, err := recipeyaml.Load(resolvedPath)
	if err != nil {
		return nil, fmt.Errorf("step %s: loading sub-recipe: %w", step.ID, err)
	}
	recipeyaml.ApplyDefaults(sub)

	subCtx := make(models.Context)
	for k, v := range step.RecipeContext {
		sv, err := template.SubstituteValue(v, recipeCtx)
		if err != nil {
			return nil, fmt.Errorf("step %s: sub-recipe context: %w", step.ID, err)
		}
		subCtx[k] = sv
	}

	childState, err := recState.Enter(sub.Name, step.RecipeRecursion)
	if err != nil {
		return nil, err
	}

	subSessionState := &models.SessionState{
		SessionID:      sessionID,
		RecipeName:     sub.Name,
		RecipeVersion:  sub.Version,
		Context:        subCtx,
		CompletedSteps: []string{},
	}
	subSessionState.Context["recipe"] = map[string]interface{}{"name": sub.Name, "version": sub.Version, "description": sub.Description}
	subSessionState.Context["session"] = recipeCtx["session"]

	var res *Result
	if sub.IsStaged() {
		res, err = e.runStagedInMemory(ctx, sub, subSessionState, childState)
	} else {
		res, err = e.runFlatInMemory(ctx, sub, subSessionState, childState)
	}
	if err != nil {
		return nil, err
	}

	if propErr := recState.Propagate(childState); propErr != nil {
		return nil, propErr
	}

	return res.Context, nil
}

// runFlatInMemory runs the flat driver's step semantics without any
// session-store checkpointing, for sub-recipe composition (§4.9.4: "They
// do not create or resume sessions; their progress is not separately
// checkpointed").
func (e *Engine) runFlatInMemory(ctx context.Context, recipe *models.Recipe, state *models.SessionState, recState *recursion.State) (*Result, error) {
	for i := 0; i < len(recipe.Steps); i++ {
		step := recipe.Steps[i]
		state.Context["step"] = map[string]interface{}{"id": step.ID, "index": i}

		if step.Condition != "" {
			ok, err := condition.Evaluate(step.Condition, state.Context)
			if err != nil {
				return nil, err
			}
			if !ok {
				appendSkipped(state.Context, step.ID)
				continue
			}
		}

		out, err := e.runOneStep(ctx, &step, recipe.Dir, state.Context, state.SessionID, recState)
		if err != nil {
			var skip *outcome.SkipRemainingSignal
			if errors.As(err, &skip) {
				break
			}
			return nil, err
		}
		if out.Kind == outcome.Skipped {
			appendSkipped(state.Context, step.ID)
			continue
		}
		if out.Kind == outcome.SkipRemaining {
			break
		}
		storeStepResult(&step, state.Context, out.Result)
		state.CompletedSteps = append(state.CompletedSteps, step.ID)
	}
	return &Result{Status: "completed", SessionID: state.SessionID, Context: state.Context}, nil
}

// ── Staged driver (§4.9.2) ───────────────────────────────────────

func (e *Engine) runStaged(ctx context.Context, recipe *models.Recipe, state *models.SessionState, projectPath string, recState *recursion.State) (*Result, error) {
	for si := state.CurrentStageIndex; si < len(recipe.Stages); si++ {
		stage := recipe.Stages[si]
		startStep := 0
		if si == state.CurrentStageIndex {
			startStep = state.CurrentStepInStage
		}

		for sti := startStep; sti < len(stage.Steps); sti++ {
			step := stage.Steps[sti]
			state.Context["step"] = map[string]interface{}{"id": step.ID, "index": sti, "stage": stage.Name}

			if step.Condition != "" {
				ok, err := condition.Evaluate(step.Condition, state.Context)
				if err != nil {
					return nil, e.checkpointAndFail(state, projectPath, err)
				}
				if !ok {
					appendSkipped(state.Context, step.ID)
					continue
				}
			}

			out, err := e.runOneStep(ctx, &step, recipe.Dir, state.Context, state.SessionID, recState)
			if err != nil {
				var skip *outcome.SkipRemainingSignal
				if errors.As(err, &skip) {
					goto stageDone
				}
				return nil, e.checkpointAndFail(state, projectPath, err)
			}
			if out.Kind == outcome.Skipped {
				appendSkipped(state.Context, step.ID)
				continue
			}
			if out.Kind == outcome.SkipRemaining {
				goto stageDone
			}

			storeStepResult(&step, state.Context, out.Result)
			state.CompletedSteps = append(state.CompletedSteps, step.ID)
			state.CurrentStepInStage = sti + 1
			if err := e.Store.SaveState(state.SessionID, projectPath, state); err != nil {
				return nil, err
			}
		}

	stageDone:
		state.CompletedStages = append(state.CompletedStages, stage.Name)
		state.CurrentStageIndex = si + 1
		state.CurrentStepInStage = 0

		if stage.Approval != nil && stage.Approval.Required {
			if err := e.Store.SaveState(state.SessionID, projectPath, state); err != nil {
				return nil, err
			}
			prompt := stage.Approval.Prompt
			def := stage.Approval.Default
			if def == "" {
				def = models.ApprovalDefaultDeny
			}
			sessionstore.SetPendingApproval(state, stage.Name, prompt, stage.Approval.Timeout, def)
			if err := e.Store.SaveState(state.SessionID, projectPath, state); err != nil {
				return nil, err
			}
			return &Result{
				Status:      "paused_for_approval",
				SessionID:   state.SessionID,
				Context:     state.Context,
				PausedStage: stage.Name,
				Prompt:      prompt,
			}, nil
		}
		if err := e.Store.SaveState(state.SessionID, projectPath, state); err != nil {
			return nil, err
		}
	}

	return &Result{Status: "completed", SessionID: state.SessionID, Context: state.Context}, nil
}

// runStagedInMemory mirrors runStaged for sub-recipe composition,
// without checkpointing. It runs every stage's steps in order and does
// not act on a stage's approval config: a sub-recipe's approval gates
// neither pause the sub-recipe nor the parent run.
func (e *Engine) runStagedInMemory(ctx context.Context, recipe *models.Recipe, state *models.SessionState, recState *recursion.State) (*Result, error) {
	for si := range recipe.Stages {
		stage := recipe.Stages[si]
		for sti := range stage.Steps {
			step := stage.Steps[sti]
			state.Context["step"] = map[string]interface{}{"id": step.ID, "index": sti, "stage": stage.Name}

			if step.Condition != "" {
				ok, err := condition.Evaluate(step.Condition, state.Context)
				if err != nil {
					return nil, err
				}
				if !ok {
					appendSkipped(state.Context, step.ID)
					continue
				}
			}

			out, err := e.runOneStep(ctx, &step, recipe.Dir, state.Context, state.SessionID, recState)
			if err != nil {
				var skip *outcome.SkipRemainingSignal
				if errors.As(err, &skip) {
					break
				}
				return nil, err
			}
			if out.Kind == outcome.Skipped {
				appendSkipped(state.Context, step.ID)
				continue
			}
			if out.Kind == outcome.SkipRemaining {
				break
			}
			storeStepResult(&step, state.Context, out.Result)
			state.CompletedSteps = append(state.CompletedSteps, step.ID)
		}
	}
	return &Result{Status: "completed", SessionID: state.SessionID, Context: state.Context}, nil
}

// ── Other tool operations ────────────────────────────────────────

// List enumerates sessions for a project (spec's `list` operation,
// scoped to the project the caller supplies the base directory for).
func (e *Engine) List(projectPath string) ([]models.SessionSummary, error) {
	return e.Store.ListSessions(projectPath)
}

// Validate loads and statically validates a recipe without executing it.
func (e *Engine) Validate(recipePath string) (*validate.Result, *models.Recipe, error) {
	recipe, err := recipeyaml.Load(recipePath)
	if err != nil {
		return nil, nil, err
	}
	recipeyaml.ApplyDefaults(recipe)
	res := validate.Recipe(recipe, validate.Options{KnownAgents: e.KnownAgents})
	return &res, recipe, nil
}

// Approvals enumerates every session across every project with a
// pending approval gate.
func (e *Engine) Approvals() ([]models.PendingApprovalSummary, error) {
	return sessionstore.ListPendingApprovals(e.Store.BaseDir)
}

// Approve marks a stage's pending approval approved. The driver clears
// the pending fields on the next resume, not here.
func (e *Engine) Approve(sessionID, stage string) error {
	projectPath, err := e.findProjectForSession(sessionID)
	if err != nil {
		return err
	}
	state, err := e.Store.LoadState(sessionID, projectPath)
	if err != nil {
		return err
	}
	if !state.HasPendingApproval() || state.PendingApprovalStage != stage {
		return fmt.Errorf("session %s: no pending approval for stage %q", sessionID, stage)
	}
	sessionstore.SetStageApprovalStatus(state, stage, models.ApprovalApproved, "")
	log.Info().Str("session_id", sessionID).Str("stage", stage).Msg("stage approved")
	return e.Store.SaveState(sessionID, projectPath, state)
}

// Deny marks a stage's pending approval denied and clears the pending
// fields immediately (a denied gate never resumes).
func (e *Engine) Deny(sessionID, stage, reason string) error {
	projectPath, err := e.findProjectForSession(sessionID)
	if err != nil {
		return err
	}
	state, err := e.Store.LoadState(sessionID, projectPath)
	if err != nil {
		return err
	}
	if !state.HasPendingApproval() || state.PendingApprovalStage != stage {
		return fmt.Errorf("session %s: no pending approval for stage %q", sessionID, stage)
	}
	sessionstore.SetStageApprovalStatus(state, stage, models.ApprovalDenied, reason)
	state.ClearPendingApproval()
	log.Info().Str("session_id", sessionID).Str("stage", stage).Str("reason", reason).Msg("stage denied")
	return e.Store.SaveState(sessionID, projectPath, state)
}

// ── small filesystem helpers kept local to avoid leaking os/ioutil
// details into the driver logic above ──────────────────────────

func listDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func loadStateByPath(path string) (*models.SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
