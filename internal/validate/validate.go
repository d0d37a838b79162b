// Package validate implements the static whole-recipe validator (C4):
// ID uniqueness, dependency acyclicity, variable reachability, and
// per-step shape rules. It never touches the filesystem or a spawner —
// it only walks an already-loaded models.Recipe.
package validate

import (
	"fmt"

	"github.com/robotdad/amplifier-collection-recipes/internal/recipeyaml"
	"github.com/robotdad/amplifier-collection-recipes/internal/template"
	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
)

// Result is the report returned to the `validate` tool operation.
type Result struct {
	Errors   []string
	Warnings []string
}

// IsValid reports whether the recipe has no errors.
func (r Result) IsValid() bool { return len(r.Errors) == 0 }

// KnownAgents, when non-nil, is consulted to emit warnings (never
// errors) for agent names the coordinator doesn't recognize, per §4.4.
type Options struct {
	KnownAgents map[string]bool
}

// Recipe validates a fully loaded (and default-applied) recipe.
func Recipe(r *models.Recipe, opts Options) Result {
	var res Result

	if !r.IsStaged() && len(r.Steps) == 0 {
		res.Errors = append(res.Errors, "recipe must define at least one of steps or stages")
		return res
	}
	if !recipeyaml.ValidName(r.Name) {
		res.Errors = append(res.Errors, fmt.Sprintf("invalid recipe name %q", r.Name))
	}
	if !recipeyaml.ValidSemver(r.Version) {
		res.Errors = append(res.Errors, fmt.Sprintf("invalid version %q: must be strict MAJOR.MINOR.PATCH", r.Version))
	}

	stageNames := make(map[string]bool)
	if r.IsStaged() {
		for _, st := range r.Stages {
			if !recipeyaml.ValidStageName(st.Name) {
				res.Errors = append(res.Errors, fmt.Sprintf("invalid stage name %q", st.Name))
			}
			if stageNames[st.Name] {
				res.Errors = append(res.Errors, fmt.Sprintf("duplicate stage name %q", st.Name))
			}
			stageNames[st.Name] = true
			if len(st.Steps) == 0 {
				res.Errors = append(res.Errors, fmt.Sprintf("stage %q must have at least one step", st.Name))
			}
			if st.Approval != nil && st.Approval.Required && st.Approval.Prompt == "" {
				res.Errors = append(res.Errors, fmt.Sprintf("stage %q requires approval.prompt when approval.required is true", st.Name))
			}
		}
	}

	allSteps := r.AllSteps()

	ids := make(map[string]int)
	for i, s := range allSteps {
		if s.ID == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("step %d: id is required", i))
			continue
		}
		if _, dup := ids[s.ID]; dup {
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate step id %q", s.ID))
			continue
		}
		ids[s.ID] = i
	}

	for i, s := range allSteps {
		validateStepShape(&s, i, &res, opts)
	}

	for i, s := range allSteps {
		for _, dep := range s.DependsOn {
			depIdx, ok := ids[dep]
			if !ok {
				res.Errors = append(res.Errors, fmt.Sprintf("step %q depends_on unknown step %q", s.ID, dep))
				continue
			}
			if depIdx >= i {
				res.Errors = append(res.Errors, fmt.Sprintf("step %q depends_on %q which does not precede it", s.ID, dep))
			}
			if dep == s.ID {
				res.Errors = append(res.Errors, fmt.Sprintf("step %q cannot depend on itself", s.ID))
			}
		}
	}

	checkReachability(r, allSteps, &res)

	return res
}

func validateStepShape(s *models.Step, idx int, res *Result, opts Options) {
	label := s.ID
	if label == "" {
		label = fmt.Sprintf("#%d", idx)
	}

	if s.Output != "" {
		if models.ReservedOutputNames[s.Output] {
			res.Errors = append(res.Errors, fmt.Sprintf("step %s: output %q is a reserved name", label, s.Output))
		} else if !recipeyaml.ValidOutputName(s.Output) {
			res.Errors = append(res.Errors, fmt.Sprintf("step %s: invalid output name %q", label, s.Output))
		}
	}
	if s.Collect != "" && !recipeyaml.ValidOutputName(s.Collect) {
		res.Errors = append(res.Errors, fmt.Sprintf("step %s: invalid collect name %q", label, s.Collect))
	}

	if s.Parallel && s.Foreach == "" {
		res.Errors = append(res.Errors, fmt.Sprintf("step %s: parallel requires foreach", label))
	}
	if s.Foreach != "" && len(template.ExtractVariables(s.Foreach)) == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("step %s: foreach must reference a {{...}} template", label))
	}
	if s.MaxIterations < 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("step %s: max_iterations must be positive", label))
	}
	if s.Timeout < 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("step %s: timeout must be positive", label))
	}
	if s.Retry != nil && s.Retry.MaxAttempts <= 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("step %s: retry.max_attempts must be > 0", label))
	}
	if s.Retry != nil && s.Retry.Backoff != "" && s.Retry.Backoff != models.BackoffExponential && s.Retry.Backoff != models.BackoffLinear {
		res.Errors = append(res.Errors, fmt.Sprintf("step %s: retry.backoff must be exponential or linear", label))
	}

	switch s.Kind {
	case models.StepRecipe:
		if s.Recipe == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("step %s: recipe step requires recipe", label))
		}
		if s.Agent != "" || s.Prompt != "" || s.Mode != "" {
			res.Errors = append(res.Errors, fmt.Sprintf("step %s: recipe step must not carry agent, prompt, or mode", label))
		}
	default:
		if s.Agent == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("step %s: agent step requires agent", label))
		}
		if s.Prompt == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("step %s: agent step requires prompt", label))
		}
		if s.Recipe != "" || s.RecipeContext != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("step %s: agent step must not carry recipe or context", label))
		}
		if opts.KnownAgents != nil && s.Agent != "" && !opts.KnownAgents[s.Agent] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("step %s: unknown agent %q", label, s.Agent))
		}
	}
}

// checkReachability simulates step order, tracking which names are
// available at each point, per §4.4's reachability algorithm.
func checkReachability(r *models.Recipe, allSteps []models.Step, res *Result) {
	available := make(map[string]bool)
	for k := range r.Context {
		available[k] = true
	}
	available["recipe"] = true
	available["session"] = true
	available["step"] = true

	for _, s := range allSteps {
		loopVar := ""
		if s.Foreach != "" {
			loopVar = s.As
			if loopVar == "" {
				loopVar = "item"
			}
			available[loopVar] = true
		}

		checkTemplateRefs(s.Prompt, available, s.ID, res)
		checkTemplateRefs(s.Condition, available, s.ID, res)
		checkTemplateRefs(s.Foreach, available, s.ID, res)
		checkTemplateRefs(s.Recipe, available, s.ID, res)
		for _, v := range s.RecipeContext {
			if str, ok := v.(string); ok {
				checkTemplateRefs(str, available, s.ID, res)
			}
		}

		if loopVar != "" {
			delete(available, loopVar)
		}
		if s.Output != "" {
			available[s.Output] = true
		}
		if s.Collect != "" {
			available[s.Collect] = true
		}
	}
}

func checkTemplateRefs(tmpl string, available map[string]bool, stepID string, res *Result) {
	if tmpl == "" {
		return
	}
	for _, ref := range template.ExtractVariables(tmpl) {
		ns := ref
		for i := 0; i < len(ref); i++ {
			if ref[i] == '.' {
				ns = ref[:i]
				break
			}
		}
		if !available[ns] {
			res.Errors = append(res.Errors, fmt.Sprintf("step %s: variable %q is not reachable at this point", stepID, ref))
		}
	}
}
