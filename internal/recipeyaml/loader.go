// Package recipeyaml parses recipe YAML documents into the typed
// pkg/models records and rejects structurally malformed documents at
// parse time (spec §4.3). The loader is pure — the only I/O it performs
// is the single file read in Load; everything else operates on bytes
// already in memory, the same separation the teacher draws between
// reading config files and interpreting them.
package recipeyaml

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
)

// LoadError wraps a structural rejection with the offending recipe path,
// when known.
type LoadError struct {
	Path string
	Msg  string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Msg)
	}
	return e.Msg
}

var (
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	stageRe   = regexp.MustCompile(`^[A-Za-z0-9_ -]+$`)
	semverRe  = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	outputRe  = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Load reads a recipe YAML file from disk and parses it. recipe.Dir is
// set to the file's containing directory so later sub-recipe path
// resolution can be relative to it.
func Load(path string) (*models.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.Path = path
			return nil, le
		}
		return nil, err
	}
	r.Dir = filepath.Dir(path)
	return r, nil
}

// Parse parses recipe YAML bytes without touching the filesystem.
func Parse(data []byte) (*models.Recipe, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &LoadError{Msg: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if len(root.Content) == 0 {
		return nil, &LoadError{Msg: "empty recipe document"}
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, &LoadError{Msg: "recipe root must be a mapping"}
	}

	var recipe models.Recipe
	if err := doc.Decode(&recipe); err != nil {
		return nil, &LoadError{Msg: fmt.Sprintf("decoding recipe: %v", err)}
	}

	if err := checkRawShape(doc); err != nil {
		return nil, err
	}
	if err := validateLoadTime(&recipe); err != nil {
		return nil, err
	}
	return &recipe, nil
}

// checkRawShape inspects the raw YAML node tree for shape violations
// that the typed Decode above would silently coerce or ignore (YAML
// happily decodes a scalar into a slice field as a one-element slice in
// some decoders, so we check the raw node kind directly).
func checkRawShape(doc *yaml.Node) error {
	fields := rawFields(doc)

	if stepsNode, ok := fields["steps"]; ok && stepsNode.Kind != 0 && stepsNode.Kind != yaml.SequenceNode {
		return &LoadError{Msg: "steps must be a sequence"}
	}
	if stagesNode, ok := fields["stages"]; ok && stagesNode.Kind != 0 && stagesNode.Kind != yaml.SequenceNode {
		return &LoadError{Msg: "stages must be a sequence"}
	}

	hasSteps := hasNonEmptySequence(fields["steps"])
	hasStages := hasNonEmptySequence(fields["stages"])
	if hasSteps && hasStages {
		return &LoadError{Msg: "recipe must not define both steps and stages"}
	}

	if stepsNode, ok := fields["steps"]; ok {
		if err := checkItemsAreMappings(stepsNode, "step"); err != nil {
			return err
		}
	}
	if stagesNode, ok := fields["stages"]; ok {
		if err := checkItemsAreMappings(stagesNode, "stage"); err != nil {
			return err
		}
		for _, stageNode := range stagesNode.Content {
			stageFields := rawFields(stageNode)
			if stepsNode, ok := stageFields["steps"]; ok {
				if stepsNode.Kind != yaml.SequenceNode {
					return &LoadError{Msg: "stage.steps must be a sequence"}
				}
				if err := checkItemsAreMappings(stepsNode, "step"); err != nil {
					return err
				}
			}
		}
	}

	if recNode, ok := fields["recursion"]; ok && recNode.Kind != 0 {
		if recNode.Kind != yaml.MappingNode {
			return &LoadError{Msg: "recursion must be a mapping"}
		}
	}

	return nil
}

func rawFields(node *yaml.Node) map[string]*yaml.Node {
	out := make(map[string]*yaml.Node)
	if node == nil || node.Kind != yaml.MappingNode {
		return out
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		out[node.Content[i].Value] = node.Content[i+1]
	}
	return out
}

func hasNonEmptySequence(node *yaml.Node) bool {
	return node != nil && node.Kind == yaml.SequenceNode && len(node.Content) > 0
}

func checkItemsAreMappings(seq *yaml.Node, label string) error {
	if seq == nil {
		return nil
	}
	for _, item := range seq.Content {
		if item.Kind != yaml.MappingNode {
			return &LoadError{Msg: fmt.Sprintf("%s entries must be mappings", label)}
		}
	}
	return nil
}

// validateLoadTime enforces the bounded numeric/shape rules that are
// rejected at parse time rather than deferred to the static validator
// (C4), per §4.3: recursion bounds, the both-present invariant on the
// decoded struct (belt-and-suspenders alongside checkRawShape), and the
// per-step recursion override bounds on sub-recipe steps.
func validateLoadTime(r *models.Recipe) error {
	if len(r.Steps) > 0 && len(r.Stages) > 0 {
		return &LoadError{Msg: "recipe must not define both steps and stages"}
	}
	if r.Recursion != nil {
		if err := checkRecursionBounds(r.Recursion); err != nil {
			return err
		}
	}
	for i := range r.Steps {
		classifyStep(&r.Steps[i])
		if r.Steps[i].RecipeRecursion != nil {
			if err := checkRecursionBounds(r.Steps[i].RecipeRecursion); err != nil {
				return err
			}
		}
	}
	for si := range r.Stages {
		for i := range r.Stages[si].Steps {
			classifyStep(&r.Stages[si].Steps[i])
			if r.Stages[si].Steps[i].RecipeRecursion != nil {
				if err := checkRecursionBounds(r.Stages[si].Steps[i].RecipeRecursion); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkRecursionBounds(rec *models.Recursion) error {
	if rec.MaxDepth != 0 && (rec.MaxDepth < 1 || rec.MaxDepth > 20) {
		return &LoadError{Msg: fmt.Sprintf("recursion.max_depth %d out of range [1,20]", rec.MaxDepth)}
	}
	if rec.MaxTotalSteps != 0 && (rec.MaxTotalSteps < 1 || rec.MaxTotalSteps > 1000) {
		return &LoadError{Msg: fmt.Sprintf("recursion.max_total_steps %d out of range [1,1000]", rec.MaxTotalSteps)}
	}
	return nil
}

// classifyStep sets Step.Kind based on which variant-specific fields are
// populated, since the YAML document itself never spells the tag out.
func classifyStep(s *models.Step) {
	if s.Recipe != "" {
		s.Kind = models.StepRecipe
	} else {
		s.Kind = models.StepAgent
	}
}

// ApplyDefaults fills in the zero-value defaults spec'd for recursion,
// retry, and loop fields, so downstream components never need to
// special-case "unset". Called once after Load, before validation.
func ApplyDefaults(r *models.Recipe) {
	if r.Recursion == nil {
		r.Recursion = &models.Recursion{MaxDepth: models.DefaultMaxDepth, MaxTotalSteps: models.DefaultMaxTotalSteps}
	} else {
		if r.Recursion.MaxDepth == 0 {
			r.Recursion.MaxDepth = models.DefaultMaxDepth
		}
		if r.Recursion.MaxTotalSteps == 0 {
			r.Recursion.MaxTotalSteps = models.DefaultMaxTotalSteps
		}
	}

	steps := r.Steps
	for i := range steps {
		applyStepDefaults(&steps[i])
	}
	for si := range r.Stages {
		for i := range r.Stages[si].Steps {
			applyStepDefaults(&r.Stages[si].Steps[i])
		}
	}
}

func applyStepDefaults(s *models.Step) {
	if s.MaxIterations == 0 {
		s.MaxIterations = models.DefaultMaxIterations
	}
	if s.Timeout == 0 {
		s.Timeout = models.DefaultStepTimeout
	}
	if s.OnError == "" {
		s.OnError = models.OnErrorFail
	}
	if s.Foreach != "" && s.As == "" {
		s.As = "item"
	}
	if s.Retry != nil {
		if s.Retry.MaxAttempts == 0 {
			s.Retry.MaxAttempts = models.DefaultMaxAttempts
		}
		if s.Retry.InitialDelay == 0 {
			s.Retry.InitialDelay = models.DefaultInitialDelay
		}
		if s.Retry.MaxDelay == 0 {
			s.Retry.MaxDelay = models.DefaultMaxDelay
		}
		if s.Retry.Backoff == "" {
			s.Retry.Backoff = models.BackoffExponential
		}
	}
}

// ValidName reports whether a recipe name matches the alphanumeric +
// "_-" rule used across §3.
func ValidName(s string) bool { return nameRe.MatchString(s) }

// ValidStageName reports whether a stage name matches the alphanumeric +
// "_- " rule.
func ValidStageName(s string) bool { return stageRe.MatchString(s) }

// ValidOutputName reports whether an output/collect name matches the
// alphanumeric + "_" rule (no hyphens, unlike recipe/stage names).
func ValidOutputName(s string) bool { return outputRe.MatchString(s) }

// ValidSemver reports whether a version string is strict MAJOR.MINOR.PATCH.
func ValidSemver(s string) bool { return semverRe.MatchString(s) }
