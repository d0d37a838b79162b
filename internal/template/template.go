// Package template resolves `{{path.to.value}}` references inside recipe
// prompts, sub-recipe paths, and sub-recipe context values.
//
// Adapted from internal/resolver's RenderPrompt/ExtractVariables — the
// flat `strings.ReplaceAll` substitution there is generalized here into
// dotted-path resolution over a nested map, since recipe context is a
// tree of mappings rather than the resolver's flat string→string vars.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
)

// varRegex matches {{ident(.ident)*}} placeholders, tolerating internal
// whitespace the way the spec's grammar is documented as whitespace
// insensitive.
var varRegex = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\s*\}\}`)

// UndefinedVariableError is raised when a template references a path the
// context cannot resolve. The message format matches the original
// Python implementation's substitute_variables diagnostic.
type UndefinedVariableError struct {
	Path      string
	Available []string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("Undefined variable: {{%s}}. Available variables: %s",
		e.Path, strings.Join(e.Available, ", "))
}

// Substitute replaces every `{{path}}` reference in template with its
// resolved value converted to string. Returns an *UndefinedVariableError
// on the first unresolved reference.
func Substitute(tmpl string, ctx models.Context) (string, error) {
	var firstErr error
	out := varRegex.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}
		path := varRegex.FindStringSubmatch(match)[1]
		val, ok := Resolve(path, ctx)
		if !ok {
			firstErr = &UndefinedVariableError{Path: path, Available: availableKeys(ctx)}
			return match
		}
		return Stringify(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Resolve walks a dotted path ("a.b.c") through a nested
// map[string]interface{}/models.Context tree. Lists are not indexed —
// only mapping traversal is supported, per §4.2.
func Resolve(path string, ctx models.Context) (models.Value, bool) {
	parts := strings.Split(path, ".")
	var cur models.Value = map[string]models.Value(ctx)
	for _, part := range parts {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func asMap(v models.Value) (map[string]models.Value, bool) {
	switch m := v.(type) {
	case models.Context:
		return map[string]models.Value(m), true
	case map[string]models.Value:
		return m, true
	default:
		return nil, false
	}
}

// Stringify converts a resolved value to the string form substituted into
// a prompt template (plain text, not the quoted-literal form condition
// evaluation uses).
func Stringify(v models.Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		return formatNumber(x)
	case int:
		return fmt.Sprintf("%d", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// ExtractVariables returns the distinct {{path}} references in a
// template, in first-appearance order. Used by the static validator to
// collect a step's variable reachability requirements.
func ExtractVariables(tmpl string) []string {
	matches := varRegex.FindAllStringSubmatch(tmpl, -1)
	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		if len(m) > 1 && !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// AvailableKeys returns the sorted top-level variable names visible in
// ctx, for diagnostics like UndefinedVariableError.Available.
func AvailableKeys(ctx models.Context) []string {
	return availableKeys(ctx)
}

func availableKeys(ctx models.Context) []string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SubstituteValue applies Substitute to string values only, passing
// non-strings through unchanged. Used for sub-recipe `context:` mappings,
// whose values may be any YAML type and are template-substituted only
// when they are strings, per §4.9.4.
func SubstituteValue(v models.Value, ctx models.Context) (models.Value, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	return Substitute(s, ctx)
}
