// Package condition implements the recipe engine's side-effect-free
// boolean condition evaluator (spec §4.1).
//
// The teacher's workflow engine hand-rolls branch matching in
// matchCondition/splitCondition and leaves a comment that richer
// conditions should eventually go through expr-lang/expr. This package
// takes that upgrade: {{path}} references are substituted into
// expr-lang literal syntax first (strings quoted, booleans/numbers bare),
// then the result is compiled and run through expr-lang's sandboxed
// evaluator with an empty environment — no host eval, no function calls,
// no access to anything outside the substituted literals, matching the
// safety contract in §4.1 while reusing a real expression-language
// implementation for and/or precedence and comparison semantics.
package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/robotdad/amplifier-collection-recipes/internal/template"
	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
)

// varRegex matches {{ident(.ident)*}} references, the same grammar
// internal/template resolves against context.
var varRegex = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\s*\}\}`)

// SyntaxError wraps a malformed condition expression.
type SyntaxError struct {
	Expression string
	Cause      error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid condition syntax %q: %v", e.Expression, e.Cause)
}

func (e *SyntaxError) Unwrap() error { return e.Cause }

// Evaluate parses and evaluates a condition string against context.
// An empty (or all-whitespace) condition is always true, per §4.1.
func Evaluate(expression string, ctx models.Context) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	literal, err := substituteToLiteral(expression, ctx)
	if err != nil {
		return false, err
	}

	result, err := expr.Eval(literal, nil)
	if err != nil {
		return false, &SyntaxError{Expression: expression, Cause: err}
	}

	b, ok := result.(bool)
	if !ok {
		return false, &SyntaxError{Expression: expression, Cause: fmt.Errorf("expression did not evaluate to a boolean (got %T)", result)}
	}
	return b, nil
}

// substituteToLiteral replaces every {{path}} reference with its
// expr-lang literal form directly — a single-quoted, escaped string for
// string values; true/false for booleans; decimal form for numbers —
// rather than going through template.Substitute's plain-text
// stringification first. template.Substitute flattens a string value to
// its bare text (e.g. "hello world"), and re-tokenizing that flattened
// text word-by-word would split a multi-word value into two adjacent
// string literals with no operator between them (`'hello' 'world'`),
// which is invalid expr-lang syntax. Substituting straight into literal
// form keeps a multi-word value as a single quoted token.
// quoteBarewords is then still run over the result to quote whatever
// unquoted comparison operands remain in the original expression text
// (e.g. bye in "{{greet}} == bye") — it already skips over the quoted
// literals just inserted here, since they start with a quote character.
func substituteToLiteral(expression string, ctx models.Context) (string, error) {
	var firstErr error
	replaced := varRegex.ReplaceAllStringFunc(expression, func(match string) string {
		if firstErr != nil {
			return match
		}
		path := varRegex.FindStringSubmatch(match)[1]
		val, ok := template.Resolve(path, ctx)
		if !ok {
			firstErr = &template.UndefinedVariableError{Path: path, Available: template.AvailableKeys(ctx)}
			return match
		}
		return literalFor(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return quoteBarewords(replaced), nil
}

// literalFor converts a resolved context value to its expr-lang literal
// form: an escaped, single-quoted string for string values (kept as one
// token regardless of internal spaces), nil for a missing/null value,
// and template.Stringify's plain form for everything else (already
// valid bare expr-lang syntax: true/false, decimal numbers).
func literalFor(v models.Value) string {
	if s, ok := v.(string); ok {
		return "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
	}
	if v == nil {
		return "nil"
	}
	return template.Stringify(v)
}

// quoteBarewords scans the already-variable-substituted expression and
// quotes any remaining bareword token that isn't a keyword, a number, or
// already a quoted string literal — these are the spec's unquoted
// string-literal comparison operands (e.g. bye in "{{greet}} == bye").
func quoteBarewords(s string) string {
	var out strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			// Skip over an already-quoted literal untouched.
			quote := c
			j := i + 1
			for j < len(s) && s[j] != quote {
				if s[j] == '\\' && j+1 < len(s) {
					j++
				}
				j++
			}
			if j < len(s) {
				j++
			}
			out.WriteString(s[i:j])
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			word := s[i:j]
			out.WriteString(literalizeWord(word))
			i = j
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String()
}

func literalizeWord(word string) string {
	switch word {
	case "and", "or", "true", "false":
		return word
	}
	if _, err := strconv.ParseFloat(word, 64); err == nil {
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", "\\'") + "'"
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
