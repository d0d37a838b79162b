package condition_test

import (
	"testing"

	"github.com/robotdad/amplifier-collection-recipes/internal/condition"
	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
)

func TestEvaluateEmptyIsTrue(t *testing.T) {
	ok, err := condition.Evaluate("   ", models.Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("empty condition should evaluate true")
	}
}

func TestEvaluateEquality(t *testing.T) {
	ctx := models.Context{"status": "approved"}
	ok, err := condition.Evaluate("{{status}} == approved", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvaluateInequality(t *testing.T) {
	ctx := models.Context{"status": "rejected"}
	ok, err := condition.Evaluate("{{status}} != approved", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvaluateAndOr(t *testing.T) {
	ctx := models.Context{"a": "yes", "b": "no"}
	ok, err := condition.Evaluate("{{a}} == yes and {{b}} == no", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}

	ok, err = condition.Evaluate("{{a}} == no or {{b}} == no", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true via or")
	}
}

func TestEvaluateBooleanValue(t *testing.T) {
	ctx := models.Context{"flag": true}
	ok, err := condition.Evaluate("{{flag}}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvaluateNestedPath(t *testing.T) {
	ctx := models.Context{"review": map[string]interface{}{"verdict": "pass"}}
	ok, err := condition.Evaluate("{{review.verdict}} == pass", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvaluateUndefinedVariable(t *testing.T) {
	_, err := condition.Evaluate("{{missing}} == x", models.Context{})
	if err == nil {
		t.Fatal("expected undefined variable error")
	}
}

func TestEvaluateNumberComparison(t *testing.T) {
	ctx := models.Context{"count": float64(3)}
	ok, err := condition.Evaluate("{{count}} == 3", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvaluateMultiWordStringValue(t *testing.T) {
	ctx := models.Context{"greet": "hello world"}
	ok, err := condition.Evaluate("{{greet}} == 'bye'", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected false: 'hello world' != 'bye'")
	}

	ok, err = condition.Evaluate("{{greet}} == 'hello world'", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true: 'hello world' == 'hello world'")
	}
}

func TestEvaluateInvalidSyntax(t *testing.T) {
	ctx := models.Context{"x": "a"}
	_, err := condition.Evaluate("{{x}} ===", ctx)
	if err == nil {
		t.Fatal("expected syntax error")
	}
}
