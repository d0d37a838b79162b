package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robotdad/amplifier-collection-recipes/internal/engine"
	"github.com/robotdad/amplifier-collection-recipes/internal/recursion"
	"github.com/robotdad/amplifier-collection-recipes/internal/sessionstore"
	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
	"github.com/robotdad/amplifier-collection-recipes/pkg/spawner"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	store := sessionstore.New(t.TempDir(), 7)
	echo := spawner.Func(func(ctx context.Context, agentName, instruction, parentSession string, cfg map[string]interface{}) (interface{}, error) {
		return instruction, nil
	})
	return engine.New(store, echo)
}

func writeRecipe(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "recipe.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing recipe: %v", err)
	}
	return path
}

// S1 — sequential two-step flat recipe.
func TestS1SequentialFlatRecipe(t *testing.T) {
	path := writeRecipe(t, `
name: r
version: 1.0.0
context:
  who: world
steps:
  - id: a
    agent: x
    prompt: "hello {{who}}"
    output: greet
  - id: b
    agent: y
    prompt: "echo {{greet}}"
    output: final
`)
	eng := newEngine(t)
	res, err := eng.Execute(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "completed" {
		t.Fatalf("status = %q", res.Status)
	}
	if res.Context["greet"] != "hello world" {
		t.Fatalf("greet = %v", res.Context["greet"])
	}
	if res.Context["final"] != "echo hello world" {
		t.Fatalf("final = %v", res.Context["final"])
	}
}

// S2 — conditional skip.
func TestS2ConditionalSkip(t *testing.T) {
	path := writeRecipe(t, `
name: r
version: 1.0.0
context:
  who: world
steps:
  - id: a
    agent: x
    prompt: "hello {{who}}"
    output: greet
  - id: b
    agent: y
    prompt: "echo {{greet}}"
    output: final
    condition: "{{greet}} == 'bye'"
`)
	var spawnedB int32
	store := sessionstore.New(t.TempDir(), 7)
	spawnerFn := spawner.Func(func(ctx context.Context, agentName, instruction, parentSession string, cfg map[string]interface{}) (interface{}, error) {
		if agentName == "y" {
			atomic.AddInt32(&spawnedB, 1)
		}
		return instruction, nil
	})
	eng := engine.New(store, spawnerFn)

	res, err := eng.Execute(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if spawnedB != 0 {
		t.Fatalf("step b should not have spawned, called %d times", spawnedB)
	}
	skipped, _ := res.Context["_skipped_steps"].([]string)
	if len(skipped) != 1 || skipped[0] != "b" {
		t.Fatalf("_skipped_steps = %v, want [b]", res.Context["_skipped_steps"])
	}
}

// S3 — parallel foreach preserves order regardless of completion order.
func TestS3ParallelForeachPreservesOrder(t *testing.T) {
	path := writeRecipe(t, `
name: r
version: 1.0.0
context:
  items: ["a", "b", "c"]
steps:
  - id: up
    agent: upper
    prompt: "{{item}}"
    foreach: "{{items}}"
    parallel: true
    collect: out
`)
	store := sessionstore.New(t.TempDir(), 7)
	// Deliberately reverse completion order (c finishes fastest, a slowest)
	// to prove collect preserves input order, not completion order.
	delays := map[string]time.Duration{"a": 30 * time.Millisecond, "b": 15 * time.Millisecond, "c": 0}
	spawnerFn := spawner.Func(func(ctx context.Context, agentName, instruction, parentSession string, cfg map[string]interface{}) (interface{}, error) {
		time.Sleep(delays[instruction])
		return strings.ToUpper(instruction), nil
	})
	eng := engine.New(store, spawnerFn)

	res, err := eng.Execute(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out, ok := res.Context["out"].([]models.Value)
	if !ok {
		t.Fatalf("out type = %T", res.Context["out"])
	}
	want := []string{"A", "B", "C"}
	for i, w := range want {
		if out[i] != w {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], w)
		}
	}
}

// S4 — approval pause and resume-approved.
func TestS4ApprovalPauseAndResume(t *testing.T) {
	path := writeRecipe(t, `
name: r
version: 1.0.0
stages:
  - name: plan
    steps:
      - id: plan-step
        agent: planner
        prompt: "plan it"
        output: plan_result
    approval:
      required: true
      prompt: "approve the plan?"
      timeout: 0
      default: deny
  - name: build
    steps:
      - id: build-step
        agent: builder
        prompt: "build it"
        output: build_result
`)
	store := sessionstore.New(t.TempDir(), 7)
	echo := spawner.Func(func(ctx context.Context, agentName, instruction, parentSession string, cfg map[string]interface{}) (interface{}, error) {
		return instruction, nil
	})
	eng := engine.New(store, echo)

	res, err := eng.Execute(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "paused_for_approval" {
		t.Fatalf("status = %q, want paused_for_approval", res.Status)
	}
	if res.PausedStage != "plan" {
		t.Fatalf("paused stage = %q, want plan", res.PausedStage)
	}

	pending, err := eng.Approvals()
	if err != nil {
		t.Fatalf("Approvals: %v", err)
	}
	found := false
	for _, p := range pending {
		if p.SessionID == res.SessionID && p.Stage == "plan" && p.Prompt == "approve the plan?" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected pending approval for session %s, got %v", res.SessionID, pending)
	}

	if err := eng.Approve(res.SessionID, "plan"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	final, err := eng.Resume(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if final.Status != "completed" {
		t.Fatalf("final status = %q, want completed", final.Status)
	}
	if final.Context["build_result"] != "build it" {
		t.Fatalf("build_result = %v", final.Context["build_result"])
	}
}

// S5 — recursion depth limit: recipe A calls itself as a sub-recipe,
// aborting on the 3rd entry with a stack "A -> A -> A".
func TestS5RecursionDepthLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.yaml")
	content := `
name: A
version: 1.0.0
recursion:
  max_depth: 2
steps:
  - id: recurse
    recipe: "a.yaml"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing recipe: %v", err)
	}

	store := sessionstore.New(t.TempDir(), 7)
	var spawnCount int32
	spawnerFn := spawner.Func(func(ctx context.Context, agentName, instruction, parentSession string, cfg map[string]interface{}) (interface{}, error) {
		atomic.AddInt32(&spawnCount, 1)
		return nil, nil
	})
	eng := engine.New(store, spawnerFn)

	_, err := eng.Execute(context.Background(), path, nil)
	if err == nil {
		t.Fatal("expected a depth-exceeded error")
	}
	var depthErr *recursion.DepthExceededError
	if !errorsAsDepthExceeded(err, &depthErr) {
		t.Fatalf("error = %v (%T), want *recursion.DepthExceededError", err, err)
	}
	stack := strings.Join(depthErr.RecipeStack, " -> ")
	if stack != "A -> A -> A" {
		t.Fatalf("recipe stack = %q, want %q", stack, "A -> A -> A")
	}
	if spawnCount != 0 {
		t.Fatalf("spawner should never be called for a recipe with no agent steps, got %d calls", spawnCount)
	}
}

func errorsAsDepthExceeded(err error, target **recursion.DepthExceededError) bool {
	for err != nil {
		if de, ok := err.(*recursion.DepthExceededError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// S6 — retry with exponential backoff: fails twice, succeeds third time.
func TestS6RetryExponentialBackoff(t *testing.T) {
	path := writeRecipe(t, `
name: r
version: 1.0.0
steps:
  - id: flaky
    agent: x
    prompt: "go"
    output: result
    retry:
      max_attempts: 3
      backoff: exponential
      initial_delay: 1
      max_delay: 4
`)
	store := sessionstore.New(t.TempDir(), 7)
	var mu sync.Mutex
	var attempts int
	var sleeps []time.Duration
	var last time.Time
	spawnerFn := spawner.Func(func(ctx context.Context, agentName, instruction, parentSession string, cfg map[string]interface{}) (interface{}, error) {
		mu.Lock()
		attempts++
		n := attempts
		now := time.Now()
		if !last.IsZero() {
			sleeps = append(sleeps, now.Sub(last))
		}
		last = now
		mu.Unlock()
		if n < 3 {
			return nil, &flakyError{}
		}
		return "third call result", nil
	})
	eng := engine.New(store, spawnerFn)

	res, err := eng.Execute(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Context["result"] != "third call result" {
		t.Fatalf("result = %v, want third call result", res.Context["result"])
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

type flakyError struct{}

func (e *flakyError) Error() string { return "flaky failure" }
