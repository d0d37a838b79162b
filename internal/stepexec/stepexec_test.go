package stepexec_test

import (
	"context"
	"testing"
	"time"

	"github.com/robotdad/amplifier-collection-recipes/internal/outcome"
	"github.com/robotdad/amplifier-collection-recipes/internal/stepexec"
	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
	"github.com/robotdad/amplifier-collection-recipes/pkg/spawner"
)

func TestExecuteSubstitutesPromptAndMode(t *testing.T) {
	var gotInstruction string
	sp := spawner.Func(func(ctx context.Context, agent, instruction, parentSession string, cfg map[string]interface{}) (interface{}, error) {
		gotInstruction = instruction
		return "ok", nil
	})
	step := &models.Step{ID: "a", Agent: "x", Prompt: "hello {{who}}", Mode: "plan"}
	ctx := models.Context{"who": "world"}

	result, err := stepexec.Execute(context.Background(), sp, step, ctx, "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("unexpected result: %v", result)
	}
	if gotInstruction != "MODE: plan\n\nhello world" {
		t.Fatalf("unexpected instruction: %q", gotInstruction)
	}
}

func TestExecuteWithRetrySucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	var sleeps []time.Duration
	lastCall := time.Now()

	sp := spawner.Func(func(ctx context.Context, agent, instruction, parentSession string, cfg map[string]interface{}) (interface{}, error) {
		calls++
		now := time.Now()
		if calls > 1 {
			sleeps = append(sleeps, now.Sub(lastCall))
		}
		lastCall = now
		if calls < 3 {
			return nil, errBoom
		}
		return "final", nil
	})

	step := &models.Step{
		ID:    "a",
		Agent: "x",
		Prompt: "hi",
		Retry: &models.Retry{MaxAttempts: 3, Backoff: models.BackoffExponential, InitialDelay: 1, MaxDelay: 4},
	}

	out, err := stepexec.ExecuteWithRetry(context.Background(), sp, step, models.Context{}, "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != outcome.Completed || out.Result != "final" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestExecuteWithRetryOnErrorContinue(t *testing.T) {
	sp := spawner.Func(func(ctx context.Context, agent, instruction, parentSession string, cfg map[string]interface{}) (interface{}, error) {
		return nil, errBoom
	})
	step := &models.Step{ID: "a", Agent: "x", Prompt: "hi", OnError: models.OnErrorContinue}

	out, err := stepexec.ExecuteWithRetry(context.Background(), sp, step, models.Context{}, "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != outcome.Completed || out.Result != nil {
		t.Fatalf("expected completed-nil outcome, got %+v", out)
	}
}

func TestExecuteWithRetryOnErrorSkipRemaining(t *testing.T) {
	sp := spawner.Func(func(ctx context.Context, agent, instruction, parentSession string, cfg map[string]interface{}) (interface{}, error) {
		return nil, errBoom
	})
	step := &models.Step{ID: "a", Agent: "x", Prompt: "hi", OnError: models.OnErrorSkipRemaining}

	_, err := stepexec.ExecuteWithRetry(context.Background(), sp, step, models.Context{}, "sess-1")
	if err == nil {
		t.Fatal("expected skip-remaining error")
	}
	var sig *stepexec.SkipRemainingSignal
	if !asSkipRemaining(err, &sig) {
		t.Fatalf("expected SkipRemainingSignal, got %T: %v", err, err)
	}
}

func TestExecuteWithRetryOnErrorFail(t *testing.T) {
	sp := spawner.Func(func(ctx context.Context, agent, instruction, parentSession string, cfg map[string]interface{}) (interface{}, error) {
		return nil, errBoom
	})
	step := &models.Step{ID: "a", Agent: "x", Prompt: "hi", OnError: models.OnErrorFail}

	_, err := stepexec.ExecuteWithRetry(context.Background(), sp, step, models.Context{}, "sess-1")
	if err == nil {
		t.Fatal("expected propagated error")
	}
}

func asSkipRemaining(err error, target **stepexec.SkipRemainingSignal) bool {
	for err != nil {
		if sig, ok := err.(*stepexec.SkipRemainingSignal); ok {
			*target = sig
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

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
