// Package stepexec executes a single agent step, with retry/backoff and
// on_error policy (C7). Retry/backoff is delegated to
// github.com/cenkalti/backoff/v4 instead of the teacher's hand-rolled
// `1<<(attempt-1)` second loop in internal/workflow/engine.go's
// executeStep — the same upgrade path the teacher's own code comments
// flag for expr-lang, applied here to backoff.
package stepexec

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/robotdad/amplifier-collection-recipes/internal/outcome"
	"github.com/robotdad/amplifier-collection-recipes/internal/template"
	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
	"github.com/robotdad/amplifier-collection-recipes/pkg/spawner"
)

// SkipRemainingSignal is returned by ExecuteWithRetry (wrapped, not
// panicked) when on_error: skip_remaining fires on the final attempt.
// It is an alias for outcome.SkipRemainingSignal so internal/loopexec
// and internal/engine can recognize the signal without an import cycle.
type SkipRemainingSignal = outcome.SkipRemainingSignal

// Execute substitutes variables into step.Prompt, prefixes the MODE
// line if step.Mode is set, and calls the spawner once. It performs no
// retry of its own — ExecuteWithRetry wraps this for the retry policy.
func Execute(ctx context.Context, s spawner.Spawner, step *models.Step, recipeCtx models.Context, parentSession string) (models.Value, error) {
	instruction, err := template.Substitute(step.Prompt, recipeCtx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", step.ID, err)
	}
	if step.Mode != "" {
		instruction = fmt.Sprintf("MODE: %s\n\n%s", step.Mode, instruction)
	}
	result, err := s.Spawn(ctx, step.Agent, instruction, parentSession, step.AgentConfig)
	if err != nil {
		return nil, fmt.Errorf("step %s: spawner failed: %w", step.ID, err)
	}
	return result, nil
}

// ExecuteWithRetry runs Execute up to step.Retry.MaxAttempts times
// (default 1), waiting between attempts according to step.Retry.Backoff,
// then applies step.OnError to the last failure. Returns an
// outcome.Step — Completed on success or on_error=continue, or an error
// wrapping SkipRemainingSignal when on_error=skip_remaining fires.
func ExecuteWithRetry(ctx context.Context, s spawner.Spawner, step *models.Step, recipeCtx models.Context, parentSession string) (outcome.Step, error) {
	maxAttempts := models.DefaultMaxAttempts
	var bo backoff.BackOff = &backoff.StopBackOff{}
	if step.Retry != nil {
		maxAttempts = step.Retry.MaxAttempts
		bo = newBackoff(step.Retry)
	}

	var lastErr error
	var result models.Value
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, lastErr = Execute(ctx, s, step, recipeCtx, parentSession)
		if lastErr == nil {
			return outcome.CompletedOutcome(result), nil
		}
		if attempt == maxAttempts {
			break
		}
		d := bo.NextBackOff()
		if d == backoff.Stop {
			break
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return outcome.Step{}, ctx.Err()
		}
	}

	switch step.OnError {
	case models.OnErrorContinue:
		return outcome.CompletedOutcome(nil), nil
	case models.OnErrorSkipRemaining:
		return outcome.Step{}, &outcome.SkipRemainingSignal{StepID: step.ID, Cause: lastErr}
	default:
		return outcome.Step{}, fmt.Errorf("step %s: %w", step.ID, lastErr)
	}
}

// newBackoff builds a cenkalti/backoff policy matching the spec's
// exponential/linear schedule: wait min(delay, max_delay) between
// attempts, doubling delay after each failure only in exponential mode.
// The first attempt itself is never delayed — delay only applies
// between attempts, per the open question in §9 resolved against the
// original implementation's loop shape.
func newBackoff(r *models.Retry) backoff.BackOff {
	initial := time.Duration(r.InitialDelay) * time.Second
	max := time.Duration(r.MaxDelay) * time.Second
	if r.Backoff == models.BackoffLinear {
		return &linearBackoff{delay: initial, max: max}
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = max
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	// NewExponentialBackOff already reset the current interval to the
	// library default; reset again so the first wait is initial_delay.
	eb.Reset()
	return eb
}

// linearBackoff implements the spec's "linear" schedule: the same delay
// (capped at max_delay) between every attempt, never doubling.
type linearBackoff struct {
	delay time.Duration
	max   time.Duration
}

func (l *linearBackoff) NextBackOff() time.Duration {
	d := l.delay
	if d > l.max {
		d = l.max
	}
	return d
}

func (l *linearBackoff) Reset() {}
