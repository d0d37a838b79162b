// Package loopexec implements foreach loop execution (C8): sequential
// iteration preserving input order, and parallel fan-out using
// golang.org/x/sync/errgroup for structured concurrency — the teacher's
// internal/workflow/engine.go fans parallel steps out with a bare
// sync.WaitGroup and an error channel; errgroup.Group gives the same
// fail-fast cancellation with less bookkeeping.
package loopexec

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/sync/errgroup"

	"github.com/robotdad/amplifier-collection-recipes/internal/outcome"
	"github.com/robotdad/amplifier-collection-recipes/internal/recursion"
	"github.com/robotdad/amplifier-collection-recipes/internal/template"
	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
)

// NotASequenceError is returned when step.Foreach resolves to a
// non-list value.
type NotASequenceError struct {
	Path string
}

func (e *NotASequenceError) Error() string {
	return fmt.Sprintf("foreach %q did not resolve to a sequence", e.Path)
}

// MaxIterationsExceededError is returned when the resolved sequence is
// longer than step.MaxIterations.
type MaxIterationsExceededError struct {
	Len, Max int
}

func (e *MaxIterationsExceededError) Error() string {
	return fmt.Sprintf("foreach sequence length %d exceeds max_iterations %d", e.Len, e.Max)
}

// IterationError wraps a failure that occurred at a specific iteration
// index, so sequential fail-fast errors name the offending item.
type IterationError struct {
	Index int
	Cause error
}

func (e *IterationError) Error() string {
	return fmt.Sprintf("foreach iteration %d: %v", e.Index, e.Cause)
}

func (e *IterationError) Unwrap() error { return e.Cause }

var braceRe = regexp.MustCompile(`^\{\{\s*(.+?)\s*\}\}$`)

// RunOne executes a single foreach iteration: an agent step or a
// sub-recipe step. The loop calls this once per item, in order for
// sequential mode and concurrently for parallel mode.
type RunOne func(ctx context.Context, iterCtx models.Context, index int) (models.Value, error)

// Run executes step.Foreach against recipeCtx. It returns the resulting
// outcome (Completed with the collected slice, or SkipRemaining if an
// iteration raised that signal) and does not write collect/output into
// context — the caller is responsible for that. In sequential mode Run
// binds the loop variable in recipeCtx before each RunOne call and
// deletes it afterwards; in parallel mode it binds the loop variable on
// each iteration's private context snapshot and leaves recipeCtx as is.
func Run(ctx context.Context, step *models.Step, recipeCtx models.Context, rec *recursion.State, iterationBudget int, runOne RunOne) (outcome.Step, []models.Value, error) {
	m := braceRe.FindStringSubmatch(step.Foreach)
	path := step.Foreach
	if m != nil {
		path = m[1]
	}
	val, ok := template.Resolve(path, recipeCtx)
	if !ok {
		return outcome.Step{}, nil, &template.UndefinedVariableError{Path: path}
	}
	items, ok := val.([]interface{})
	if !ok {
		if items2, ok2 := val.([]models.Value); ok2 {
			items = items2
		} else {
			return outcome.Step{}, nil, &NotASequenceError{Path: step.Foreach}
		}
	}

	if len(items) == 0 {
		return outcome.SkippedOutcome(), nil, nil
	}

	maxIter := step.MaxIterations
	if maxIter == 0 {
		maxIter = models.DefaultMaxIterations
	}
	if len(items) > maxIter {
		return outcome.Step{}, nil, &MaxIterationsExceededError{Len: len(items), Max: maxIter}
	}

	loopVar := step.As
	if loopVar == "" {
		loopVar = "item"
	}

	if step.Parallel {
		return runParallel(ctx, items, loopVar, recipeCtx, rec, iterationBudget, runOne)
	}
	return runSequential(ctx, items, loopVar, recipeCtx, runOne)
}

func runSequential(ctx context.Context, items []interface{}, loopVar string, recipeCtx models.Context, runOne RunOne) (outcome.Step, []models.Value, error) {
	results := make([]models.Value, 0, len(items))
	for i, item := range items {
		recipeCtx[loopVar] = item
		result, err := runOne(ctx, recipeCtx, i)
		delete(recipeCtx, loopVar)
		if err != nil {
			if _, isSkip := asSkipRemaining(err); isSkip {
				return outcome.SkipRemainingOutcome(), results, nil
			}
			return outcome.Step{}, nil, &IterationError{Index: i, Cause: err}
		}
		results = append(results, result)
	}
	return outcome.CompletedOutcome(results), results, nil
}

func runParallel(ctx context.Context, items []interface{}, loopVar string, recipeCtx models.Context, rec *recursion.State, iterationBudget int, runOne RunOne) (outcome.Step, []models.Value, error) {
	if rec != nil && iterationBudget > 0 {
		if err := rec.IncrementSteps(len(items) * iterationBudget); err != nil {
			return outcome.Step{}, nil, err
		}
	}

	results := make([]models.Value, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			iterCtx := recipeCtx.Clone()
			iterCtx[loopVar] = item
			result, err := runOne(gctx, iterCtx, i)
			if err != nil {
				return &IterationError{Index: i, Cause: err}
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ie, ok := err.(*IterationError); ok {
			if _, isSkip := asSkipRemaining(ie.Cause); isSkip {
				return outcome.SkipRemainingOutcome(), results, nil
			}
		}
		return outcome.Step{}, nil, err
	}
	return outcome.CompletedOutcome(results), results, nil
}

// asSkipRemaining reports whether err (or something it wraps) is the
// skip_remaining control signal.
func asSkipRemaining(err error) (*outcome.SkipRemainingSignal, bool) {
	var sig *outcome.SkipRemainingSignal
	if errors.As(err, &sig) {
		return sig, true
	}
	return nil, false
}
