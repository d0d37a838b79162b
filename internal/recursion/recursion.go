// Package recursion tracks depth and total-step accounting across
// nested sub-recipe calls (C6). State is created fresh per top-level
// invocation and threaded by pointer down the call graph so a child
// sub-recipe's step count flows back up to its ancestors, matching the
// reentrant-recursion design note in the spec: pass the tracker by
// reference so total_steps accumulates globally.
package recursion

import (
	"fmt"
	"strings"
	"sync"

	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
)

// DepthExceededError reports that entering one more sub-recipe would
// exceed max_depth. Its message includes the recipe call stack, per S5.
type DepthExceededError struct {
	MaxDepth   int
	RecipeStack []string
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("recursion depth limit %d exceeded: %s", e.MaxDepth, strings.Join(e.RecipeStack, " -> "))
}

// TotalStepsExceededError reports that the global step budget is spent.
type TotalStepsExceededError struct {
	MaxTotalSteps int
}

func (e *TotalStepsExceededError) Error() string {
	return fmt.Sprintf("total step budget %d exceeded", e.MaxTotalSteps)
}

// State is the per-invocation recursion/step-count tracker. It is never
// persisted — each top-level execute/resume call reconstructs it from
// the recipe's (and any ancestor's) recursion config.
//
// A single State is shared by every concurrent iteration of a parallel
// foreach loop (each calling Enter/IncrementSteps/Propagate on the same
// parent), so mutation is guarded by mu.
type State struct {
	CurrentDepth  int
	TotalSteps    int
	MaxDepth      int
	MaxTotalSteps int
	RecipeStack   []string

	mu sync.Mutex
}

// NewTopLevel builds the root recursion state for a top-level recipe
// invocation, applying the spec's documented defaults when the recipe
// omits a recursion block.
func NewTopLevel(r *models.Recipe) *State {
	maxDepth := models.DefaultMaxDepth
	maxTotalSteps := models.DefaultMaxTotalSteps
	if r.Recursion != nil {
		if r.Recursion.MaxDepth > 0 {
			maxDepth = r.Recursion.MaxDepth
		}
		if r.Recursion.MaxTotalSteps > 0 {
			maxTotalSteps = r.Recursion.MaxTotalSteps
		}
	}
	return &State{
		CurrentDepth:  0,
		MaxDepth:      maxDepth,
		MaxTotalSteps: maxTotalSteps,
		RecipeStack:   []string{r.Name},
	}
}

// CheckDepth rejects entering one more sub-recipe if the budget is
// already spent.
func (s *State) CheckDepth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkDepthLocked()
}

func (s *State) checkDepthLocked() error {
	if s.CurrentDepth >= s.MaxDepth {
		return &DepthExceededError{MaxDepth: s.MaxDepth, RecipeStack: append([]string{}, s.RecipeStack...)}
	}
	return nil
}

// IncrementSteps records n executed agent steps, failing if the global
// budget is exceeded.
func (s *State) IncrementSteps(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalSteps += n
	if s.TotalSteps > s.MaxTotalSteps {
		return &TotalStepsExceededError{MaxTotalSteps: s.MaxTotalSteps}
	}
	return nil
}

// Remaining reports how many more steps may run before the total budget
// is exhausted. The parallel loop executor does not call it; it
// pre-checks a fan-out by calling IncrementSteps for all iterations.
func (s *State) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.MaxTotalSteps - s.TotalSteps
	if r < 0 {
		return 0
	}
	return r
}

// Enter produces a child recursion state for a sub-recipe call.
// override, if non-nil, replaces the inherited max_depth/max_total_steps
// for the child (and everything beneath it); otherwise the child
// inherits the parent's limits. The child starts with TotalSteps=0 of
// its own — its count is propagated back to the parent via Propagate
// once the sub-recipe returns. Safe to call concurrently (parallel
// foreach over recipe-type steps all enter the same parent state).
func (s *State) Enter(childName string, override *models.Recursion) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDepthLocked(); err != nil {
		return nil, err
	}
	maxDepth := s.MaxDepth
	maxTotalSteps := s.MaxTotalSteps
	if override != nil {
		if override.MaxDepth > 0 {
			maxDepth = override.MaxDepth
		}
		if override.MaxTotalSteps > 0 {
			maxTotalSteps = override.MaxTotalSteps
		}
	}
	stack := append(append([]string{}, s.RecipeStack...), childName)
	return &State{
		CurrentDepth:  s.CurrentDepth + 1,
		MaxDepth:      maxDepth,
		MaxTotalSteps: maxTotalSteps,
		RecipeStack:   stack,
	}, nil
}

// Propagate folds a returned child's TotalSteps back into the parent's
// own count, keeping the global budget accurate across the whole call
// tree, then re-checks the parent's own budget. Safe to call
// concurrently from sibling parallel iterations.
func (s *State) Propagate(child *State) error {
	child.mu.Lock()
	childSteps := child.TotalSteps
	child.mu.Unlock()
	return s.IncrementSteps(childSteps)
}
