// Package outcome defines the StepOutcome sum type used at the driver
// boundary in place of exception-based control flow for the two
// control signals the spec treats as not-errors: skip_remaining and
// (at the stage level) an approval gate pausing the run. Go favors
// explicit returns over unwinding, so SkipRemaining and
// ApprovalGatePaused become values instead of panics.
package outcome

import "github.com/robotdad/amplifier-collection-recipes/pkg/models"

// Kind distinguishes the four ways a step (or, for Paused, a stage)
// can conclude.
type Kind int

const (
	// Completed carries a step's result value.
	Completed Kind = iota
	// Skipped means the step's condition evaluated false.
	Skipped
	// SkipRemaining means on_error: skip_remaining fired; the driver
	// must stop the current step sequence without marking failure.
	SkipRemaining
	// Paused means a staged recipe hit an approval gate and the caller
	// must be told rather than treated as an error.
	Paused
)

// Step is the result of executing one step.
type Step struct {
	Kind   Kind
	Result models.Value
}

// CompletedOutcome builds a Completed step outcome.
func CompletedOutcome(v models.Value) Step { return Step{Kind: Completed, Result: v} }

// SkippedOutcome builds a Skipped step outcome.
func SkippedOutcome() Step { return Step{Kind: Skipped} }

// SkipRemainingOutcome builds a SkipRemaining step outcome.
func SkipRemainingOutcome() Step { return Step{Kind: SkipRemaining} }

// PausedInfo carries the details surfaced to the caller when a staged
// run parks at an approval gate.
type PausedInfo struct {
	SessionID string
	Stage     string
	Prompt    string
}

// ApprovalGatePausedError is the error form of an approval-gate pause:
// a control signal, not a failure — "the run isn't finished, it's
// waiting". The engine's staged driver does not return it; it reports
// a pause as an engine.Result with Status "paused_for_approval".
type ApprovalGatePausedError struct {
	PausedInfo
}

func (e *ApprovalGatePausedError) Error() string {
	return "paused for approval at stage " + e.Stage
}

// SkipRemainingSignal is the wrapped-error form of the skip_remaining
// control signal: on_error: skip_remaining fired on a step's final
// retry attempt. Defined here (rather than in internal/stepexec) so
// internal/loopexec can recognize it without importing stepexec, which
// would create a cycle (stepexec doesn't need loopexec, but both are
// called from internal/engine and need to share this type).
type SkipRemainingSignal struct {
	StepID string
	Cause  error
}

func (e *SkipRemainingSignal) Error() string {
	return "step " + e.StepID + ": skip_remaining after: " + errString(e.Cause)
}

func (e *SkipRemainingSignal) Unwrap() error { return e.Cause }

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
