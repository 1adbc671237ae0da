package pipeline

import (
	"errors"
	"fmt"
)

// Phase is a state of the pipeline state machine.
type Phase string

const (
	PhaseCollecting           Phase = "collecting"
	PhaseExtracting           Phase = "extracting"
	PhaseFiltering            Phase = "filtering"
	PhaseDeduplicating        Phase = "deduplicating"
	PhaseDetectingCompletions Phase = "detecting_completions"
	PhasePersisting           Phase = "persisting"
	PhaseSummarizing          Phase = "summarizing"
	PhaseDone                 Phase = "done"
	PhaseFailed               Phase = "failed"
)

// Phases lists the working phases in execution order.
var Phases = []Phase{
	PhaseCollecting, PhaseExtracting, PhaseFiltering, PhaseDeduplicating,
	PhaseDetectingCompletions, PhasePersisting, PhaseSummarizing,
}

// ErrPhaseFailed matches every *PhaseError with errors.Is.
var ErrPhaseFailed = errors.New("pipeline phase failed")

// PhaseError reports which phase aborted a run.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

func (e *PhaseError) Is(target error) bool { return target == ErrPhaseFailed }

// FailedPhase returns the phase recorded in err, or "" when err did not come
// from a phase.
func FailedPhase(err error) Phase {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase
	}
	return ""
}
