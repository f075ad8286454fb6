package pipeline

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned for a failed item or training run
// matches exactly one of these with errors.Is.
var (
	// ErrGeneration means the drafter returned nothing usable.
	ErrGeneration = errors.New("generation failure")

	// ErrValidation means the drafted bundle failed structural validation.
	ErrValidation = errors.New("validation failure")

	// ErrMerge means the merge, the file writes, or post-write verification
	// failed. Any partial write has been rolled back.
	ErrMerge = errors.New("merge failure")

	// ErrTraining means the build step failed or timed out.
	ErrTraining = errors.New("training failure")

	// ErrExhaustedRetries means the item used up its pass budget and was rejected.
	ErrExhaustedRetries = errors.New("exhausted retries")
)

// AttemptError wraps the failure of a single regeneration attempt.
type AttemptError struct {
	// Kind is one of ErrGeneration, ErrValidation or ErrMerge.
	Kind error
	// Attempt is the zero-based attempt index inside the pass.
	Attempt int
	Err     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d: %v: %v", e.Attempt+1, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *AttemptError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Kind returns the failure sentinel carried by err, or nil.
func Kind(err error) error {
	for _, kind := range []error{ErrExhaustedRetries, ErrTraining, ErrMerge, ErrValidation, ErrGeneration} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// kindLabel is the metric label for a failure kind.
func kindLabel(err error) string {
	switch Kind(err) {
	case ErrGeneration:
		return "generation"
	case ErrValidation:
		return "validation"
	case ErrMerge:
		return "merge"
	case ErrTraining:
		return "training"
	case ErrExhaustedRetries:
		return "exhausted"
	default:
		return "unknown"
	}
}
