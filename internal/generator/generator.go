// Package generator drafts knowledge-base additions for a feedback item.
//
// A Drafter returns raw four-section text for artifact.Validate. Drafters
// never retry; the pipeline owns the attempt budget and passes the attempt
// index so an implementation can vary its strategy between attempts.
package generator

import (
	"context"
	"errors"

	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
)

// ErrEmptyOutput is returned when a drafter produced no text.
var ErrEmptyOutput = errors.New("generator returned empty output")

// Drafter produces raw artifact text for one feedback item.
type Drafter interface {
	Draft(ctx context.Context, item *feedback.Item, attempt int) (string, error)
}

// DrafterFunc adapts a function to the Drafter interface.
type DrafterFunc func(ctx context.Context, item *feedback.Item, attempt int) (string, error)

// Draft calls f.
func (f DrafterFunc) Draft(ctx context.Context, item *feedback.Item, attempt int) (string, error) {
	return f(ctx, item, attempt)
}
