package generator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
)

// Scrubber removes secrets from text and reports how many it replaced.
type Scrubber interface {
	Redact(content string) (string, int, error)
}

// RedactingDrafter scrubs secrets from the free-text fields of an item before
// the inner drafter sees them. The stored item is not modified.
type RedactingDrafter struct {
	inner    Drafter
	scrubber Scrubber
	logger   *zap.Logger
}

// NewRedactingDrafter wraps inner.
func NewRedactingDrafter(inner Drafter, scrubber Scrubber, logger *zap.Logger) (*RedactingDrafter, error) {
	if inner == nil {
		return nil, errors.New("inner drafter is required")
	}
	if scrubber == nil {
		return nil, errors.New("scrubber is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedactingDrafter{inner: inner, scrubber: scrubber, logger: logger}, nil
}

// Draft implements Drafter.
func (d *RedactingDrafter) Draft(ctx context.Context, item *feedback.Item, attempt int) (string, error) {
	clean := *item
	total := 0
	for _, field := range []*string{&clean.UserQuery, &clean.PriorResponse, &clean.IssueDescription, &clean.ExpectedAnswer} {
		out, n, err := d.scrubber.Redact(*field)
		if err != nil {
			return "", fmt.Errorf("redact feedback: %w", err)
		}
		*field = out
		total += n
	}
	if total > 0 {
		d.logger.Warn("redacted secrets from feedback before drafting",
			zap.String("feedback_id", item.ID),
			zap.Int("secrets", total),
		)
	}
	return d.inner.Draft(ctx, &clean, attempt)
}
