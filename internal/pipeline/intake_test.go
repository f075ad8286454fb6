package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
)

func TestIntake(t *testing.T) {
	a := &feedback.Item{ID: "a"}
	b := &feedback.Item{ID: "b"}
	c := &feedback.Item{ID: "c"}

	tests := []struct {
		name        string
		unprocessed []*feedback.Item
		disposed    map[string]struct{}
		want        []*feedback.Item
	}{
		{"empty", nil, nil, []*feedback.Item{}},
		{"nothing disposed", []*feedback.Item{a, b}, nil, []*feedback.Item{a, b}},
		{"disposed filtered", []*feedback.Item{a, b, c}, map[string]struct{}{"b": {}}, []*feedback.Item{a, c}},
		{"duplicates and nils dropped", []*feedback.Item{a, nil, a, c}, nil, []*feedback.Item{a, c}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Intake(tt.unprocessed, tt.disposed))
		})
	}
}

func TestAttemptError(t *testing.T) {
	cause := errors.New("empty reply")
	err := fmt.Errorf("item x: %w", &AttemptError{Kind: ErrGeneration, Attempt: 1, Err: cause})

	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Equal(t, "item x: attempt 2: generation failure: empty reply", err.Error())
	assert.Equal(t, ErrGeneration, Kind(err))
	assert.Equal(t, "generation", kindLabel(err))

	exhausted := fmt.Errorf("%w: %w", ErrExhaustedRetries, err)
	assert.Equal(t, ErrExhaustedRetries, Kind(exhausted))
	assert.Nil(t, Kind(cause))
	assert.Equal(t, "unknown", kindLabel(cause))
}
