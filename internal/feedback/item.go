// Package feedback stores user feedback about assistant answers and the
// disposition records that say what the learning pipeline did with each item.
package feedback

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentiment is the user's verdict on an answer.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is a known sentiment.
func (s Sentiment) Valid() bool {
	return s == SentimentPositive || s == SentimentNegative
}

// Status is the lifecycle position of a feedback item.
type Status string

const (
	StatusUnprocessed Status = "unprocessed"
	StatusProcessed   Status = "processed"
	StatusRejected    Status = "rejected"
	StatusRemovable   Status = "removable"
)

// IsDisposition reports whether s names one of the three disposition sets.
func (s Status) IsDisposition() bool {
	switch s {
	case StatusProcessed, StatusRejected, StatusRemovable:
		return true
	}
	return false
}

// ParseDisposition converts an operator-supplied name into a disposition status.
func ParseDisposition(name string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(name)))
	if !s.IsDisposition() {
		return "", fmt.Errorf("%w: %q (want processed, rejected or removable)", ErrInvalidState, name)
	}
	return s, nil
}

var (
	// ErrNotFound is returned when no feedback item has the requested id.
	ErrNotFound = errors.New("feedback item not found")

	// ErrInvalidState is returned for an unknown disposition name.
	ErrInvalidState = errors.New("invalid record state")

	// ErrNotUnprocessed is returned when a transition requires an unprocessed
	// item but the item has already been disposed.
	ErrNotUnprocessed = errors.New("feedback item is not unprocessed")
)

// Item is one piece of user feedback about an assistant answer.
type Item struct {
	ID               string     `json:"id"`
	MessageIndex     int        `json:"message_index"`
	UserQuery        string     `json:"user_query"`
	PriorResponse    string     `json:"bot_response"`
	ResponseSource   string     `json:"model_source"`
	Sentiment        Sentiment  `json:"feedback_type"`
	IssueDescription string     `json:"issue_description,omitempty"`
	ExpectedAnswer   string     `json:"expected_answer,omitempty"`
	Status           Status     `json:"status"`
	RetryCount       int        `json:"retry_count"`
	CreatedAt        time.Time  `json:"timestamp"`
	LastRetryAt      *time.Time `json:"last_retry_timestamp,omitempty"`
	ProcessedAt      *time.Time `json:"processed_timestamp,omitempty"`
}

// Validate checks the fields a submitter must provide.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.UserQuery) == "" {
		return errors.New("user_query is required")
	}
	if !i.Sentiment.Valid() {
		return fmt.Errorf("feedback_type must be %q or %q, got %q", SentimentPositive, SentimentNegative, i.Sentiment)
	}
	if i.MessageIndex < 0 {
		return errors.New("message_index must be non-negative")
	}
	return nil
}

// Record is a disposition record. Which optional fields are set depends on
// State: processed records carry ProcessedAt, rejected records carry
// RejectedAt and Reason, removable records carry ArchivedAt.
type Record struct {
	ID                string     `json:"id"`
	State             Status     `json:"state"`
	UserQuery         string     `json:"user_query"`
	Sentiment         Sentiment  `json:"feedback_type"`
	ProcessedAt       *time.Time `json:"processed_timestamp,omitempty"`
	ProcessingSuccess bool       `json:"processing_success,omitempty"`
	RejectedAt        *time.Time `json:"rejection_timestamp,omitempty"`
	Reason            string     `json:"rejection_reason,omitempty"`
	RetryCount        int        `json:"retry_count"`
	ArchivedAt        *time.Time `json:"moved_to_removable_timestamp,omitempty"`
	TrainingCompleted bool       `json:"training_completed,omitempty"`
}

// Stats summarises the ledger.
type Stats struct {
	Total            int `json:"total_feedback"`
	Unprocessed      int `json:"unprocessed_feedback"`
	Processed        int `json:"processed_feedback"`
	Rejected         int `json:"rejected_feedback"`
	Removable        int `json:"removable_feedback"`
	Positive         int `json:"positive_feedback"`
	Negative         int `json:"negative_feedback"`
	ProcessedRecords int `json:"processed_records"`
	RejectedRecords  int `json:"rejected_records"`
	RemovableRecords int `json:"removable_records"`
}
