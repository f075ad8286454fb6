package http

import (
	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	QueueDepth int    `json:"queue_depth"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FeedbackRequest is the request body for POST /api/v1/feedback.
type FeedbackRequest struct {
	MessageIndex     int                `json:"message_index"`
	UserQuery        string             `json:"user_query"`
	BotResponse      string             `json:"bot_response"`
	ModelSource      string             `json:"model_source"`
	FeedbackType     feedback.Sentiment `json:"feedback_type"`
	IssueDescription string             `json:"issue_description,omitempty"`
	ExpectedAnswer   string             `json:"expected_answer,omitempty"`
}

// FeedbackResponse acknowledges a ledger write. Triggered is false when a
// learning cycle was already queued.
type FeedbackResponse struct {
	ID        string `json:"id"`
	Triggered bool   `json:"triggered"`
}

// CleanupResponse is the response body for POST /api/v1/feedback/cleanup.
type CleanupResponse struct {
	Days    int   `json:"days"`
	Deleted int64 `json:"deleted"`
}

// ThresholdBody is the request and response body of /api/v1/threshold.
type ThresholdBody struct {
	Threshold int `json:"threshold"`
}

// RecordsResponse is the response body for GET /api/v1/records/:state.
type RecordsResponse struct {
	State   feedback.Status   `json:"state"`
	Count   int               `json:"count"`
	Records []feedback.Record `json:"records"`
}

// ClearResponse is the response body for DELETE /api/v1/records/:state.
type ClearResponse struct {
	State   feedback.Status `json:"state"`
	Cleared int64           `json:"cleared"`
}

// RetryRequest is the request body for POST /api/v1/records/rejected/retry.
// An empty list retries every rejected item.
type RetryRequest struct {
	IDs []string `json:"ids"`
}

// RetryResponse lists the items returned to the unprocessed queue.
type RetryResponse struct {
	Reset     []string `json:"reset"`
	Triggered bool     `json:"triggered"`
}

// PruneResponse is the response body for POST /api/v1/backups/prune.
type PruneResponse struct {
	Kept    int      `json:"kept"`
	Removed []string `json:"removed"`
}
