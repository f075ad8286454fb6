// Package operations tracks pipeline runs (passes, cycles, training) so
// operators can see what ran, when, and with what result.
//
// Operations live in memory with bounded retention. When a NATS connection
// is configured, every lifecycle change is also published to
//
//	learning.{kind}.{operation_id}.started
//	learning.{kind}.{operation_id}.completed
//	learning.{kind}.{operation_id}.failed
package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultSubjectPrefix is the first token of every event subject.
	DefaultSubjectPrefix = "learning"

	// DefaultRetention is the number of operations kept in memory.
	DefaultRetention = 100
)

// ErrNotFound is returned for an unknown operation id.
var ErrNotFound = errors.New("operation not found")

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the operation has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Operation is one tracked run.
type Operation struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     Status     `json:"status"`
	Params     any        `json:"params,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	TraceID    string     `json:"trace_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// publisher is the part of *nats.Conn the registry uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Registry manages operation lifecycle.
type Registry struct {
	pub       publisher
	prefix    string
	retention int
	now       func() time.Time

	mu    sync.RWMutex
	ops   map[string]*Operation
	order []string // creation order, oldest first
}

// Option configures a Registry.
type Option func(*Registry)

// WithSubjectPrefix overrides the "learning" subject prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(r *Registry) { r.prefix = prefix }
}

// WithRetention sets how many operations are kept in memory.
func WithRetention(n int) Option {
	return func(r *Registry) { r.retention = n }
}

// NewRegistry creates a registry. nc may be nil, in which case operations
// are tracked in memory only.
func NewRegistry(nc *nats.Conn, opts ...Option) *Registry {
	r := &Registry{
		prefix:    DefaultSubjectPrefix,
		retention: DefaultRetention,
		now:       time.Now,
		ops:       make(map[string]*Operation),
	}
	if nc != nil {
		r.pub = nc
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retention <= 0 {
		r.retention = DefaultRetention
	}
	return r
}

// Connect dials NATS with reconnect handling suitable for a long-running
// daemon. Connection state changes are logged.
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}

// Create registers a pending operation and returns its id. The trace id of
// the span in ctx, if any, is recorded.
func (r *Registry) Create(ctx context.Context, kind string, params any) string {
	now := r.now().UTC()
	op := &Operation{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		op.TraceID = sc.TraceID().String()
	}

	r.mu.Lock()
	r.ops[op.ID] = op
	r.order = append(r.order, op.ID)
	r.evictLocked()
	r.mu.Unlock()

	return op.ID
}

// evictLocked drops the oldest finished operations beyond the retention
// limit. Unfinished operations are never evicted.
func (r *Registry) evictLocked() {
	excess := len(r.order) - r.retention
	if excess <= 0 {
		return
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if excess > 0 && r.ops[id].Status.Terminal() {
			delete(r.ops, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

// Started marks the operation running and publishes the started event.
func (r *Registry) Started(id string) error {
	op, err := r.update(id, func(op *Operation) {
		op.Status = StatusRunning
	})
	if err != nil {
		return err
	}
	return r.publish(op, "started", op)
}

// Complete marks the operation completed with result and publishes the
// completed event.
func (r *Registry) Complete(id string, result any) error {
	op, err := r.update(id, func(op *Operation) {
		op.Status = StatusCompleted
		op.Result = result
		finished := op.UpdatedAt
		op.FinishedAt = &finished
	})
	if err != nil {
		return err
	}
	return r.publish(op, "completed", map[string]any{
		"id":          op.ID,
		"kind":        op.Kind,
		"result":      result,
		"duration_ms": op.FinishedAt.Sub(op.CreatedAt).Milliseconds(),
		"timestamp":   op.UpdatedAt,
	})
}

// Fail marks the operation failed and publishes the failed event.
func (r *Registry) Fail(id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	op, err := r.update(id, func(op *Operation) {
		op.Status = StatusFailed
		op.Error = msg
		finished := op.UpdatedAt
		op.FinishedAt = &finished
	})
	if err != nil {
		return err
	}
	return r.publish(op, "failed", map[string]any{
		"id":        op.ID,
		"kind":      op.Kind,
		"error":     msg,
		"trace_id":  op.TraceID,
		"timestamp": op.UpdatedAt,
	})
}

// Get returns a copy of the operation.
func (r *Registry) Get(id string) (Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[id]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *op, nil
}

// List returns up to limit operations, newest first. A limit of zero or
// less returns all of them.
func (r *Registry) List(limit int) []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Operation, 0, n)
	for i := len(r.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *r.ops[r.order[i]])
	}
	return out
}

// update applies fn under the lock and returns a copy of the result.
func (r *Registry) update(id string, fn func(op *Operation)) (Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	op.UpdatedAt = r.now().UTC()
	fn(op)
	return *op, nil
}

func (r *Registry) publish(op Operation, phase string, payload any) error {
	if r.pub == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", phase, err)
	}
	subject := Subject(r.prefix, op.Kind, op.ID, phase)
	if err := r.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", phase, err)
	}
	return nil
}

// Subject builds an event subject.
func Subject(prefix, kind, id, phase string) string {
	return fmt.Sprintf("%s.%s.%s.%s", prefix, kind, id, phase)
}
