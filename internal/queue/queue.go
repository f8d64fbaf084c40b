// Package queue provides the durable operation queue for offline mutations.
//
// Every failed optimistic write becomes a QueuedOperation persisted in the
// shared durable store. Replay drains the queue strictly in creation order
// and is guarded against reentrancy within one execution context; the
// foreground page and the background agent each run their own guard, and
// double-execution across contexts is tolerated because every remote
// mutation is an idempotent upsert or delete.
package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bfgold/storefront-sync/internal/errors"
	"github.com/bfgold/storefront-sync/internal/logging"
	"github.com/bfgold/storefront-sync/internal/models"
	"github.com/bfgold/storefront-sync/internal/store"
	"github.com/bfgold/storefront-sync/internal/uuid"
)

// DefaultMaxRetries is the replay attempt ceiling. An operation failing
// this many times is discarded, not retried forever.
const DefaultMaxRetries = 5

// SyncTag is the background-sync tag registered on enqueue.
const SyncTag = "bfg-sync-mutations"

// Operation is a pending mutation awaiting replay against the remote store.
type Operation struct {
	ID         string
	Type       OperationType
	Payload    Payload
	CreatedAt  int64 // wall-clock milliseconds; the sole ordering key
	RetryCount int
	MaxRetries int
}

// CreatedAtTime returns CreatedAt as time.Time.
func (op *Operation) CreatedAtTime() time.Time {
	return time.UnixMilli(op.CreatedAt)
}

// Executor executes a single operation against the remote store.
type Executor interface {
	Execute(ctx context.Context, op *Operation) error
}

// WakeRegistrar registers a best-effort background replay trigger. A
// runtime without deferred background execution returns an error, which
// enqueue ignores: replay still happens on the next foreground reconnect.
type WakeRegistrar interface {
	RegisterSync(tag string) error
}

// Queue wraps the durable store with ordering and retry bookkeeping.
type Queue struct {
	store     *store.Store
	registrar WakeRegistrar // nil when the platform has no background wake
	now       func() time.Time
	replaying atomic.Bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithWakeRegistrar sets the background wake registrar.
func WithWakeRegistrar(r WakeRegistrar) Option {
	return func(q *Queue) { q.registrar = r }
}

// WithClock overrides the clock, used by tests to control ordering.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue over the shared durable store.
func New(st *store.Store, opts ...Option) *Queue {
	q := &Queue{
		store: st,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue persists a new operation and returns its id. The payload kind
// must match the operation type. Background wake registration is
// best-effort and never fails the enqueue.
func (q *Queue) Enqueue(opType OperationType, payload Payload) (string, error) {
	if payload == nil || payload.OperationType() != opType {
		return "", errors.New(errors.ErrInvalid, "payload does not match operation type")
	}

	op := &Operation{
		ID:         uuid.New(),
		Type:       opType,
		Payload:    payload,
		CreatedAt:  q.now().UnixMilli(),
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}

	if err := q.persist(op); err != nil {
		return "", err
	}

	if q.registrar != nil {
		if err := q.registrar.RegisterSync(SyncTag); err != nil {
			logging.Debug("Background sync registration unavailable",
				map[string]interface{}{"tag": SyncTag, "reason": err.Error()})
		}
	}

	logging.Debug("Enqueued operation",
		map[string]interface{}{"id": op.ID, "type": string(op.Type)})

	return op.ID, nil
}

// DequeueAll returns all pending operations sorted ascending by creation
// time, regardless of the order they were persisted. The partition is
// shared with other processes, so records whose id is not a valid UUID
// are discarded rather than replayed; a mangled id could never be
// removed after execution and would replay forever.
func (q *Queue) DequeueAll() ([]*Operation, error) {
	records, err := q.store.GetAll(store.PartitionPendingOps)
	if err != nil {
		return nil, err
	}

	ops := make([]*Operation, 0, len(records))
	for _, data := range records {
		var model models.QueuedOperation
		if err := json.Unmarshal(data, &model); err != nil {
			return nil, errors.Wrap(errors.ErrPayloadDecode, "failed to decode queued operation", err)
		}
		if !uuid.IsValid(model.ID) {
			logging.Warn("Discarding queued operation with malformed id",
				map[string]interface{}{"id": model.ID})
			if err := q.store.Delete(store.PartitionPendingOps, model.ID); err != nil {
				logging.Debug("Failed to remove malformed operation",
					map[string]interface{}{"id": model.ID, "reason": err.Error()})
			}
			continue
		}
		op, err := fromModel(&model)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].CreatedAt < ops[j].CreatedAt
	})

	return ops, nil
}

// Remove deletes a single operation. Removing an absent id is a no-op.
func (q *Queue) Remove(id string) error {
	return q.store.Delete(store.PartitionPendingOps, id)
}

// Count returns the number of pending operations.
func (q *Queue) Count() (int, error) {
	return q.store.Count(store.PartitionPendingOps)
}

// Clear removes all pending operations.
func (q *Queue) Clear() error {
	return q.store.Clear(store.PartitionPendingOps)
}

// Replay drains the queue in creation order, executing each operation via
// the executor. At most one replay runs per Queue at a time; a concurrent
// call is a silent no-op. A per-operation failure increments its retry
// count and re-persists it, discarding it once the ceiling is reached; it
// never halts the drain.
func (q *Queue) Replay(ctx context.Context, exec Executor) error {
	if !q.replaying.CompareAndSwap(false, true) {
		return nil
	}
	defer q.replaying.Store(false)

	ops, err := q.DequeueAll()
	if err != nil {
		return err
	}

	replayed, discarded := 0, 0

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := exec.Execute(ctx, op); err != nil {
			op.RetryCount++
			if op.RetryCount >= op.MaxRetries {
				// Accepted data-loss boundary: stale intents are not
				// retried forever.
				discarded++
				logging.ErrorWithCode("Discarding operation after max retries",
					string(errors.ErrRetryExhausted), err,
					map[string]interface{}{"id": op.ID, "type": string(op.Type), "retries": op.RetryCount})
				if rmErr := q.Remove(op.ID); rmErr != nil {
					logging.Error("Failed to remove exhausted operation", rmErr,
						map[string]interface{}{"id": op.ID})
				}
				continue
			}

			logging.Warn("Operation replay failed, will retry",
				map[string]interface{}{"id": op.ID, "type": string(op.Type),
					"retry": op.RetryCount, "max_retries": op.MaxRetries})
			if putErr := q.persist(op); putErr != nil {
				logging.Error("Failed to re-persist operation", putErr,
					map[string]interface{}{"id": op.ID})
			}
			continue
		}

		replayed++
		if err := q.Remove(op.ID); err != nil {
			logging.Error("Failed to remove replayed operation", err,
				map[string]interface{}{"id": op.ID})
		}
	}

	if replayed > 0 || discarded > 0 {
		logging.Info("Queue replay finished",
			map[string]interface{}{"replayed": replayed, "discarded": discarded})
	}

	return nil
}

// persist writes the operation's storage model into the durable store.
func (q *Queue) persist(op *Operation) error {
	model, err := op.toModel()
	if err != nil {
		return err
	}
	data, err := json.Marshal(model)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to encode operation", err)
	}
	return q.store.Put(store.PartitionPendingOps, op.ID, data)
}

// toModel converts an Operation to its storage representation.
func (op *Operation) toModel() (*models.QueuedOperation, error) {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode payload", err)
	}

	return &models.QueuedOperation{
		ID:         op.ID,
		Type:       string(op.Type),
		Payload:    payload,
		CreatedAt:  op.CreatedAt,
		RetryCount: op.RetryCount,
		MaxRetries: op.MaxRetries,
	}, nil
}

// fromModel converts a storage record back into an Operation, decoding
// the payload into its concrete variant.
func fromModel(model *models.QueuedOperation) (*Operation, error) {
	payload, err := DecodePayload(OperationType(model.Type), model.Payload)
	if err != nil {
		return nil, err
	}

	return &Operation{
		ID:         model.ID,
		Type:       OperationType(model.Type),
		Payload:    payload,
		CreatedAt:  model.CreatedAt,
		RetryCount: model.RetryCount,
		MaxRetries: model.MaxRetries,
	}, nil
}
