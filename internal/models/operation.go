package models

import (
	"encoding/json"
	"time"
)

// QueuedOperation is the storage representation of a pending mutation in
// the durable queue. Payload stays opaque at this layer; the queue package
// decodes it into a typed payload per operation kind.
//
// CreatedAt is wall-clock milliseconds and is the sole ordering key for
// replay. RetryCount is the only field ever mutated after creation.
type QueuedOperation struct {
	ID         string          `db:"id" json:"id"`
	Type       string          `db:"type" json:"type"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	CreatedAt  int64           `db:"created_at" json:"createdAt"`
	RetryCount int             `db:"retry_count" json:"retryCount"`
	MaxRetries int             `db:"max_retries" json:"maxRetries"`
}

// PartitionName returns the durable-store partition holding queued operations.
func (QueuedOperation) PartitionName() string {
	return "pending-ops"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (o *QueuedOperation) CreatedAtTime() time.Time {
	return time.UnixMilli(o.CreatedAt)
}

// TrackedProduct is a durable record of a product whose price and stock
// the background agent keeps fresh. Written by the foreground context
// (cart lines, prefetched products), read and refreshed by the agent.
type TrackedProduct struct {
	ID            string   `db:"id" json:"id"`
	Slug          string   `db:"slug" json:"slug"`
	Price         float64  `db:"price" json:"price"`
	DiscountPrice *float64 `db:"discount_price" json:"discount_price"`
	Stock         int      `db:"stock" json:"stock"`
	UpdatedAt     int64    `db:"updated_at" json:"updated_at"`
}

// PartitionName returns the durable-store partition for tracked products.
func (TrackedProduct) PartitionName() string {
	return "tracked-products"
}
