package queue

import (
	"context"
	"fmt"

	"github.com/bfgold/storefront-sync/internal/errors"
	"github.com/bfgold/storefront-sync/internal/models"
	"github.com/bfgold/storefront-sync/internal/remote"
)

// RemoteExecutor executes queued operations directly against the remote
// store. Cart adds and wishlist adds are keyed upserts and deletes are
// filtered, so re-running any operation is safe.
type RemoteExecutor struct {
	client *remote.Client
}

// NewRemoteExecutor creates a RemoteExecutor over the given client.
func NewRemoteExecutor(client *remote.Client) *RemoteExecutor {
	return &RemoteExecutor{client: client}
}

const cartConflictTarget = "user_id,product_id"

// Execute implements Executor. The operation runs under the session
// token captured at enqueue time when the payload carries one, so the
// background agent can replay authenticated mutations without holding
// the page's session itself.
func (e *RemoteExecutor) Execute(ctx context.Context, op *Operation) error {
	client := e.client
	if token := payloadToken(op.Payload); token != "" {
		client = client.WithToken(token)
	}

	switch p := op.Payload.(type) {
	case CartAddPayload:
		rows := []models.CartRow{{UserID: p.UserID, ProductID: p.ProductID, Quantity: p.Quantity}}
		return client.Upsert(ctx, models.CartRow{}.TableName(), rows, cartConflictTarget)

	case CartUpdatePayload:
		return client.Update(ctx, models.CartRow{}.TableName(),
			map[string]int{"quantity": p.Quantity},
			remote.Eq("user_id", p.UserID), remote.Eq("product_id", p.ProductID))

	case CartRemovePayload:
		return client.Delete(ctx, models.CartRow{}.TableName(),
			remote.Eq("user_id", p.UserID), remote.Eq("product_id", p.ProductID))

	case CartClearPayload:
		return client.Delete(ctx, models.CartRow{}.TableName(),
			remote.Eq("user_id", p.UserID))

	case WishlistAddPayload:
		rows := []models.WishlistRow{{UserID: p.UserID, ProductID: p.ProductID}}
		return client.Upsert(ctx, models.WishlistRow{}.TableName(), rows, cartConflictTarget)

	case WishlistRemovePayload:
		return client.Delete(ctx, models.WishlistRow{}.TableName(),
			remote.Eq("user_id", p.UserID), remote.Eq("product_id", p.ProductID))

	default:
		return errors.New(errors.ErrReplayFailed,
			fmt.Sprintf("no executor for operation type %q", op.Type))
	}
}

// payloadToken extracts the session token captured when the operation
// was enqueued, empty for guest operations.
func payloadToken(p Payload) string {
	switch v := p.(type) {
	case CartAddPayload:
		return v.AccessToken
	case CartUpdatePayload:
		return v.AccessToken
	case CartRemovePayload:
		return v.AccessToken
	case CartClearPayload:
		return v.AccessToken
	case WishlistAddPayload:
		return v.AccessToken
	case WishlistRemovePayload:
		return v.AccessToken
	default:
		return ""
	}
}
