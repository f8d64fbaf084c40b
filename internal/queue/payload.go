package queue

import (
	"encoding/json"
	"fmt"

	"github.com/bfgold/storefront-sync/internal/errors"
)

// OperationType identifies the kind of queued mutation. The set is closed;
// adding a kind means adding a payload variant and an executor case.
type OperationType string

const (
	OpCartAdd        OperationType = "cart-add"
	OpCartUpdate     OperationType = "cart-update"
	OpCartRemove     OperationType = "cart-remove"
	OpCartClear      OperationType = "cart-clear"
	OpWishlistAdd    OperationType = "wishlist-add"
	OpWishlistRemove OperationType = "wishlist-remove"
)

// Payload is the typed payload of a queued operation. Each operation kind
// has its own concrete shape, so replay never guesses at field names.
type Payload interface {
	OperationType() OperationType
}

// CartAddPayload adds a cart line. Quantity is the absolute resulting
// quantity, not a delta, so replaying it any number of times converges on
// the same remote state.
type CartAddPayload struct {
	UserID      string `json:"userId"`
	ProductID   string `json:"productId"`
	Quantity    int    `json:"quantity"`
	AccessToken string `json:"accessToken,omitempty"`
}

// OperationType implements Payload.
func (CartAddPayload) OperationType() OperationType { return OpCartAdd }

// CartUpdatePayload sets a cart line to an absolute quantity.
type CartUpdatePayload struct {
	UserID      string `json:"userId"`
	ProductID   string `json:"productId"`
	Quantity    int    `json:"quantity"`
	AccessToken string `json:"accessToken,omitempty"`
}

// OperationType implements Payload.
func (CartUpdatePayload) OperationType() OperationType { return OpCartUpdate }

// CartRemovePayload removes a cart line.
type CartRemovePayload struct {
	UserID      string `json:"userId"`
	ProductID   string `json:"productId"`
	AccessToken string `json:"accessToken,omitempty"`
}

// OperationType implements Payload.
func (CartRemovePayload) OperationType() OperationType { return OpCartRemove }

// CartClearPayload removes every cart line of a user.
type CartClearPayload struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken,omitempty"`
}

// OperationType implements Payload.
func (CartClearPayload) OperationType() OperationType { return OpCartClear }

// WishlistAddPayload adds wishlist membership.
type WishlistAddPayload struct {
	UserID      string `json:"userId"`
	ProductID   string `json:"productId"`
	AccessToken string `json:"accessToken,omitempty"`
}

// OperationType implements Payload.
func (WishlistAddPayload) OperationType() OperationType { return OpWishlistAdd }

// WishlistRemovePayload removes wishlist membership.
type WishlistRemovePayload struct {
	UserID      string `json:"userId"`
	ProductID   string `json:"productId"`
	AccessToken string `json:"accessToken,omitempty"`
}

// OperationType implements Payload.
func (WishlistRemovePayload) OperationType() OperationType { return OpWishlistRemove }

// DecodePayload decodes a raw payload into the concrete variant for the
// operation type.
func DecodePayload(opType OperationType, raw json.RawMessage) (Payload, error) {
	var (
		payload Payload
		err     error
	)

	switch opType {
	case OpCartAdd:
		var p CartAddPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case OpCartUpdate:
		var p CartUpdatePayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case OpCartRemove:
		var p CartRemovePayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case OpCartClear:
		var p CartClearPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case OpWishlistAdd:
		var p WishlistAddPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case OpWishlistRemove:
		var p WishlistRemovePayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, errors.New(errors.ErrPayloadDecode,
			fmt.Sprintf("unknown operation type %q", opType))
	}

	if err != nil {
		return nil, errors.Wrap(errors.ErrPayloadDecode,
			fmt.Sprintf("failed to decode %s payload", opType), err)
	}
	return payload, nil
}
