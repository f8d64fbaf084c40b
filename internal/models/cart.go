package models

// CartItem is one line of the in-memory cart. ID is a locally generated
// line identifier for guest carts and the remote row id once persisted.
type CartItem struct {
	ID       string  `json:"id"`
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// CartRow is the remote representation of a cart line, keyed by
// (user_id, product_id).
type CartRow struct {
	ID        string `db:"id" json:"id,omitempty"`
	UserID    string `db:"user_id" json:"user_id"`
	ProductID string `db:"product_id" json:"product_id"`
	Quantity  int    `db:"quantity" json:"quantity"`
}

// TableName returns the remote collection name for CartRow.
func (CartRow) TableName() string {
	return "cart_items"
}

// WishlistRow is the remote representation of wishlist membership, keyed
// by (user_id, product_id). The client holds only the product-id set.
type WishlistRow struct {
	UserID    string `db:"user_id" json:"user_id"`
	ProductID string `db:"product_id" json:"product_id"`
}

// TableName returns the remote collection name for WishlistRow.
func (WishlistRow) TableName() string {
	return "wishlist_items"
}
