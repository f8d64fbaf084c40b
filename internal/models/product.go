// Package models provides data model definitions for the storefront sync engine.
package models

import "time"

// Category is a denormalized category reference carried on product snapshots.
type Category struct {
	ID         string `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	NameTelugu string `db:"name_telugu" json:"name_telugu"`
	Slug       string `db:"slug" json:"slug"`
	SortOrder  int    `db:"sort_order" json:"sort_order"`
}

// Product is a denormalized product snapshot as served by the remote store.
// Price, DiscountPrice and Stock are the volatile fields refreshed
// opportunistically; descriptive fields stay whatever they were when the
// snapshot was taken.
type Product struct {
	ID            string    `db:"id" json:"id"`
	Slug          string    `db:"slug" json:"slug"`
	Name          string    `db:"name" json:"name"`
	NameTelugu    string    `db:"name_telugu" json:"name_telugu"`
	Description   string    `db:"description" json:"description"`
	Price         float64   `db:"price" json:"price"`
	DiscountPrice *float64  `db:"discount_price" json:"discount_price"`
	Stock         int       `db:"stock" json:"stock"`
	Images        []string  `db:"images" json:"images"`
	CategoryID    string    `db:"category_id" json:"category_id"`
	Category      *Category `db:"-" json:"category,omitempty"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	Featured      bool      `db:"featured" json:"featured"`
	UpdatedAt     int64     `db:"updated_at" json:"updated_at"`
}

// TableName returns the remote collection name for Product.
func (Product) TableName() string {
	return "products"
}

// EffectivePrice returns the discount price when one is set, the list
// price otherwise.
func (p *Product) EffectivePrice() float64 {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (p *Product) UpdatedAtTime() time.Time {
	return time.Unix(p.UpdatedAt, 0)
}

// PriceUpdate carries the volatile fields of a product as re-fetched from
// the remote store during a price/stock refresh.
type PriceUpdate struct {
	ID            string   `json:"id"`
	Price         float64  `json:"price"`
	DiscountPrice *float64 `json:"discount_price"`
	Stock         int      `json:"stock"`
}

// Apply overwrites only the volatile fields of the product snapshot.
func (u *PriceUpdate) Apply(p *Product) {
	p.Price = u.Price
	p.DiscountPrice = u.DiscountPrice
	p.Stock = u.Stock
}
