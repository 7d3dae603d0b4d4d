// Package model defines the cart domain types shared across the engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"github.com/shopspring/decimal"
)

// Product is a purchasable item as offered to the cart, before it has a
// quantity. It is the input to an add.
type Product struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	ImageURL string          `json:"imageUrl"`
	Price    decimal.Decimal `json:"price"` // unit price, not validated
}

// LineItem is one product's presence in the cart.
type LineItem struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	ImageURL string          `json:"imageUrl"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"` // >= 0
}

// Cart is the ordered sequence of line items, in order of first add.
// IDs are unique within a Cart.
//
// A Cart value is never modified in place: every transition returns a
// fresh slice so snapshots already handed out stay stable.
type Cart []LineItem

// Index returns the position of the item with the given id, or -1.
func (c Cart) Index(id string) int {
	for i, item := range c {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no backing array with c.
func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

// Add returns the cart with p added. An existing line item keeps its own
// title, image and price and gains one unit; fields carried by p are
// ignored in that case. A new id is appended with quantity 1.
func (c Cart) Add(p Product) Cart {
	if c.Index(p.ID) >= 0 {
		return c.adjust(p.ID, 1)
	}
	out := make(Cart, len(c), len(c)+1)
	copy(out, c)
	return append(out, LineItem{
		ID:       p.ID,
		Title:    p.Title,
		ImageURL: p.ImageURL,
		Price:    p.Price,
		Quantity: 1,
	})
}

// Increment returns the cart with one more unit of id. Unknown ids leave
// the cart value-equal.
func (c Cart) Increment(id string) Cart {
	return c.adjust(id, 1)
}

// Decrement returns the cart with one less unit of id, floored at zero.
// Items at zero stay in the cart.
func (c Cart) Decrement(id string) Cart {
	return c.adjust(id, -1)
}

func (c Cart) adjust(id string, delta int) Cart {
	out := c.Clone()
	for i := range out {
		if out[i].ID != id {
			continue
		}
		q := out[i].Quantity + delta
		if q < 0 {
			q = 0
		}
		out[i].Quantity = q
	}
	return out
}

// TotalUnits sums quantities across all line items.
func (c Cart) TotalUnits() int {
	n := 0
	for _, item := range c {
		n += item.Quantity
	}
	return n
}
