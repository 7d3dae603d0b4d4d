package persist

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gomarketplace/cart-engine/internal/model"
)

var (
	// ErrNegativeQuantity is returned by Decode when a persisted line item
	// carries a quantity below zero.
	ErrNegativeQuantity = errors.New("persist: negative quantity")

	// ErrDuplicateID is returned by Decode when two persisted line items
	// share an id.
	ErrDuplicateID = errors.New("persist: duplicate line item id")
)

// record is the blob shape of one line item. Price is written as a bare
// JSON number rather than decimal's default quoted string.
type record struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	ImageURL string      `json:"imageUrl"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

// Encode serializes the whole cart as a JSON array in cart order. An empty
// cart encodes as [].
func Encode(cart model.Cart) ([]byte, error) {
	recs := make([]record, 0, len(cart))
	for _, item := range cart {
		recs = append(recs, record{
			ID:       item.ID,
			Title:    item.Title,
			ImageURL: item.ImageURL,
			Price:    json.Number(item.Price.String()),
			Quantity: item.Quantity,
		})
	}
	return json.Marshal(recs)
}

// Decode parses a blob written by Encode. JSON null decodes to an empty
// cart. Any structural problem is reported as an error; callers decide
// whether to recover.
func Decode(data []byte) (model.Cart, error) {
	var recs []record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}

	cart := make(model.Cart, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for i, rec := range recs {
		if rec.Quantity < 0 {
			return nil, fmt.Errorf("item %d (%s): %w", i, rec.ID, ErrNegativeQuantity)
		}
		if _, dup := seen[rec.ID]; dup {
			return nil, fmt.Errorf("item %d (%s): %w", i, rec.ID, ErrDuplicateID)
		}
		seen[rec.ID] = struct{}{}

		price := decimal.Zero
		if rec.Price != "" {
			p, err := decimal.NewFromString(rec.Price.String())
			if err != nil {
				return nil, fmt.Errorf("item %d (%s) price: %w", i, rec.ID, err)
			}
			price = p
		}

		cart = append(cart, model.LineItem{
			ID:       rec.ID,
			Title:    rec.Title,
			ImageURL: rec.ImageURL,
			Price:    price,
			Quantity: rec.Quantity,
		})
	}
	return cart, nil
}
