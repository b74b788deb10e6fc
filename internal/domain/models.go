package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `db:"id" json:"id"`
	Title       string          `db:"title" json:"title"`
	Price       decimal.Decimal `db:"price" json:"price"`
	OptionsJSON string          `db:"options_json" json:"-"`
	Active      bool            `db:"active" json:"active"`
}

// Options returns the selectable option schema, e.g. {"color": ["red","blue"]}.
// Every listed option must be chosen when the product is added to a cart.
func (p Product) Options() map[string][]string {
	out := map[string][]string{}
	if p.OptionsJSON == "" {
		return out
	}
	_ = json.Unmarshal([]byte(p.OptionsJSON), &out)
	return out
}

// Band classifies available stock.
type Band string

const (
	BandInStock    Band = "IN_STOCK"
	BandLowStock   Band = "LOW_STOCK"
	BandOutOfStock Band = "OUT_OF_STOCK"
	BandUnknown    Band = "UNKNOWN"
)

// LowStockThreshold is the highest available quantity still reported as LOW_STOCK.
const LowStockThreshold = 5

func BandFor(available int) Band {
	switch {
	case available <= 0:
		return BandOutOfStock
	case available <= LowStockThreshold:
		return BandLowStock
	default:
		return BandInStock
	}
}

type StockRecord struct {
	ProductID         string `db:"product_id" json:"productId"`
	StockQuantity     int    `db:"stock_qty" json:"stockQuantity"`
	ReservedQuantity  int    `db:"reserved_qty" json:"reservedQuantity"`
	AvailableQuantity int    `db:"available_qty" json:"availableQuantity"`
}

func (s StockRecord) Band() Band { return BandFor(s.AvailableQuantity) }

type Availability struct {
	Status Band `json:"status"`
	Qty    int  `json:"qty"`
}
