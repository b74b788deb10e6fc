package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ItemKey builds the cart-line identity from a product id and its selected options.
// Options are serialized as JSON, whose object keys are always sorted.
func ItemKey(productID string, options map[string]string) string {
	if options == nil {
		options = map[string]string{}
	}
	b, _ := json.Marshal(options)
	return productID + "-" + string(b)
}

type CartLine struct {
	ItemKey         string            `json:"itemKey"`
	ProductID       string            `json:"productId"`
	Title           string            `json:"title"`
	SelectedOptions map[string]string `json:"selectedOptions"`
	Quantity        int               `json:"quantity"`
	PriceAtAdd      decimal.Decimal   `json:"priceAtAdd"`
	Subtotal        decimal.Decimal   `json:"subtotal"`
}

type Cart struct {
	Items       []CartLine      `json:"items"`
	ItemCount   int             `json:"itemCount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// NewCart computes subtotals, item count and total for lines.
func NewCart(lines []CartLine) Cart {
	c := Cart{Items: make([]CartLine, 0, len(lines)), TotalAmount: decimal.Zero}
	for _, l := range lines {
		l.Subtotal = l.PriceAtAdd.Mul(decimal.NewFromInt(int64(l.Quantity)))
		c.ItemCount += l.Quantity
		c.TotalAmount = c.TotalAmount.Add(l.Subtotal)
		c.Items = append(c.Items, l)
	}
	return c
}

// Line finds a line by item key.
func (c Cart) Line(itemKey string) (CartLine, bool) {
	for _, l := range c.Items {
		if l.ItemKey == itemKey {
			return l, true
		}
	}
	return CartLine{}, false
}

// ProductIDs returns the distinct product ids in cart order.
func (c Cart) ProductIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range c.Items {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			out = append(out, l.ProductID)
		}
	}
	return out
}
