package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"retrocart/internal/domain"
	"retrocart/internal/metrics"
	"retrocart/internal/repos"
	"retrocart/internal/validate"
)

type CartService struct {
	DB      *sqlx.DB
	Carts   *repos.CartRepo
	Prods   *repos.ProductRepo
	Inv     *repos.InventoryRepo
	Metrics *metrics.Metrics
}

func NewCartService(db *sqlx.DB, m *metrics.Metrics) *CartService {
	return &CartService{
		DB:      db,
		Carts:   repos.NewCartRepo(db),
		Prods:   repos.NewProductRepo(db),
		Inv:     repos.NewInventoryRepo(db),
		Metrics: m,
	}
}

func (s *CartService) View(ctx context.Context, sessionID string) (domain.Cart, error) {
	cartID, err := s.Carts.EnsureCart(ctx, sessionID)
	if err != nil {
		return domain.Cart{}, err
	}
	lines, err := s.Carts.Lines(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	return domain.NewCart(lines), nil
}

// Add puts qty units of a product variant into the cart, merging with an
// existing line of the same item key.
func (s *CartService) Add(ctx context.Context, sessionID, productID string, qty int, options map[string]string) (domain.Cart, error) {
	if _, ok := validate.ID(productID); !ok {
		return domain.Cart{}, validationError("invalid product id")
	}
	if qty < 1 {
		return domain.Cart{}, validationError("quantity must be at least 1")
	}
	err := repos.Tx(ctx, s.DB, func(tx *sqlx.Tx) error {
		p, err := s.Prods.With(tx).Get(ctx, productID)
		switch {
		case errors.Is(err, repos.ErrNotFound):
			return notFound("product")
		case err != nil:
			return err
		}
		if err := checkOptions(p, options); err != nil {
			return err
		}
		carts := s.Carts.With(tx)
		cartID, err := carts.EnsureCart(ctx, sessionID)
		if err != nil {
			return err
		}
		lines, err := carts.Lines(ctx, cartID)
		if err != nil {
			return err
		}
		if err := s.checkStock(ctx, tx, productID, productQty(lines, productID, "")+qty); err != nil {
			return err
		}
		return carts.AddItem(ctx, cartID, domain.CartLine{
			ItemKey:         domain.ItemKey(productID, options),
			ProductID:       productID,
			SelectedOptions: options,
			Quantity:        qty,
			PriceAtAdd:      p.Price,
		})
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return s.View(ctx, sessionID)
}

// UpdateQuantity sets the quantity of one line. The line is found by itemKey,
// or by productID plus options when no key is given.
func (s *CartService) UpdateQuantity(ctx context.Context, sessionID, productID string, qty int, itemKey string, options map[string]string) (domain.Cart, error) {
	if qty < 1 {
		return domain.Cart{}, validationError("quantity must be at least 1")
	}
	key := lineKey(productID, itemKey, options)
	err := repos.Tx(ctx, s.DB, func(tx *sqlx.Tx) error {
		carts := s.Carts.With(tx)
		cartID, err := carts.EnsureCart(ctx, sessionID)
		if err != nil {
			return err
		}
		lines, err := carts.Lines(ctx, cartID)
		if err != nil {
			return err
		}
		line, ok := domain.NewCart(lines).Line(key)
		if !ok || line.ProductID != productID {
			return notFound("cart item")
		}
		if qty > line.Quantity {
			if err := s.checkStock(ctx, tx, productID, productQty(lines, productID, key)+qty); err != nil {
				return err
			}
		}
		return carts.SetQuantity(ctx, cartID, key, qty)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return s.View(ctx, sessionID)
}

// Remove deletes exactly one line; other variants of the product stay.
func (s *CartService) Remove(ctx context.Context, sessionID, productID, itemKey string) (domain.Cart, error) {
	key := lineKey(productID, itemKey, nil)
	cartID, err := s.Carts.EnsureCart(ctx, sessionID)
	if err != nil {
		return domain.Cart{}, err
	}
	lines, err := s.Carts.Lines(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	if line, ok := domain.NewCart(lines).Line(key); !ok || line.ProductID != productID {
		return domain.Cart{}, notFound("cart item")
	}
	if err := s.Carts.RemoveItem(ctx, cartID, key); err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			return domain.Cart{}, notFound("cart item")
		}
		return domain.Cart{}, err
	}
	return s.View(ctx, sessionID)
}

// checkStock rejects want when it exceeds what is available for the product.
// Variants of one product draw on the same stock.
func (s *CartService) checkStock(ctx context.Context, tx *sqlx.Tx, productID string, want int) error {
	rec, err := s.Inv.With(tx).Get(ctx, productID)
	if err != nil && !errors.Is(err, repos.ErrNotFound) {
		return err
	}
	if want > rec.AvailableQuantity {
		if s.Metrics != nil {
			s.Metrics.InsufficientStock.Inc()
		}
		return insufficientStock(productID, rec.AvailableQuantity)
	}
	return nil
}

func lineKey(productID, itemKey string, options map[string]string) string {
	if itemKey != "" {
		return itemKey
	}
	return domain.ItemKey(productID, options)
}

// productQty sums the lines of productID, skipping the line with key skip.
func productQty(lines []domain.CartLine, productID, skip string) int {
	n := 0
	for _, l := range lines {
		if l.ProductID == productID && l.ItemKey != skip {
			n += l.Quantity
		}
	}
	return n
}

// checkOptions requires one listed value for every option the product
// declares and nothing else.
func checkOptions(p domain.Product, selected map[string]string) error {
	schema := p.Options()
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, ok := selected[name]
		if !ok || v == "" {
			return validationError(fmt.Sprintf("please choose a %s", name))
		}
		valid := false
		for _, allowed := range schema[name] {
			if v == allowed {
				valid = true
				break
			}
		}
		if !valid {
			return validationError(fmt.Sprintf("%q is not a valid %s", v, name))
		}
	}
	for name := range selected {
		if _, ok := schema[name]; !ok {
			return validationError(fmt.Sprintf("%s is not an option of this product", name))
		}
	}
	return nil
}
