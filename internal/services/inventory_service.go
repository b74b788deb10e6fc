package services

import (
	"context"
	"errors"
	"fmt"

	"retrocart/internal/domain"
	"retrocart/internal/repos"
	"retrocart/internal/validate"
)

// MaxBatch bounds the ids accepted by one batch lookup.
const MaxBatch = 100

type InventoryService struct {
	Inv   *repos.InventoryRepo
	Prods *repos.ProductRepo
}

func NewInventoryService(inv *repos.InventoryRepo, prods *repos.ProductRepo) *InventoryService {
	return &InventoryService{Inv: inv, Prods: prods}
}

func (s *InventoryService) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	if _, ok := validate.ID(productID); !ok {
		return domain.StockRecord{}, validationError("invalid product id")
	}
	rec, err := s.Inv.Get(ctx, productID)
	if errors.Is(err, repos.ErrNotFound) {
		return domain.StockRecord{}, notFound("product")
	}
	return rec, err
}

// Batch de-duplicates ids and returns the records that exist. Unknown ids are
// omitted rather than failing the whole lookup.
func (s *InventoryService) Batch(ctx context.Context, ids []string) (map[string]domain.StockRecord, error) {
	seen := make(map[string]bool, len(ids))
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		id, ok := validate.ID(id)
		if !ok {
			return nil, validationError(fmt.Sprintf("invalid product id %q", id))
		}
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	if len(uniq) > MaxBatch {
		return nil, validationError(fmt.Sprintf("at most %d product ids per request", MaxBatch))
	}
	recs, err := s.Inv.Batch(ctx, uniq)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.StockRecord, len(recs))
	for _, r := range recs {
		out[r.ProductID] = r
	}
	return out, nil
}

// CheckAvailability converts a stock record into a band. A product with no
// inventory row is out of stock.
func (s *InventoryService) CheckAvailability(ctx context.Context, productID string) (domain.Availability, error) {
	rec, err := s.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Availability{Status: domain.BandOutOfStock, Qty: 0}, nil
		}
		return domain.Availability{}, err
	}
	return domain.Availability{Status: rec.Band(), Qty: max(rec.AvailableQuantity, 0)}, nil
}

func (s *InventoryService) ListAll(ctx context.Context) ([]repos.InventoryRow, error) {
	return s.Inv.ListAll(ctx)
}

// SetStock is the inventory owner's write path. Stock may not drop below
// units already reserved by open orders.
func (s *InventoryService) SetStock(ctx context.Context, productID string, qty int) (domain.StockRecord, error) {
	if _, ok := validate.ID(productID); !ok || qty < 0 {
		return domain.StockRecord{}, validationError("invalid product id or quantity")
	}
	if _, err := s.Prods.Get(ctx, productID); err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			return domain.StockRecord{}, notFound("product")
		}
		return domain.StockRecord{}, err
	}
	cur, err := s.Inv.Get(ctx, productID)
	switch {
	case err == nil && qty < cur.ReservedQuantity:
		return domain.StockRecord{}, validationError(fmt.Sprintf("%d units are reserved by open orders", cur.ReservedQuantity))
	case err != nil && !errors.Is(err, repos.ErrNotFound):
		return domain.StockRecord{}, err
	}
	if err := s.Inv.SetStock(ctx, productID, qty); err != nil {
		return domain.StockRecord{}, err
	}
	return s.Inv.Get(ctx, productID)
}
