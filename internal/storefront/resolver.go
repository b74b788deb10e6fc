package storefront

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"retrocart/internal/domain"
	applog "retrocart/internal/log"
)

// UnresolvedMax is the clamp ceiling used while stock is unknown.
const UnresolvedMax = 999

// batchSize matches the server's per-request id limit.
const batchSize = 100

// Availability is one product's resolved stock. Known is false when the
// lookup failed or the product was not returned; such products display as
// available and unbanded.
type Availability struct {
	Record domain.StockRecord
	Band   domain.Band
	Known  bool
}

// Max is the highest quantity the cart may ask for.
func (a Availability) Max() int {
	if !a.Known {
		return UnresolvedMax
	}
	if a.Record.AvailableQuantity < 0 {
		return 0
	}
	return a.Record.AvailableQuantity
}

func unknown(productID string) Availability {
	return Availability{Record: domain.StockRecord{ProductID: productID}, Band: domain.BandUnknown}
}

// Resolver batch-resolves stock bands. It never fails: a broken lookup
// degrades to unknown availability.
type Resolver struct {
	API API
}

func (r *Resolver) Resolve(ctx context.Context, productIDs []string) map[string]Availability {
	seen := make(map[string]bool, len(productIDs))
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	out := make(map[string]Availability, len(ids))
	if len(ids) == 0 {
		return out
	}

	var (
		mu   sync.Mutex
		recs = make(map[string]domain.StockRecord, len(ids))
		g    errgroup.Group
	)
	for start := 0; start < len(ids); start += batchSize {
		chunk := ids[start:min(start+batchSize, len(ids))]
		g.Go(func() error {
			got, err := r.API.StockBatch(ctx, chunk)
			if err != nil {
				// only this chunk degrades
				applog.L().Warn("storefront.stock.degraded", zap.Int("count", len(chunk)), zap.Error(err))
				return nil
			}
			mu.Lock()
			for id, rec := range got {
				recs[id] = rec
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range ids {
		rec, ok := recs[id]
		if !ok {
			out[id] = unknown(id)
			continue
		}
		out[id] = Availability{Record: rec, Band: domain.BandFor(rec.AvailableQuantity), Known: true}
	}
	return out
}
