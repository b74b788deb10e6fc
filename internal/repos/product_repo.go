package repos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"retrocart/internal/domain"
)

type ProductRepo struct{ q sqlx.ExtContext }

func NewProductRepo(db *sqlx.DB) *ProductRepo { return &ProductRepo{q: db} }

func (r *ProductRepo) With(tx *sqlx.Tx) *ProductRepo { return &ProductRepo{q: tx} }

// Get returns an active product.
func (r *ProductRepo) Get(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := sqlx.GetContext(ctx, r.q, &p, `
	  SELECT id, title, price, options_json, active
	  FROM products
	  WHERE id = ? AND active = 1
	`, id)
	return p, notFound(err)
}
