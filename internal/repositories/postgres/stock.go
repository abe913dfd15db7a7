package postgres

import (
	"context"
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type stockLedger struct{ s *Store }

func (l stockLedger) Available(ctx context.Context, productID string) (int64, error) {
	q, _ := l.s.conn(ctx)
	var available int64
	err := q.QueryRow(ctx, `SELECT available FROM products WHERE id = $1`, strings.TrimSpace(productID)).Scan(&available)
	if err != nil {
		return 0, wrapError("stock.available", err)
	}
	return available, nil
}

// TryReserve decrements in a single conditional UPDATE so the check and the write are atomic.
func (l stockLedger) TryReserve(ctx context.Context, productID string, qty int64) (bool, error) {
	if qty <= 0 {
		return false, nil
	}
	productID = strings.TrimSpace(productID)
	q, _ := l.s.conn(ctx)
	tag, err := q.Exec(ctx,
		`UPDATE products SET available = available - $2, updated_at = now() WHERE id = $1 AND available >= $2`,
		productID, qty)
	if err != nil {
		return false, wrapError("stock.reserve", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := l.Available(ctx, productID); err != nil {
		return false, err
	}
	return false, nil
}

func (l stockLedger) Release(ctx context.Context, productID string, qty int64) error {
	if qty <= 0 {
		return nil
	}
	q, _ := l.s.conn(ctx)
	tag, err := q.Exec(ctx,
		`UPDATE products SET available = available + $2, updated_at = now() WHERE id = $1`,
		strings.TrimSpace(productID), qty)
	if err != nil {
		return wrapError("stock.release", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NotFound("stock.release", "product "+productID+" not found")
	}
	return nil
}

type productCatalog struct{ s *Store }

func (c productCatalog) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	q, _ := c.s.conn(ctx)
	rows, err := q.Query(ctx,
		`SELECT id, name, unit_price, currency, available, updated_at FROM products WHERE id = ANY($1)`,
		productIDs)
	if err != nil {
		return nil, wrapError("catalog.find", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p        domain.Product
			amount   int64
			currency string
		)
		if err := rows.Scan(&p.ID, &p.Name, &amount, &currency, &p.Available, &p.UpdatedAt); err != nil {
			return nil, wrapError("catalog.scan", err)
		}
		p.UnitPrice = domain.NewMoney(amount, currency)
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("catalog.find", err)
	}
	return out, nil
}

// UpsertProduct seeds or replaces a product row.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	q, _ := s.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO products (id, name, unit_price, currency, available, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			unit_price = EXCLUDED.unit_price,
			currency = EXCLUDED.currency,
			available = EXCLUDED.available,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.UnitPrice.Amount, p.UnitPrice.Currency, p.Available)
	return wrapError("products.upsert", err)
}
