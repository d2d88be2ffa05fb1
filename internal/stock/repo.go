package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// ApplyDecrement claims the order's stock_decrements row, then locks each product
// (FOR UPDATE) and decrements it. Lines without enough stock are skipped, logged in
// stock_shortages, and the order is flagged for review. Everything commits together,
// so the claim and the decrement are never observed apart.
func (r *Repo) ApplyDecrement(ctx context.Context, orderID string, lines []Line) (Result, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		INSERT INTO stock_decrements(order_id, applied, applied_at)
		VALUES ($1, true, now())
		ON CONFLICT (order_id) DO NOTHING`, orderID)
	if err != nil {
		return Result{}, err
	}
	if ct.RowsAffected() == 0 {
		return Result{}, nil
	}

	res := Result{Applied: true}
	for _, ln := range lines {
		var stock int
		err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, ln.ProductID).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			stock = 0
		} else if err != nil {
			return Result{}, err
		}
		if stock < ln.Qty {
			res.Shortages = append(res.Shortages, Shortage{ProductID: ln.ProductID, Requested: ln.Qty, Available: stock})
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now() WHERE id=$1`, ln.ProductID, ln.Qty); err != nil {
			return Result{}, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_movements(order_id, product_id, qty)
			VALUES ($1,$2,$3)
			ON CONFLICT (order_id, product_id) DO NOTHING`, orderID, ln.ProductID, -ln.Qty); err != nil {
			return Result{}, err
		}
	}

	for _, s := range res.Shortages {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_shortages(order_id, product_id, requested, available)
			VALUES ($1,$2,$3,$4)`, orderID, s.ProductID, s.Requested, s.Available); err != nil {
			return Result{}, err
		}
	}
	if len(res.Shortages) > 0 {
		if _, err := tx.Exec(ctx, `UPDATE orders SET review_required=true, updated_at=now() WHERE id=$1`, orderID); err != nil {
			return Result{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return res, nil
}
