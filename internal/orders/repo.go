package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidQty      = errors.New("invalid qty")
)

type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, external_id, user_id, status, items_cents, shipping_cents, total_cents,
	shipping_service, dest_cep, COALESCE(payment_id, ''), review_required, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.ExternalID, &o.UserID, &o.Status, &o.ItemsCents, &o.ShippingCents, &o.TotalCents,
		&o.ShippingService, &o.DestCEP, &o.PaymentID, &o.ReviewRequired, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// CreateOrderTx is idempotent via external_id: when it already exists the stored
// order is returned with existed=true.
func (r *Repo) CreateOrderTx(ctx context.Context, in NewOrder) (order Order, existed bool, err error) {
	order, err = scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id=$1`, in.ExternalID))
	if err == nil {
		return order, true, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Order{}, false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// prices come from products, never from the client
	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ProductID)
	}
	rows, err := tx.Query(ctx, `SELECT id, price_cents FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return Order{}, false, err
	}
	prices := map[string]int64{}
	for rows.Next() {
		var id string
		var price int64
		if err := rows.Scan(&id, &price); err != nil {
			rows.Close()
			return Order{}, false, err
		}
		prices[id] = price
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Order{}, false, err
	}

	itemsCents, err := priceItems(in.Items, prices)
	if err != nil {
		return Order{}, false, err
	}

	orderID := uuid.NewString()
	ct, err := tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, user_id, status, items_cents, shipping_cents, total_cents, shipping_service, dest_cep)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8)
		ON CONFLICT (external_id) DO NOTHING
	`, orderID, in.ExternalID, in.UserID, itemsCents, in.ShippingCents, itemsCents+in.ShippingCents, in.ShippingService, in.DestCEP)
	if err != nil {
		return Order{}, false, err
	}
	if ct.RowsAffected() == 0 {
		// lost the race against a concurrent submit with the same external_id
		_ = tx.Rollback(ctx)
		order, err = scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id=$1`, in.ExternalID))
		return order, err == nil, err
	}

	for _, it := range in.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, price_cents)
			VALUES ($1, $2, $3, $4)`,
			orderID, it.ProductID, it.Qty, prices[it.ProductID],
		)
		if err != nil {
			return Order{}, false, err
		}
	}

	order, err = scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
	if err != nil {
		return Order{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	return order, false, nil
}

func priceItems(items []ItemInput, prices map[string]int64) (int64, error) {
	var total int64
	for _, it := range items {
		price, ok := prices[it.ProductID]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		if it.Qty <= 0 {
			return 0, fmt.Errorf("%w for product %s", ErrInvalidQty, it.ProductID)
		}
		total += price * int64(it.Qty)
	}
	return total, nil
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
}

func (r *Repo) Items(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, order_id, product_id, qty, price_cents FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Transition moves the order to `to` only from a status that allows it. The
// compare-and-set lives in the WHERE clause; false means someone else finalised first.
func (r *Repo) Transition(ctx context.Context, orderID string, to Status) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status = ANY($3)`, orderID, to, sourcesOf(to))
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, orderID); err != nil {
		return false, err
	}
	return false, nil
}

// FlagReview marks the order for manual review. It never changes the status.
func (r *Repo) FlagReview(ctx context.Context, orderID string) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET review_required=true, updated_at=now() WHERE id=$1`, orderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) SetPayment(ctx context.Context, orderID, paymentID string) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET payment_id=$2, updated_at=now() WHERE id=$1`, orderID, paymentID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) Products(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, sku, name, stock, price_cents, weight_g, length_cm, width_cm, height_cm, created_at, updated_at
                                FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, sku, name, stock, price_cents, weight_g, length_cm, width_cm, height_cm, created_at, updated_at
                                FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sortBySKU(out)
	return out, nil
}

func collectProducts(rows pgx.Rows) (map[string]Product, error) {
	out := map[string]Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.PriceCents, &p.WeightG,
			&p.LengthCM, &p.WidthCM, &p.HeightCM, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
