package payments

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres IntentStore.
type Repo struct{ DB *pgxpool.Pool }

const intentColumns = `id, external_id, idempotency_key, order_id, amount_cents, currency, method,
	status, client_secret, poll_exhausted, created_at, paid_at, updated_at`

func scanIntent(row pgx.Row) (PaymentIntent, error) {
	var p PaymentIntent
	err := row.Scan(&p.ID, &p.ExternalID, &p.IdempotencyKey, &p.OrderID, &p.AmountCents, &p.Currency, &p.Method,
		&p.Status, &p.ClientSecret, &p.PollExhausted, &p.CreatedAt, &p.PaidAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentIntent{}, ErrNotFound
	}
	return p, err
}

// Create retires an expired holder of the key by suffixing it with its own id, then
// inserts. The unique index on idempotency_key rejects a live holder.
func (r *Repo) Create(ctx context.Context, p PaymentIntent, since time.Time) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE payment_intents SET idempotency_key = idempotency_key || ':' || id
		WHERE idempotency_key=$1 AND created_at < $2`, p.IdempotencyKey, since); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO payment_intents(id, external_id, idempotency_key, order_id, amount_cents, currency, method,
		                            status, client_secret, poll_exhausted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,$10,$11)`,
		p.ID, p.ExternalID, p.IdempotencyKey, p.OrderID, p.AmountCents, p.Currency, p.Method,
		p.Status, p.ClientSecret, p.CreatedAt, p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "payment_intents_idempotency_key_key" {
		return ErrDuplicateKey
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) ByKey(ctx context.Context, key string, since time.Time) (PaymentIntent, error) {
	return scanIntent(r.DB.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE idempotency_key=$1 AND created_at >= $2`, key, since))
}

func (r *Repo) ByID(ctx context.Context, id string) (PaymentIntent, error) {
	return scanIntent(r.DB.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id=$1`, id))
}

func (r *Repo) ByExternalID(ctx context.Context, externalID string) (PaymentIntent, error) {
	return scanIntent(r.DB.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE external_id=$1`, externalID))
}

// Transition locks the row, checks the move against CanTransition and writes it in
// one transaction, so two reconcilers racing on the same intent serialise here.
func (r *Repo) Transition(ctx context.Context, id string, to Status, at time.Time) (PaymentIntent, bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PaymentIntent{}, false, err
	}
	defer tx.Rollback(ctx)

	cur, err := scanIntent(tx.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return PaymentIntent{}, false, err
	}
	if !CanTransition(cur.Status, to) {
		return cur, false, nil
	}

	next, err := scanIntent(tx.QueryRow(ctx, `
		UPDATE payment_intents
		SET status=$2, updated_at=$3,
		    paid_at = CASE WHEN $2 = 'APPROVED' THEN $3 ELSE paid_at END
		WHERE id=$1
		RETURNING `+intentColumns, id, to, at))
	if err != nil {
		return PaymentIntent{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return PaymentIntent{}, false, err
	}
	return next, true, nil
}

func (r *Repo) MarkPollExhausted(ctx context.Context, id string) error {
	ct, err := r.DB.Exec(ctx, `UPDATE payment_intents SET poll_exhausted=true, updated_at=now() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) ListStale(ctx context.Context, before time.Time, limit int) ([]PaymentIntent, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE status IN ('CREATED','PENDING','IN_PROCESS') AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentIntent
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
