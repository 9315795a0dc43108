package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres order store. Mutations return the updated order
// row without its items.
type Repo struct{ DB *pgxpool.Pool }

var _ Repository = (*Repo)(nil)

const orderColumns = `id, public_token, store_id, buyer_name, buyer_phone, buyer_email,
	status, payment_status, payment_method, sub_total_cents, shipping_cost_cents, total_cents,
	currency, requested, requested_at, decided_at, proof_media_id, created_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status, pay, method string
	err := row.Scan(
		&o.ID, &o.PublicToken, &o.StoreID, &o.Buyer.Name, &o.Buyer.Phone, &o.Buyer.Email,
		&status, &pay, &method, &o.SubTotalCents, &o.ShippingCostCents, &o.TotalCents,
		&o.Currency, &o.Requested, &o.RequestedAt, &o.DecidedAt, &o.ProofMediaID, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(pay)
	o.PaymentMethod = PaymentMethod(method)
	return &o, nil
}

// CreateOrder inserts the order and its items in one transaction and fills
// in the generated ids. A zero CreatedAt is left to the database default.
func (r *Repo) CreateOrder(ctx context.Context, o *Order) error {
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: order without items", ErrInvalidInput)
	}
	var createdAt *time.Time
	if !o.CreatedAt.IsZero() {
		createdAt = &o.CreatedAt
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(public_token, store_id, buyer_name, buyer_phone, buyer_email,
			status, payment_status, payment_method, sub_total_cents, shipping_cost_cents,
			total_cents, currency, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, COALESCE($13::timestamptz, now()))
		RETURNING id, created_at`,
		o.PublicToken, o.StoreID, o.Buyer.Name, o.Buyer.Phone, o.Buyer.Email,
		string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod),
		o.SubTotalCents, o.ShippingCostCents, o.TotalCents, o.Currency, createdAt,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		opts := it.Options
		if opts == nil {
			opts = map[string]any{}
		}
		raw, err := json.Marshal(opts)
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, variant_id, name, options_snapshot,
				unit_price_cents, quantity, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id`,
			it.OrderID, it.ProductID, it.VariantID, it.Name, raw,
			it.UnitPriceCents, it.Quantity, it.TotalCents,
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *Repo) FindByToken(ctx context.Context, token string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE public_token=$1`, token))
	if err != nil {
		return nil, err
	}
	return o, r.attachItems(ctx, r.DB, []*Order{o})
}

func (r *Repo) FindByID(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	return o, r.attachItems(ctx, r.DB, []*Order{o})
}

func (r *Repo) AttachProof(ctx context.Context, token, mediaRef string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET proof_media_id=$2, payment_status=$3
		WHERE public_token=$1
		RETURNING `+orderColumns,
		token, mediaRef, string(PaymentVerifying),
	))
}

func (r *Repo) MarkRequested(ctx context.Context, token string, at time.Time) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET requested=true, requested_at=$2, payment_status=$3
		WHERE public_token=$1
		RETURNING `+orderColumns,
		token, at, string(PaymentVerifying),
	))
}

func (r *Repo) ApplyDecision(ctx context.Context, id int64, res Resolution, at time.Time) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET status=$2, payment_status=$3,
			payment_method=COALESCE(NULLIF($4::text, ''), payment_method),
			decided_at=$5
		WHERE id=$1
		RETURNING `+orderColumns,
		id, string(res.Status), string(res.PaymentStatus), string(res.PaymentMethod), at,
	))
}

func (r *Repo) UpdateBuyer(ctx context.Context, token string, b Buyer, mutable []Status) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET buyer_name=$2, buyer_phone=$3, buyer_email=$4
		WHERE public_token=$1 AND status = ANY($5)
		RETURNING `+orderColumns,
		token, b.Name, b.Phone, b.Email, statusStrings(mutable),
	))
}

func (r *Repo) CountQueuedBefore(ctx context.Context, storeID int64, at time.Time, id int64, statuses []Status) (int, error) {
	var n int64
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE store_id=$1 AND requested AND status = ANY($4)
		  AND (requested_at < $2 OR (requested_at = $2 AND id < $3))`,
		storeID, at, id, statusStrings(statuses),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued: %w", err)
	}
	return int(n), nil
}

func (r *Repo) ListRequested(ctx context.Context, storeID int64, statuses []Status) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE store_id=$1 AND requested AND status = ANY($2)
		ORDER BY requested_at, id`,
		storeID, statusStrings(statuses),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*Order, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	return out, r.attachItems(ctx, r.DB, ptrs)
}

func (r *Repo) Summarize(ctx context.Context, storeID int64, since, until time.Time, statuses []Status) (Summary, error) {
	var s Summary
	var count int64
	err := r.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_cents), 0)::bigint, COUNT(*)
		FROM orders
		WHERE store_id=$1 AND status = ANY($2) AND created_at >= $3 AND created_at <= $4`,
		storeID, statusStrings(statuses), since, until,
	).Scan(&s.RevenueCents, &count)
	if err != nil {
		return Summary{}, fmt.Errorf("sum revenue: %w", err)
	}
	s.OrderCount = int(count)

	var top TopProduct
	err = r.DB.QueryRow(ctx, `
		SELECT i.product_id, SUM(i.total_cents)::bigint AS revenue
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		WHERE o.store_id=$1 AND o.status = ANY($2) AND o.created_at >= $3 AND o.created_at <= $4
		GROUP BY i.product_id
		ORDER BY revenue DESC, i.product_id ASC
		LIMIT 1`,
		storeID, statusStrings(statuses), since, until,
	).Scan(&top.ProductID, &top.RevenueCents)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return Summary{}, fmt.Errorf("top product: %w", err)
	default:
		s.TopProduct = &top
	}
	return s, nil
}

func (r *Repo) attachItems(ctx context.Context, q querier, list []*Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(list))
	byID := make(map[int64]*Order, len(list))
	for _, o := range list {
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, variant_id, name, options_snapshot,
			unit_price_cents, quantity, total_cents
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, id`, ids)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it  OrderItem
			raw []byte
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.Name, &raw,
			&it.UnitPriceCents, &it.Quantity, &it.TotalCents); err != nil {
			return err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &it.Options); err != nil {
				return fmt.Errorf("decode options: %w", err)
			}
		}
		if o := byID[it.OrderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}
