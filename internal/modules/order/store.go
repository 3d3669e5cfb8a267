// README: Order store backed by PostgreSQL. Conditional updates lock the row and re-check the predicate.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tiffin/internal/types"
)

const orderColumns = `
	id, user_id, contact, items, shipping_address, payment_method,
	subtotal, discount_amount, delivery_fee, tax_rate, tax_amount, coupon_code,
	grand_total, currency, confirmation_code, status, status_version,
	gateway_order_id, gateway_payment_id, delivery_rider_id, delivery_rider_name,
	created_at, updated_at, delivered_at`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, o *Order, actor types.Actor) (Change, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Change{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO orders (
			id, user_id, contact, items, shipping_address, payment_method,
			subtotal, discount_amount, delivery_fee, tax_rate, tax_amount, coupon_code,
			grand_total, currency, confirmation_code, status, status_version,
			gateway_order_id, gateway_payment_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, 0,
			$17, $18, now(), now()
		)
		RETURNING created_at`,
		string(o.ID), string(o.UserID), o.Contact, o.Items, o.ShippingAddress, string(o.PaymentMethod),
		o.Subtotal, o.DiscountAmount, o.DeliveryFee, o.TaxRate, o.TaxAmount, o.CouponCode,
		o.GrandTotal, o.Currency, o.ConfirmationCode, string(o.Status),
		o.GatewayOrderID, o.GatewayPaymentID,
	)
	if err := row.Scan(&o.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Change{}, fmt.Errorf("%w: duplicate order", ErrConflict)
		}
		return Change{}, err
	}
	o.UpdatedAt = o.CreatedAt
	o.StatusVersion = 0

	ev := Event{
		OrderID:    o.ID,
		FromStatus: StatusNone,
		ToStatus:   o.Status,
		ActorRole:  actor.Role,
		ActorID:    actorIDPtr(actor),
		Version:    0,
		CreatedAt:  o.CreatedAt,
	}
	if err := appendEvent(ctx, tx, &ev); err != nil {
		return Change{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Change{}, err
	}
	return Change{Event: ev, Order: *o}, nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	return scanOrder(row)
}

func (s *Store) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE gateway_order_id = $1`, gatewayOrderID)
	return scanOrder(row)
}

func (s *Store) ConditionalUpdate(ctx context.Context, id types.ID, pred Predicate, mut Mutation, actor types.Actor) (Change, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Change{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// FOR UPDATE serialises writers on the row; a waiting writer sees the committed state.
	cur, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, string(id)))
	if err != nil {
		return Change{}, false, err
	}
	if !pred.Matches(cur) {
		return Change{}, false, nil
	}

	from := cur.Status
	var now time.Time
	if err := tx.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return Change{}, false, err
	}
	mut.apply(cur, now)

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = $2,
		    delivery_rider_id = COALESCE(delivery_rider_id, $3),
		    delivery_rider_name = COALESCE(delivery_rider_name, $4),
		    gateway_payment_id = COALESCE($5, gateway_payment_id),
		    delivered_at = $6,
		    updated_at = $7
		WHERE id = $8`,
		string(cur.Status),
		cur.StatusVersion,
		toStringPtr(cur.DeliveryRiderID),
		cur.DeliveryRiderName,
		cur.GatewayPaymentID,
		cur.DeliveredAt,
		cur.UpdatedAt,
		string(id),
	)
	if err != nil {
		return Change{}, false, err
	}

	ev := Event{
		OrderID:    id,
		FromStatus: from,
		ToStatus:   cur.Status,
		ActorRole:  actor.Role,
		ActorID:    actorIDPtr(actor),
		Version:    cur.StatusVersion,
		CreatedAt:  now,
	}
	if err := appendEvent(ctx, tx, &ev); err != nil {
		return Change{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Change{}, false, err
	}
	return Change{Event: ev, Order: *cur}, true, nil
}

func (s *Store) History(ctx context.Context, id types.ID) ([]Event, error) {
	h, err := s.Histories(ctx, []types.ID{id})
	if err != nil {
		return nil, err
	}
	return h[id], nil
}

func (s *Store) Histories(ctx context.Context, ids []types.ID) (map[types.ID][]Event, error) {
	out := make(map[types.ID][]Event, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_type, actor_id, version, created_at
		FROM order_state_events
		WHERE order_id = ANY($1)
		ORDER BY order_id, id`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorRole, &actorID, &e.Version, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			a := types.ID(*actorID)
			e.ActorID = &a
		}
		out[e.OrderID] = append(out[e.OrderID], e)
	}
	return out, rows.Err()
}

func (s *Store) ListByUser(ctx context.Context, userID types.ID, limit int) ([]Order, error) {
	return s.list(ctx, `WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, string(userID), limit)
}

func (s *Store) ListByRider(ctx context.Context, riderID types.ID, limit int) ([]Order, error) {
	return s.list(ctx, `WHERE delivery_rider_id = $1 ORDER BY created_at DESC LIMIT $2`, string(riderID), limit)
}

func (s *Store) ListAvailable(ctx context.Context, limit int) ([]Order, error) {
	return s.list(ctx, `WHERE status = $1 AND delivery_rider_id IS NULL ORDER BY created_at ASC LIMIT $2`, string(StatusConfirmed), limit)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]Order, error) {
	return s.list(ctx, `ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *Store) ListStalePending(ctx context.Context, before time.Time) ([]Order, error) {
	return s.list(ctx, `WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC`, string(StatusPaymentPending), before)
}

func (s *Store) CountDelivered(ctx context.Context, riderID types.ID, since *time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM orders
		WHERE delivery_rider_id = $1
		  AND status = $2
		  AND ($3::timestamptz IS NULL OR delivered_at > $3)`,
		string(riderID), string(StatusDelivered), since,
	).Scan(&n)
	return n, err
}

func (s *Store) list(ctx context.Context, where string, args ...any) ([]Order, error) {
	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
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
	return out, rows.Err()
}

func appendEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	return tx.QueryRow(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorRole),
		toStringPtr(e.ActorID),
		e.Version,
		e.CreatedAt,
	).Scan(&e.ID)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var riderID *string
	err := row.Scan(
		&o.ID, &o.UserID, &o.Contact, &o.Items, &o.ShippingAddress, &o.PaymentMethod,
		&o.Subtotal, &o.DiscountAmount, &o.DeliveryFee, &o.TaxRate, &o.TaxAmount, &o.CouponCode,
		&o.GrandTotal, &o.Currency, &o.ConfirmationCode, &o.Status, &o.StatusVersion,
		&o.GatewayOrderID, &o.GatewayPaymentID, &riderID, &o.DeliveryRiderName,
		&o.CreatedAt, &o.UpdatedAt, &o.DeliveredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if riderID != nil {
		d := types.ID(*riderID)
		o.DeliveryRiderID = &d
	}
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
