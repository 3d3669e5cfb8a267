// README: Coupon persistence (PostgreSQL) plus an in-memory variant for local runs.
package coupon

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Get(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, code string) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const couponColumns = `code, discount_percent, valid_from, valid_until, active, created_at, updated_at`

func (s *Store) Get(ctx context.Context, code string) (*Coupon, error) {
	row := s.db.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code)
	var c Coupon
	if err := row.Scan(&c.Code, &c.DiscountPercent, &c.ValidFrom, &c.ValidUntil, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) List(ctx context.Context) ([]Coupon, error) {
	rows, err := s.db.Query(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Coupon
	for rows.Next() {
		var c Coupon
		if err := rows.Scan(&c.Code, &c.DiscountPercent, &c.ValidFrom, &c.ValidUntil, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Create(ctx context.Context, c *Coupon) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO coupons (code, discount_percent, valid_from, valid_until, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING created_at, updated_at`,
		c.Code, c.DiscountPercent, c.ValidFrom, c.ValidUntil, c.Active,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (s *Store) Update(ctx context.Context, c *Coupon) error {
	err := s.db.QueryRow(ctx, `
		UPDATE coupons
		SET discount_percent = $2, valid_from = $3, valid_until = $4, active = $5, updated_at = now()
		WHERE code = $1
		RETURNING created_at, updated_at`,
		c.Code, c.DiscountPercent, c.ValidFrom, c.ValidUntil, c.Active,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Store) Delete(ctx context.Context, code string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM coupons WHERE code = $1`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type MemStore struct {
	mu      sync.RWMutex
	coupons map[string]Coupon
}

func NewMemStore() *MemStore {
	return &MemStore{coupons: make(map[string]Coupon)}
}

func (m *MemStore) Get(_ context.Context, code string) (*Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemStore) List(_ context.Context) ([]Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Coupon, 0, len(m.coupons))
	for _, c := range m.coupons {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemStore) Create(_ context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.coupons[c.Code]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	m.coupons[c.Code] = *c
	return nil
}

func (m *MemStore) Update(_ context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.coupons[c.Code]
	if !ok {
		return ErrNotFound
	}
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	m.coupons[c.Code] = *c
	return nil
}

func (m *MemStore) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.coupons[code]; !ok {
		return ErrNotFound
	}
	delete(m.coupons, code)
	return nil
}
