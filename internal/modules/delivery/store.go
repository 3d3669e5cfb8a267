// README: Rider registry backed by PostgreSQL, with an in-memory variant for local runs.
package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tiffin/internal/types"
)

type RiderRepository interface {
	Create(ctx context.Context, r *Rider) error
	Get(ctx context.Context, id types.ID) (*Rider, error)
	List(ctx context.Context) ([]Rider, error)
	// MarkPayout stamps last_payout_at with the store clock and returns it.
	MarkPayout(ctx context.Context, id types.ID) (time.Time, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, r *Rider) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO riders (id, name, phone, email, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING created_at`,
		string(r.ID), r.Name, r.Phone, r.Email,
	).Scan(&r.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrRiderExists
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Rider, error) {
	var r Rider
	err := s.db.QueryRow(ctx, `
		SELECT id, name, phone, email, last_payout_at, created_at
		FROM riders WHERE id = $1`, string(id),
	).Scan(&r.ID, &r.Name, &r.Phone, &r.Email, &r.LastPayoutAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRiderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) List(ctx context.Context) ([]Rider, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, phone, email, last_payout_at, created_at
		FROM riders ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rider
	for rows.Next() {
		var r Rider
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Email, &r.LastPayoutAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) MarkPayout(ctx context.Context, id types.ID) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRow(ctx, `
		UPDATE riders SET last_payout_at = now()
		WHERE id = $1
		RETURNING last_payout_at`, string(id),
	).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrRiderNotFound
	}
	return at, err
}

type MemStore struct {
	mu     sync.Mutex
	riders map[types.ID]Rider
	now    func() time.Time
}

// NewMemStore builds an in-memory registry. now should be the clock that stamps delivered_at.
func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{riders: make(map[types.ID]Rider), now: now}
}

func (m *MemStore) Create(_ context.Context, r *Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.riders[r.ID]; ok {
		return ErrRiderExists
	}
	r.CreatedAt = m.now().UTC()
	m.riders[r.ID] = *r
	return nil
}

func (m *MemStore) Get(_ context.Context, id types.ID) (*Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return nil, ErrRiderNotFound
	}
	return &r, nil
}

func (m *MemStore) List(_ context.Context) ([]Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rider, 0, len(m.riders))
	for _, r := range m.riders {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) MarkPayout(_ context.Context, id types.ID) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return time.Time{}, ErrRiderNotFound
	}
	at := m.now().UTC()
	r.LastPayoutAt = &at
	m.riders[id] = r
	return at, nil
}
