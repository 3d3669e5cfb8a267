// README: Pricing settings backed by a single PostgreSQL row.
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoSettings = errors.New("pricing settings not configured")

type SettingsStore interface {
	Load(ctx context.Context) (*Settings, error)
	Save(ctx context.Context, s *Settings) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Load(ctx context.Context) (*Settings, error) {
	var st Settings
	err := s.db.QueryRow(ctx, `
		SELECT flat_delivery_fee, rate_per_km, distance_pricing, tax_rate, currency, updated_at
		FROM pricing_settings
		WHERE id = 1`,
	).Scan(&st.FlatDeliveryFee, &st.RatePerKm, &st.DistancePricing, &st.TaxRate, &st.Currency, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSettings
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) Save(ctx context.Context, st *Settings) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO pricing_settings (id, flat_delivery_fee, rate_per_km, distance_pricing, tax_rate, currency, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE
		SET flat_delivery_fee = EXCLUDED.flat_delivery_fee,
		    rate_per_km = EXCLUDED.rate_per_km,
		    distance_pricing = EXCLUDED.distance_pricing,
		    tax_rate = EXCLUDED.tax_rate,
		    currency = EXCLUDED.currency,
		    updated_at = now()
		RETURNING updated_at`,
		st.FlatDeliveryFee, st.RatePerKm, st.DistancePricing, st.TaxRate, st.Currency,
	).Scan(&st.UpdatedAt)
}
