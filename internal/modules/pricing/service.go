// README: Pricing service resolves coupon, distance and settings, then computes the breakdown.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tiffin/internal/modules/coupon"
	"tiffin/internal/types"
)

type CouponValidator interface {
	Validate(ctx context.Context, code string, now time.Time) (*coupon.Coupon, error)
}

type DistanceProvider interface {
	DistanceKm(ctx context.Context, origin, destination string) (float64, error)
}

type Service struct {
	store    SettingsStore
	coupons  CouponValidator
	distance DistanceProvider
	origin   string
	now      func() time.Time

	mu       sync.RWMutex
	defaults Settings
}

type Option func(*Service)

// WithDistance enables distance lookups from origin (the kitchen address).
func WithDistance(p DistanceProvider, origin string) Option {
	return func(s *Service) {
		s.distance = p
		s.origin = origin
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the pricing entry point. store may be nil, in which case defaults are used.
func NewService(store SettingsStore, coupons CouponValidator, defaults Settings, opts ...Option) *Service {
	s := &Service{store: store, coupons: coupons, defaults: defaults, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Settings(ctx context.Context) (Settings, error) {
	if s.store == nil {
		return s.fallback(), nil
	}
	st, err := s.store.Load(ctx)
	if errors.Is(err, ErrNoSettings) {
		return s.fallback(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return *st, nil
}

func (s *Service) fallback() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

func (s *Service) UpdateSettings(ctx context.Context, st Settings) (Settings, error) {
	if st.FlatDeliveryFee.IsNegative() || st.RatePerKm.IsNegative() {
		return Settings{}, fmt.Errorf("%w: fees must not be negative", ErrValidation)
	}
	if !types.AtCurrencyPrecision(st.FlatDeliveryFee) {
		return Settings{}, fmt.Errorf("%w: flat_delivery_fee has more than %d decimal places", ErrValidation, types.CurrencyPlaces)
	}
	if st.TaxRate.IsNegative() || st.TaxRate.GreaterThan(one) {
		return Settings{}, fmt.Errorf("%w: tax_rate must be between 0 and 1", ErrValidation)
	}
	st.Currency = strings.ToUpper(strings.TrimSpace(st.Currency))
	if st.Currency == "" {
		return Settings{}, fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if s.store == nil {
		st.UpdatedAt = s.now().UTC()
		s.mu.Lock()
		s.defaults = st
		s.mu.Unlock()
		return st, nil
	}
	if err := s.store.Save(ctx, &st); err != nil {
		return Settings{}, err
	}
	return st, nil
}

// Quote is used for both the cart preview and the persisted order, so the two never disagree.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Breakdown, error) {
	st, err := s.Settings(ctx)
	if err != nil {
		return Breakdown{}, err
	}

	var c *coupon.Coupon
	if strings.TrimSpace(req.CouponCode) != "" {
		c, err = s.coupons.Validate(ctx, req.CouponCode, s.now())
		if err != nil {
			return Breakdown{}, err
		}
	}

	var km float64
	if st.DistancePricing {
		km, err = s.resolveDistance(ctx, req.Address)
		if err != nil {
			log.WithError(err).WithField("address", req.Address).Warn("distance lookup failed, using flat delivery fee")
			st.DistancePricing = false
		}
	}
	return Compute(req.Items, c, km, st)
}

func (s *Service) resolveDistance(ctx context.Context, address string) (float64, error) {
	if s.distance == nil {
		return 0, errors.New("no distance provider configured")
	}
	if strings.TrimSpace(address) == "" {
		return 0, errors.New("empty delivery address")
	}
	return s.distance.DistanceKm(ctx, s.origin, address)
}
