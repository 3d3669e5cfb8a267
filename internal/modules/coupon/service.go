package coupon

import (
	"context"
	"errors"
	"time"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Validate looks up a code and checks it is usable at now. Rejections are *RejectedError.
func (s *Service) Validate(ctx context.Context, code string, now time.Time) (*Coupon, error) {
	norm := NormalizeCode(code)
	if norm == "" {
		return nil, &RejectedError{Code: code, Reason: ReasonNotFound}
	}
	c, err := s.repo.Get(ctx, norm)
	if errors.Is(err, ErrNotFound) {
		return nil, &RejectedError{Code: norm, Reason: ReasonNotFound}
	}
	if err != nil {
		return nil, err
	}
	switch {
	case !c.Active:
		return nil, &RejectedError{Code: norm, Reason: ReasonInactive}
	case now.Before(c.ValidFrom):
		return nil, &RejectedError{Code: norm, Reason: ReasonNotYetValid}
	case now.After(c.ValidUntil):
		return nil, &RejectedError{Code: norm, Reason: ReasonExpired}
	}
	return c, nil
}

// Check is Validate at the current server time.
func (s *Service) Check(ctx context.Context, code string) (*Coupon, error) {
	return s.Validate(ctx, code, s.now())
}

func (s *Service) Get(ctx context.Context, code string) (*Coupon, error) {
	return s.repo.Get(ctx, NormalizeCode(code))
}

func (s *Service) List(ctx context.Context) ([]Coupon, error) {
	return s.repo.List(ctx)
}

func (s *Service) Create(ctx context.Context, in Input) (*Coupon, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c := fromInput(in)
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Update replaces the coupon stored under code. The code itself is immutable.
func (s *Service) Update(ctx context.Context, code string, in Input) (*Coupon, error) {
	in.Code = code
	if err := in.validate(); err != nil {
		return nil, err
	}
	c := fromInput(in)
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Delete(ctx context.Context, code string) error {
	return s.repo.Delete(ctx, NormalizeCode(code))
}

func fromInput(in Input) *Coupon {
	return &Coupon{
		Code:            NormalizeCode(in.Code),
		DiscountPercent: in.DiscountPercent,
		ValidFrom:       in.ValidFrom.UTC(),
		ValidUntil:      in.ValidUntil.UTC(),
		Active:          in.Active,
	}
}
