package coupon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, in Input) *Service {
	t.Helper()
	svc := NewService(NewMemStore())
	_, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	return svc
}

func TestValidate(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)
	svc := seed(t, Input{Code: "save10", DiscountPercent: 10, ValidFrom: from, ValidUntil: until, Active: true})
	_, err := svc.Create(context.Background(), Input{Code: "OFF", DiscountPercent: 5, ValidFrom: from, ValidUntil: until, Active: false})
	require.NoError(t, err)

	tests := []struct {
		name   string
		code   string
		now    time.Time
		reason Reason
	}{
		{name: "valid mid window", code: " Save10 ", now: from.Add(48 * time.Hour)},
		{name: "valid at start bound", code: "SAVE10", now: from},
		{name: "valid at end bound", code: "SAVE10", now: until},
		{name: "unknown", code: "NOPE", now: from, reason: ReasonNotFound},
		{name: "empty", code: "  ", now: from, reason: ReasonNotFound},
		{name: "inactive", code: "off", now: from, reason: ReasonInactive},
		{name: "expired", code: "SAVE10", now: until.Add(time.Second), reason: ReasonExpired},
		{name: "not yet valid", code: "SAVE10", now: from.Add(-time.Second), reason: ReasonNotYetValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := svc.Validate(context.Background(), tt.code, tt.now)
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, 10, c.DiscountPercent)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRejected))
			var rej *RejectedError
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, tt.reason, rej.Reason)
		})
	}
}

func TestCreateValidation(t *testing.T) {
	now := time.Now()
	svc := NewService(NewMemStore())
	cases := []Input{
		{Code: "", DiscountPercent: 10, ValidFrom: now, ValidUntil: now.Add(time.Hour)},
		{Code: "A", DiscountPercent: 0, ValidFrom: now, ValidUntil: now.Add(time.Hour)},
		{Code: "A", DiscountPercent: 101, ValidFrom: now, ValidUntil: now.Add(time.Hour)},
		{Code: "A", DiscountPercent: 10, ValidFrom: now, ValidUntil: now.Add(-time.Hour)},
		{Code: "A", DiscountPercent: 10},
	}
	for _, in := range cases {
		_, err := svc.Create(context.Background(), in)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestCreateDuplicateAndLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	in := Input{Code: "fest", DiscountPercent: 20, ValidFrom: now, ValidUntil: now.Add(time.Hour), Active: true}
	svc := seed(t, in)

	_, err := svc.Create(ctx, Input{Code: " FEST", DiscountPercent: 5, ValidFrom: now, ValidUntil: now.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrDuplicate)

	in.DiscountPercent = 25
	updated, err := svc.Update(ctx, "fest", in)
	require.NoError(t, err)
	assert.Equal(t, "FEST", updated.Code)

	got, err := svc.Get(ctx, "Fest")
	require.NoError(t, err)
	assert.Equal(t, 25, got.DiscountPercent)

	require.NoError(t, svc.Delete(ctx, "fest"))
	assert.ErrorIs(t, svc.Delete(ctx, "fest"), ErrNotFound)
	_, err = svc.Update(ctx, "fest", in)
	assert.ErrorIs(t, err, ErrNotFound)
}
