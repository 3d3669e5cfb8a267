package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tiffin/internal/modules/coupon"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func flatSettings() Settings {
	return Settings{
		FlatDeliveryFee: dec("49"),
		RatePerKm:       dec("10"),
		TaxRate:         dec("0.05"),
		Currency:        "INR",
	}
}

type stubCoupons map[string]coupon.Coupon

func (s stubCoupons) Validate(_ context.Context, code string, now time.Time) (*coupon.Coupon, error) {
	norm := coupon.NormalizeCode(code)
	c, ok := s[norm]
	if !ok {
		return nil, &coupon.RejectedError{Code: norm, Reason: coupon.ReasonNotFound}
	}
	if !c.Usable(now) {
		return nil, &coupon.RejectedError{Code: norm, Reason: coupon.ReasonExpired}
	}
	return &c, nil
}

type stubDistance struct {
	km  float64
	err error
}

func (s stubDistance) DistanceKm(context.Context, string, string) (float64, error) {
	return s.km, s.err
}

func TestCompute(t *testing.T) {
	save10 := &coupon.Coupon{Code: "SAVE10", DiscountPercent: 10}
	save15 := &coupon.Coupon{Code: "SAVE15", DiscountPercent: 15}
	distance := flatSettings()
	distance.DistancePricing = true

	tests := []struct {
		name      string
		items     []Item
		coupon    *coupon.Coupon
		km        float64
		settings  Settings
		wantTotal string
		wantDisc  string
		wantFee   string
		wantTax   string
	}{
		{
			name:      "flat fee with coupon",
			items:     []Item{{UnitPrice: dec("200"), Quantity: 2}, {UnitPrice: dec("100"), Quantity: 1}},
			coupon:    save10,
			settings:  flatSettings(),
			wantDisc:  "50",
			wantFee:   "49",
			wantTax:   "25",
			wantTotal: "524",
		},
		{
			name:      "no coupon",
			items:     []Item{{UnitPrice: dec("500"), Quantity: 1}},
			settings:  flatSettings(),
			wantDisc:  "0",
			wantFee:   "49",
			wantTax:   "25",
			wantTotal: "574",
		},
		{
			name:      "discount rounds half away from zero",
			items:     []Item{{UnitPrice: dec("99"), Quantity: 1}},
			coupon:    save15,
			settings:  flatSettings(),
			wantDisc:  "15", // 14.85
			wantFee:   "49",
			wantTax:   "4.95",
			wantTotal: "137.95",
		},
		{
			name:      "distance fee rounds up",
			items:     []Item{{UnitPrice: dec("100"), Quantity: 1}},
			km:        3.21,
			settings:  distance,
			wantDisc:  "0",
			wantFee:   "33", // 32.1
			wantTax:   "5",
			wantTotal: "138",
		},
		{
			name:      "tax rounded to paise",
			items:     []Item{{UnitPrice: dec("10.99"), Quantity: 3}},
			settings:  flatSettings(),
			wantDisc:  "0",
			wantFee:   "49",
			wantTax:   "1.65", // 1.6485
			wantTotal: "83.62",
		},
		{
			name:      "total rounded once from unrounded tax",
			items:     []Item{{UnitPrice: dec("1.01"), Quantity: 1}},
			settings:  Settings{FlatDeliveryFee: dec("0"), TaxRate: dec("0.5"), Currency: "INR"},
			wantDisc:  "0",
			wantFee:   "0",
			wantTax:   "0.51", // 0.505
			wantTotal: "1.52", // 1.515
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.items, tt.coupon, tt.km, tt.settings)
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if !got.DiscountAmount.Equal(dec(tt.wantDisc)) {
				t.Errorf("discount = %s, want %s", got.DiscountAmount, tt.wantDisc)
			}
			if !got.DeliveryFee.Equal(dec(tt.wantFee)) {
				t.Errorf("fee = %s, want %s", got.DeliveryFee, tt.wantFee)
			}
			if !got.TaxAmount.Equal(dec(tt.wantTax)) {
				t.Errorf("tax = %s, want %s", got.TaxAmount, tt.wantTax)
			}
			if !got.GrandTotal.Equal(dec(tt.wantTotal)) {
				t.Errorf("total = %s, want %s", got.GrandTotal, tt.wantTotal)
			}
			sum := got.Subtotal.Sub(got.DiscountAmount).Add(got.DeliveryFee).Add(got.TaxAmount)
			if !sum.Equal(got.GrandTotal) {
				t.Errorf("total %s does not equal its parts %s", got.GrandTotal, sum)
			}
		})
	}
}

func TestComputeDeterministic(t *testing.T) {
	items := []Item{{UnitPrice: dec("123.45"), Quantity: 3}, {UnitPrice: dec("7.5"), Quantity: 7}}
	c := &coupon.Coupon{Code: "X", DiscountPercent: 33}
	first, err := Compute(items, c, 0, flatSettings())
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	for i := 0; i < 100; i++ {
		got, err := Compute(items, c, 0, flatSettings())
		if err != nil {
			t.Fatalf("Compute() error = %v", err)
		}
		if !got.GrandTotal.Equal(first.GrandTotal) || !got.DiscountAmount.Equal(first.DiscountAmount) {
			t.Fatalf("run %d: got %s, first %s", i, got.GrandTotal, first.GrandTotal)
		}
	}
}

func TestComputeRejectsBadItems(t *testing.T) {
	cases := [][]Item{
		nil,
		{{UnitPrice: dec("10"), Quantity: 0}},
		{{UnitPrice: dec("-1"), Quantity: 1}},
		{{UnitPrice: dec("1.004"), Quantity: 1}},
	}
	for _, items := range cases {
		if _, err := Compute(items, nil, 0, flatSettings()); !errors.Is(err, ErrValidation) {
			t.Errorf("Compute(%v) error = %v, want ErrValidation", items, err)
		}
	}
}

func TestQuote(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	coupons := stubCoupons{
		"SAVE10": {Code: "SAVE10", DiscountPercent: 10, Active: true, ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour)},
		"OLD":    {Code: "OLD", DiscountPercent: 50, Active: true, ValidFrom: now.Add(-48 * time.Hour), ValidUntil: now.Add(-24 * time.Hour)},
	}
	items := []Item{{UnitPrice: dec("500"), Quantity: 1}}

	svc := NewService(nil, coupons, flatSettings(), WithClock(func() time.Time { return now }))

	got, err := svc.Quote(context.Background(), QuoteRequest{Items: items, CouponCode: " save10"})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if !got.GrandTotal.Equal(dec("524")) {
		t.Errorf("total = %s, want 524", got.GrandTotal)
	}
	if got.CouponCode == nil || *got.CouponCode != "SAVE10" {
		t.Errorf("coupon code = %v, want SAVE10", got.CouponCode)
	}

	_, err = svc.Quote(context.Background(), QuoteRequest{Items: items, CouponCode: "old"})
	var rej *coupon.RejectedError
	if !errors.As(err, &rej) || rej.Reason != coupon.ReasonExpired {
		t.Errorf("Quote() error = %v, want expired rejection", err)
	}
}

func TestQuoteDistance(t *testing.T) {
	st := flatSettings()
	st.DistancePricing = true
	items := []Item{{UnitPrice: dec("100"), Quantity: 1}}

	svc := NewService(nil, stubCoupons{}, st, WithDistance(stubDistance{km: 4.5}, "kitchen"))
	got, err := svc.Quote(context.Background(), QuoteRequest{Items: items, Address: "12 MG Road"})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if !got.DeliveryFee.Equal(dec("45")) {
		t.Errorf("fee = %s, want 45", got.DeliveryFee)
	}

	failing := NewService(nil, stubCoupons{}, st, WithDistance(stubDistance{err: errors.New("quota")}, "kitchen"))
	got, err = failing.Quote(context.Background(), QuoteRequest{Items: items, Address: "12 MG Road"})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if !got.DeliveryFee.Equal(dec("49")) {
		t.Errorf("fallback fee = %s, want 49", got.DeliveryFee)
	}
}

func TestUpdateSettingsWithoutStore(t *testing.T) {
	svc := NewService(nil, stubCoupons{}, flatSettings())
	st := flatSettings()
	st.TaxRate = dec("1.5")
	if _, err := svc.UpdateSettings(context.Background(), st); !errors.Is(err, ErrValidation) {
		t.Fatalf("UpdateSettings() error = %v, want ErrValidation", err)
	}
	st.TaxRate = dec("0.12")
	st.FlatDeliveryFee = dec("49.005")
	if _, err := svc.UpdateSettings(context.Background(), st); !errors.Is(err, ErrValidation) {
		t.Fatalf("UpdateSettings() sub-paise fee error = %v, want ErrValidation", err)
	}
	st.FlatDeliveryFee = dec("49")
	st.Currency = " inr "
	if _, err := svc.UpdateSettings(context.Background(), st); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}
	got, _ := svc.Settings(context.Background())
	if !got.TaxRate.Equal(dec("0.12")) || got.Currency != "INR" {
		t.Errorf("settings = %+v", got)
	}
}
