package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiffin/internal/modules/coupon"
	"tiffin/internal/modules/order"
	"tiffin/internal/modules/pricing"
	"tiffin/internal/types"
)

var admin = types.Actor{Role: types.RoleAdmin, ID: "admin"}

type fixture struct {
	orders   *order.Service
	delivery *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	pricer := pricing.NewService(nil, coupon.NewService(coupon.NewMemStore()), pricing.Settings{
		FlatDeliveryFee: decimal.NewFromInt(49),
		TaxRate:         decimal.RequireFromString("0.05"),
		Currency:        "INR",
	})
	orderStore := order.NewMemStore()
	orders := order.NewService(orderStore, pricer)
	riders := NewMemStore(orderStore.Now)
	svc := NewService(orders, riders)
	for i := 0; i < 16; i++ {
		_, err := svc.CreateRider(context.Background(), RiderInput{
			ID:    types.ID(fmt.Sprintf("r%d", i)),
			Name:  fmt.Sprintf("Rider %d", i),
			Phone: fmt.Sprintf("+9190000000%02d", i),
		})
		require.NoError(t, err)
	}
	return fixture{orders: orders, delivery: svc}
}

// confirmedOrder places a cash order and walks it to confirmed.
func (f fixture) confirmedOrder(t *testing.T, user types.ID) *order.Order {
	t.Helper()
	ctx := context.Background()
	o, err := f.orders.Checkout(ctx, order.CheckoutCommand{
		UserID:          user,
		Contact:         order.Contact{Name: "Meera", Phone: "+919822222222"},
		Items:           []order.LineItem{{ID: "biryani", Name: "Biryani", UnitPrice: decimal.NewFromInt(250), Quantity: 1}},
		ShippingAddress: "7 Lavelle Road",
		PaymentMethod:   order.PaymentCOD,
	})
	require.NoError(t, err)
	o, err = f.orders.UpdateStatus(ctx, order.UpdateStatusCommand{OrderID: o.ID, To: order.StatusConfirmed, Actor: admin})
	require.NoError(t, err)
	return o
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.confirmedOrder(t, "u1")

	const riders = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	type result struct {
		rider types.ID
		err   error
	}
	results := make(chan result, riders)
	for i := 0; i < riders; i++ {
		rid := types.ID(fmt.Sprintf("r%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.delivery.Claim(ctx, ClaimCommand{OrderID: o.ID, RiderID: rid})
			results <- result{rider: rid, err: err}
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var winner types.ID
	wins := 0
	for r := range results {
		if r.err == nil {
			wins++
			winner = r.rider
			continue
		}
		assert.ErrorIs(t, r.err, ErrAlreadyClaimed)
	}
	require.Equal(t, 1, wins)

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOutForDelivery, got.Status)
	require.NotNil(t, got.DeliveryRiderID)
	assert.Equal(t, winner, *got.DeliveryRiderID)
	assert.Equal(t, "Rider "+string(winner)[1:], *got.DeliveryRiderName)

	hist, err := f.orders.History(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}

func TestClaimRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.confirmedOrder(t, "u1")

	first, err := f.delivery.Claim(ctx, ClaimCommand{OrderID: o.ID, RiderID: "r1"})
	require.NoError(t, err)

	again, err := f.delivery.Claim(ctx, ClaimCommand{OrderID: o.ID, RiderID: "r1"})
	require.NoError(t, err, "repeat claim by the holder is a no-op")
	assert.Equal(t, first.StatusVersion, again.StatusVersion)

	_, err = f.delivery.Claim(ctx, ClaimCommand{OrderID: o.ID, RiderID: "r2"})
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	placed, err := f.orders.Checkout(ctx, order.CheckoutCommand{
		UserID:          "u2",
		Contact:         order.Contact{Name: "Kiran", Phone: "+919833333333"},
		Items:           []order.LineItem{{ID: "idli", Name: "Idli", UnitPrice: decimal.NewFromInt(60), Quantity: 3}},
		ShippingAddress: "3 Brigade Road",
		PaymentMethod:   order.PaymentCOD,
	})
	require.NoError(t, err)
	_, err = f.delivery.Claim(ctx, ClaimCommand{OrderID: placed.ID, RiderID: "r2"})
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = f.delivery.Claim(ctx, ClaimCommand{OrderID: "missing", RiderID: "r2"})
	assert.ErrorIs(t, err, order.ErrNotFound)

	c := f.confirmedOrder(t, "u3")
	_, err = f.delivery.Claim(ctx, ClaimCommand{OrderID: c.ID, RiderID: "ghost"})
	assert.ErrorIs(t, err, ErrRiderNotFound)
}

func TestConfirmDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.confirmedOrder(t, "u1")

	_, err := f.delivery.ConfirmDelivery(ctx, ConfirmCommand{OrderID: o.ID, RiderID: "r1", Code: o.ConfirmationCode})
	assert.ErrorIs(t, err, order.ErrIllegalTransition, "not out for delivery yet")

	_, err = f.delivery.Claim(ctx, ClaimCommand{OrderID: o.ID, RiderID: "r1"})
	require.NoError(t, err)

	_, err = f.delivery.ConfirmDelivery(ctx, ConfirmCommand{OrderID: o.ID, RiderID: "r2", Code: o.ConfirmationCode})
	assert.ErrorIs(t, err, ErrNotAssignedRider)

	wrong := "0000"
	if o.ConfirmationCode == wrong {
		wrong = "1111"
	}
	for i := 0; i < 3; i++ {
		_, err = f.delivery.ConfirmDelivery(ctx, ConfirmCommand{OrderID: o.ID, RiderID: "r1", Code: wrong})
		assert.ErrorIs(t, err, ErrCodeMismatch)
	}

	done, err := f.delivery.ConfirmDelivery(ctx, ConfirmCommand{OrderID: o.ID, RiderID: "r1", Code: o.ConfirmationCode})
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, done.Status)
	assert.NotNil(t, done.DeliveredAt)

	before, _ := f.orders.History(ctx, o.ID)
	for i := 0; i < 2; i++ {
		_, err = f.delivery.ConfirmDelivery(ctx, ConfirmCommand{OrderID: o.ID, RiderID: "r1", Code: o.ConfirmationCode})
		assert.True(t, errors.Is(err, order.ErrIllegalTransition))
	}
	after, _ := f.orders.History(ctx, o.ID)
	assert.Equal(t, len(before), len(after))
}

func TestDeliveredCountAndPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deliver := func(user types.ID) {
		o := f.confirmedOrder(t, user)
		_, err := f.delivery.Claim(ctx, ClaimCommand{OrderID: o.ID, RiderID: "r3"})
		require.NoError(t, err)
		_, err = f.delivery.ConfirmDelivery(ctx, ConfirmCommand{OrderID: o.ID, RiderID: "r3", Code: o.ConfirmationCode})
		require.NoError(t, err)
	}

	deliver("u1")
	deliver("u2")
	n, err := f.delivery.DeliveredCount(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.delivery.ClearDeliveryCount(ctx, "r3")
	require.NoError(t, err)
	n, err = f.delivery.DeliveredCount(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	deliver("u3")
	summaries, err := f.delivery.ListRiders(ctx)
	require.NoError(t, err)
	for _, s := range summaries {
		if s.ID == "r3" {
			assert.Equal(t, 1, s.DeliveredCount)
			assert.NotNil(t, s.LastPayoutAt)
		} else {
			assert.Zero(t, s.DeliveredCount)
		}
	}

	_, err = f.delivery.ClearDeliveryCount(ctx, "nobody")
	assert.ErrorIs(t, err, ErrRiderNotFound)
}

func TestRiderListsAreRedacted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.confirmedOrder(t, "u1")

	avail, err := f.delivery.ListAvailable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Empty(t, avail[0].ConfirmationCode)

	_, err = f.delivery.Claim(ctx, ClaimCommand{OrderID: o.ID, RiderID: "r1"})
	require.NoError(t, err)
	mine, err := f.delivery.ListMine(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Empty(t, mine[0].ConfirmationCode)

	avail, err = f.delivery.ListAvailable(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, avail)
}

func TestCreateRiderValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.delivery.CreateRider(context.Background(), RiderInput{ID: "x", Name: ""})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.delivery.CreateRider(context.Background(), RiderInput{ID: "r1", Name: "Dup", Phone: "1"})
	assert.ErrorIs(t, err, ErrRiderExists)
}

type recordingGranter struct {
	mu     sync.Mutex
	grants map[string]types.Role
	err    error
}

func (g *recordingGranter) GrantRole(_ context.Context, uid string, role types.Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	if g.grants == nil {
		g.grants = make(map[string]types.Role)
	}
	g.grants[uid] = role
	return nil
}

func TestCreateRiderGrantsRole(t *testing.T) {
	orderStore := order.NewMemStore()
	g := &recordingGranter{}
	svc := NewService(order.NewService(orderStore, nil), NewMemStore(orderStore.Now), WithRoleGranter(g))

	_, err := svc.CreateRider(context.Background(), RiderInput{ID: "fb-uid-7", Name: "Kiran", Phone: "+919811111111"})
	require.NoError(t, err)
	assert.Equal(t, types.RoleRider, g.grants["fb-uid-7"])

	g.err = errors.New("firebase unavailable")
	r, err := svc.CreateRider(context.Background(), RiderInput{ID: "fb-uid-8", Name: "Asha", Phone: "+919811111112"})
	require.NoError(t, err, "a failed grant does not undo the registration")
	_, err = svc.GetRider(context.Background(), r.ID)
	assert.NoError(t, err)
}
