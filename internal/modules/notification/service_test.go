package notification

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiffin/internal/modules/coupon"
	"tiffin/internal/modules/order"
	"tiffin/internal/modules/pricing"
	"tiffin/internal/types"
)

var admin = types.Actor{Role: types.RoleAdmin, ID: "a1"}

// setupTestRedis starts a miniredis server and a client bound to it.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client
}

type recordingPusher struct {
	mu   sync.Mutex
	sent map[types.Actor][]string
}

func (p *recordingPusher) Push(_ context.Context, actor types.Actor, ns []Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent == nil {
		p.sent = make(map[types.Actor][]string)
	}
	for _, n := range ns {
		p.sent[actor] = append(p.sent[actor], n.ID)
	}
	return nil
}

func (p *recordingPusher) count(actor types.Actor) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent[actor])
}

type fixture struct {
	orders *order.Service
	svc    *Service
	push   *recordingPusher
	store  *Store
}

func newFixture(t *testing.T, window int) fixture {
	t.Helper()
	pricer := pricing.NewService(nil, coupon.NewService(coupon.NewMemStore()), pricing.Settings{
		FlatDeliveryFee: decimal.NewFromInt(49),
		TaxRate:         decimal.RequireFromString("0.05"),
		Currency:        "INR",
	})
	orders := order.NewService(order.NewMemStore(), pricer)
	store := NewStore(setupTestRedis(t), window, 0)
	push := &recordingPusher{}
	svc := NewService(orders, store, NewMemMessageStore(), WithPusher(push))
	return fixture{orders: orders, svc: svc, push: push, store: store}
}

func (f fixture) placeOrder(t *testing.T, user types.ID) *order.Order {
	t.Helper()
	o, err := f.orders.Checkout(context.Background(), order.CheckoutCommand{
		UserID:          user,
		Contact:         order.Contact{Name: "Lata", Phone: "+919844444444"},
		Items:           []order.LineItem{{ID: "paneer", Name: "Paneer Tikka", UnitPrice: decimal.NewFromInt(300), Quantity: 1}},
		ShippingAddress: "9 Cunningham Road",
		PaymentMethod:   order.PaymentCOD,
	})
	require.NoError(t, err)
	return o
}

func TestRefreshIsIdempotent(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	customer := types.Actor{Role: types.RoleCustomer, ID: "u1"}

	o := f.placeOrder(t, "u1")
	_, err := f.orders.UpdateStatus(ctx, order.UpdateStatusCommand{OrderID: o.ID, To: order.StatusConfirmed, Actor: admin})
	require.NoError(t, err)

	added, err := f.svc.Refresh(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, added, 2)

	added, err = f.svc.Refresh(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, 2, f.push.count(customer), "each notification is pushed once")

	list, err := f.svc.List(ctx, customer)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, fmt.Sprintf("notif-%s-confirmed", o.ID), list[0].ID, "newest first")
}

func TestConcurrentRefreshAppendsOnce(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := f.placeOrder(t, "u1")
	_, err := f.orders.UpdateStatus(ctx, order.UpdateStatusCommand{OrderID: o.ID, To: order.StatusConfirmed, Actor: admin})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Refresh(ctx, admin)
		}()
	}
	wg.Wait()

	list, err := f.store.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, KindAdminNewOrder, list[0].Kind)
	assert.Equal(t, 1, f.push.count(admin))
}

func TestWindowTruncationDoesNotResurrect(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	customer := types.Actor{Role: types.RoleCustomer, ID: "u1"}

	o := f.placeOrder(t, "u1")
	for _, s := range []order.Status{order.StatusConfirmed, order.StatusPreparing, order.StatusShipped} {
		_, err := f.orders.UpdateStatus(ctx, order.UpdateStatusCommand{OrderID: o.ID, To: s, Actor: admin})
		require.NoError(t, err)
	}

	added, err := f.svc.Refresh(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, added, 4)

	list, err := f.store.List(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	added, err = f.svc.Refresh(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, added)
	list, _ = f.store.List(ctx, customer)
	assert.Len(t, list, 2)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	customer := types.Actor{Role: types.RoleCustomer, ID: "u1"}
	o := f.placeOrder(t, "u1")

	list, err := f.svc.List(ctx, customer)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Read)

	require.NoError(t, f.svc.MarkRead(ctx, customer, []string{fmt.Sprintf("notif-%s-order_placed", o.ID), "unknown"}))
	list, err = f.svc.List(ctx, customer)
	require.NoError(t, err)
	assert.True(t, list[0].Read)
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	rider := types.Actor{Role: types.RoleRider, ID: "r1"}

	_, err := f.svc.SendMessage(ctx, MessageCommand{RecipientRole: "chef", RecipientID: "x", Title: "t"})
	assert.ErrorIs(t, err, ErrValidation)

	m, err := f.svc.SendMessage(ctx, MessageCommand{RecipientRole: types.RoleRider, RecipientID: "r1", Title: "Shift", Body: "Report at 6"})
	require.NoError(t, err)
	assert.Len(t, m.ID, 36)
	assert.Equal(t, 1, f.push.count(rider))

	list, err := f.svc.List(ctx, rider)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "notif-"+m.ID, list[0].ID)
}

type staticFeed struct {
	changes chan order.Change
}

func (s staticFeed) Subscribe(context.Context, order.Filter) (<-chan order.Change, error) {
	return s.changes, nil
}

func TestEventListenerRefreshesAffectedActors(t *testing.T) {
	f := newFixture(t, 50)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Make the admin known to the store.
	_, err := f.svc.Refresh(ctx, admin)
	require.NoError(t, err)

	feed := staticFeed{changes: make(chan order.Change, 1)}
	done := make(chan struct{})
	go func() {
		f.svc.RunEventListener(ctx, feed)
		close(done)
	}()

	o := f.placeOrder(t, "u7")
	feed.changes <- order.Change{Order: *o}

	customer := types.Actor{Role: types.RoleCustomer, ID: "u7"}
	assert.Eventually(t, func() bool {
		return f.push.count(customer) == 1 && f.push.count(admin) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestSeenIdsExpireWithoutResurrecting(t *testing.T) {
	ctx := context.Background()
	rdb := setupTestRedis(t)
	pricer := pricing.NewService(nil, coupon.NewService(coupon.NewMemStore()), pricing.Settings{
		FlatDeliveryFee: decimal.NewFromInt(49),
		TaxRate:         decimal.RequireFromString("0.05"),
		Currency:        "INR",
	})
	orders := order.NewService(order.NewMemStore(), pricer)
	store := NewStore(rdb, 50, time.Hour)
	now := time.Now()
	svc := NewService(orders, store, NewMemMessageStore(), WithClock(func() time.Time { return now }))
	f := fixture{orders: orders, svc: svc, store: store}
	customer := types.Actor{Role: types.RoleCustomer, ID: "u1"}

	f.placeOrder(t, "u1")
	added, err := svc.Refresh(ctx, customer)
	require.NoError(t, err)
	require.Len(t, added, 1)

	now = now.Add(3 * time.Hour)
	added, err = svc.Refresh(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, added, "notifications past the horizon are not derived again")

	seen, err := store.Seen(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, seen, "expired ids are pruned from the seen-set")
	assert.Equal(t, int64(0), rdb.ZCard(ctx, seenKey(customer)).Val())

	list, err := store.List(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
