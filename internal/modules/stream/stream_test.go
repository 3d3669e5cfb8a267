package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiffin/internal/modules/order"
	"tiffin/internal/types"
)

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

func TestBrokerRoundTrip(t *testing.T) {
	rdb := setupTestRedis(t)
	b := NewBroker(rdb, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, order.Change{
		Event: order.Event{OrderID: "o1", FromStatus: order.StatusOrderPlaced, ToStatus: order.StatusConfirmed, Version: 1},
		Order: order.Order{ID: "o1", UserID: "u1", Status: order.StatusConfirmed, StatusVersion: 1},
	}))

	select {
	case got := <-ch:
		assert.Equal(t, "o1", string(got.Order.ID))
		assert.Equal(t, order.StatusConfirmed, got.Event.ToStatus)
		assert.Equal(t, 1, got.Order.StatusVersion)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published change")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

// The order service filter on top of the broker drops replays of older versions.
func TestBrokerFeedDropsStaleVersions(t *testing.T) {
	rdb := setupTestRedis(t)
	b := NewBroker(rdb, "test:orders")
	svc := order.NewService(order.NewMemStore(), nil, order.WithFeed(b))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := svc.Subscribe(ctx, order.Filter{OrderID: "o1"})
	require.NoError(t, err)

	publish := func(id string, s order.Status, v int) {
		require.NoError(t, b.Publish(ctx, order.Change{Order: order.Order{ID: types.ID(id), Status: s, StatusVersion: v}}))
	}
	publish("o1", order.StatusOrderPlaced, 0)
	publish("o2", order.StatusOrderPlaced, 0)
	publish("o1", order.StatusConfirmed, 1)
	publish("o1", order.StatusOrderPlaced, 0)
	publish("o1", order.StatusPreparing, 2)

	var got []int
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case c := <-ch:
			got = append(got, c.Order.StatusVersion)
		case <-timeout:
			t.Fatalf("timed out, got versions %v", got)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, got)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaSinkKeysByOrder(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w)
	c := order.Change{
		Event: order.Event{OrderID: "o9", ToStatus: order.StatusDelivered, Version: 6},
		Order: order.Order{ID: "o9", Status: order.StatusDelivered, StatusVersion: 6},
	}
	require.NoError(t, sink.Publish(context.Background(), c))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "o9", string(w.msgs[0].Key))
	assert.Equal(t, "order.delivered", string(w.msgs[0].Headers[0].Value))

	var decoded order.Change
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, 6, decoded.Order.StatusVersion)
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &fakeWriter{}
	bad := &fakeWriter{err: errors.New("broker down")}
	f := Fanout{NewKafkaSink(bad), NewKafkaSink(ok)}
	err := f.Publish(context.Background(), order.Change{Order: order.Order{ID: "o1"}})
	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, ok.msgs, 1, "a failing target does not block the others")
}
