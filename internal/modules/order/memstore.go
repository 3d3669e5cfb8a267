package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tiffin/internal/types"
)

// MemStore is an in-process Repository. A single mutex plays the role of the row lock.
type MemStore struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
	events map[types.ID][]Event
	seq    int64
	last   time.Time
	now    func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders: make(map[types.ID]*Order),
		events: make(map[types.ID][]Event),
		now:    time.Now,
	}
}

// tick returns a strictly increasing timestamp. Caller holds mu.
func (m *MemStore) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func (m *MemStore) Create(_ context.Context, o *Order, actor types.Actor) (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; ok {
		return Change{}, fmt.Errorf("%w: duplicate order", ErrConflict)
	}
	if o.GatewayOrderID != nil {
		for _, cur := range m.orders {
			if cur.GatewayOrderID != nil && *cur.GatewayOrderID == *o.GatewayOrderID {
				return Change{}, fmt.Errorf("%w: duplicate gateway order", ErrConflict)
			}
		}
	}
	now := m.tick()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.StatusVersion = 0
	m.orders[o.ID] = o.clone()

	ev := m.appendLocked(Event{
		OrderID:    o.ID,
		FromStatus: StatusNone,
		ToStatus:   o.Status,
		ActorRole:  actor.Role,
		ActorID:    actorIDPtr(actor),
		CreatedAt:  now,
	})
	return Change{Event: ev, Order: *o.clone()}, nil
}

func (m *MemStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

func (m *MemStore) GetByGatewayOrderID(_ context.Context, gatewayOrderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.GatewayOrderID != nil && *o.GatewayOrderID == gatewayOrderID {
			return o.clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) ConditionalUpdate(_ context.Context, id types.ID, pred Predicate, mut Mutation, actor types.Actor) (Change, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.orders[id]
	if !ok {
		return Change{}, false, ErrNotFound
	}
	if !pred.Matches(cur) {
		return Change{}, false, nil
	}
	from := cur.Status
	now := m.tick()
	next := cur.clone()
	mut.apply(next, now)
	m.orders[id] = next

	ev := m.appendLocked(Event{
		OrderID:    id,
		FromStatus: from,
		ToStatus:   next.Status,
		ActorRole:  actor.Role,
		ActorID:    actorIDPtr(actor),
		Version:    next.StatusVersion,
		CreatedAt:  now,
	})
	return Change{Event: ev, Order: *next.clone()}, true, nil
}

func (m *MemStore) appendLocked(e Event) Event {
	m.seq++
	e.ID = m.seq
	m.events[e.OrderID] = append(m.events[e.OrderID], e)
	return e
}

func (m *MemStore) History(_ context.Context, id types.ID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events[id]...), nil
}

func (m *MemStore) Histories(_ context.Context, ids []types.ID) (map[types.ID][]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[types.ID][]Event, len(ids))
	for _, id := range ids {
		if evs, ok := m.events[id]; ok {
			out[id] = append([]Event(nil), evs...)
		}
	}
	return out, nil
}

func (m *MemStore) ListByUser(_ context.Context, userID types.ID, limit int) ([]Order, error) {
	return m.selectOrders(func(o *Order) bool { return o.UserID == userID }, true, limit), nil
}

func (m *MemStore) ListByRider(_ context.Context, riderID types.ID, limit int) ([]Order, error) {
	return m.selectOrders(func(o *Order) bool {
		return o.DeliveryRiderID != nil && *o.DeliveryRiderID == riderID
	}, true, limit), nil
}

func (m *MemStore) ListAvailable(_ context.Context, limit int) ([]Order, error) {
	return m.selectOrders(func(o *Order) bool {
		return o.Status == StatusConfirmed && o.DeliveryRiderID == nil
	}, false, limit), nil
}

func (m *MemStore) ListRecent(_ context.Context, limit int) ([]Order, error) {
	return m.selectOrders(func(*Order) bool { return true }, true, limit), nil
}

func (m *MemStore) ListStalePending(_ context.Context, before time.Time) ([]Order, error) {
	return m.selectOrders(func(o *Order) bool {
		return o.Status == StatusPaymentPending && o.CreatedAt.Before(before)
	}, false, 0), nil
}

func (m *MemStore) CountDelivered(_ context.Context, riderID types.ID, since *time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.Status != StatusDelivered || o.DeliveryRiderID == nil || *o.DeliveryRiderID != riderID {
			continue
		}
		if since != nil && (o.DeliveredAt == nil || !o.DeliveredAt.After(*since)) {
			continue
		}
		n++
	}
	return n, nil
}

// Now exposes the store clock so that other in-memory stores stamp times consistently.
func (m *MemStore) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick()
}

func (m *MemStore) selectOrders(keep func(*Order) bool, newestFirst bool, limit int) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0)
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, *o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
