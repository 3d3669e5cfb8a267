package order

import (
	"context"
	"time"

	"tiffin/internal/types"
)

// Repository is the only component touching order persistence.
// ConditionalUpdate reports ok=false (with a nil error) when the predicate does not
// hold; contention is an expected outcome, not a failure.
type Repository interface {
	Create(ctx context.Context, o *Order, actor types.Actor) (Change, error)
	Get(ctx context.Context, id types.ID) (*Order, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error)
	ConditionalUpdate(ctx context.Context, id types.ID, pred Predicate, mut Mutation, actor types.Actor) (Change, bool, error)
	History(ctx context.Context, id types.ID) ([]Event, error)
	Histories(ctx context.Context, ids []types.ID) (map[types.ID][]Event, error)
	ListByUser(ctx context.Context, userID types.ID, limit int) ([]Order, error)
	ListByRider(ctx context.Context, riderID types.ID, limit int) ([]Order, error)
	ListAvailable(ctx context.Context, limit int) ([]Order, error)
	ListRecent(ctx context.Context, limit int) ([]Order, error)
	ListStalePending(ctx context.Context, before time.Time) ([]Order, error)
	CountDelivered(ctx context.Context, riderID types.ID, since *time.Time) (int, error)
}
