// README: Order change stream over Redis pub/sub.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tiffin/internal/modules/order"
)

const DefaultChannel = "tiffin:orders"

// Broker publishes committed order changes and fans them out to every process subscribed.
type Broker struct {
	redis   *redis.Client
	channel string
}

func NewBroker(rdb *redis.Client, channel string) *Broker {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Broker{redis: rdb, channel: channel}
}

func (b *Broker) Publish(ctx context.Context, c order.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, b.channel, payload).Err()
}

// Subscribe returns once the subscription is active, so nothing published after it returns
// is missed. The channel closes when ctx is done.
func (b *Broker) Subscribe(ctx context.Context) (<-chan order.Change, error) {
	sub := b.redis.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan order.Change, 64)
	msgs := sub.Channel()
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var c order.Change
				if err := json.Unmarshal([]byte(m.Payload), &c); err != nil {
					log.WithError(err).WithField("channel", b.channel).Warn("dropping undecodable order change")
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
