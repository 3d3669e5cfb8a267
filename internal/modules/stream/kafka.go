package stream

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"

	"tiffin/internal/modules/order"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink forwards order changes to a topic keyed by order id, for downstream consumers
// (accounting, analytics) that need every transition in order.
type KafkaSink struct {
	writer MessageWriter
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Publish(ctx context.Context, c order.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(c.Order.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("order." + string(c.Event.ToStatus))},
		},
	})
}

// Fanout publishes to every target and reports all failures together.
type Fanout []order.Publisher

func (f Fanout) Publish(ctx context.Context, c order.Change) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
