// README: Firebase Cloud Messaging delivery of new notifications to per-actor topics.
package notification

import (
	"context"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/messaging"
	log "github.com/sirupsen/logrus"

	"tiffin/internal/types"
)

type Pusher interface {
	Push(ctx context.Context, actor types.Actor, ns []Notification) error
}

// FCMPusher sends each notification to the topic "actor-<role>-<id>". Client apps subscribe
// to their own topic after sign-in.
type FCMPusher struct {
	client *messaging.Client
}

func NewFCMPusher(client *messaging.Client) *FCMPusher {
	return &FCMPusher{client: client}
}

func (p *FCMPusher) Push(ctx context.Context, actor types.Actor, ns []Notification) error {
	if len(ns) == 0 {
		return nil
	}
	topic := Topic(actor)
	msgs := make([]*messaging.Message, 0, len(ns))
	for _, n := range ns {
		msgs = append(msgs, &messaging.Message{
			Topic: topic,
			Data: map[string]string{
				"id":       n.ID,
				"kind":     string(n.Kind),
				"order_id": string(n.OrderID),
				"status":   string(n.Status),
				"link":     n.Link,
			},
			Notification: &messaging.Notification{
				Title: n.Title,
				Body:  n.Message,
			},
			Android: &messaging.AndroidConfig{
				Priority: "high",
			},
		})
	}

	resp, err := p.client.SendEach(ctx, msgs)
	if err != nil {
		return fmt.Errorf("sending FCM to topic %s: %w", topic, err)
	}
	if resp.FailureCount > 0 {
		log.WithFields(log.Fields{
			"topic":    topic,
			"failures": resp.FailureCount,
		}).Warn("some FCM messages failed")
	}
	return nil
}

// Topic is the FCM topic name for actor. Topic names allow [a-zA-Z0-9-_.~%].
func Topic(actor types.Actor) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.', r == '~':
			return r
		}
		return '_'
	}, string(actor.ID))
	return fmt.Sprintf("actor-%s-%s", actor.Role, id)
}
