package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"auction-core/internal/domain"
)

type EventPublisherImpl struct {
	client  *redis.Client
	channel string
}

func NewEventPublisher(client *redis.Client, channel string) *EventPublisherImpl {
	return &EventPublisherImpl{client: client, channel: channel}
}

func (r *EventPublisherImpl) Publish(ctx context.Context, event *domain.AuctionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}
