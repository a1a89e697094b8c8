package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"auction-core/internal/domain"
)

const paymentMethodsKey = "payment_methods"

// PaymentMethodStore reads the bidder -> gateway payment method token hash
// maintained by the account service.
type PaymentMethodStore struct {
	client *redis.Client
}

func NewPaymentMethodStore(client *redis.Client) *PaymentMethodStore {
	return &PaymentMethodStore{client: client}
}

func (s *PaymentMethodStore) PaymentMethod(ctx context.Context, bidderID string) (string, error) {
	method, err := s.client.HGet(ctx, paymentMethodsKey, bidderID).Result()
	if errors.Is(err, redis.Nil) || (err == nil && method == "") {
		return "", fmt.Errorf("bidder %s: %w", bidderID, domain.ErrPaymentMethodNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup payment method for %s: %w", bidderID, err)
	}
	return method, nil
}

func (s *PaymentMethodStore) SetPaymentMethod(ctx context.Context, bidderID, method string) error {
	return s.client.HSet(ctx, paymentMethodsKey, bidderID, method).Err()
}
