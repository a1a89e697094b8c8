package memory

import (
	"context"
	"fmt"
	"sync"

	"auction-core/internal/domain"
)

type PaymentMethodStore struct {
	mu      sync.RWMutex
	methods map[string]string
}

func NewPaymentMethodStore() *PaymentMethodStore {
	return &PaymentMethodStore{methods: make(map[string]string)}
}

func (s *PaymentMethodStore) SetPaymentMethod(bidderID, method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[bidderID] = method
}

func (s *PaymentMethodStore) PaymentMethod(ctx context.Context, bidderID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.methods[bidderID]
	if !ok {
		return "", fmt.Errorf("bidder %s: %w", bidderID, domain.ErrPaymentMethodNotFound)
	}
	return m, nil
}
