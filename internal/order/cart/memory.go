package cart

import (
	"context"
	"sync"

	"luna-dine/internal/order/domain"
)

type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]domain.Cart)}
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carts[sessionID], nil
}

func (s *MemoryStore) Save(ctx context.Context, sessionID string, c domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[sessionID] = c
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
	return nil
}
