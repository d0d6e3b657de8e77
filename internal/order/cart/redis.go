package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"luna-dine/internal/order/domain"

	"github.com/redis/go-redis/v9"
)

const (
	cartKeyPrefix  = "cart:"
	defaultCartTTL = 2 * time.Hour
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: defaultCartTTL}
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	data, err := s.client.Get(ctx, cartKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, nil
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}

	var c domain.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Cart{}, fmt.Errorf("decode cart: %w", err)
	}
	return c, nil
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, c domain.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.client.Set(ctx, cartKeyPrefix+sessionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, cartKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
