// Package cart stores per-session carts. The cart lives only for the
// duration of the visit: it is destroyed when the order is placed or the
// session expires.
package cart

import (
	"context"

	"luna-dine/internal/order/domain"
)

type Store interface {
	// Get returns the session's cart, or an empty cart if none exists.
	Get(ctx context.Context, sessionID string) (domain.Cart, error)
	Save(ctx context.Context, sessionID string, cart domain.Cart) error
	Clear(ctx context.Context, sessionID string) error
}
