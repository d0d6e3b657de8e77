// Package menu provides read-only access to menu items and branches. The
// order workflow consumes it to validate cart additions and to pick up
// branch tax and delivery-fee configuration.
package menu

import (
	"context"
	"errors"
	"fmt"

	"luna-dine/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Item struct {
	ID            int64
	BranchID      int64
	Name          string
	Price         float64
	DiscountPrice *float64
	Available     bool
}

// EffectivePrice is the price snapshotted into the cart: the discount
// price when one is set and lower than the list price.
func (i Item) EffectivePrice() float64 {
	if i.DiscountPrice != nil && *i.DiscountPrice < i.Price {
		return *i.DiscountPrice
	}
	return i.Price
}

type Branch struct {
	ID          int64
	Name        string
	TaxRate     float64
	DeliveryFee float64
}

type ItemReader interface {
	GetItem(ctx context.Context, id int64) (Item, error)
}

type BranchReader interface {
	GetBranch(ctx context.Context, id int64) (Branch, error)
}

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) GetItem(ctx context.Context, id int64) (Item, error) {
	var item Item
	err := r.pool.QueryRow(ctx, `
		SELECT id, branch_id, name, price, discount_price, is_available
		FROM menu_items
		WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&item.ID, &item.BranchID, &item.Name, &item.Price,
		&item.DiscountPrice, &item.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, core.ErrItemUnavailable
	}
	if err != nil {
		return Item{}, fmt.Errorf("get menu item %d: %w", id, err)
	}
	return item, nil
}

func (r *Repo) GetBranch(ctx context.Context, id int64) (Branch, error) {
	var branch Branch
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, tax_rate, delivery_fee
		FROM branches
		WHERE id = $1
	`, id).Scan(&branch.ID, &branch.Name, &branch.TaxRate, &branch.DeliveryFee)
	if errors.Is(err, pgx.ErrNoRows) {
		return Branch{}, core.ErrBranchNotFound
	}
	if err != nil {
		return Branch{}, fmt.Errorf("get branch %d: %w", id, err)
	}
	return branch, nil
}
