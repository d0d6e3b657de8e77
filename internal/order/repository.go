package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"luna-dine/internal/core"
	"luna-dine/internal/order/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, o domain.Order) (domain.Order, error)
	GetByID(ctx context.Context, id int64) (domain.Order, error)
	GetByNumber(ctx context.Context, number string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, from, to domain.Status, note string, userID *int64, deliveredAt *time.Time) error
	History(ctx context.Context, orderID int64) ([]domain.StatusHistory, error)
	List(ctx context.Context, branchID int64, status domain.Status) ([]domain.Order, error)
	Archive(ctx context.Context, orderID int64) error
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Create persists the order, its items, the initial pending history entry
// and, for dine-in orders, claims the table. Everything runs in one
// transaction; a failure at any step rolls the whole group back.
func (r *PgRepository) Create(ctx context.Context, o domain.Order) (domain.Order, error) {
	currentDate := time.Now().UTC().Format("20060102")

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Count today's orders to build the next ORD_YYYYMMDD_NNN number.
	var orderCount int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE created_at::DATE = CURRENT_DATE
	`).Scan(&orderCount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("count today's orders: %w", err)
	}
	o.OrderNumber = fmt.Sprintf("ORD_%s_%03d", currentDate, orderCount+1)

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (
			order_number,
			branch_id,
			table_id,
			customer_name,
			customer_phone,
			customer_email,
			order_type,
			status,
			payment_status,
			subtotal,
			tax,
			discount,
			delivery_fee,
			total,
			notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`,
		o.OrderNumber,
		o.BranchID,
		o.TableID,
		o.CustomerName,
		o.CustomerPhone,
		o.CustomerEmail,
		o.Type,
		o.Status,
		o.PaymentStatus,
		o.Subtotal,
		o.Tax,
		o.Discount,
		o.DeliveryFee,
		o.Total,
		o.Notes,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for i, item := range o.Items {
		err = tx.QueryRow(ctx, `
			INSERT INTO order_items (
				order_id, menu_item_id, name, quantity, unit_price, total_price, notes, status
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, o.ID, item.MenuItemID, item.Name, item.Quantity, item.UnitPrice,
			item.TotalPrice, item.Notes, item.Status).Scan(&o.Items[i].ID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
		o.Items[i].OrderID = o.ID
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, notes, user_id)
		VALUES ($1, $2, $3, NULL)
	`, o.ID, domain.StatusPending, "")
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert status history: %w", err)
	}

	// Claim the table for dine-in orders. The WHERE clause is the guard
	// against two concurrent placements on the same table.
	if o.Type == domain.TypeDineIn && o.TableID != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE tables SET status = 'occupied'
			WHERE id = $1 AND status = 'available'
		`, *o.TableID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("claim table: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.Order{}, core.ErrTableUnavailable
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("commit transaction: %w", err)
	}

	return o, nil
}

const orderColumns = `
	id, order_number, branch_id, table_id, customer_name, customer_phone,
	customer_email, order_type, status, payment_status, subtotal, tax,
	discount, delivery_fee, total, notes, created_at, actual_delivery_time,
	deleted_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.BranchID, &o.TableID, &o.CustomerName,
		&o.CustomerPhone, &o.CustomerEmail, &o.Type, &o.Status,
		&o.PaymentStatus, &o.Subtotal, &o.Tax, &o.Discount, &o.DeliveryFee,
		&o.Total, &o.Notes, &o.CreatedAt, &o.ActualDeliveryTime, &o.DeletedAt,
	)
	return o, err
}

func (r *PgRepository) GetByID(ctx context.Context, id int64) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, core.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order %d: %w", id, err)
	}
	if err := r.loadItems(ctx, &o); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *PgRepository) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_number = $1 AND deleted_at IS NULL`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, core.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order %s: %w", number, err)
	}
	if err := r.loadItems(ctx, &o); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *PgRepository) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, menu_item_id, name, quantity, unit_price, total_price, notes, status
		FROM order_items WHERE order_id = $1 ORDER BY id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.Notes, &item.Status)
		if err != nil {
			return fmt.Errorf("load order items: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}

// UpdateStatus writes the new status and the matching history entry in one
// transaction. The status column update is guarded by the expected current
// status, so a concurrent transition makes this one fail instead of racing.
func (r *PgRepository) UpdateStatus(ctx context.Context, orderID int64, from, to domain.Status, note string, userID *int64, deliveredAt *time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    actual_delivery_time = COALESCE($2, actual_delivery_time)
		WHERE id = $3 AND status = $4 AND deleted_at IS NULL
	`, to, deliveredAt, orderID, from)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrForbiddenTransition
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, notes, user_id)
		VALUES ($1, $2, $3, $4)
	`, orderID, to, note, userID)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) History(ctx context.Context, orderID int64) ([]domain.StatusHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, status, notes, user_id, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load status history: %w", err)
	}
	defer rows.Close()

	var history []domain.StatusHistory
	for rows.Next() {
		var h domain.StatusHistory
		err := rows.Scan(&h.ID, &h.OrderID, &h.Status, &h.Notes, &h.UserID, &h.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("load status history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (r *PgRepository) List(ctx context.Context, branchID int64, status domain.Status) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE branch_id = $1 AND deleted_at IS NULL`
	args := []any{branchID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Archive soft-deletes an order. Rows are never removed in-request.
func (r *PgRepository) Archive(ctx context.Context, orderID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, orderID)
	if err != nil {
		return fmt.Errorf("archive order %d: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrOrderNotFound
	}
	return nil
}
