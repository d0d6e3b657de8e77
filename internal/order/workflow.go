// Package order implements the ordering workflow: cart accumulation,
// transactional order placement and the status state machine.
package order

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"luna-dine/internal/core"
	"luna-dine/internal/menu"
	"luna-dine/internal/order/cart"
	"luna-dine/internal/order/domain"
	"luna-dine/pkg/logger"

	"github.com/google/uuid"
)

// Dispatcher routes a named event to whatever hook handlers are currently
// registered. Implemented by the extension registry.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, payload any) ([]any, error)
}

type Workflow struct {
	repo     Repository
	carts    cart.Store
	items    menu.ItemReader
	branches menu.BranchReader
	events   Dispatcher
	log      *logger.Logger
}

func NewWorkflow(
	repo Repository,
	carts cart.Store,
	items menu.ItemReader,
	branches menu.BranchReader,
	events Dispatcher,
	log *logger.Logger,
) *Workflow {
	return &Workflow{
		repo:     repo,
		carts:    carts,
		items:    items,
		branches: branches,
		events:   events,
		log:      log,
	}
}

// PlaceOrderInfo carries the customer fields submitted with the order.
type PlaceOrderInfo struct {
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Type          domain.OrderType
	TableID       *int64
	Notes         string
}

func (w *Workflow) AddToCart(ctx context.Context, sessionID string, branchID, menuItemID int64, quantity int, note string) error {
	requestID := uuid.NewString()

	if quantity <= 0 {
		return core.ErrInvalidQuantity
	}

	item, err := w.items.GetItem(ctx, menuItemID)
	if err != nil {
		if errors.Is(err, core.ErrItemUnavailable) {
			return core.ErrItemUnavailable
		}
		w.log.Error(requestID, "add_to_cart", "Failed to load menu item", err)
		return core.ErrStorage
	}
	if !item.Available || item.BranchID != branchID {
		return core.ErrItemUnavailable
	}

	c, err := w.carts.Get(ctx, sessionID)
	if err != nil {
		w.log.Error(requestID, "add_to_cart", "Failed to load cart", err)
		return core.ErrStorage
	}
	if c.Empty() {
		c.BranchID = branchID
	} else if c.BranchID != branchID {
		return core.ErrItemUnavailable
	}

	c.Lines = append(c.Lines, domain.CartLine{
		MenuItemID: item.ID,
		Name:       item.Name,
		Quantity:   quantity,
		UnitPrice:  item.EffectivePrice(),
		Note:       note,
	})

	if err := w.carts.Save(ctx, sessionID, c); err != nil {
		w.log.Error(requestID, "add_to_cart", "Failed to save cart", err)
		return core.ErrStorage
	}

	w.log.Debug(requestID, "cart_line_added",
		fmt.Sprintf("Added %dx %s to cart for session %s", quantity, item.Name, sessionID))
	return nil
}

func (w *Workflow) RemoveFromCart(ctx context.Context, sessionID string, index int) error {
	requestID := uuid.NewString()

	c, err := w.carts.Get(ctx, sessionID)
	if err != nil {
		w.log.Error(requestID, "remove_from_cart", "Failed to load cart", err)
		return core.ErrStorage
	}
	if index < 0 || index >= len(c.Lines) {
		return core.ErrCartLineNotFound
	}

	c.Lines = append(c.Lines[:index], c.Lines[index+1:]...)
	if c.Empty() {
		return w.carts.Clear(ctx, sessionID)
	}
	if err := w.carts.Save(ctx, sessionID, c); err != nil {
		w.log.Error(requestID, "remove_from_cart", "Failed to save cart", err)
		return core.ErrStorage
	}
	return nil
}

func (w *Workflow) ClearCart(ctx context.Context, sessionID string) error {
	return w.carts.Clear(ctx, sessionID)
}

func (w *Workflow) Cart(ctx context.Context, sessionID string) (domain.Cart, error) {
	return w.carts.Get(ctx, sessionID)
}

// PlaceOrder turns the session cart into a persisted order. Order row,
// line items, the initial history entry and the table claim commit as one
// transaction; on success the cart is cleared and order.created is emitted.
func (w *Workflow) PlaceOrder(ctx context.Context, sessionID string, info PlaceOrderInfo) (domain.Order, error) {
	requestID := uuid.NewString()

	c, err := w.carts.Get(ctx, sessionID)
	if err != nil {
		w.log.Error(requestID, "place_order", "Failed to load cart", err)
		return domain.Order{}, core.ErrStorage
	}
	if c.Empty() {
		return domain.Order{}, core.ErrEmptyCart
	}

	if err := validateCustomerInfo(info); err != nil {
		return domain.Order{}, err
	}

	branch, err := w.branches.GetBranch(ctx, c.BranchID)
	if err != nil {
		if errors.Is(err, core.ErrBranchNotFound) {
			return domain.Order{}, err
		}
		w.log.Error(requestID, "place_order", "Failed to load branch", err)
		return domain.Order{}, core.ErrStorage
	}

	o := buildOrder(c, branch, info)

	created, err := w.repo.Create(ctx, o)
	if err != nil {
		if errors.Is(err, core.ErrTableUnavailable) {
			return domain.Order{}, core.ErrTableUnavailable
		}
		w.log.Error(requestID, "place_order", "Failed to persist order", err)
		return domain.Order{}, core.ErrStorage
	}

	if err := w.carts.Clear(ctx, sessionID); err != nil {
		// The order is committed; a stale cart is an inconvenience, not a
		// reason to fail the placement.
		w.log.Error(requestID, "place_order", "Failed to clear cart after placement", err)
	}

	w.log.Info(requestID, "order_created",
		fmt.Sprintf("Order %s created, total %.2f", created.OrderNumber, created.Total))

	if _, err := w.events.Dispatch(ctx, domain.EventOrderCreated, created); err != nil {
		w.log.Error(requestID, "hook_dispatch", "Handler error on order.created", err)
	}

	return created, nil
}

// UpdateStatus applies one legal transition, appends the matching history
// entry and emits order.status_changed. Delivered transitions stamp the
// actual delivery time.
func (w *Workflow) UpdateStatus(ctx context.Context, orderID int64, newStatus domain.Status, note string, actingUser *int64) (domain.Order, error) {
	requestID := uuid.NewString()

	o, err := w.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, core.ErrOrderNotFound) {
			return domain.Order{}, core.ErrOrderNotFound
		}
		w.log.Error(requestID, "update_status", "Failed to load order", err)
		return domain.Order{}, core.ErrStorage
	}

	oldStatus := o.Status
	if !domain.ValidStatus(newStatus) || !domain.CanTransition(oldStatus, newStatus) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", core.ErrForbiddenTransition, oldStatus, newStatus)
	}

	var deliveredAt *time.Time
	if newStatus == domain.StatusDelivered {
		now := time.Now().UTC()
		deliveredAt = &now
	}

	err = w.repo.UpdateStatus(ctx, orderID, oldStatus, newStatus, note, actingUser, deliveredAt)
	if err != nil {
		if errors.Is(err, core.ErrForbiddenTransition) {
			return domain.Order{}, core.ErrForbiddenTransition
		}
		w.log.Error(requestID, "update_status", "Failed to persist transition", err)
		return domain.Order{}, core.ErrStorage
	}

	o.Status = newStatus
	o.ActualDeliveryTime = deliveredAt

	w.log.Info(requestID, "order_status_changed",
		fmt.Sprintf("Order %s: %s -> %s", o.OrderNumber, oldStatus, newStatus))

	change := domain.StatusChange{Order: o, Old: oldStatus, New: newStatus}
	if _, err := w.events.Dispatch(ctx, domain.EventOrderStatusChanged, change); err != nil {
		w.log.Error(requestID, "hook_dispatch", "Handler error on order.status_changed", err)
	}

	return o, nil
}

func (w *Workflow) GetOrder(ctx context.Context, number string) (domain.Order, error) {
	o, err := w.repo.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, core.ErrOrderNotFound) {
			return domain.Order{}, core.ErrOrderNotFound
		}
		w.log.Error(uuid.NewString(), "get_order", "Failed to load order", err)
		return domain.Order{}, core.ErrStorage
	}
	return o, nil
}

func (w *Workflow) ListOrders(ctx context.Context, branchID int64, status domain.Status) ([]domain.Order, error) {
	if status != "" && !domain.ValidStatus(status) {
		verr := &core.ValidationError{}
		verr.Add("status", "unknown status")
		return nil, verr
	}
	orders, err := w.repo.List(ctx, branchID, status)
	if err != nil {
		w.log.Error(uuid.NewString(), "list_orders", "Failed to list orders", err)
		return nil, core.ErrStorage
	}
	return orders, nil
}

func (w *Workflow) History(ctx context.Context, orderID int64) ([]domain.StatusHistory, error) {
	history, err := w.repo.History(ctx, orderID)
	if err != nil {
		w.log.Error(uuid.NewString(), "order_history", "Failed to load history", err)
		return nil, core.ErrStorage
	}
	return history, nil
}

// ArchiveOrder soft-deletes an order. Terminal orders only.
func (w *Workflow) ArchiveOrder(ctx context.Context, orderID int64) error {
	o, err := w.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, core.ErrOrderNotFound) {
			return core.ErrOrderNotFound
		}
		w.log.Error(uuid.NewString(), "archive_order", "Failed to load order", err)
		return core.ErrStorage
	}
	if !o.Status.Terminal() {
		return fmt.Errorf("%w: cannot archive order in status %s", core.ErrForbiddenTransition, o.Status)
	}
	if err := w.repo.Archive(ctx, orderID); err != nil {
		if errors.Is(err, core.ErrOrderNotFound) {
			return core.ErrOrderNotFound
		}
		w.log.Error(uuid.NewString(), "archive_order", "Failed to archive order", err)
		return core.ErrStorage
	}
	return nil
}

func buildOrder(c domain.Cart, branch menu.Branch, info PlaceOrderInfo) domain.Order {
	subtotal := c.Subtotal()
	tax := domain.Round2(subtotal * branch.TaxRate / 100)

	deliveryFee := 0.0
	if info.Type == domain.TypeDelivery {
		deliveryFee = branch.DeliveryFee
	}

	discount := 0.0
	total := domain.Round2(subtotal + tax + deliveryFee - discount)

	items := make([]domain.OrderItem, 0, len(c.Lines))
	for _, line := range c.Lines {
		items = append(items, domain.OrderItem{
			MenuItemID: line.MenuItemID,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TotalPrice: domain.Round2(line.UnitPrice * float64(line.Quantity)),
			Notes:      line.Note,
			Status:     "pending",
		})
	}

	var email *string
	if info.CustomerEmail != "" {
		e := info.CustomerEmail
		email = &e
	}

	var tableID *int64
	if info.Type == domain.TypeDineIn {
		tableID = info.TableID
	}

	return domain.Order{
		BranchID:      c.BranchID,
		TableID:       tableID,
		CustomerName:  info.CustomerName,
		CustomerPhone: info.CustomerPhone,
		CustomerEmail: email,
		Type:          info.Type,
		Status:        domain.StatusPending,
		PaymentStatus: domain.PaymentUnpaid,
		Subtotal:      subtotal,
		Tax:           tax,
		Discount:      discount,
		DeliveryFee:   deliveryFee,
		Total:         total,
		Notes:         info.Notes,
		Items:         items,
	}
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// validateCustomerInfo reports every violation at once, not just the
// first one.
func validateCustomerInfo(info PlaceOrderInfo) error {
	verr := &core.ValidationError{}

	if strings.TrimSpace(info.CustomerName) == "" {
		verr.Add("customer_name", "is required")
	}
	if strings.TrimSpace(info.CustomerPhone) == "" {
		verr.Add("customer_phone", "is required")
	}
	if info.CustomerEmail != "" && !emailPattern.MatchString(info.CustomerEmail) {
		verr.Add("customer_email", "is not a valid email address")
	}
	if !domain.AllowedTypes[info.Type] {
		verr.Add("order_type", "must be one of dine_in, takeout, delivery")
	}
	if info.Type == domain.TypeDineIn && info.TableID == nil {
		verr.Add("table_id", "is required for dine-in orders")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}
