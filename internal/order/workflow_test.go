package order

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"luna-dine/internal/core"
	"luna-dine/internal/menu"
	"luna-dine/internal/order/cart"
	"luna-dine/internal/order/domain"
	"luna-dine/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock repository keeping orders, history and table state in maps.
type mockRepo struct {
	mu      sync.Mutex
	nextID  int64
	orders  map[int64]*domain.Order
	history map[int64][]domain.StatusHistory
	tables  map[int64]string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		orders:  make(map[int64]*domain.Order),
		history: make(map[int64][]domain.StatusHistory),
		tables:  map[int64]string{1: "available", 2: "available"},
	}
}

func (m *mockRepo) Create(ctx context.Context, o domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o.Type == domain.TypeDineIn && o.TableID != nil {
		if m.tables[*o.TableID] != "available" {
			return domain.Order{}, core.ErrTableUnavailable
		}
		m.tables[*o.TableID] = "occupied"
	}

	m.nextID++
	o.ID = m.nextID
	o.OrderNumber = fmt.Sprintf("ORD_20260831_%03d", m.nextID)
	o.CreatedAt = time.Now().UTC()

	stored := o
	m.orders[o.ID] = &stored
	m.history[o.ID] = append(m.history[o.ID], domain.StatusHistory{
		OrderID:   o.ID,
		Status:    domain.StatusPending,
		CreatedAt: o.CreatedAt,
	})
	return o, nil
}

func (m *mockRepo) GetByID(ctx context.Context, id int64) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.DeletedAt != nil {
		return domain.Order{}, core.ErrOrderNotFound
	}
	return *o, nil
}

func (m *mockRepo) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderNumber == number && o.DeletedAt == nil {
			return *o, nil
		}
	}
	return domain.Order{}, core.ErrOrderNotFound
}

func (m *mockRepo) UpdateStatus(ctx context.Context, orderID int64, from, to domain.Status, note string, userID *int64, deliveredAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != from {
		return core.ErrForbiddenTransition
	}
	o.Status = to
	if deliveredAt != nil {
		o.ActualDeliveryTime = deliveredAt
	}
	m.history[orderID] = append(m.history[orderID], domain.StatusHistory{
		OrderID:   orderID,
		Status:    to,
		Notes:     note,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *mockRepo) History(ctx context.Context, orderID int64) ([]domain.StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StatusHistory(nil), m.history[orderID]...), nil
}

func (m *mockRepo) List(ctx context.Context, branchID int64, status domain.Status) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []domain.Order
	for _, o := range m.orders {
		if o.BranchID != branchID || o.DeletedAt != nil {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

func (m *mockRepo) Archive(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.DeletedAt != nil {
		return core.ErrOrderNotFound
	}
	now := time.Now().UTC()
	o.DeletedAt = &now
	return nil
}

type stubMenu struct {
	items    map[int64]menu.Item
	branches map[int64]menu.Branch
}

func (s *stubMenu) GetItem(ctx context.Context, id int64) (menu.Item, error) {
	item, ok := s.items[id]
	if !ok {
		return menu.Item{}, core.ErrItemUnavailable
	}
	return item, nil
}

func (s *stubMenu) GetBranch(ctx context.Context, id int64) (menu.Branch, error) {
	branch, ok := s.branches[id]
	if !ok {
		return menu.Branch{}, core.ErrBranchNotFound
	}
	return branch, nil
}

type recordedEvent struct {
	Event   string
	Payload any
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, event string, payload any) ([]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, recordedEvent{Event: event, Payload: payload})
	return nil, nil
}

func (d *recordingDispatcher) last() recordedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events[len(d.events)-1]
}

type fixture struct {
	workflow   *Workflow
	repo       *mockRepo
	carts      *cart.MemoryStore
	menu       *stubMenu
	dispatcher *recordingDispatcher
}

func newFixture(taxRate float64) *fixture {
	discount := 200.0
	m := &stubMenu{
		items: map[int64]menu.Item{
			1: {ID: 1, BranchID: 1, Name: "Burger", Price: 250.00, Available: true},
			2: {ID: 2, BranchID: 1, Name: "Fries", Price: 120.50, Available: true},
			3: {ID: 3, BranchID: 1, Name: "Seasonal Special", Price: 300.00, DiscountPrice: &discount, Available: true},
			4: {ID: 4, BranchID: 1, Name: "Sold Out Soup", Price: 90.00, Available: false},
			5: {ID: 5, BranchID: 2, Name: "Other Branch Pie", Price: 80.00, Available: true},
		},
		branches: map[int64]menu.Branch{
			1: {ID: 1, Name: "Downtown", TaxRate: taxRate, DeliveryFee: 60.00},
		},
	}
	repo := newMockRepo()
	carts := cart.NewMemoryStore()
	dispatcher := &recordingDispatcher{}
	w := NewWorkflow(repo, carts, m, m, dispatcher, logger.NewLogger("test"))
	return &fixture{workflow: w, repo: repo, carts: carts, menu: m, dispatcher: dispatcher}
}

func dineInInfo() PlaceOrderInfo {
	tableID := int64(1)
	return PlaceOrderInfo{
		CustomerName:  "Ayesha Rahman",
		CustomerPhone: "+8801712345678",
		Type:          domain.TypeDineIn,
		TableID:       &tableID,
	}
}

func TestAddToCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(5)

	t.Run("invalid quantity", func(t *testing.T) {
		err := f.workflow.AddToCart(ctx, "s1", 1, 1, 0, "")
		assert.ErrorIs(t, err, core.ErrInvalidQuantity)
	})

	t.Run("unknown item", func(t *testing.T) {
		err := f.workflow.AddToCart(ctx, "s1", 1, 99, 1, "")
		assert.ErrorIs(t, err, core.ErrItemUnavailable)
	})

	t.Run("unavailable item", func(t *testing.T) {
		err := f.workflow.AddToCart(ctx, "s1", 1, 4, 1, "")
		assert.ErrorIs(t, err, core.ErrItemUnavailable)
	})

	t.Run("item from another branch", func(t *testing.T) {
		err := f.workflow.AddToCart(ctx, "s1", 1, 5, 1, "")
		assert.ErrorIs(t, err, core.ErrItemUnavailable)
	})

	t.Run("snapshots discount price", func(t *testing.T) {
		require.NoError(t, f.workflow.AddToCart(ctx, "s1", 1, 3, 1, ""))
		c, err := f.workflow.Cart(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, c.Lines, 1)
		assert.Equal(t, 200.0, c.Lines[0].UnitPrice)
	})
}

func TestAddToCart_PriceSnapshotIsStable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0)

	require.NoError(t, f.workflow.AddToCart(ctx, "s1", 1, 1, 2, ""))

	// A later menu price change must not touch lines already in the cart.
	item := f.menu.items[1]
	item.Price = 999.99
	f.menu.items[1] = item

	o, err := f.workflow.PlaceOrder(ctx, "s1", dineInInfo())
	require.NoError(t, err)
	assert.Equal(t, 500.00, o.Subtotal)
}

func TestRemoveFromCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(5)

	require.NoError(t, f.workflow.AddToCart(ctx, "s1", 1, 1, 1, ""))
	require.NoError(t, f.workflow.AddToCart(ctx, "s1", 1, 2, 1, ""))

	assert.ErrorIs(t, f.workflow.RemoveFromCart(ctx, "s1", 5), core.ErrCartLineNotFound)
	assert.ErrorIs(t, f.workflow.RemoveFromCart(ctx, "s1", -1), core.ErrCartLineNotFound)

	require.NoError(t, f.workflow.RemoveFromCart(ctx, "s1", 0))
	c, err := f.workflow.Cart(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "Fries", c.Lines[0].Name)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	f := newFixture(5)
	_, err := f.workflow.PlaceOrder(context.Background(), "nobody", dineInInfo())
	assert.ErrorIs(t, err, core.ErrEmptyCart)
}

func TestPlaceOrder_ValidationListsAllViolations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(5)
	require.NoError(t, f.workflow.AddToCart(ctx, "s1", 1, 1, 1, ""))

	_, err := f.workflow.PlaceOrder(ctx, "s1", PlaceOrderInfo{
		CustomerEmail: "not-an-email",
		Type:          domain.OrderType("drive_through"),
	})

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)

	fields := make(map[string]bool)
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["customer_name"])
	assert.True(t, fields["customer_phone"])
	assert.True(t, fields["customer_email"])
	assert.True(t, fields["order_type"])
}

func TestPlaceOrder_TotalsGrid(t *testing.T) {
	for _, taxRate := range []float64{0, 5, 15} {
		for _, orderType := range []domain.OrderType{domain.TypeDineIn, domain.TypeDelivery} {
			name := fmt.Sprintf("tax=%v type=%s", taxRate, orderType)
			t.Run(name, func(t *testing.T) {
				ctx := context.Background()
				f := newFixture(taxRate)

				require.NoError(t, f.workflow.AddToCart(ctx, "s1", 1, 1, 2, "")) // 2 x 250.00
				require.NoError(t, f.workflow.AddToCart(ctx, "s1", 1, 2, 1, "")) // 1 x 120.50

				info := dineInInfo()
				info.Type = orderType
				if orderType != domain.TypeDineIn {
					info.TableID = nil
				}

				o, err := f.workflow.PlaceOrder(ctx, "s1", info)
				require.NoError(t, err)

				subtotal := 620.50
				tax := domain.Round2(subtotal * taxRate / 100)
				fee := 0.0
				if orderType == domain.TypeDelivery {
					fee = 60.00
				}

				assert.Equal(t, subtotal, o.Subtotal)
				assert.Equal(t, tax, o.Tax)
				assert.Equal(t, fee, o.DeliveryFee)
				assert.Equal(t, 0.0, o.Discount)
				assert.Equal(t, domain.Round2(subtotal+tax+fee-o.Discount), o.Total)
			})
		}
	}
}

func TestPlaceOrder_WorkedExample(t *testing.T) {
	ctx := context.Background()
	f := newFixture(5)

	require.NoError(t, f.workflow.AddToCart(ctx, "s1", 1, 1, 2, "")) // Burger 250.00 x2

	o, err := f.workflow.PlaceOrder(ctx, "s1", dineInInfo())
	require.NoError(t, err)

	assert.Equal(t, 500.00, o.Subtotal)
	assert.Equal(t, 25.00, o.Tax)
	assert.Equal(t, 0.00, o.DeliveryFee)
	assert.Equal(t, 525.00, o.Total)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, domain.PaymentUnpaid, o.PaymentStatus)
	assert.NotEmpty(t, o.OrderNumber)

	// Cart is destroyed on placement.
	c, err := f.workflow.Cart(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, c.Empty())

	// Initial history entry is pending.
	history, err := f.workflow.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusPending, history[0].Status)
	assert.Nil(t, history[0].UserID)

	// order.created fired with the new order.
	last := f.dispatcher.last()
	assert.Equal(t, domain.EventOrderCreated, last.Event)
	created, ok := last.Payload.(domain.Order)
	require.True(t, ok)
	assert.Equal(t, o.OrderNumber, created.OrderNumber)
}

func TestPlaceOrder_TableClaimedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(5)

	require.NoError(t, f.workflow.AddToCart(ctx, "s1", 1, 1, 1, ""))
	_, err := f.workflow.PlaceOrder(ctx, "s1", dineInInfo())
	require.NoError(t, err)

	// Same table again: the claim inside the placement transaction fails.
	require.NoError(t, f.workflow.AddToCart(ctx, "s2", 1, 1, 1, ""))
	_, err = f.workflow.PlaceOrder(ctx, "s2", dineInInfo())
	assert.ErrorIs(t, err, core.ErrTableUnavailable)
}

func placeTestOrder(t *testing.T, f *fixture) domain.Order {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.workflow.AddToCart(ctx, "s1", 1, 1, 1, ""))
	info := dineInInfo()
	info.Type = domain.TypeTakeout
	info.TableID = nil
	o, err := f.workflow.PlaceOrder(ctx, "s1", info)
	require.NoError(t, err)
	return o
}

func TestUpdateStatus_UnknownOrder(t *testing.T) {
	f := newFixture(5)
	_, err := f.workflow.UpdateStatus(context.Background(), 42, domain.StatusConfirmed, "", nil)
	assert.ErrorIs(t, err, core.ErrOrderNotFound)
}

func TestUpdateStatus_ForbiddenTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(5)
	o := placeTestOrder(t, f)

	// pending -> ready skips the machine.
	_, err := f.workflow.UpdateStatus(ctx, o.ID, domain.StatusReady, "", nil)
	assert.ErrorIs(t, err, core.ErrForbiddenTransition)

	// Same-state transition is not legal.
	_, err = f.workflow.UpdateStatus(ctx, o.ID, domain.StatusPending, "", nil)
	assert.ErrorIs(t, err, core.ErrForbiddenTransition)

	// Unknown status is not legal either.
	_, err = f.workflow.UpdateStatus(ctx, o.ID, domain.Status("cooked"), "", nil)
	assert.ErrorIs(t, err, core.ErrForbiddenTransition)
}

func TestUpdateStatus_DeliveredStampsTimeOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(5)
	o := placeTestOrder(t, f)

	for _, next := range []domain.Status{domain.StatusConfirmed, domain.StatusPreparing, domain.StatusReady} {
		o2, err := f.workflow.UpdateStatus(ctx, o.ID, next, "", nil)
		require.NoError(t, err)
		assert.Nil(t, o2.ActualDeliveryTime)
	}

	delivered, err := f.workflow.UpdateStatus(ctx, o.ID, domain.StatusDelivered, "handed over", nil)
	require.NoError(t, err)
	require.NotNil(t, delivered.ActualDeliveryTime)

	// Delivered is terminal; a second delivered is rejected.
	_, err = f.workflow.UpdateStatus(ctx, o.ID, domain.StatusDelivered, "", nil)
	assert.ErrorIs(t, err, core.ErrForbiddenTransition)
}

func TestUpdateStatus_EmitsStatusChanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(5)
	o := placeTestOrder(t, f)

	staff := int64(7)
	_, err := f.workflow.UpdateStatus(ctx, o.ID, domain.StatusConfirmed, "checked", &staff)
	require.NoError(t, err)

	last := f.dispatcher.last()
	assert.Equal(t, domain.EventOrderStatusChanged, last.Event)
	change, ok := last.Payload.(domain.StatusChange)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, change.Old)
	assert.Equal(t, domain.StatusConfirmed, change.New)
	assert.Equal(t, o.OrderNumber, change.Order.OrderNumber)
}

// Random walks of legal transitions must keep the history head equal to
// the current status, terminating at delivered or cancelled.
func TestUpdateStatus_RandomWalkHistoryInvariant(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(20260831))

	all := []domain.Status{
		domain.StatusPending, domain.StatusConfirmed, domain.StatusPreparing,
		domain.StatusReady, domain.StatusDelivered, domain.StatusCancelled,
	}
	legalNext := func(from domain.Status) []domain.Status {
		var next []domain.Status
		for _, to := range all {
			if domain.CanTransition(from, to) {
				next = append(next, to)
			}
		}
		return next
	}

	for walk := 0; walk < 20; walk++ {
		f := newFixture(5)
		o := placeTestOrder(t, f)

		current := o.Status
		for !current.Terminal() {
			candidates := legalNext(current)
			next := candidates[rng.Intn(len(candidates))]

			updated, err := f.workflow.UpdateStatus(ctx, o.ID, next, "", nil)
			require.NoError(t, err)
			current = updated.Status

			history, err := f.workflow.History(ctx, o.ID)
			require.NoError(t, err)
			require.NotEmpty(t, history)
			assert.Equal(t, current, history[len(history)-1].Status)
		}

		assert.True(t, current == domain.StatusDelivered || current == domain.StatusCancelled)
	}
}

func TestArchiveOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(5)
	o := placeTestOrder(t, f)

	// Non-terminal orders cannot be archived.
	err := f.workflow.ArchiveOrder(ctx, o.ID)
	assert.ErrorIs(t, err, core.ErrForbiddenTransition)

	_, err = f.workflow.UpdateStatus(ctx, o.ID, domain.StatusCancelled, "", nil)
	require.NoError(t, err)

	require.NoError(t, f.workflow.ArchiveOrder(ctx, o.ID))
	_, err = f.workflow.GetOrder(ctx, o.OrderNumber)
	assert.ErrorIs(t, err, core.ErrOrderNotFound)
}
