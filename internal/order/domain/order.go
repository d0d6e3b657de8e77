package domain

import (
	"math"
	"time"
)

type OrderType string

const (
	TypeDineIn   OrderType = "dine_in"
	TypeTakeout  OrderType = "takeout"
	TypeDelivery OrderType = "delivery"
)

var AllowedTypes = map[OrderType]bool{
	TypeDineIn:   true,
	TypeTakeout:  true,
	TypeDelivery: true,
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// CartLine is one entry in a session cart. The unit price is snapshotted
// when the line is added; later menu price changes do not touch it.
type CartLine struct {
	MenuItemID int64   `json:"menu_item_id"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	Note       string  `json:"note,omitempty"`
}

// Cart is per-session state. It is bound to one branch; the first added
// item fixes the branch.
type Cart struct {
	BranchID int64      `json:"branch_id"`
	Lines    []CartLine `json:"lines"`
}

func (c Cart) Empty() bool {
	return len(c.Lines) == 0
}

func (c Cart) Subtotal() float64 {
	subtotal := 0.0
	for _, line := range c.Lines {
		subtotal += line.UnitPrice * float64(line.Quantity)
	}
	return Round2(subtotal)
}

type OrderItem struct {
	ID         int64
	OrderID    int64
	MenuItemID int64
	Name       string
	Quantity   int
	UnitPrice  float64
	TotalPrice float64
	Notes      string
	Status     string
}

type Order struct {
	ID                 int64
	OrderNumber        string
	BranchID           int64
	TableID            *int64
	CustomerName       string
	CustomerPhone      string
	CustomerEmail      *string
	Type               OrderType
	Status             Status
	PaymentStatus      PaymentStatus
	Subtotal           float64
	Tax                float64
	Discount           float64
	DeliveryFee        float64
	Total              float64
	Notes              string
	Items              []OrderItem
	CreatedAt          time.Time
	ActualDeliveryTime *time.Time
	DeletedAt          *time.Time
}

// StatusHistory is the append-only audit trail of status transitions. The
// head entry always matches Order.Status.
type StatusHistory struct {
	ID        int64
	OrderID   int64
	Status    Status
	Notes     string
	UserID    *int64
	CreatedAt time.Time
}

// Round2 rounds to two decimal places, the monetary precision used
// throughout order totals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
