package domain

// Event names emitted by the order workflow. Any enabled extension may
// register handlers for them.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// StatusChange is the payload of EventOrderStatusChanged.
type StatusChange struct {
	Order Order
	Old   Status
	New   Status
}
