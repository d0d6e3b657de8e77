package builtin

import (
	"context"
	"testing"

	"luna-dine/internal/extension"
	"luna-dine/internal/order/domain"
	"luna-dine/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendCall struct {
	Channel string
	Event   string
	Data    map[string]string
}

type stubNotifier struct {
	calls []sendCall
}

func (s *stubNotifier) Send(ctx context.Context, channel, event string, data map[string]string) (bool, error) {
	s.calls = append(s.calls, sendCall{Channel: channel, Event: event, Data: data})
	return true, nil
}

func testOrder() domain.Order {
	email := "ayesha@example.com"
	return domain.Order{
		OrderNumber:   "ORD_20260831_001",
		CustomerName:  "Ayesha",
		CustomerPhone: "+8801712345678",
		CustomerEmail: &email,
		Status:        domain.StatusPending,
		Total:         525.00,
	}
}

func newTestExtension(notifier *stubNotifier) extension.Extension {
	return NewNotifications(extension.Deps{
		Notifier: notifier,
		Log:      logger.NewLogger("test"),
	})
}

func handlerFor(t *testing.T, ext extension.Extension, event string) extension.Handler {
	t.Helper()
	for _, hook := range ext.Hooks() {
		if hook.Event == event {
			return hook.Handler
		}
	}
	t.Fatalf("no hook for %s", event)
	return nil
}

func TestOrderCreated_FansOutPerChannel(t *testing.T) {
	notifier := &stubNotifier{}
	ext := newTestExtension(notifier)

	h := handlerFor(t, ext, domain.EventOrderCreated)
	_, err := h.Handle(context.Background(), domain.EventOrderCreated, testOrder())
	require.NoError(t, err)

	require.Len(t, notifier.calls, 3)
	assert.Equal(t, "email", notifier.calls[0].Channel)
	assert.Equal(t, "ayesha@example.com", notifier.calls[0].Data["recipient"])
	assert.Equal(t, "push", notifier.calls[1].Channel)
	assert.Equal(t, "+8801712345678", notifier.calls[1].Data["recipient"])
	assert.Equal(t, "sms", notifier.calls[2].Channel)

	for _, call := range notifier.calls {
		assert.Equal(t, "ORD_20260831_001", call.Data["order_number"])
		assert.Equal(t, "525.00", call.Data["total_amount"])
	}
}

func TestOrderCreated_NoEmailMeansEmptyRecipient(t *testing.T) {
	notifier := &stubNotifier{}
	ext := newTestExtension(notifier)

	o := testOrder()
	o.CustomerEmail = nil

	h := handlerFor(t, ext, domain.EventOrderCreated)
	_, err := h.Handle(context.Background(), domain.EventOrderCreated, o)
	require.NoError(t, err)

	// The dispatcher treats an empty recipient as a no-op; the hook just
	// passes it through.
	assert.Equal(t, "", notifier.calls[0].Data["recipient"])
}

func TestStatusChanged_CarriesNewStatus(t *testing.T) {
	notifier := &stubNotifier{}
	ext := newTestExtension(notifier)

	change := domain.StatusChange{
		Order: testOrder(),
		Old:   domain.StatusReady,
		New:   domain.StatusDelivered,
	}

	h := handlerFor(t, ext, domain.EventOrderStatusChanged)
	_, err := h.Handle(context.Background(), domain.EventOrderStatusChanged, change)
	require.NoError(t, err)

	require.Len(t, notifier.calls, 3)
	for _, call := range notifier.calls {
		assert.Equal(t, "delivered", call.Data["status"])
	}
}

func TestUnexpectedPayloadIsAnError(t *testing.T) {
	ext := newTestExtension(&stubNotifier{})
	h := handlerFor(t, ext, domain.EventOrderCreated)
	_, err := h.Handle(context.Background(), domain.EventOrderCreated, "not an order")
	assert.Error(t, err)
}
