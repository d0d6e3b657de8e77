// Package builtin holds the first-party extensions shipped with the
// platform.
package builtin

import (
	"context"
	"errors"
	"fmt"

	"luna-dine/internal/extension"
	"luna-dine/internal/order/domain"
	"luna-dine/pkg/logger"
)

const NotificationsName = "notifications"

// Notifications subscribes to the order events and fans each one out to
// the notification channels. Which channel actually fires depends on the
// configured templates; a channel without one is skipped silently.
type Notifications struct {
	notifier extension.Notifier
	log      *logger.Logger
}

func NewNotifications(deps extension.Deps) extension.Extension {
	return &Notifications{notifier: deps.Notifier, log: deps.Log}
}

func (n *Notifications) Hooks() []extension.Hook {
	return []extension.Hook{
		{Event: domain.EventOrderCreated, Handler: extension.HandlerFunc(n.orderCreated)},
		{Event: domain.EventOrderStatusChanged, Handler: extension.HandlerFunc(n.statusChanged)},
	}
}

func (n *Notifications) orderCreated(ctx context.Context, event string, payload any) (any, error) {
	o, ok := payload.(domain.Order)
	if !ok {
		return nil, fmt.Errorf("unexpected payload for %s", event)
	}
	return nil, n.fanOut(ctx, event, o, orderData(o))
}

func (n *Notifications) statusChanged(ctx context.Context, event string, payload any) (any, error) {
	change, ok := payload.(domain.StatusChange)
	if !ok {
		return nil, fmt.Errorf("unexpected payload for %s", event)
	}
	data := orderData(change.Order)
	data["status"] = string(change.New)
	return nil, n.fanOut(ctx, event, change.Order, data)
}

func (n *Notifications) fanOut(ctx context.Context, event string, o domain.Order, data map[string]string) error {
	var errs []error
	for _, channel := range []string{"email", "push", "sms"} {
		channelData := make(map[string]string, len(data)+1)
		for k, v := range data {
			channelData[k] = v
		}
		channelData["recipient"] = recipientFor(channel, o)

		if _, err := n.notifier.Send(ctx, channel, event, channelData); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

func recipientFor(channel string, o domain.Order) string {
	if channel == "email" {
		if o.CustomerEmail == nil {
			return ""
		}
		return *o.CustomerEmail
	}
	return o.CustomerPhone
}

func orderData(o domain.Order) map[string]string {
	return map[string]string{
		"order_number":  o.OrderNumber,
		"customer_name": o.CustomerName,
		"total_amount":  fmt.Sprintf("%.2f", o.Total),
		"status":        string(o.Status),
	}
}
