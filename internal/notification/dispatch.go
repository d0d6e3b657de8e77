// Package notification translates (channel, event, data) triples into
// queued outbound messages and drains the queue through a delivery
// collaborator.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"luna-dine/internal/settings"
	"luna-dine/pkg/logger"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

var Channels = []Channel{ChannelEmail, ChannelPush, ChannelSMS}

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"

	// MaxAttempts is the fixed retry cutoff. A message that fails three
	// times stays failed; there is no backoff.
	MaxAttempts = 3
)

type Template struct {
	Channel Channel `json:"channel"`
	Event   string  `json:"event"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Active  bool    `json:"active"`
}

type Message struct {
	ID        string     `json:"id"`
	Channel   Channel    `json:"type"`
	Recipient string     `json:"recipient"`
	Subject   string     `json:"subject"`
	Body      string     `json:"message"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

type TemplateStore interface {
	Get(ctx context.Context, channel Channel, event string) (Template, bool, error)
	Export(ctx context.Context) ([]Template, error)
	Import(ctx context.Context, templates []Template) error
}

type QueueStore interface {
	Enqueue(ctx context.Context, msg Message) error
	// NextBatch returns up to limit pending messages with attempts below
	// the cutoff, oldest first.
	NextBatch(ctx context.Context, limit int) ([]Message, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error
}

// Deliverer hands a rendered message to the external delivery mechanism.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

type Dispatcher struct {
	templates TemplateStore
	queue     QueueStore
	deliverer Deliverer
	settings  settings.Store
	log       *logger.Logger
}

func NewDispatcher(
	templates TemplateStore,
	queue QueueStore,
	deliverer Deliverer,
	store settings.Store,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		templates: templates,
		queue:     queue,
		deliverer: deliverer,
		settings:  store,
		log:       log,
	}
}

// Send renders the active template for (channel, event) and enqueues the
// result. A missing or inactive template makes the call a silent no-op:
// templates are optional configuration, not a precondition.
func (d *Dispatcher) Send(ctx context.Context, channel, event string, data map[string]string) (bool, error) {
	tmpl, ok, err := d.templates.Get(ctx, Channel(channel), event)
	if err != nil {
		return false, fmt.Errorf("template lookup: %w", err)
	}
	if !ok || !tmpl.Active {
		return false, nil
	}

	recipient := data["recipient"]
	if recipient == "" {
		return false, nil
	}

	vars := d.substitutionVars(ctx, data)
	msg := Message{
		ID:        uuid.NewString(),
		Channel:   Channel(channel),
		Recipient: recipient,
		Subject:   substitute(tmpl.Subject, vars),
		Body:      substitute(tmpl.Body, vars),
		Status:    StatusPending,
		Attempts:  0,
		CreatedAt: time.Now().UTC(),
	}

	if err := d.queue.Enqueue(ctx, msg); err != nil {
		return false, fmt.Errorf("enqueue notification: %w", err)
	}

	d.log.Debug(msg.ID, "notification_queued",
		fmt.Sprintf("Queued %s notification for event %s", channel, event))
	return true, nil
}

// ProcessQueue drains up to batchSize pending messages through the
// deliverer. Failures increment the attempt counter; the third failure
// parks the message as failed for good. Returns the delivered count.
func (d *Dispatcher) ProcessQueue(ctx context.Context, batchSize int) (int, error) {
	batch, err := d.queue.NextBatch(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("load notification batch: %w", err)
	}

	delivered := 0
	for _, msg := range batch {
		if err := d.deliverer.Deliver(ctx, msg); err != nil {
			d.log.Error(msg.ID, "notification_delivery_failed",
				fmt.Sprintf("Attempt %d for %s notification", msg.Attempts+1, msg.Channel), err)
			if mErr := d.queue.MarkFailed(ctx, msg.ID, msg.Attempts+1, err.Error()); mErr != nil {
				return delivered, fmt.Errorf("mark notification failed: %w", mErr)
			}
			continue
		}

		if err := d.queue.MarkSent(ctx, msg.ID, time.Now().UTC()); err != nil {
			return delivered, fmt.Errorf("mark notification sent: %w", err)
		}
		delivered++
	}

	return delivered, nil
}

func (d *Dispatcher) ExportTemplates(ctx context.Context) ([]Template, error) {
	return d.templates.Export(ctx)
}

func (d *Dispatcher) ImportTemplates(ctx context.Context, templates []Template) error {
	return d.templates.Import(ctx, templates)
}

// substitutionVars merges the caller's data with the fixed site identity
// fields from settings.
func (d *Dispatcher) substitutionVars(ctx context.Context, data map[string]string) map[string]string {
	vars := make(map[string]string, len(data)+2)
	for k, v := range data {
		vars[k] = v
	}
	vars["site_name"] = settings.GetDefault(ctx, d.settings, "site_name", "Luna Dine")
	vars["site_phone"] = settings.GetDefault(ctx, d.settings, "site_phone", "")
	return vars
}

func substitute(text string, vars map[string]string) string {
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	return text
}
