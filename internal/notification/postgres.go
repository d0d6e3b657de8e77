package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgTemplateStore struct {
	pool *pgxpool.Pool
}

func NewPgTemplateStore(pool *pgxpool.Pool) *PgTemplateStore {
	return &PgTemplateStore{pool: pool}
}

func (s *PgTemplateStore) Get(ctx context.Context, channel Channel, event string) (Template, bool, error) {
	var t Template
	err := s.pool.QueryRow(ctx, `
		SELECT channel, event, subject, body, active
		FROM notification_templates
		WHERE channel = $1 AND event = $2
	`, channel, event).Scan(&t.Channel, &t.Event, &t.Subject, &t.Body, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, false, nil
	}
	if err != nil {
		return Template{}, false, fmt.Errorf("get template %s/%s: %w", channel, event, err)
	}
	return t, true, nil
}

func (s *PgTemplateStore) Export(ctx context.Context) ([]Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT channel, event, subject, body, active
		FROM notification_templates
		ORDER BY channel, event
	`)
	if err != nil {
		return nil, fmt.Errorf("export templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.Channel, &t.Event, &t.Subject, &t.Body, &t.Active); err != nil {
			return nil, fmt.Errorf("export templates: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (s *PgTemplateStore) Import(ctx context.Context, templates []Template) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("import templates: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range templates {
		_, err := tx.Exec(ctx, `
			INSERT INTO notification_templates (channel, event, subject, body, active)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (channel, event) DO UPDATE
			SET subject = $3, body = $4, active = $5
		`, t.Channel, t.Event, t.Subject, t.Body, t.Active)
		if err != nil {
			return fmt.Errorf("import template %s/%s: %w", t.Channel, t.Event, err)
		}
	}

	return tx.Commit(ctx)
}

type PgQueueStore struct {
	pool *pgxpool.Pool
}

func NewPgQueueStore(pool *pgxpool.Pool) *PgQueueStore {
	return &PgQueueStore{pool: pool}
}

func (s *PgQueueStore) Enqueue(ctx context.Context, msg Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, type, recipient, subject, message, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.Channel, msg.Recipient, msg.Subject, msg.Body, msg.Status,
		msg.Attempts, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (s *PgQueueStore) NextBatch(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, recipient, subject, message, status, attempts,
		       COALESCE(last_error, ''), created_at, sent_at
		FROM notifications
		WHERE status = $1 AND attempts < $2
		ORDER BY created_at
		LIMIT $3
	`, StatusPending, MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("load notification batch: %w", err)
	}
	defer rows.Close()

	var batch []Message
	for rows.Next() {
		var msg Message
		err := rows.Scan(&msg.ID, &msg.Channel, &msg.Recipient, &msg.Subject,
			&msg.Body, &msg.Status, &msg.Attempts, &msg.LastError,
			&msg.CreatedAt, &msg.SentAt)
		if err != nil {
			return nil, fmt.Errorf("load notification batch: %w", err)
		}
		batch = append(batch, msg)
	}
	return batch, rows.Err()
}

func (s *PgQueueStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = $1, sent_at = $2 WHERE id = $3
	`, StatusSent, at, id)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

func (s *PgQueueStore) MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	status := StatusPending
	if attempts >= MaxAttempts {
		status = StatusFailed
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = $1, attempts = $2, last_error = $3 WHERE id = $4
	`, status, attempts, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}
