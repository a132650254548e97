package sqlite

import (
	"context"

	"github.com/llmgate/llmgate/internal/services/auth/storage"
)

// EnqueueIntegrationOutboxEvent records a pending side effect.
//
// Events are deduplicated by dedupe key so a retried authorize request does
// not enqueue the same referral linkage twice.
func (s *Store) EnqueueIntegrationOutboxEvent(ctx context.Context, event storage.IntegrationOutboxEvent) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO integration_outbox
		(id, event_type, payload_json, dedupe_key, status, attempt_count, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dedupe_key) DO NOTHING`,
		event.ID, event.EventType, event.PayloadJSON, event.DedupeKey, event.Status,
		event.AttemptCount, formatTime(event.NextAttemptAt), formatTime(event.CreatedAt), formatTime(event.UpdatedAt),
	)
	return err
}

// ListPendingIntegrationOutboxEvents returns pending events oldest first.
func (s *Store) ListPendingIntegrationOutboxEvents(ctx context.Context, limit int) ([]storage.IntegrationOutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, event_type, payload_json, dedupe_key, status, attempt_count, next_attempt_at, created_at, updated_at
		FROM integration_outbox WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		storage.IntegrationOutboxStatusPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []storage.IntegrationOutboxEvent
	for rows.Next() {
		var (
			event         storage.IntegrationOutboxEvent
			nextAttemptAt string
			createdAt     string
			updatedAt     string
		)
		if err := rows.Scan(
			&event.ID, &event.EventType, &event.PayloadJSON, &event.DedupeKey, &event.Status,
			&event.AttemptCount, &nextAttemptAt, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		if event.NextAttemptAt, err = parseTime(nextAttemptAt); err != nil {
			return nil, err
		}
		if event.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if event.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
