package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/legends-of-valor/internal/domain"
)

// RecordEvents stores a batch of activity events. Replayed events are ignored.
func (r *Repository) RecordEvents(ctx context.Context, events []domain.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO activity_events (id, event_type, topic, account_id, data, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	for _, e := range events {
		var data []byte
		if e.Data != nil {
			var err error
			data, err = json.Marshal(e.Data)
			if err != nil {
				return fmt.Errorf("marshaling event data: %w", err)
			}
		}
		batch.Queue(query, e.ID, e.Type, e.Topic, e.AccountID, data, e.Timestamp)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch inserting events: %w", err)
		}
	}
	return nil
}

// ListEvents retrieves the most recent events of a topic, newest first
func (r *Repository) ListEvents(ctx context.Context, topic string, limit int) ([]domain.ActivityEvent, error) {
	query := `
		SELECT id, event_type, topic, COALESCE(account_id, ''), data, created_at
		FROM activity_events
		WHERE topic = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []domain.ActivityEvent
	for rows.Next() {
		var e domain.ActivityEvent
		var data []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.Topic, &e.AccountID, &data, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if data != nil {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("decoding event data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
