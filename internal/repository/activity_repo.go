package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"studytrack-backend/internal/models"
)

type ActivityRepo struct {
	pool *pgxpool.Pool
}

func NewActivityRepo(pool *pgxpool.Pool) *ActivityRepo {
	return &ActivityRepo{pool: pool}
}

func (r *ActivityRepo) Insert(ctx context.Context, ev *models.QueuedActivityEvent) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal event details: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO activity_events (session_id, event_type, timestamp, intensity, details)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.SessionID, ev.Kind, ev.Timestamp, ev.Intensity, details)
	return err
}

func (r *ActivityRepo) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.QueuedActivityEvent, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.pool.Query(ctx, `
		SELECT session_id, event_type, timestamp, intensity, details
		FROM activity_events
		WHERE session_id = $1
		ORDER BY timestamp ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.QueuedActivityEvent
	for rows.Next() {
		ev := &models.QueuedActivityEvent{}
		var details []byte
		if err := rows.Scan(&ev.SessionID, &ev.Kind, &ev.Timestamp, &ev.Intensity, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteOlderThan prunes the activity log past the retention window.
func (r *ActivityRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM activity_events WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
