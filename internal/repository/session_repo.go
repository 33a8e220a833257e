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

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) CreateSession(ctx context.Context, s *models.Session) error {
	metadata, err := json.Marshal(orEmptyMap(s.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	query := `
		INSERT INTO study_sessions (id, topic, description, metadata, start_time, success)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	return r.pool.QueryRow(ctx, query,
		s.ID, s.Topic, s.Description, metadata, s.StartTime, s.Success,
	).Scan(&s.CreatedAt)
}

// FinalizeSession writes the completed session's durable record,
// including the serialized state-transition history.
func (r *SessionRepo) FinalizeSession(ctx context.Context, s *models.Session) error {
	history, err := json.Marshal(s.StateHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal state history: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE study_sessions
		SET end_time = $2,
			active_seconds = $3,
			idle_seconds = $4,
			total_seconds = $5,
			productivity = $6,
			success = $7,
			completion_notes = $8,
			state_history = $9
		WHERE id = $1
	`, s.ID, s.EndTime, s.ActiveSeconds, s.IdleSeconds, s.TotalSeconds,
		s.Productivity, s.Success, s.CompletionNotes, history)
	return err
}

func (r *SessionRepo) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, topic, description, metadata, start_time, end_time,
			active_seconds, idle_seconds, total_seconds, productivity,
			success, completion_notes, state_history, created_at
		FROM study_sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

// ListSessions returns a page of session history plus the unfiltered
// total, newest first.
func (r *SessionRepo) ListSessions(ctx context.Context, f models.SessionFilter) ([]*models.Session, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where := "WHERE 1=1"
	args := []interface{}{}
	idx := 1
	if f.DateFrom != nil {
		where += fmt.Sprintf(" AND start_time >= $%d", idx)
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		where += fmt.Sprintf(" AND start_time <= $%d", idx)
		args = append(args, *f.DateTo)
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM study_sessions "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, topic, description, metadata, start_time, end_time,
			active_seconds, idle_seconds, total_seconds, productivity,
			success, completion_notes, state_history, created_at
		FROM study_sessions
		%s
		ORDER BY start_time DESC
		LIMIT $%d OFFSET $%d
	`, where, idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, s)
	}
	return sessions, total, rows.Err()
}

func (r *SessionRepo) CountSessionsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM study_sessions WHERE created_at >= $1", since,
	).Scan(&n)
	return n, err
}

// PruneOldest deletes the oldest completed sessions beyond keep,
// cascading their activity events.
func (r *SessionRepo) PruneOldest(ctx context.Context, keep int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM study_sessions
		WHERE id IN (
			SELECT id FROM study_sessions
			WHERE end_time IS NOT NULL
			ORDER BY start_time DESC
			OFFSET $1
		)`,
		keep,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	s := &models.Session{}
	var metadata, history []byte

	err := row.Scan(
		&s.ID, &s.Topic, &s.Description, &metadata, &s.StartTime, &s.EndTime,
		&s.ActiveSeconds, &s.IdleSeconds, &s.TotalSeconds, &s.Productivity,
		&s.Success, &s.CompletionNotes, &history, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session metadata: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.StateHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state history: %w", err)
		}
	}
	return s, nil
}

func orEmptyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
