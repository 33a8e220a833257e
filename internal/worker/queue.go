package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"studytrack-backend/internal/models"
)

const activityQueue = "queue:activity-events"

// Queue is the write-behind producer for activity events. The monitor
// and session manager push here instead of hitting Postgres on every
// input event; the worker pool drains the other end.
type Queue struct {
	redis *redis.Client
}

func NewQueue(redisClient *redis.Client) *Queue {
	return &Queue{redis: redisClient}
}

func (q *Queue) LogActivityEvent(sessionID uuid.UUID, ev models.ActivityEvent) error {
	payload, err := json.Marshal(models.QueuedActivityEvent{
		SessionID: sessionID,
		Timestamp: ev.Timestamp,
		Kind:      ev.Kind,
		Intensity: ev.Intensity,
		Details:   ev.Details,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal activity event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return q.redis.LPush(ctx, activityQueue, payload).Err()
}
