package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"studytrack-backend/internal/models"
)

// UpdatesChannel is the pub/sub channel the websocket hub subscribes
// to. Everything published here fans out to every connected client.
const UpdatesChannel = "study_updates"

// StatsPublisher pushes live monitor stats and state changes over Redis
// pub/sub so the hub can broadcast them.
type StatsPublisher struct {
	redis *redis.Client
}

func NewStatsPublisher(redisClient *redis.Client) *StatsPublisher {
	return &StatsPublisher{redis: redisClient}
}

// PublishUpdate sends a WebSocket update via Redis pub/sub
func (p *StatsPublisher) PublishUpdate(ctx context.Context, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("publisher: failed to marshal %s update: %v", msg.Type, err)
		return
	}
	p.redis.Publish(ctx, UpdatesChannel, string(data))
}

// PublishActivity is wired as the monitor's activity callback.
func (p *StatsPublisher) PublishActivity(sessionID uuid.UUID, ev models.ActivityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p.PublishUpdate(ctx, models.WSMessage{
		Type: "stats_update",
		Payload: models.StatsUpdate{
			SessionID: sessionID,
			Intensity: ev.Intensity,
		},
	})
}

// PublishIdleChange is wired as the monitor's idle-transition callback.
func (p *StatsPublisher) PublishIdleChange(sessionID uuid.UUID, isIdle bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p.PublishUpdate(ctx, models.WSMessage{
		Type: "stats_update",
		Payload: models.StatsUpdate{
			SessionID: sessionID,
			Idle:      isIdle,
		},
	})
}

// PublishSessionEvent is registered as a session manager observer.
func (p *StatsPublisher) PublishSessionEvent(event string, data interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p.PublishUpdate(ctx, models.WSMessage{
		Type:    event,
		Payload: data,
	})
}
