package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"studytrack-backend/internal/models"
	"studytrack-backend/internal/repository"
)

// Pool drains the activity-event queue into Postgres. Events are
// fire-and-forget telemetry: a failed insert is logged and dropped
// rather than retried, so a broken database never backs up the queue.
type Pool struct {
	redis        *redis.Client
	activityRepo *repository.ActivityRepo
	workerCount  int
	stopChan     chan struct{}
}

func NewPool(redisClient *redis.Client, activityRepo *repository.ActivityRepo, workerCount int) *Pool {
	return &Pool{
		redis:        redisClient,
		activityRepo: activityRepo,
		workerCount:  workerCount,
		stopChan:     make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}

	log.Printf("Started %d activity worker goroutines", p.workerCount)
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Activity worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		// BLPOP with a short timeout so shutdown is picked up promptly
		result, err := p.redis.BLPop(ctx, 5*time.Second, activityQueue).Result()
		if err != nil {
			continue // Timeout or error, retry
		}

		if len(result) < 2 {
			continue
		}

		var ev models.QueuedActivityEvent
		if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
			log.Printf("Activity worker %d: failed to parse event: %v", id, err)
			continue
		}

		insertCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := p.activityRepo.Insert(insertCtx, &ev); err != nil {
			log.Printf("Activity worker %d: failed to store %s event for session %s: %v", id, ev.Kind, ev.SessionID, err)
		}
		cancel()
	}
}
