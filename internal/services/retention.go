package services

import (
	"context"
	"log"
	"time"

	"studytrack-backend/internal/repository"
)

const retentionPollInterval = 1 * time.Hour

// RetentionScheduler prunes aged rows from activity_events. Raw input
// telemetry accumulates fast (one row per keypress batch) and is only
// useful for recent-session analysis.
type RetentionScheduler struct {
	activityRepo      *repository.ActivityRepo
	sessionRepo       *repository.SessionRepo
	retentionDays     int
	maxStoredSessions int
	stopChan          chan struct{}
}

func NewRetentionScheduler(activityRepo *repository.ActivityRepo, sessionRepo *repository.SessionRepo, retentionDays, maxStoredSessions int) *RetentionScheduler {
	return &RetentionScheduler{
		activityRepo:      activityRepo,
		sessionRepo:       sessionRepo,
		retentionDays:     retentionDays,
		maxStoredSessions: maxStoredSessions,
		stopChan:          make(chan struct{}),
	}
}

func (s *RetentionScheduler) Start() {
	if s.activityRepo == nil || s.retentionDays <= 0 {
		return
	}

	go s.loop()

	log.Printf("Retention scheduler started (pruning events older than %d days)", s.retentionDays)
}

func (s *RetentionScheduler) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *RetentionScheduler) loop() {
	// Run on startup as well as by interval.
	s.prune(context.Background(), time.Now().UTC())

	ticker := time.NewTicker(retentionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.prune(context.Background(), time.Now().UTC())
		}
	}
}

func (s *RetentionScheduler) prune(ctx context.Context, now time.Time) {
	cutoff := now.AddDate(0, 0, -s.retentionDays)

	deleted, err := s.activityRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("retention: failed to prune activity events: %v", err)
		return
	}

	if deleted > 0 {
		log.Printf("retention: pruned %d activity events older than %s", deleted, cutoff.Format(time.RFC3339))
	}

	if s.sessionRepo == nil || s.maxStoredSessions <= 0 {
		return
	}

	pruned, err := s.sessionRepo.PruneOldest(ctx, s.maxStoredSessions)
	if err != nil {
		log.Printf("retention: failed to prune old sessions: %v", err)
		return
	}

	if pruned > 0 {
		log.Printf("retention: pruned %d sessions beyond the %d-session cap", pruned, s.maxStoredSessions)
	}
}
