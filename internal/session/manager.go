// Package session owns the lifecycle of a single study session:
// Idle -> Active -> Paused -> Completed, with wall-clock time split into
// active and idle buckets by lazy reconciliation. Exactly one session
// is live at a time; callers serialize through the manager's lock.
package session

import (
	"context"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"studytrack-backend/internal/models"
)

const (
	maxTopicLength = 200

	// Active time accrues at most one second per reconciliation; a
	// larger gap means the caller was not ticking (debugger, host
	// suspend) and the excess is attributed to idle instead.
	maxActiveIncrement = 1.0

	maxRecentStarts   = 50
	recentStartWindow = time.Hour
)

// Store is the persistence collaborator. Failures are non-fatal for
// in-memory correctness but are propagated to start/stop callers.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	FinalizeSession(ctx context.Context, s *models.Session) error
	CountSessionsSince(ctx context.Context, since time.Time) (int, error)
}

// EventLogger is the durable activity-event sink, shared with the
// monitor.
type EventLogger interface {
	LogActivityEvent(sessionID uuid.UUID, ev models.ActivityEvent) error
}

// Observer receives session lifecycle notifications. Observers run
// outside the manager's lock and a panicking observer is isolated.
type Observer func(event string, data interface{})

// ValidationResult is the non-mutating pre-flight check result used by
// the HTTP layer before it commits to an operation.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

type Manager struct {
	store         Store
	logger        EventLogger
	idleThreshold time.Duration

	mu      sync.Mutex
	state   models.SessionState
	current *models.Session

	startTime     time.Time
	lastActivity  time.Time
	lastReconcile time.Time
	idleStart     time.Time // zero when no idle span is open
	totalActive   float64
	totalIdle     float64

	history   []models.StateTransition
	observers []Observer

	now func() time.Time
}

func NewManager(store Store, logger EventLogger, idleThreshold time.Duration) *Manager {
	if idleThreshold <= 0 {
		idleThreshold = 3 * time.Second
	}
	return &Manager{
		store:         store,
		logger:        logger,
		idleThreshold: idleThreshold,
		state:         models.StateIdle,
		now:           time.Now,
	}
}

func (m *Manager) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start creates a new session and transitions Idle -> Active. A
// persistence failure aborts the start and leaves the machine in Idle.
func (m *Manager) Start(ctx context.Context, topic, description string, metadata map[string]interface{}) (uuid.UUID, error) {
	topic = strings.TrimSpace(topic)

	m.mu.Lock()
	if m.state != models.StateIdle {
		state := m.state
		m.mu.Unlock()
		return uuid.Nil, &InvalidStateError{Op: "start", State: state}
	}
	if topic == "" {
		m.mu.Unlock()
		return uuid.Nil, ErrTopicRequired
	}
	if len(topic) > maxTopicLength {
		m.mu.Unlock()
		return uuid.Nil, ErrTopicTooLong
	}

	now := m.now()
	s := &models.Session{
		ID:          uuid.New(),
		Topic:       topic,
		Description: description,
		Metadata:    metadata,
		StartTime:   now,
		Success:     true,
		CreatedAt:   now,
	}

	if err := m.store.CreateSession(ctx, s); err != nil {
		m.cleanupLocked()
		m.mu.Unlock()
		return uuid.Nil, &PersistenceError{Op: "start", Err: err}
	}

	m.current = s
	m.startTime = now
	m.lastActivity = now
	m.lastReconcile = now
	m.idleStart = time.Time{}
	m.totalActive = 0
	m.totalIdle = 0
	m.history = nil

	tr := m.transitionLocked(models.StateActive, "session started", now)
	obs := m.observersCopyLocked()
	m.mu.Unlock()

	m.logEvent(s.ID, models.ActivityEvent{
		Timestamp: now,
		Kind:      models.ActivitySystem,
		Intensity: 1.0,
		Details:   map[string]interface{}{"type": "session_started", "topic": topic},
	})
	log.Printf("Started session %s: %s", s.ID, topic)
	m.notify(obs, "state_changed", tr)
	m.notify(obs, "session_started", map[string]interface{}{"session_id": s.ID, "topic": topic})

	return s.ID, nil
}

// Pause transitions Active -> Paused. Pending time accounting is
// flushed first, any sampler-opened idle span is closed, and the pause
// itself opens a new idle span. While paused, manual pause is the sole
// idle-accounting authority; sampler notifications are ignored.
func (m *Manager) Pause(ctx context.Context, reason string) (models.SessionStats, error) {
	m.mu.Lock()
	if m.state != models.StateActive {
		state := m.state
		m.mu.Unlock()
		return models.SessionStats{}, &InvalidStateError{Op: "pause", State: state}
	}

	now := m.now()
	m.reconcileLocked(now)
	if !m.idleStart.IsZero() {
		m.totalIdle += now.Sub(m.idleStart).Seconds()
	}
	m.idleStart = now

	tr := m.transitionLocked(models.StatePaused, reason, now)
	stats := m.statsLocked(now)
	id := m.current.ID
	obs := m.observersCopyLocked()
	m.mu.Unlock()

	m.logEvent(id, models.ActivityEvent{
		Timestamp: now,
		Kind:      models.ActivitySystem,
		Intensity: 0.0,
		Details:   map[string]interface{}{"type": "session_paused", "reason": reason},
	})
	log.Printf("Paused session %s: %s", id, reason)
	m.notify(obs, "state_changed", tr)

	return stats, nil
}

// Resume transitions Paused -> Active, closing the idle span opened at
// pause and resetting the activity clock.
func (m *Manager) Resume(ctx context.Context) (models.SessionStats, error) {
	m.mu.Lock()
	if m.state != models.StatePaused {
		state := m.state
		m.mu.Unlock()
		return models.SessionStats{}, &InvalidStateError{Op: "resume", State: state}
	}

	now := m.now()
	if !m.idleStart.IsZero() {
		m.totalIdle += now.Sub(m.idleStart).Seconds()
		m.idleStart = time.Time{}
	}
	m.lastActivity = now
	m.lastReconcile = now

	tr := m.transitionLocked(models.StateActive, "session resumed", now)
	stats := m.statsLocked(now)
	id := m.current.ID
	obs := m.observersCopyLocked()
	m.mu.Unlock()

	m.logEvent(id, models.ActivityEvent{
		Timestamp: now,
		Kind:      models.ActivitySystem,
		Intensity: 1.0,
		Details:   map[string]interface{}{"type": "session_resumed"},
	})
	log.Printf("Resumed session %s", id)
	m.notify(obs, "state_changed", tr)

	return stats, nil
}

// Stop finalizes the session from Active or Paused. The in-memory
// summary is always computed and returned; a persistence failure is
// surfaced as the error alongside it, and the machine still resets to
// Idle for the next start.
func (m *Manager) Stop(ctx context.Context, success bool, completionNotes string) (models.SessionSummary, error) {
	m.mu.Lock()
	if m.state != models.StateActive && m.state != models.StatePaused {
		state := m.state
		m.mu.Unlock()
		return models.SessionSummary{}, &InvalidStateError{Op: "stop", State: state}
	}

	now := m.now()
	m.reconcileLocked(now)
	if !m.idleStart.IsZero() {
		m.totalIdle += now.Sub(m.idleStart).Seconds()
		m.idleStart = time.Time{}
	}

	prod, level := productivity(m.totalActive, m.totalIdle)

	s := m.current
	end := now
	s.EndTime = &end
	s.ActiveSeconds = int(m.totalActive)
	s.IdleSeconds = int(m.totalIdle)
	s.TotalSeconds = int(m.totalActive + m.totalIdle)
	s.Productivity = prod
	s.Success = success
	s.CompletionNotes = completionNotes

	reason := "session completed"
	if completionNotes != "" {
		reason = "session completed: " + completionNotes
	}
	tr := m.transitionLocked(models.StateCompleted, reason, now)

	var persistErr error
	if err := m.store.FinalizeSession(ctx, s); err != nil {
		persistErr = &PersistenceError{Op: "stop", Err: err}
	}

	summary := models.SessionSummary{
		SessionID:         s.ID,
		Topic:             s.Topic,
		TotalMinutes:      s.TotalSeconds / 60,
		ActiveMinutes:     s.ActiveSeconds / 60,
		IdleMinutes:       s.IdleSeconds / 60,
		Productivity:      prod,
		ProductivityLevel: level,
		Success:           success,
	}

	id := s.ID
	m.cleanupLocked()
	obs := m.observersCopyLocked()
	m.mu.Unlock()

	m.logEvent(id, models.ActivityEvent{
		Timestamp: now,
		Kind:      models.ActivitySystem,
		Intensity: prod / 100,
		Details: map[string]interface{}{
			"type":         "session_completed",
			"success":      success,
			"notes":        completionNotes,
			"productivity": prod,
		},
	})
	if persistErr != nil {
		log.Printf("Failed to persist final record for session %s: %v", id, persistErr)
	}
	log.Printf("Completed session %s: productivity %.1f%% (%s)", id, prod, level)
	m.notify(obs, "state_changed", tr)
	m.notify(obs, "session_completed", summary)

	return summary, persistErr
}

// Status returns live numbers. It reconciles pending time in memory but
// never touches persisted state.
func (m *Manager) Status() models.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.state == models.StateIdle {
		return models.SessionStatus{Active: false, State: models.StateIdle}
	}

	now := m.now()
	m.reconcileLocked(now)
	stats := m.statsLocked(now)

	cur := *m.current
	return models.SessionStatus{
		Active:         true,
		State:          m.state,
		TotalSeconds:   stats.TotalSeconds,
		ActiveSeconds:  stats.ActiveSeconds,
		IdleSeconds:    stats.IdleSeconds,
		Productivity:   stats.Productivity,
		CurrentSession: &cur,
	}
}

// UpdateActivity is one of the two entry points the Activity Sampler
// uses. It advances the last-activity clock; a no-op unless Active.
func (m *Manager) UpdateActivity(ev models.ActivityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.state != models.StateActive {
		return
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	m.reconcileLocked(ts)
	m.lastActivity = ts
}

// UpdateIdleState is the sampler's idle-flip notification. true opens
// an idle span if none is open; false closes it, folding its duration
// into idle_seconds, and advances the activity clock. A no-op unless
// Active; pause/resume own the idle accounting while Paused.
func (m *Manager) UpdateIdleState(isIdle bool, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.state != models.StateActive {
		return
	}
	if ts.IsZero() {
		ts = m.now()
	}

	m.reconcileLocked(ts)

	if isIdle {
		if m.idleStart.IsZero() {
			m.idleStart = ts
		}
	} else {
		if !m.idleStart.IsZero() {
			m.totalIdle += ts.Sub(m.idleStart).Seconds()
			m.idleStart = time.Time{}
		}
		m.lastActivity = ts
	}
	m.lastReconcile = ts
}

// ValidateOperation is the pre-flight check used by the HTTP layer. It
// never mutates state.
func (m *Manager) ValidateOperation(ctx context.Context, op, topic string) ValidationResult {
	var errs []string

	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch op {
	case "start":
		t := strings.TrimSpace(topic)
		if t == "" {
			errs = append(errs, "Topic is required")
		} else if len(t) > maxTopicLength {
			errs = append(errs, "Topic too long (max 200 characters)")
		}
		if state != models.StateIdle {
			errs = append(errs, "A session is already in progress")
		}
		if m.store != nil {
			n, err := m.store.CountSessionsSince(ctx, m.now().Add(-recentStartWindow))
			if err != nil {
				log.Printf("Failed to count recent sessions: %v", err)
			} else if n >= maxRecentStarts {
				errs = append(errs, "Too many sessions started recently")
			}
		}
	case "pause":
		if state != models.StateActive {
			errs = append(errs, "No active session to pause")
		}
	case "resume":
		if state != models.StatePaused {
			errs = append(errs, "No paused session to resume")
		}
	case "stop":
		if state != models.StateActive && state != models.StatePaused {
			errs = append(errs, "No active session to stop")
		}
	default:
		errs = append(errs, "Unknown operation: "+op)
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// OnEvent registers a lifecycle observer.
func (m *Manager) OnEvent(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// StateHistory returns a copy of the live session's transition log.
func (m *Manager) StateHistory() []models.StateTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StateTransition(nil), m.history...)
}

// ──── Internals (all require m.mu held unless noted) ────

func (m *Manager) transitionLocked(to models.SessionState, reason string, now time.Time) models.StateTransition {
	elapsed := 0.0
	if !m.startTime.IsZero() {
		elapsed = now.Sub(m.startTime).Seconds()
	}
	tr := models.StateTransition{
		Timestamp:      now,
		FromState:      m.state,
		ToState:        to,
		Reason:         reason,
		SessionSeconds: elapsed,
	}
	m.state = to
	m.history = append(m.history, tr)
	if m.current != nil {
		m.current.StateHistory = append(m.current.StateHistory, tr)
	}
	return tr
}

// reconcileLocked converts time since the last call into active/idle
// bucket additions. Correctness depends only on being called reasonably
// often (the idle loop tick, sampler notifications, or any API read).
func (m *Manager) reconcileLocked(now time.Time) {
	if m.state != models.StateActive {
		m.lastReconcile = now
		return
	}

	delta := now.Sub(m.lastReconcile).Seconds()
	if delta <= 0 {
		return
	}

	if !m.idleStart.IsZero() {
		// Open span: idle time accrues against idleStart and is folded
		// in when the span closes. Nothing to bucket here.
		m.lastReconcile = now
		return
	}

	sinceActivity := now.Sub(m.lastActivity)
	if sinceActivity >= m.idleThreshold {
		// The user crossed the threshold since the last reconcile.
		// Open the span retroactively where the inactivity began and
		// charge the part before it as (bounded) active time.
		spanStart := m.lastActivity.Add(m.idleThreshold)
		if spanStart.Before(m.lastReconcile) {
			spanStart = m.lastReconcile
		}
		m.chargeActiveLocked(spanStart.Sub(m.lastReconcile).Seconds())
		m.idleStart = spanStart
	} else {
		m.chargeActiveLocked(delta)
	}
	m.lastReconcile = now
}

// chargeActiveLocked adds at most maxActiveIncrement to active time;
// any excess is an unticked gap and goes to idle, which keeps
// active+idle tracking elapsed wall time.
func (m *Manager) chargeActiveLocked(seconds float64) {
	if seconds <= 0 {
		return
	}
	m.totalActive += math.Min(seconds, maxActiveIncrement)
	if seconds > maxActiveIncrement {
		m.totalIdle += seconds - maxActiveIncrement
	}
}

func (m *Manager) statsLocked(now time.Time) models.SessionStats {
	idle := m.totalIdle
	if !m.idleStart.IsZero() {
		idle += now.Sub(m.idleStart).Seconds()
	}

	prod, _ := productivity(m.totalActive, idle)
	total := 0.0
	if !m.startTime.IsZero() {
		total = now.Sub(m.startTime).Seconds()
	}

	return models.SessionStats{
		TotalSeconds:  int(total),
		ActiveSeconds: int(m.totalActive),
		IdleSeconds:   int(idle),
		Productivity:  prod,
	}
}

func (m *Manager) cleanupLocked() {
	m.current = nil
	m.state = models.StateIdle
	m.startTime = time.Time{}
	m.lastActivity = time.Time{}
	m.lastReconcile = time.Time{}
	m.idleStart = time.Time{}
	m.totalActive = 0
	m.totalIdle = 0
	m.history = nil
}

func (m *Manager) observersCopyLocked() []Observer {
	return append([]Observer(nil), m.observers...)
}

func (m *Manager) notify(obs []Observer, event string, data interface{}) {
	for _, o := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Recovered panic in session observer (%s): %v", event, r)
				}
			}()
			o(event, data)
		}()
	}
}

func (m *Manager) logEvent(sessionID uuid.UUID, ev models.ActivityEvent) {
	if m.logger == nil || sessionID == uuid.Nil {
		return
	}
	if err := m.logger.LogActivityEvent(sessionID, ev); err != nil {
		log.Printf("Failed to log session event for %s: %v", sessionID, err)
	}
}

// productivity returns the percentage of tracked time spent active,
// clamped to [0,100], plus the reporting level.
func productivity(active, idle float64) (float64, string) {
	total := active + idle
	if total <= 0 {
		return 0, "none"
	}

	p := active / total * 100
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	p = math.Round(p*10) / 10

	var level string
	switch {
	case p >= 90:
		level = "excellent"
	case p >= 75:
		level = "good"
	case p >= 60:
		level = "moderate"
	case p >= 40:
		level = "poor"
	default:
		level = "very_poor"
	}
	return p, level
}
