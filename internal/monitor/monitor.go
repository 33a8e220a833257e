// Package monitor samples raw input activity and derives two signals
// from it: an idle/active boolean and a smoothed intensity score in
// [0,1]. It runs two background loops (idle detection and intensity
// calculation) and feeds classifications into a Sink, typically the
// session manager. The monitor never decides session state itself.
package monitor

import (
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"studytrack-backend/internal/models"
)

const (
	historyCapacity  = 1000
	keypressCapacity = 10
	mousePosCapacity = 5

	keyboardWindow   = 5 * time.Second
	mouseWindow      = 2 * time.Second
	maxKeysPerSecond = 10.0
	maxMouseVelocity = 1000.0 // px/s
	intensityFloor   = 0.1

	cleanupInterval   = 60 * time.Second
	eventRetention    = 5 * time.Minute
	rawDataRetention  = 1 * time.Minute
	shutdownJoinLimit = 5 * time.Second
)

// Sink consumes the monitor's classifications. Only keyboard/mouse
// events reach UpdateActivity; idle flips go through UpdateIdleState.
type Sink interface {
	UpdateActivity(ev models.ActivityEvent)
	UpdateIdleState(isIdle bool, ts time.Time)
}

// EventLogger is the durable sink for activity events. Failures are
// logged and never interrupt monitoring.
type EventLogger interface {
	LogActivityEvent(sessionID uuid.UUID, ev models.ActivityEvent) error
}

type Config struct {
	IdleThreshold time.Duration
	CheckInterval time.Duration
}

type mouseSample struct {
	x, y float64
	t    time.Time
}

type Monitor struct {
	cfg    Config
	sink   Sink
	logger EventLogger
	source Source

	mu           sync.Mutex
	running      bool
	paused       bool
	fallbackMode bool
	sessionID    uuid.UUID

	lastActivity time.Time
	idleState    bool
	startTime    time.Time

	// Sampler-side clock, advanced by the idle loop. The session
	// manager keeps its own authoritative accounting.
	lastTick   time.Time
	activeSecs float64
	idleSecs   float64

	history  *ring[models.ActivityEvent]
	keyTimes *ring[time.Time]
	mousePos *ring[mouseSample]

	lastCleanup time.Time

	shutdown      chan struct{}
	idleDone      chan struct{}
	intensityDone chan struct{}

	activityCallbacks []func(models.ActivityEvent)
	idleCallbacks     []func(isIdle bool, ts time.Time)

	now       func() time.Time
	joinLimit time.Duration
}

func New(cfg Config, sink Sink, logger EventLogger, source Source) *Monitor {
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 3 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 100 * time.Millisecond
	}
	if source == nil {
		source = Disabled{}
	}
	return &Monitor{
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		source:    source,
		history:   newRing[models.ActivityEvent](historyCapacity),
		keyTimes:  newRing[time.Time](keypressCapacity),
		mousePos:  newRing[mouseSample](mousePosCapacity),
		now:       time.Now,
		joinLimit: shutdownJoinLimit,
	}
}

// Start begins capturing input and launches the background loops.
// Idempotent while running. Returns false when input capture is
// unavailable; the loops still run in timer-only fallback mode, so a
// false return is a degraded start, not a failed one.
func (m *Monitor) Start(sessionID uuid.UUID) bool {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		log.Printf("Activity monitoring already running for session %s", m.sessionID)
		return true
	}

	now := m.now()
	m.running = true
	m.paused = false
	m.sessionID = sessionID
	m.lastActivity = now
	m.idleState = false
	m.startTime = now
	m.lastTick = now
	m.activeSecs = 0
	m.idleSecs = 0
	m.lastCleanup = now
	m.history.clear()
	m.keyTimes.clear()
	m.mousePos.clear()

	m.shutdown = make(chan struct{})
	m.idleDone = make(chan struct{})
	m.intensityDone = make(chan struct{})
	shutdown, idleDone, intensityDone := m.shutdown, m.idleDone, m.intensityDone
	m.mu.Unlock()

	captured := true
	if err := m.source.Start(m); err != nil {
		log.Printf("Input capture unavailable, monitoring in timer-only mode: %v", err)
		m.mu.Lock()
		m.fallbackMode = true
		m.mu.Unlock()
		captured = false
	} else {
		m.mu.Lock()
		m.fallbackMode = false
		m.mu.Unlock()
	}

	go m.idleLoop(shutdown, idleDone)
	go m.intensityLoop(shutdown, intensityDone)

	m.logEvent(sessionID, models.ActivityEvent{
		Timestamp: now,
		Kind:      models.ActivitySystem,
		Intensity: 1.0,
		Details:   map[string]interface{}{"type": "monitoring_started"},
	})
	log.Printf("Started activity monitoring for session %s", sessionID)
	return captured
}

// Stop signals both loops, detaches input capture and waits for the
// loops with a bounded join. A loop that does not exit in time is
// abandoned; the monitor is marked not-running either way, so this is
// best-effort shutdown, not a hard guarantee.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return true
	}
	m.running = false
	close(m.shutdown)
	sessionID := m.sessionID
	idleDone, intensityDone := m.idleDone, m.intensityDone
	m.mu.Unlock()

	m.source.Stop()

	// Both joins share one absolute deadline so a wedged first loop
	// cannot starve the wait on the second.
	clean := true
	deadline := time.Now().Add(m.joinLimit)
	for _, done := range []chan struct{}{idleDone, intensityDone} {
		select {
		case <-done:
		case <-time.After(time.Until(deadline)):
			log.Printf("Monitoring loop did not exit within %v, abandoning", m.joinLimit)
			clean = false
		}
	}

	m.logEvent(sessionID, models.ActivityEvent{
		Timestamp: m.now(),
		Kind:      models.ActivitySystem,
		Intensity: 0.0,
		Details:   map[string]interface{}{"type": "monitoring_stopped"},
	})

	m.mu.Lock()
	m.sessionID = uuid.Nil
	m.paused = false
	m.history.clear()
	m.keyTimes.clear()
	m.mousePos.clear()
	m.mu.Unlock()

	log.Printf("Stopped activity monitoring for session %s", sessionID)
	return clean
}

// Pause suspends classification without tearing down loops or capture.
// While paused, input is ignored and the idle clock does not advance.
func (m *Monitor) Pause() bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return false
	}
	m.accumulateLocked(m.now())
	m.paused = true
	sessionID := m.sessionID
	m.mu.Unlock()

	m.logEvent(sessionID, models.ActivityEvent{
		Timestamp: m.now(),
		Kind:      models.ActivitySystem,
		Intensity: 0.0,
		Details:   map[string]interface{}{"type": "monitoring_paused"},
	})
	return true
}

func (m *Monitor) Resume() bool {
	m.mu.Lock()
	if !m.running || !m.paused {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	m.paused = false
	m.lastActivity = now
	m.lastTick = now
	m.idleState = false
	sessionID := m.sessionID
	m.mu.Unlock()

	m.logEvent(sessionID, models.ActivityEvent{
		Timestamp: m.now(),
		Kind:      models.ActivitySystem,
		Intensity: 1.0,
		Details:   map[string]interface{}{"type": "monitoring_resumed"},
	})
	return true
}

func (m *Monitor) IsIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.lastActivity) >= m.cfg.IdleThreshold
}

// Stats returns a point-in-time snapshot. Holds the mutex only for the
// arithmetic; never blocks the sampling loops beyond that.
func (m *Monitor) Stats() models.ActivityStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.sessionID == uuid.Nil {
		return models.ActivityStats{}
	}
	return m.statsLocked(m.now())
}

func (m *Monitor) Health() models.MonitorHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.MonitorHealth{
		Monitoring:       m.running,
		Paused:           m.paused,
		FallbackMode:     m.fallbackMode,
		CurrentSessionID: m.sessionID,
		HistorySize:      m.history.len(),
		LastActivity:     m.lastActivity,
	}
}

// OnActivity registers an observer for activity events. Observers run
// outside the monitor's lock; a panicking observer is isolated.
func (m *Monitor) OnActivity(cb func(models.ActivityEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activityCallbacks = append(m.activityCallbacks, cb)
}

// OnIdleChange registers an observer for idle-state flips.
func (m *Monitor) OnIdleChange(cb func(isIdle bool, ts time.Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleCallbacks = append(m.idleCallbacks, cb)
}

// ──── Input handlers (monitor implements Source's Handler) ────

func (m *Monitor) KeyPress(key string) {
	now := m.now()
	m.mu.Lock()
	if !m.running || m.paused {
		m.mu.Unlock()
		return
	}
	m.lastActivity = now
	m.keyTimes.push(now)
	intensity := m.keyboardIntensityLocked(now)
	m.mu.Unlock()

	m.emit(models.ActivityEvent{
		Timestamp: now,
		Kind:      models.ActivityKeyboard,
		Intensity: intensity,
		Details:   map[string]interface{}{"key": sanitizeKey(key)},
	})
}

func (m *Monitor) MouseMove(x, y float64) {
	m.mouseActivity(x, y, false)
}

func (m *Monitor) MouseClick(x, y float64) {
	m.mouseActivity(x, y, true)
}

func (m *Monitor) mouseActivity(x, y float64, click bool) {
	now := m.now()
	m.mu.Lock()
	if !m.running || m.paused {
		m.mu.Unlock()
		return
	}
	m.lastActivity = now
	m.mousePos.push(mouseSample{x: x, y: y, t: now})
	intensity := m.mouseIntensityLocked(now)
	m.mu.Unlock()

	m.emit(models.ActivityEvent{
		Timestamp: now,
		Kind:      models.ActivityMouse,
		Intensity: intensity,
		Details:   map[string]interface{}{"x": x, "y": y, "click": click},
	})
}

// ──── Background loops ────

func (m *Monitor) idleLoop(shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			m.safely("idle detection", func() { m.idleTick(m.now()) })
		}
	}
}

func (m *Monitor) intensityLoop(shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		var intensity float64
		m.safely("intensity calculation", func() { intensity = m.intensityTick(m.now()) })

		// Adaptive tick: sample faster while the user is busy.
		sleep := time.Second
		if intensity > 0.5 {
			sleep = 500 * time.Millisecond
		}
		select {
		case <-shutdown:
			return
		case <-time.After(sleep):
		}
	}
}

// idleTick advances the sampler clock and flips the idle boolean. It is
// the sole authority for idle transitions, which keeps them strictly
// ordered for the sink.
func (m *Monitor) idleTick(now time.Time) {
	m.mu.Lock()
	if !m.running || m.paused {
		m.mu.Unlock()
		return
	}
	m.accumulateLocked(now)

	currentlyIdle := now.Sub(m.lastActivity) >= m.cfg.IdleThreshold
	flipped := currentlyIdle != m.idleState
	if flipped {
		m.idleState = currentlyIdle
	}
	var idleCbs []func(bool, time.Time)
	if flipped {
		idleCbs = append(idleCbs, m.idleCallbacks...)
	}
	m.mu.Unlock()

	if !flipped {
		return
	}

	intensity := intensityFloor
	if currentlyIdle {
		intensity = 0.0
	}
	m.emit(models.ActivityEvent{
		Timestamp: now,
		Kind:      models.ActivityIdle,
		Intensity: intensity,
		Details:   map[string]interface{}{"idle_state": currentlyIdle},
	})
	if m.sink != nil {
		m.safely("idle sink update", func() { m.sink.UpdateIdleState(currentlyIdle, now) })
	}
	for _, cb := range idleCbs {
		cb := cb
		m.safely("idle callback", func() { cb(currentlyIdle, now) })
	}
}

// intensityTick recomputes overall intensity, emits a system event and
// runs periodic buffer cleanup. Returns the intensity for the adaptive
// sleep.
func (m *Monitor) intensityTick(now time.Time) float64 {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return 0
	}
	if now.Sub(m.lastCleanup) >= cleanupInterval {
		m.cleanupLocked(now)
		m.lastCleanup = now
	}
	intensity := m.overallIntensityLocked(now)
	paused := m.paused
	m.mu.Unlock()

	if !paused {
		m.emit(models.ActivityEvent{
			Timestamp: now,
			Kind:      models.ActivitySystem,
			Intensity: intensity,
			Details:   map[string]interface{}{"type": "intensity_update"},
		})
	}
	return intensity
}

// accumulateLocked folds time since the last tick into the sampler's
// active/idle counters.
func (m *Monitor) accumulateLocked(now time.Time) {
	delta := now.Sub(m.lastTick).Seconds()
	if delta > 0 {
		if m.idleState {
			m.idleSecs += delta
		} else {
			m.activeSecs += delta
		}
	}
	m.lastTick = now
}

// ──── Intensity calculations ────

func (m *Monitor) keyboardIntensityLocked(now time.Time) float64 {
	if m.keyTimes.len() < 2 {
		return intensityFloor
	}
	var recent []time.Time
	for _, t := range m.keyTimes.items() {
		if now.Sub(t) <= keyboardWindow {
			recent = append(recent, t)
		}
	}
	if len(recent) < 2 {
		return intensityFloor
	}

	span := recent[len(recent)-1].Sub(recent[0]).Seconds()
	if span <= 0 {
		return intensityFloor
	}
	keysPerSecond := float64(len(recent)) / span

	intensity := math.Min(keysPerSecond/maxKeysPerSecond, 1.0)
	return math.Max(intensity, intensityFloor)
}

func (m *Monitor) mouseIntensityLocked(now time.Time) float64 {
	if m.mousePos.len() < 2 {
		return intensityFloor
	}
	var recent []mouseSample
	for _, s := range m.mousePos.items() {
		if now.Sub(s.t) <= mouseWindow {
			recent = append(recent, s)
		}
	}
	if len(recent) < 2 {
		return intensityFloor
	}

	var totalDistance float64
	for i := 1; i < len(recent); i++ {
		dx := recent[i].x - recent[i-1].x
		dy := recent[i].y - recent[i-1].y
		totalDistance += math.Sqrt(dx*dx + dy*dy)
	}

	span := recent[len(recent)-1].t.Sub(recent[0].t).Seconds()
	if span <= 0 {
		return intensityFloor
	}
	avgVelocity := totalDistance / span

	intensity := math.Min(avgVelocity/maxMouseVelocity, 1.0)
	return math.Max(intensity, intensityFloor)
}

// overallIntensityLocked blends keyboard and mouse intensity, keyboard
// weighted heavier, then decays toward zero as the user approaches the
// idle threshold so the score falls smoothly instead of stepping.
func (m *Monitor) overallIntensityLocked(now time.Time) float64 {
	overall := m.keyboardIntensityLocked(now)*0.7 + m.mouseIntensityLocked(now)*0.3

	sinceActivity := now.Sub(m.lastActivity).Seconds()
	decay := math.Max(0, 1.0-sinceActivity/m.cfg.IdleThreshold.Seconds())

	return math.Max(overall*decay, 0.0)
}

func (m *Monitor) statsLocked(now time.Time) models.ActivityStats {
	active, idle := m.activeSecs, m.idleSecs
	if !m.paused {
		// Fold in time since the last idle-loop tick so reads are live.
		if delta := now.Sub(m.lastTick).Seconds(); delta > 0 {
			if m.idleState {
				idle += delta
			} else {
				active += delta
			}
		}
	}

	total := active + idle
	productivity := 0.0
	if total > 0 {
		productivity = active / total * 100
	}

	return models.ActivityStats{
		TotalSeconds:    int(total),
		ActiveSeconds:   int(active),
		IdleSeconds:     int(idle),
		Productivity:    math.Round(productivity*10) / 10,
		Intensity:       m.overallIntensityLocked(now),
		CurrentlyActive: !m.idleState && !m.paused,
	}
}

func (m *Monitor) cleanupLocked(now time.Time) {
	eventCutoff := now.Add(-eventRetention)
	m.history.retain(func(ev models.ActivityEvent) bool {
		return ev.Timestamp.After(eventCutoff)
	})

	rawCutoff := now.Add(-rawDataRetention)
	m.keyTimes.retain(func(t time.Time) bool {
		return t.After(rawCutoff)
	})
	m.mousePos.retain(func(s mouseSample) bool {
		return s.t.After(rawCutoff)
	})
}

// ──── Event fan-out ────

// emit records an event and fans it out to the sink, the durable log
// and registered observers, all outside the lock so a reentrant
// observer cannot deadlock.
func (m *Monitor) emit(ev models.ActivityEvent) {
	m.mu.Lock()
	m.history.push(ev)
	sessionID := m.sessionID
	cbs := make([]func(models.ActivityEvent), len(m.activityCallbacks))
	copy(cbs, m.activityCallbacks)
	m.mu.Unlock()

	if m.sink != nil && (ev.Kind == models.ActivityKeyboard || ev.Kind == models.ActivityMouse) {
		m.safely("activity sink update", func() { m.sink.UpdateActivity(ev) })
	}

	m.logEvent(sessionID, ev)

	for _, cb := range cbs {
		cb := cb
		m.safely("activity callback", func() { cb(ev) })
	}
}

func (m *Monitor) logEvent(sessionID uuid.UUID, ev models.ActivityEvent) {
	if m.logger == nil || sessionID == uuid.Nil {
		return
	}
	if err := m.logger.LogActivityEvent(sessionID, ev); err != nil {
		log.Printf("Failed to log activity event for session %s: %v", sessionID, err)
	}
}

// safely isolates a failure: a panicking observer or a transient error
// in a loop iteration must never terminate monitoring.
func (m *Monitor) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered panic in %s: %v", what, r)
		}
	}()
	fn()
}

// sanitizeKey strips anything that looks sensitive from a key name
// before it reaches the event log.
func sanitizeKey(key string) string {
	lower := strings.ToLower(key)
	for _, pattern := range []string{"password", "passwd", "pwd", "secret"} {
		if strings.Contains(lower, pattern) {
			return "[REDACTED]"
		}
	}
	if len(key) > 20 {
		return key[:20]
	}
	return key
}
