package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"studytrack-backend/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSink struct {
	mu        sync.Mutex
	activity  []models.ActivityEvent
	idleFlips []bool
}

func (s *fakeSink) UpdateActivity(ev models.ActivityEvent) {
	s.mu.Lock()
	s.activity = append(s.activity, ev)
	s.mu.Unlock()
}

func (s *fakeSink) UpdateIdleState(isIdle bool, ts time.Time) {
	s.mu.Lock()
	s.idleFlips = append(s.idleFlips, isIdle)
	s.mu.Unlock()
}

func (s *fakeSink) flips() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.idleFlips...)
}

type fakeLogger struct {
	mu     sync.Mutex
	events []models.ActivityEvent
}

func (l *fakeLogger) LogActivityEvent(sessionID uuid.UUID, ev models.ActivityEvent) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func newTestMonitor(sink Sink, logger EventLogger) (*Monitor, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := New(Config{IdleThreshold: 3 * time.Second, CheckInterval: 100 * time.Millisecond}, sink, logger, Disabled{})
	m.now = clk.Now
	return m, clk
}

// beginSampling puts the monitor in the running state without launching
// the background loops, so ticks can be driven deterministically.
func beginSampling(m *Monitor, id uuid.UUID) {
	now := m.now()
	m.running = true
	m.sessionID = id
	m.lastActivity = now
	m.startTime = now
	m.lastTick = now
	m.lastCleanup = now
}

func TestKeyboardIntensity_FastTypingClampsToOne(t *testing.T) {
	m, clk := newTestMonitor(nil, nil)
	beginSampling(m, uuid.New())

	// 10 keypresses 100ms apart: well above 10 keys/sec after clamping
	for i := 0; i < 10; i++ {
		m.KeyPress("a")
		clk.Advance(100 * time.Millisecond)
	}

	got := m.keyboardIntensityLocked(clk.Now())
	if got != 1.0 {
		t.Errorf("Expected intensity 1.0 for fast typing, got %v", got)
	}
}

func TestKeyboardIntensity_Floor(t *testing.T) {
	m, clk := newTestMonitor(nil, nil)
	beginSampling(m, uuid.New())

	if got := m.keyboardIntensityLocked(clk.Now()); got != intensityFloor {
		t.Errorf("Expected floor %v with no keypresses, got %v", intensityFloor, got)
	}

	m.KeyPress("a")
	if got := m.keyboardIntensityLocked(clk.Now()); got != intensityFloor {
		t.Errorf("Expected floor %v with a single keypress, got %v", intensityFloor, got)
	}

	// Presses older than the 5s window stop counting
	m.KeyPress("b")
	clk.Advance(6 * time.Second)
	if got := m.keyboardIntensityLocked(clk.Now()); got != intensityFloor {
		t.Errorf("Expected floor %v once presses aged out, got %v", intensityFloor, got)
	}
}

func TestMouseIntensity_VelocityScaling(t *testing.T) {
	m, clk := newTestMonitor(nil, nil)
	beginSampling(m, uuid.New())

	// 500px in 1s = half of max velocity
	m.MouseMove(0, 0)
	clk.Advance(1 * time.Second)
	m.MouseMove(500, 0)

	got := m.mouseIntensityLocked(clk.Now())
	if got < 0.49 || got > 0.51 {
		t.Errorf("Expected intensity near 0.5 for 500 px/s, got %v", got)
	}
}

func TestMouseIntensity_ClampsToOne(t *testing.T) {
	m, clk := newTestMonitor(nil, nil)
	beginSampling(m, uuid.New())

	m.MouseClick(0, 0)
	clk.Advance(500 * time.Millisecond)
	m.MouseClick(3000, 0)

	if got := m.mouseIntensityLocked(clk.Now()); got != 1.0 {
		t.Errorf("Expected intensity clamped to 1.0, got %v", got)
	}
}

func TestOverallIntensity_DecaysTowardIdleThreshold(t *testing.T) {
	m, clk := newTestMonitor(nil, nil)
	beginSampling(m, uuid.New())

	for i := 0; i < 10; i++ {
		m.KeyPress("a")
		clk.Advance(100 * time.Millisecond)
	}

	fresh := m.overallIntensityLocked(clk.Now())

	// Halfway to the 3s threshold the score should have dropped
	clk.Advance(1500 * time.Millisecond)
	halfway := m.overallIntensityLocked(clk.Now())
	if halfway >= fresh {
		t.Errorf("Expected decay: fresh %v, halfway %v", fresh, halfway)
	}

	// At the threshold it reaches zero
	clk.Advance(1500 * time.Millisecond)
	if got := m.overallIntensityLocked(clk.Now()); got != 0 {
		t.Errorf("Expected intensity 0 at idle threshold, got %v", got)
	}
}

func TestIdleTick_FlipsExactlyOnce(t *testing.T) {
	sink := &fakeSink{}
	m, clk := newTestMonitor(sink, nil)
	beginSampling(m, uuid.New())

	// Cross the threshold, then tick repeatedly
	clk.Advance(4 * time.Second)
	for i := 0; i < 5; i++ {
		m.idleTick(clk.Now())
		clk.Advance(100 * time.Millisecond)
	}

	flips := sink.flips()
	if len(flips) != 1 || !flips[0] {
		t.Fatalf("Expected exactly one idle=true flip, got %v", flips)
	}

	// Activity resets the clock; the next tick flips back once
	m.KeyPress("a")
	for i := 0; i < 5; i++ {
		m.idleTick(clk.Now())
		clk.Advance(100 * time.Millisecond)
	}

	flips = sink.flips()
	if len(flips) != 2 || flips[1] {
		t.Fatalf("Expected a single idle=false flip after activity, got %v", flips)
	}
}

func TestIdleTick_TimeAccounting(t *testing.T) {
	m, clk := newTestMonitor(nil, nil)
	beginSampling(m, uuid.New())

	// 2s of activity ticks
	for i := 0; i < 20; i++ {
		clk.Advance(100 * time.Millisecond)
		m.idleTick(clk.Now())
	}

	// Then 4s of silence: the first 3s still counts as active (idle
	// state flips when the threshold is crossed), the last second idles
	for i := 0; i < 40; i++ {
		clk.Advance(100 * time.Millisecond)
		m.idleTick(clk.Now())
	}

	stats := m.Stats()
	if stats.TotalSeconds != 6 {
		t.Errorf("Expected 6 total seconds, got %d", stats.TotalSeconds)
	}
	if stats.IdleSeconds < 1 || stats.IdleSeconds > 3 {
		t.Errorf("Expected idle seconds in [1,3], got %d", stats.IdleSeconds)
	}
	if stats.ActiveSeconds+stats.IdleSeconds != stats.TotalSeconds {
		t.Errorf("Active %d + idle %d should equal total %d", stats.ActiveSeconds, stats.IdleSeconds, stats.TotalSeconds)
	}
}

func TestKeyPress_IgnoredWhilePaused(t *testing.T) {
	sink := &fakeSink{}
	m, clk := newTestMonitor(sink, nil)
	beginSampling(m, uuid.New())

	m.Pause()

	before := m.lastActivity
	clk.Advance(time.Second)
	m.KeyPress("a")

	if !m.lastActivity.Equal(before) {
		t.Errorf("Expected lastActivity unchanged while paused")
	}
	if len(sink.activity) != 0 {
		t.Errorf("Expected no sink updates while paused, got %d", len(sink.activity))
	}

	if !m.Resume() {
		t.Fatal("Expected Resume to succeed")
	}
	m.KeyPress("b")
	if len(sink.activity) != 1 {
		t.Errorf("Expected sink update after resume, got %d", len(sink.activity))
	}
}

func TestMonitor_StartStopLifecycle(t *testing.T) {
	logger := &fakeLogger{}
	m := New(Config{}, nil, logger, Disabled{})

	id := uuid.New()
	if m.Start(id) {
		t.Error("Expected degraded start with disabled input capture")
	}

	health := m.Health()
	if !health.Monitoring {
		t.Error("Expected monitoring true after start")
	}
	if !health.FallbackMode {
		t.Error("Expected fallback mode with disabled capture")
	}
	if health.CurrentSessionID != id {
		t.Errorf("Expected session %s, got %s", id, health.CurrentSessionID)
	}

	// Second start is a no-op
	if !m.Start(uuid.New()) {
		t.Error("Expected idempotent start to report success")
	}
	if got := m.Health().CurrentSessionID; got != id {
		t.Errorf("Expected original session %s, got %s", id, got)
	}

	if !m.Stop() {
		t.Error("Expected clean stop")
	}
	if m.Health().Monitoring {
		t.Error("Expected monitoring false after stop")
	}

	// Stop when not running is fine
	if !m.Stop() {
		t.Error("Expected stop on stopped monitor to succeed")
	}
}

func TestMonitor_StopAbandonsWedgedLoops(t *testing.T) {
	m := New(Config{IdleThreshold: 20 * time.Millisecond, CheckInterval: 5 * time.Millisecond}, nil, nil, Disabled{})
	m.joinLimit = 100 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	m.OnActivity(func(models.ActivityEvent) { <-release })

	m.Start(uuid.New())
	// The intensity loop blocks in the observer on its first sample and
	// the idle loop blocks on the idle flip shortly after.
	time.Sleep(60 * time.Millisecond)

	done := make(chan bool, 1)
	go func() { done <- m.Stop() }()

	select {
	case clean := <-done:
		if clean {
			t.Error("Expected Stop to report abandoned loops")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the join limit")
	}
	if m.Health().Monitoring {
		t.Error("Expected monitoring false after abandoned stop")
	}
}

func TestIntensityTick_CleansOldBuffers(t *testing.T) {
	m, clk := newTestMonitor(nil, nil)
	beginSampling(m, uuid.New())

	m.KeyPress("a")
	m.MouseMove(10, 10)
	if m.history.len() == 0 {
		t.Fatal("Expected history entries")
	}

	// Past the raw-data retention and cleanup interval
	clk.Advance(2 * time.Minute)
	m.intensityTick(clk.Now())

	if m.keyTimes.len() != 0 {
		t.Errorf("Expected key buffer pruned, got %d entries", m.keyTimes.len())
	}
	if m.mousePos.len() != 0 {
		t.Errorf("Expected mouse buffer pruned, got %d entries", m.mousePos.len())
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain key", "a", "a"},
		{"named key", "Enter", "Enter"},
		{"password field", "my_password_field", "[REDACTED]"},
		{"pwd variant", "PwdEntry", "[REDACTED]"},
		{"secret variant", "the-secret-key", "[REDACTED]"},
		{"long key truncated", "abcdefghijklmnopqrstuvwxyz", "abcdefghijklmnopqrst"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeKey(tc.in); got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}
