package monitor

import "errors"

// ErrCaptureUnavailable is returned by a Source that cannot deliver
// input events; the monitor then runs in timer-only fallback mode.
var ErrCaptureUnavailable = errors.New("input capture unavailable")

// Handler receives raw input events from a Source. The Monitor
// implements it.
type Handler interface {
	KeyPress(key string)
	MouseMove(x, y float64)
	MouseClick(x, y float64)
}

// Source is an input-capture backend. Start attaches the handler and
// begins delivering events; Stop detaches it. The production Source is
// the WebSocket hub, which forwards client telemetry.
type Source interface {
	Start(h Handler) error
	Stop()
}

// Disabled is the Source for deployments with input telemetry turned
// off. Starting it always fails, which puts the monitor in timer-only
// mode.
type Disabled struct{}

func (Disabled) Start(Handler) error { return ErrCaptureUnavailable }

func (Disabled) Stop() {}
