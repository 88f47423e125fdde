package notify

import "log/slog"

// Lifecycle event names delivered to the sink.
const (
	EventReady          = "ready"
	EventPointsEarned   = "pointsEarned"
	EventActionDetected = "actionDetected"
)

// Sink receives fire-and-forget lifecycle notifications. No
// acknowledgment, no error channel; a sink must not block the caller.
type Sink interface {
	Notify(event string, payload map[string]any)
}

// Func adapts a function to the Sink interface.
type Func func(event string, payload map[string]any)

func (f Func) Notify(event string, payload map[string]any) { f(event, payload) }

// Slog logs every notification at info level. It is the default sink
// when no other sink is wired.
type Slog struct {
	Logger *slog.Logger
}

func (s Slog) Notify(event string, payload map[string]any) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "event", event, "payload", payload)
}
