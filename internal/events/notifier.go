package events

import "github.com/smazurov/virtualcam/internal/logging"

// Notifier publishes operator notices, gated by a runtime switch that is
// consulted on every call.
type Notifier struct {
	bus     *Bus
	enabled func() bool
	logger  logging.Logger
}

// NewNotifier creates a notifier. A nil enabled func always allows notices.
func NewNotifier(bus *Bus, enabled func() bool, logger logging.Logger) *Notifier {
	return &Notifier{bus: bus, enabled: enabled, logger: logger}
}

// Notify publishes a NoticeEvent if notices are enabled. The message is
// always logged.
func (n *Notifier) Notify(camera, message string) {
	if n == nil {
		return
	}
	n.logger.Info("Notice", "camera", camera, "message", message)
	if n.enabled != nil && !n.enabled() {
		return
	}
	n.bus.Publish(NoticeEvent{Camera: camera, Message: message})
}
