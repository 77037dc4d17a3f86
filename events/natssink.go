package events

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix scopes published event subjects.
const SubjectPrefix = "albench.events."

// NATSListener publishes events to "albench.events.<kind>" subjects. A nil
// connection degrades gracefully to a no-op, so wiring stays unconditional.
func NATSListener(nc *nats.Conn, logger *slog.Logger) Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ev Event) {
		if nc == nil {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Warn("Marshal event for NATS", "kind", ev.Kind, "error", err)
			return
		}
		if err := nc.Publish(SubjectPrefix+string(ev.Kind), data); err != nil {
			logger.Warn("Publish event to NATS", "kind", ev.Kind, "error", err)
		}
	}
}
