package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/autoflow/errors"
	"github.com/c360/autoflow/event"
	"github.com/c360/autoflow/rule"
)

// Built-in action types registered by the engine. Everything else is
// supplied by external handler implementations.
const (
	TypeLog          = "log"
	TypePublishEvent = "publish_event"
)

// Publisher abstracts the transport the publish_event handler emits on.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NewLogHandler returns a handler that records the event through the
// engine's structured logger. Useful for rule debugging and audit trails.
func NewLogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "log-action")

	return HandlerFunc(func(_ context.Context, act rule.Action, e *event.SystemEvent) (map[string]any, error) {
		level := slog.LevelInfo
		if lvl, ok := act.Config["level"].(string); ok && lvl == "warn" {
			level = slog.LevelWarn
		}

		log.Log(context.Background(), level, "Rule action fired",
			"event_type", e.EventType,
			"event_id", e.ID,
			"entity_type", e.EntityType,
			"entity_id", e.EntityID)

		return map[string]any{"logged": true}, nil
	})
}

// NewPublishHandler returns a handler that re-emits the triggering event on
// a configured subject, letting rules feed downstream consumers.
func NewPublishHandler(publisher Publisher, defaultSubject string) Handler {
	return HandlerFunc(func(ctx context.Context, act rule.Action, e *event.SystemEvent) (map[string]any, error) {
		subject := defaultSubject
		if s, ok := act.Config["subject"].(string); ok && s != "" {
			subject = s
		}
		if subject == "" {
			return nil, errors.WrapInvalid(
				fmt.Errorf("no subject configured"),
				"PublishHandler", "Execute", "resolve subject")
		}

		envelope := map[string]any{
			"event":        e,
			"published_at": time.Now().UTC().Format(time.RFC3339),
			"origin":       "automation-engine",
		}
		data, err := json.Marshal(envelope)
		if err != nil {
			return nil, errors.Wrap(err, "PublishHandler", "Execute", "marshal envelope")
		}

		if err := publisher.Publish(ctx, subject, data); err != nil {
			return nil, errors.WrapTransient(err, "PublishHandler", "Execute",
				fmt.Sprintf("publish to %s", subject))
		}

		return map[string]any{"subject": subject}, nil
	})
}

// RegisterBuiltins installs the engine's built-in handlers.
func RegisterBuiltins(registry *Registry, logger *slog.Logger, publisher Publisher, publishSubject string) {
	registry.Register(TypeLog, NewLogHandler(logger))
	if publisher != nil {
		registry.Register(TypePublishEvent, NewPublishHandler(publisher, publishSubject))
	}
}
