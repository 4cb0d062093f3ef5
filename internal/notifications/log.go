package notifications

import (
	"context"
	"log/slog"
)

// LogPublisher writes transitions to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher logging at info level.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Name implements Publisher.
func (p *LogPublisher) Name() string { return "log" }

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, msg Message) error {
	p.logger.InfoContext(ctx, "incident transition",
		"outcome", msg.Outcome,
		"incident_id", msg.IncidentID,
		"component_id", msg.ComponentID,
		"impact", msg.Impact,
		"affected", msg.Affected,
		"actor", msg.Actor,
	)
	return nil
}
