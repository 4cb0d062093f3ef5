package notifications

import (
	"time"

	"github.com/bissquit/status-dashboard/internal/incidents"
)

// Message is the published form of a committed incident transition.
type Message struct {
	Outcome     incidents.Outcome `json:"outcome"`
	IncidentID  string            `json:"incident_id"`
	ComponentID string            `json:"component_id,omitempty"`
	Impact      int               `json:"impact"`
	Status      string            `json:"status,omitempty"`
	Affected    []string          `json:"affected"`
	Actor       string            `json:"actor"`
	OccurredAt  time.Time         `json:"occurred_at"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// NewMessage builds a message from a transition.
func NewMessage(t incidents.Transition, now time.Time) Message {
	affected := t.Affected
	if affected == nil {
		affected = []string{}
	}
	return Message{
		Outcome:     t.Outcome,
		IncidentID:  t.IncidentID,
		ComponentID: t.ComponentID,
		Impact:      int(t.Impact),
		Status:      t.Status,
		Affected:    affected,
		Actor:       t.Actor,
		OccurredAt:  t.At,
		GeneratedAt: now,
	}
}
