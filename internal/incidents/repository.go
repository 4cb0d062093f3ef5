package incidents

import (
	"context"
	"time"

	"github.com/bissquit/status-dashboard/internal/domain"
)

// Repository defines the interface for incident storage.
type Repository interface {
	// InTx runs fn as one all-or-nothing unit of work holding the reconciliation
	// lock of every listed component until it returns.
	InTx(ctx context.Context, componentIDs []string, fn func(ctx context.Context, tx Tx) error) error

	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]domain.Incident, error)
	ListActiveForComponent(ctx context.Context, componentID string, now time.Time) ([]domain.Incident, error)
	// ListActiveForComponents is ListActiveForComponent for many components at
	// once. Every requested id is a key of the result, possibly with an empty list.
	ListActiveForComponents(ctx context.Context, componentIDs []string, now time.Time) (map[string][]domain.Incident, error)
	ListClosedForComponent(ctx context.Context, componentID string, impact domain.Impact, since time.Time) ([]domain.Incident, error)

	// DeleteAll removes all incidents with their status log.
	DeleteAll(ctx context.Context) error
}

// Tx is the view of the store inside a unit of work.
// Lookups are indexed by component and by impact; "active" is evaluated at now.
type Tx interface {
	// ActiveMaintenanceFor returns the earliest started maintenance holding
	// the component, or nil. Maintenances carry a planned end date, so one is
	// active while start_date <= now < end_date rather than only while
	// end_date is null (see domain.Incident.IsActive).
	ActiveMaintenanceFor(ctx context.Context, componentID string, now time.Time) (*domain.Incident, error)
	ActiveManualFor(ctx context.Context, componentID string, now time.Time) ([]domain.Incident, error)
	ActiveSystemFor(ctx context.Context, componentID string, now time.Time) ([]domain.Incident, error)
	ActiveSystemByImpact(ctx context.Context, impact domain.Impact, excludeID string, now time.Time) (*domain.Incident, error)
	CountActiveSystem(ctx context.Context, now time.Time) (int, error)

	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	CreateIncident(ctx context.Context, incident *domain.Incident) error
	UpdateIncident(ctx context.Context, incident *domain.Incident) error
	AddComponent(ctx context.Context, incidentID string, component domain.Component) error
	RemoveComponent(ctx context.Context, incidentID, componentID string) error

	AppendStatus(ctx context.Context, status *domain.IncidentStatus) error
	LatestStatusTime(ctx context.Context, incidentID string) (time.Time, bool, error)
}

// IncidentFilter holds filter options for listing incidents.
type IncidentFilter struct {
	Active *bool
	Now    time.Time
	Limit  int
	Offset int
}
