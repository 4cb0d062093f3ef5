package catalog

import (
	"context"

	"github.com/bissquit/status-dashboard/internal/domain"
)

// Repository defines the interface for component catalog storage.
type Repository interface {
	CreateComponent(ctx context.Context, component *domain.Component) error
	GetComponent(ctx context.Context, id string) (*domain.Component, error)

	// ListComponentsByName returns components with exactly this name,
	// ordered by creation time and then by id.
	ListComponentsByName(ctx context.Context, name string) ([]domain.Component, error)
	ListComponents(ctx context.Context, filter ComponentFilter) ([]domain.Component, error)

	// DeleteAll removes every component together with its attributes.
	DeleteAll(ctx context.Context) error
}

// ComponentFilter represents filter criteria for listing components.
type ComponentFilter struct {
	Name           string
	AttributeName  string
	AttributeValue string
}
