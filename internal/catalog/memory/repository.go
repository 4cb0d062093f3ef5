// Package memory provides an in-memory catalog repository.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/status-dashboard/internal/catalog"
	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/google/uuid"
)

// Repository implements catalog.Repository in process memory.
// Components are returned in insertion order.
type Repository struct {
	mu         sync.RWMutex
	components []domain.Component
	last       time.Time
	now        func() time.Time
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{now: time.Now}
}

// CreateComponent stores a component, assigning id and creation time.
func (r *Repository) CreateComponent(_ context.Context, component *domain.Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	component.ID = uuid.New().String()
	// Creation time is strictly increasing so resolution order equals insertion order.
	ts := r.now().UTC().Truncate(time.Microsecond)
	if !ts.After(r.last) {
		ts = r.last.Add(time.Microsecond)
	}
	r.last = ts
	component.CreatedAt = ts
	domain.SortAttributes(component.Attributes)

	r.components = append(r.components, clone(*component))
	return nil
}

// GetComponent returns a component by id.
func (r *Repository) GetComponent(_ context.Context, id string) (*domain.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.components {
		if c.ID == id {
			out := clone(c)
			return &out, nil
		}
	}
	return nil, catalog.ErrComponentNotFound
}

// ListComponentsByName returns components with the exact name.
func (r *Repository) ListComponentsByName(_ context.Context, name string) ([]domain.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Component, 0)
	for _, c := range r.components {
		if c.Name == name {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

// ListComponents returns components matching the filter.
func (r *Repository) ListComponents(_ context.Context, filter catalog.ComponentFilter) ([]domain.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Component, 0, len(r.components))
	for _, c := range r.components {
		if filter.Name != "" && c.Name != filter.Name {
			continue
		}
		if filter.AttributeName != "" && !hasAttribute(c, filter.AttributeName, filter.AttributeValue) {
			continue
		}
		out = append(out, clone(c))
	}
	return out, nil
}

// DeleteAll removes every component.
func (r *Repository) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.components = nil
	return nil
}

func hasAttribute(c domain.Component, name, value string) bool {
	for _, a := range c.Attributes {
		if a.Name == name && (value == "" || a.Value == value) {
			return true
		}
	}
	return false
}

func clone(c domain.Component) domain.Component {
	attrs := make([]domain.Attribute, len(c.Attributes))
	copy(attrs, c.Attributes)
	c.Attributes = attrs
	return c
}
