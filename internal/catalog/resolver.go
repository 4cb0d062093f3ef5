// Package catalog resolves, lists and provisions status components.
package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/bissquit/status-dashboard/internal/domain"
)

// Resolver looks components up by name and a partial attribute set.
type Resolver struct {
	repo Repository
}

// NewResolver creates a new component resolver.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the first component named name whose attributes equal attrs
// or contain all of them. Candidates are checked oldest first, ties broken by id.
func (r *Resolver) Resolve(ctx context.Context, name string, attrs map[string]string) (*domain.Component, error) {
	candidates, err := r.repo.ListComponentsByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("list components by name: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	for i := range candidates {
		if candidates[i].Matches(attrs) {
			c := candidates[i]
			return &c, nil
		}
	}

	return nil, ErrComponentNotFound
}

// Get returns a component by id.
func (r *Resolver) Get(ctx context.Context, id string) (*domain.Component, error) {
	return r.repo.GetComponent(ctx, id)
}

// List returns components matching the filter.
func (r *Resolver) List(ctx context.Context, filter ComponentFilter) ([]domain.Component, error) {
	components, err := r.repo.ListComponents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	return components, nil
}
