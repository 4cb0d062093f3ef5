// Package postgres provides PostgreSQL implementation of the catalog repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/status-dashboard/internal/catalog"
	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements the catalog.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateComponent inserts a component together with its attributes.
func (r *Repository) CreateComponent(ctx context.Context, component *domain.Component) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	query := `
		INSERT INTO components (name)
		VALUES ($1)
		RETURNING id, created_at
	`
	if err := tx.QueryRow(ctx, query, component.Name).Scan(&component.ID, &component.CreatedAt); err != nil {
		return fmt.Errorf("insert component: %w", err)
	}

	domain.SortAttributes(component.Attributes)
	attrQuery := `
		INSERT INTO component_attributes (component_id, name, value)
		VALUES ($1, $2, $3)
	`
	for _, a := range component.Attributes {
		if _, err := tx.Exec(ctx, attrQuery, component.ID, a.Name, a.Value); err != nil {
			return fmt.Errorf("insert attribute %s: %w", a.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetComponent retrieves a component by its ID.
func (r *Repository) GetComponent(ctx context.Context, id string) (*domain.Component, error) {
	query := `
		SELECT id, name, created_at
		FROM components
		WHERE id = $1
	`
	var c domain.Component
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrComponentNotFound
		}
		var pgErr *pgconn.PgError
		// 22P02: malformed uuid.
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return nil, catalog.ErrComponentNotFound
		}
		return nil, fmt.Errorf("get component: %w", err)
	}

	attrs, err := r.attributes(ctx, []string{c.ID})
	if err != nil {
		return nil, err
	}
	c.Attributes = attrs[c.ID]
	if c.Attributes == nil {
		c.Attributes = []domain.Attribute{}
	}
	return &c, nil
}

// ListComponentsByName returns components with exactly this name, oldest first.
func (r *Repository) ListComponentsByName(ctx context.Context, name string) ([]domain.Component, error) {
	return r.ListComponents(ctx, catalog.ComponentFilter{Name: name})
}

// ListComponents retrieves components matching the filter, oldest first.
func (r *Repository) ListComponents(ctx context.Context, filter catalog.ComponentFilter) ([]domain.Component, error) {
	query := `
		SELECT c.id, c.name, c.created_at
		FROM components c
		WHERE 1=1
	`
	var args []interface{}
	argNum := 1

	if filter.Name != "" {
		query += fmt.Sprintf(" AND c.name = $%d", argNum)
		args = append(args, filter.Name)
		argNum++
	}
	if filter.AttributeName != "" {
		sub := fmt.Sprintf(" AND EXISTS (SELECT 1 FROM component_attributes ca WHERE ca.component_id = c.id AND ca.name = $%d", argNum)
		args = append(args, filter.AttributeName)
		argNum++
		if filter.AttributeValue != "" {
			sub += fmt.Sprintf(" AND ca.value = $%d", argNum)
			args = append(args, filter.AttributeValue)
		}
		query += sub + ")"
	}

	query += " ORDER BY c.created_at, c.id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer rows.Close()

	components := make([]domain.Component, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var c domain.Component
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		components = append(components, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate components: %w", err)
	}

	if len(ids) == 0 {
		return components, nil
	}

	attrs, err := r.attributes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range components {
		components[i].Attributes = attrs[components[i].ID]
		if components[i].Attributes == nil {
			components[i].Attributes = []domain.Attribute{}
		}
	}
	return components, nil
}

// DeleteAll removes every component. Attributes and incident memberships cascade.
func (r *Repository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM components`); err != nil {
		return fmt.Errorf("delete components: %w", err)
	}
	return nil
}

// attributes loads name-ordered attributes of the given components.
func (r *Repository) attributes(ctx context.Context, componentIDs []string) (map[string][]domain.Attribute, error) {
	query := `
		SELECT component_id, name, value
		FROM component_attributes
		WHERE component_id = ANY($1)
		ORDER BY component_id, name
	`
	rows, err := r.db.Query(ctx, query, componentIDs)
	if err != nil {
		return nil, fmt.Errorf("get component attributes: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Attribute, len(componentIDs))
	for rows.Next() {
		var id string
		var a domain.Attribute
		if err := rows.Scan(&id, &a.Name, &a.Value); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		out[id] = append(out[id], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attributes: %w", err)
	}
	return out, nil
}
