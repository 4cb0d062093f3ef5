package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/pkg/ctxlog"
	"gopkg.in/yaml.v3"
)

// File is the catalog document used to bootstrap components.
type File struct {
	Components []FileComponent `yaml:"components"`
}

// FileComponent is a single catalog entry.
type FileComponent struct {
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes"`
}

// LoadFile reads a catalog document from disk.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseFile(f)
}

// ParseFile decodes and validates a catalog document.
func ParseFile(r io.Reader) (*File, error) {
	var file File
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return &file, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	for i, c := range file.Components {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: component #%d has no name", ErrInvalidCatalog, i+1)
		}
	}

	return &file, nil
}

// ProvisionResult summarises a provisioning run.
type ProvisionResult struct {
	Created int
	Skipped int
}

// Provision creates catalog components that do not resolve yet.
// Existing components are left untouched, so the operation can be repeated.
func (r *Resolver) Provision(ctx context.Context, file *File) (ProvisionResult, error) {
	var res ProvisionResult
	logger := ctxlog.FromContext(ctx)

	for _, entry := range file.Components {
		attrs := entry.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}

		_, err := r.Resolve(ctx, entry.Name, attrs)
		if err == nil {
			res.Skipped++
			continue
		}
		if !errors.Is(err, ErrComponentNotFound) {
			return res, fmt.Errorf("resolve %s: %w", entry.Name, err)
		}

		component := &domain.Component{
			Name:       entry.Name,
			Attributes: domain.AttributesFromMap(attrs),
		}
		if err := r.repo.CreateComponent(ctx, component); err != nil {
			return res, fmt.Errorf("create component %s: %w", entry.Name, err)
		}
		logger.Debug("component provisioned", "component_id", component.ID, "component", component.Display())
		res.Created++
	}

	return res, nil
}

// Purge removes all components.
func (r *Resolver) Purge(ctx context.Context) error {
	if err := r.repo.DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete components: %w", err)
	}
	return nil
}
