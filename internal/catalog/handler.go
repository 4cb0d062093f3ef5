package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// ActiveIncidentsReader lists incidents currently covering components.
// Every requested id must be a key of the result.
type ActiveIncidentsReader interface {
	ListActiveForComponents(ctx context.Context, componentIDs []string) (map[string][]domain.Incident, error)
}

// ComponentStatus is a component with its active incidents and maintenances.
type ComponentStatus struct {
	domain.Component
	Incidents []domain.Incident `json:"incidents"`
}

// Handler handles HTTP requests for the component catalog.
type Handler struct {
	resolver  *Resolver
	incidents ActiveIncidentsReader
}

// NewHandler creates a new catalog handler.
func NewHandler(resolver *Resolver, incidents ActiveIncidentsReader) *Handler {
	return &Handler{
		resolver:  resolver,
		incidents: incidents,
	}
}

// RegisterRoutes registers public catalog routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/component_status", h.GetComponentStatus)
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrComponentNotFound, Status: http.StatusNotFound, Reason: "component_not_found"},
}

// GetComponentStatus handles GET /component_status request.
//
// With a name and at least one attribute the component is resolved the same
// way status reports are, and a single object is returned. Otherwise the
// matching components are listed; attr parameters then require a name.
func (h *Handler) GetComponentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	attrs, err := parseAttrs(q["attr"])
	if err != nil {
		httputil.ErrorWithReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if len(attrs) > 0 && q.Get("name") == "" {
		httputil.ErrorWithReason(w, http.StatusBadRequest, "validation", "attr requires name")
		return
	}
	if name := q.Get("attribute_name"); name != "" {
		attrs[name] = q.Get("attribute_value")
	}

	if name := q.Get("name"); name != "" && len(attrs) > 0 {
		component, err := h.resolver.Resolve(ctx, name, attrs)
		if err != nil {
			httputil.HandleError(ctx, w, err, errorMappings)
			return
		}
		statuses, err := h.withIncidents(ctx, []domain.Component{*component})
		if err != nil {
			httputil.HandleError(ctx, w, err, errorMappings)
			return
		}
		httputil.Success(w, http.StatusOK, statuses[0])
		return
	}

	components, err := h.resolver.List(ctx, ComponentFilter{
		Name:           q.Get("name"),
		AttributeName:  q.Get("attribute_name"),
		AttributeValue: q.Get("attribute_value"),
	})
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	out, err := h.withIncidents(ctx, components)
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, out)
}

func (h *Handler) withIncidents(ctx context.Context, components []domain.Component) ([]ComponentStatus, error) {
	out := make([]ComponentStatus, 0, len(components))
	if len(components) == 0 {
		return out, nil
	}

	ids := make([]string, len(components))
	for i, c := range components {
		ids[i] = c.ID
	}
	active, err := h.incidents.ListActiveForComponents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list active incidents: %w", err)
	}

	for _, c := range components {
		list := active[c.ID]
		if list == nil {
			list = []domain.Incident{}
		}
		out = append(out, ComponentStatus{Component: c, Incidents: list})
	}
	return out, nil
}

// parseAttrs reads repeated attr=key:value parameters.
func parseAttrs(values []string) (map[string]string, error) {
	attrs := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, ":")
		if !ok || key == "" {
			return nil, fmt.Errorf("attr must be key:value, got %q", v)
		}
		attrs[key] = value
	}
	return attrs, nil
}
