package availability

import (
	"context"
	"net/http"
	"strconv"

	"github.com/bissquit/status-dashboard/internal/catalog"
	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// ComponentGetter looks a component up by id.
type ComponentGetter interface {
	Get(ctx context.Context, id string) (*domain.Component, error)
}

// Handler serves availability reports.
type Handler struct {
	calculator    *Calculator
	components    ComponentGetter
	defaultMonths int
}

// NewHandler creates a new availability handler.
func NewHandler(calculator *Calculator, components ComponentGetter, defaultMonths int) *Handler {
	return &Handler{
		calculator:    calculator,
		components:    components,
		defaultMonths: defaultMonths,
	}
}

// RegisterRoutes registers public availability routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/components/{id}/availability", h.GetAvailability)
}

var errorMappings = []httputil.ErrorMapping{
	{Error: catalog.ErrComponentNotFound, Status: http.StatusNotFound, Reason: "component_not_found"},
	{Error: ErrInvalidMonths, Status: http.StatusBadRequest, Reason: "invalid_months"},
}

// GetAvailability handles GET /components/{id}/availability request.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	months := h.defaultMonths
	if v := r.URL.Query().Get("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.ErrorWithReason(w, http.StatusBadRequest, "invalid_months", "months must be an integer")
			return
		}
		months = n
	}

	component, err := h.components.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	result, err := h.calculator.MonthlyAvailability(ctx, component.ID, months)
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}
