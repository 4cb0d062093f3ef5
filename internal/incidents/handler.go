package incidents

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/status-dashboard/internal/catalog"
	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Pagination constants.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Handler handles HTTP requests for status reports and incidents.
type Handler struct {
	engine    *Engine
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{
		engine:    engine,
		validator: validator.New(),
	}
}

// RegisterRoutes registers public read routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/incidents", h.ListIncidents)
	r.Get("/incidents/{id}", h.GetIncident)
}

// RegisterWriteRoutes registers routes that change incidents.
// The caller is expected to put authentication in front of them.
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/component_status", h.ReportStatus)
	r.Post("/incidents", h.CreateIncident)
	r.Post("/incidents/{id}/updates", h.AddUpdate)
	r.Post("/incidents/{id}/separate/{componentID}", h.SeparateComponent)
}

// AttributeRequest is a single component attribute.
type AttributeRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Value string `json:"value" validate:"required,max=255"`
}

// ReportStatusRequest represents the request body of a component status report.
type ReportStatusRequest struct {
	Name       string             `json:"name" validate:"required,max=255"`
	Impact     *int               `json:"impact" validate:"required"`
	Text       string             `json:"text" validate:"max=255"`
	Attributes []AttributeRequest `json:"attributes" validate:"dive"`
}

// ToInput converts the request to an engine input.
func (r *ReportStatusRequest) ToInput() ReportInput {
	attrs := make(map[string]string, len(r.Attributes))
	for _, a := range r.Attributes {
		attrs[a.Name] = a.Value
	}
	return ReportInput{
		Name:       r.Name,
		Attributes: attrs,
		Impact:     domain.Impact(*r.Impact),
		Text:       r.Text,
	}
}

// CreateIncidentRequest represents the request body for opening an incident or maintenance.
type CreateIncidentRequest struct {
	Text         string     `json:"text" validate:"required,max=255"`
	Impact       *int       `json:"impact" validate:"required"`
	StartDate    *time.Time `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
	ComponentIDs []string   `json:"component_ids" validate:"required,min=1,dive,required"`
	Description  string     `json:"description"`
}

// ToInput converts the request to an engine input.
func (r *CreateIncidentRequest) ToInput() CreateIncidentInput {
	return CreateIncidentInput{
		Text:         r.Text,
		Impact:       domain.Impact(*r.Impact),
		StartDate:    truncate(r.StartDate),
		EndDate:      truncate(r.EndDate),
		ComponentIDs: r.ComponentIDs,
		Description:  r.Description,
	}
}

// AddUpdateRequest represents the request body of a status progression entry.
type AddUpdateRequest struct {
	Status    string     `json:"status" validate:"required"`
	Text      string     `json:"text"`
	Title     string     `json:"title" validate:"max=255"`
	Impact    *int       `json:"impact"`
	Date      *time.Time `json:"date"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// ToInput converts the request to an engine input.
func (r *AddUpdateRequest) ToInput(incidentID string) AddUpdateInput {
	in := AddUpdateInput{
		IncidentID: incidentID,
		Status:     r.Status,
		Text:       r.Text,
		Title:      r.Title,
		Date:       truncate(r.Date),
		StartDate:  truncate(r.StartDate),
		EndDate:    truncate(r.EndDate),
	}
	if r.Impact != nil {
		impact := domain.Impact(*r.Impact)
		in.Impact = &impact
	}
	return in
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidImpact, Status: http.StatusBadRequest, Reason: "invalid_impact"},
	{Error: catalog.ErrComponentNotFound, Status: http.StatusBadRequest, Reason: "component_not_found"},
	{Error: ErrInvalidStatus, Status: http.StatusBadRequest, Reason: "invalid_status"},
	{Error: ErrInvalidDates, Status: http.StatusBadRequest, Reason: "invalid_dates"},
	{Error: ErrNoComponents, Status: http.StatusBadRequest, Reason: "validation"},
	{Error: ErrComponentNotInIncident, Status: http.StatusBadRequest, Reason: "component_not_in_incident"},
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Reason: "incident_not_found"},
	{Error: ErrUpdateOutOfOrder, Status: http.StatusConflict, Reason: "update_out_of_order"},
	{Error: ErrLastComponent, Status: http.StatusConflict, Reason: "last_component"},
	{Error: ErrConcurrencyConflict, Status: http.StatusConflict, Reason: "concurrency_conflict"},
	{Error: ErrEngineInvariantViolation, Status: http.StatusInternalServerError, Reason: "invariant_violation", Message: "internal error"},
}

// ReportStatus handles POST /component_status request.
func (h *Handler) ReportStatus(w http.ResponseWriter, r *http.Request) {
	var req ReportStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	incident, err := h.engine.ReportStatus(r.Context(), req.ToInput())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// CreateIncident handles POST /incidents request.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if !h.decode(w, r, &req) {
		return
	}

	incident, err := h.engine.CreateIncident(r.Context(), req.ToInput(), httputil.GetUsername(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// AddUpdate handles POST /incidents/{id}/updates request.
func (h *Handler) AddUpdate(w http.ResponseWriter, r *http.Request) {
	var req AddUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	incident, err := h.engine.AddUpdate(r.Context(), req.ToInput(chi.URLParam(r, "id")), httputil.GetUsername(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// SeparateComponent handles POST /incidents/{id}/separate/{componentID} request.
func (h *Handler) SeparateComponent(w http.ResponseWriter, r *http.Request) {
	incident, err := h.engine.SeparateComponent(r.Context(),
		chi.URLParam(r, "id"),
		chi.URLParam(r, "componentID"),
		httputil.GetUsername(r.Context()),
	)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.engine.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// ListIncidents handles GET /incidents request.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := IncidentFilter{Limit: DefaultListLimit}

	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			httputil.ErrorWithReason(w, http.StatusBadRequest, "validation", "active must be true or false")
			return
		}
		filter.Active = &active
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			httputil.ErrorWithReason(w, http.StatusBadRequest, "validation", "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, MaxListLimit)
	}

	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			httputil.ErrorWithReason(w, http.StatusBadRequest, "validation", "offset must not be negative")
			return
		}
		filter.Offset = offset
	}

	list, err := h.engine.ListIncidents(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		httputil.ErrorWithReason(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return false
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

// truncate drops sub-microsecond precision that storage would not keep.
func truncate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Microsecond)
	return &v
}
