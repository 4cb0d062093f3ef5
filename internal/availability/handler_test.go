package availability_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bissquit/status-dashboard/internal/availability"
	"github.com/bissquit/status-dashboard/internal/catalog"
	catalogmemory "github.com/bissquit/status-dashboard/internal/catalog/memory"
	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedOutages []domain.Incident

func (f fixedOutages) ListClosedForComponent(_ context.Context, _ string, _ domain.Impact, _ time.Time) ([]domain.Incident, error) {
	return f, nil
}

func setupHandler(t *testing.T) (*testutil.Client, domain.Component) {
	t.Helper()

	repo := catalogmemory.NewRepository()
	cmp := &domain.Component{Name: "compute", Attributes: []domain.Attribute{}}
	require.NoError(t, repo.CreateComponent(context.Background(), cmp))

	now := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	start := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)

	calc := availability.NewCalculator(
		fixedOutages{{Impact: 3, StartDate: start, EndDate: &end}},
		availability.Config{Impacts: domain.MustImpacts(domain.DefaultImpactLevels()), MaxMonths: 12},
		availability.WithClock(func() time.Time { return now }),
	)
	h := availability.NewHandler(calc, catalog.NewResolver(repo), 6)

	client := testutil.NewAPIServer(t, func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return client, *cmp
}

func TestHandler_GetAvailability(t *testing.T) {
	client, cmp := setupHandler(t)

	tests := []struct {
		name    string
		query   string
		wantLen int
	}{
		{name: "default months", query: "", wantLen: 6},
		{name: "explicit months", query: "?months=2", wantLen: 2},
		{name: "capped at max", query: "?months=100", wantLen: 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.GET("/api/v1/components/" + cmp.ID + "/availability" + tt.query)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var months []availability.MonthAvailability
			testutil.DecodeData(t, resp, &months)
			require.Len(t, months, tt.wantLen)

			march := months[0]
			assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), march.Month)
			assert.InDelta(t, 180, march.OutageMinutes, 1e-9)
			assert.InDelta(t, 1-180/march.Minutes, march.Ratio, 1e-12)
			for _, m := range months[1:] {
				assert.Equal(t, 1.0, m.Ratio)
			}
		})
	}
}

func TestHandler_GetAvailability_Errors(t *testing.T) {
	client, cmp := setupHandler(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantReason string
	}{
		{
			name:       "unknown component",
			path:       "/api/v1/components/2b7c1f3e-4d6a-4e8b-9f0a-1c2d3e4f5a6b/availability",
			wantStatus: http.StatusNotFound,
			wantReason: "component_not_found",
		},
		{
			name:       "zero months",
			path:       "/api/v1/components/" + cmp.ID + "/availability?months=0",
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_months",
		},
		{
			name:       "months not a number",
			path:       "/api/v1/components/" + cmp.ID + "/availability?months=six",
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_months",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.GET(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantReason, testutil.ErrorReason(t, resp))
		})
	}
}
