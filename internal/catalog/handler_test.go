package catalog_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/bissquit/status-dashboard/internal/catalog"
	"github.com/bissquit/status-dashboard/internal/catalog/memory"
	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubIncidents returns a fixed list per component id and counts lookups.
type stubIncidents struct {
	byComponent map[string][]domain.Incident
	err         error
	calls       int
}

func (s *stubIncidents) ListActiveForComponents(_ context.Context, componentIDs []string) (map[string][]domain.Incident, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string][]domain.Incident, len(componentIDs))
	for _, id := range componentIDs {
		if list, ok := s.byComponent[id]; ok {
			out[id] = list
			continue
		}
		out[id] = []domain.Incident{}
	}
	return out, nil
}

func setupHandler(t *testing.T) (*testutil.Client, *stubIncidents, []domain.Component) {
	t.Helper()
	ctx := context.Background()

	repo := memory.NewRepository()
	components := []*domain.Component{
		{Name: "compute", Attributes: domain.AttributesFromMap(map[string]string{"region": "eu-de", "category": "vm"})},
		{Name: "compute", Attributes: domain.AttributesFromMap(map[string]string{"region": "eu-nl"})},
		{Name: "dns", Attributes: domain.AttributesFromMap(nil)},
	}
	out := make([]domain.Component, 0, len(components))
	for _, c := range components {
		require.NoError(t, repo.CreateComponent(ctx, c))
		out = append(out, *c)
	}

	incidents := &stubIncidents{byComponent: map[string][]domain.Incident{}}
	handler := catalog.NewHandler(catalog.NewResolver(repo), incidents)

	client := testutil.NewAPIServer(t, func(r chi.Router) {
		handler.RegisterRoutes(r)
	})
	return client, incidents, out
}

func TestHandler_GetComponentStatus_List(t *testing.T) {
	client, _, components := setupHandler(t)

	tests := []struct {
		name    string
		query   url.Values
		wantIDs []string
	}{
		{
			name:    "all components",
			query:   url.Values{},
			wantIDs: []string{components[0].ID, components[1].ID, components[2].ID},
		},
		{
			name:    "by name",
			query:   url.Values{"name": {"compute"}},
			wantIDs: []string{components[0].ID, components[1].ID},
		},
		{
			name:    "by attribute value",
			query:   url.Values{"attribute_name": {"region"}, "attribute_value": {"eu-nl"}},
			wantIDs: []string{components[1].ID},
		},
		{
			name:    "unknown name",
			query:   url.Values{"name": {"storage"}},
			wantIDs: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.GET("/api/v1/component_status?" + tt.query.Encode())
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var list []catalog.ComponentStatus
			testutil.DecodeData(t, resp, &list)

			ids := make([]string, 0, len(list))
			for _, c := range list {
				ids = append(ids, c.ID)
				assert.NotNil(t, c.Incidents)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestHandler_GetComponentStatus_Resolve(t *testing.T) {
	client, incidents, components := setupHandler(t)

	end := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	incidents.byComponent[components[1].ID] = []domain.Incident{{
		ID:         "inc-1",
		Text:       "Planned upgrade",
		Impact:     domain.ImpactMaintenance,
		StartDate:  end.Add(-time.Hour),
		EndDate:    &end,
		Components: []domain.Component{components[1]},
		Updates:    []domain.IncidentStatus{},
	}}

	resp, err := client.GET("/api/v1/component_status?name=compute&attr=region:eu-nl")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status catalog.ComponentStatus
	testutil.DecodeData(t, resp, &status)
	assert.Equal(t, components[1].ID, status.ID)
	require.Len(t, status.Incidents, 1)
	assert.Equal(t, "inc-1", status.Incidents[0].ID)

	// attribute_name/attribute_value select the same component.
	resp, err = client.GET("/api/v1/component_status?name=compute&attribute_name=region&attribute_value=eu-nl")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeData(t, resp, &status)
	assert.Equal(t, components[1].ID, status.ID)
}

func TestHandler_GetComponentStatus_Errors(t *testing.T) {
	client, incidents, _ := setupHandler(t)

	tests := []struct {
		name       string
		path       string
		fail       error
		wantStatus int
		wantReason string
	}{
		{
			name:       "unresolvable component",
			path:       "/api/v1/component_status?name=compute&attr=region:us-east",
			wantStatus: http.StatusNotFound,
			wantReason: "component_not_found",
		},
		{
			name:       "malformed attr",
			path:       "/api/v1/component_status?name=compute&attr=region",
			wantStatus: http.StatusBadRequest,
			wantReason: "validation",
		},
		{
			name:       "attr without name",
			path:       "/api/v1/component_status?attr=region:eu-de",
			wantStatus: http.StatusBadRequest,
			wantReason: "validation",
		},
		{
			name:       "incident lookup failure",
			path:       "/api/v1/component_status",
			fail:       errors.New("connection reset"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incidents.err = tt.fail
			defer func() { incidents.err = nil }()

			resp, err := client.GET(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, testutil.ErrorReason(t, resp))
			}
		})
	}
}

func TestHandler_GetComponentStatus_SingleIncidentLookup(t *testing.T) {
	client, incidents, components := setupHandler(t)
	incidents.byComponent[components[1].ID] = []domain.Incident{{
		ID:         "inc-1",
		Text:       "Elevated latency",
		Impact:     2,
		StartDate:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Components: []domain.Component{components[1]},
		Updates:    []domain.IncidentStatus{},
	}}

	resp, err := client.GET("/api/v1/component_status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []catalog.ComponentStatus
	testutil.DecodeData(t, resp, &list)
	require.Len(t, list, 3)
	assert.Equal(t, 1, incidents.calls, "incidents are read once for the whole list")

	for _, status := range list {
		if status.ID == components[1].ID {
			require.Len(t, status.Incidents, 1)
			assert.Equal(t, "inc-1", status.Incidents[0].ID)
			continue
		}
		assert.Empty(t, status.Incidents)
	}
}
