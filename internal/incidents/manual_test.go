package incidents_test

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/incidents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func TestEngine_CreateIncident_Validation(t *testing.T) {
	f := newFixture(t)
	cmp1 := f.component(t, "cmp1", nil)
	start := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      incidents.CreateIncidentInput
		wantErr error
	}{
		{
			name:    "unknown impact",
			in:      incidents.CreateIncidentInput{Text: "x", Impact: 9, ComponentIDs: []string{cmp1.ID}},
			wantErr: incidents.ErrInvalidImpact,
		},
		{
			name:    "no components",
			in:      incidents.CreateIncidentInput{Text: "x", Impact: 1},
			wantErr: incidents.ErrNoComponents,
		},
		{
			name:    "maintenance without end",
			in:      incidents.CreateIncidentInput{Text: "x", Impact: 0, StartDate: &start, ComponentIDs: []string{cmp1.ID}},
			wantErr: incidents.ErrInvalidDates,
		},
		{
			name: "maintenance ends before start",
			in: incidents.CreateIncidentInput{
				Text: "x", Impact: 0, StartDate: &start, EndDate: ptr(start.Add(-time.Hour)), ComponentIDs: []string{cmp1.ID},
			},
			wantErr: incidents.ErrInvalidDates,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateIncident(context.Background(), tt.in, "operator")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEngine_CreateIncident_MaintenanceDescription(t *testing.T) {
	f := newFixture(t)
	cmp1 := f.component(t, "cmp1", nil)
	start := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	inc, err := f.engine.CreateIncident(context.Background(), incidents.CreateIncidentInput{
		Text:         "db upgrade",
		Impact:       domain.ImpactMaintenance,
		StartDate:    &start,
		EndDate:      ptr(start.Add(time.Hour)),
		ComponentIDs: []string{cmp1.ID},
		Description:  "rolling restart",
	}, "operator")
	require.NoError(t, err)

	assert.False(t, inc.System)
	require.NotNil(t, inc.EndDate)
	require.Len(t, inc.Updates, 1)
	assert.Equal(t, domain.StatusDescription, inc.Updates[0].Status)
	assert.Equal(t, "rolling restart", inc.Updates[0].Text)
}

func TestEngine_CreateIncident_TakesOverComponents(t *testing.T) {
	f := newFixture(t)
	cmp1 := f.component(t, "cmp1", nil)
	cmp2 := f.component(t, "cmp2", nil)
	cmp3 := f.component(t, "cmp3", nil)

	multi := f.report(t, "cmp1", 1)
	f.report(t, "cmp2", 1)
	single := f.report(t, "cmp3", 2)

	inc, err := f.engine.CreateIncident(context.Background(), incidents.CreateIncidentInput{
		Text:         "network",
		Impact:       3,
		ComponentIDs: []string{cmp1.ID, cmp3.ID},
	}, "operator")
	require.NoError(t, err)

	assert.False(t, inc.System)
	assert.ElementsMatch(t, []string{cmp1.ID, cmp3.ID}, inc.ComponentIDs())
	require.Len(t, inc.Updates, 1)
	assert.Equal(t, "cmp1 moved from incident cmp1, cmp3 moved from incident cmp3", inc.Updates[0].Text)

	left, err := f.engine.GetIncident(context.Background(), multi.ID)
	require.NoError(t, err)
	assert.Nil(t, left.EndDate)
	assert.Equal(t, []string{cmp2.ID}, left.ComponentIDs())
	assert.Equal(t, "cmp1 moved to network", left.Updates[0].Text)

	closed, err := f.engine.GetIncident(context.Background(), single.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.EndDate)
	assert.Equal(t, "cmp3 moved to network, Incident closed by system", closed.Updates[0].Text)

	last := f.notifier.transitions[len(f.notifier.transitions)-1]
	assert.Equal(t, incidents.OutcomeCreated, last.Outcome)
	assert.Equal(t, "operator", last.Actor)
	assert.Equal(t, []string{inc.ID, multi.ID, single.ID}, last.Affected)
}

func TestEngine_AddUpdate(t *testing.T) {
	f := newFixture(t)
	f.component(t, "cmp1", nil)
	ctx := context.Background()

	inc := f.report(t, "cmp1", 1)

	updated, err := f.engine.AddUpdate(ctx, incidents.AddUpdateInput{
		IncidentID: inc.ID,
		Status:     domain.StatusFixing,
		Text:       "rolling back",
		Title:      "Bad deploy",
		Impact:     ptr(domain.Impact(3)),
	}, "operator")
	require.NoError(t, err)
	assert.False(t, updated.System, "a human update takes ownership")
	assert.Equal(t, "Bad deploy", updated.Text)
	assert.Equal(t, domain.Impact(1), updated.Impact, "progression statuses keep impact")
	assert.Equal(t, domain.StatusFixing, updated.Updates[0].Status)

	_, err = f.engine.AddUpdate(ctx, incidents.AddUpdateInput{IncidentID: inc.ID, Status: domain.StatusReopened}, "operator")
	assert.ErrorIs(t, err, incidents.ErrInvalidStatus, "open incidents cannot be reopened")

	_, err = f.engine.AddUpdate(ctx, incidents.AddUpdateInput{
		IncidentID: inc.ID,
		Status:     domain.StatusObserving,
		Date:       ptr(inc.StartDate.Add(-time.Hour)),
	}, "operator")
	assert.ErrorIs(t, err, incidents.ErrUpdateOutOfOrder)

	resolvedAt := updated.Updates[0].Timestamp.Add(time.Minute)
	resolved, err := f.engine.AddUpdate(ctx, incidents.AddUpdateInput{
		IncidentID: inc.ID,
		Status:     domain.StatusResolved,
		Text:       "fixed",
		Date:       &resolvedAt,
	}, "operator")
	require.NoError(t, err)
	require.NotNil(t, resolved.EndDate)
	assert.Equal(t, resolvedAt, *resolved.EndDate)
	assert.Equal(t, resolvedAt, resolved.Updates[0].Timestamp)

	reopened, err := f.engine.AddUpdate(ctx, incidents.AddUpdateInput{IncidentID: inc.ID, Status: domain.StatusReopened}, "operator")
	require.NoError(t, err)
	assert.Nil(t, reopened.EndDate)

	_, err = f.engine.AddUpdate(ctx, incidents.AddUpdateInput{IncidentID: "missing", Status: domain.StatusFixing}, "operator")
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestEngine_AddUpdate_ChangedRejectsEndBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.component(t, "cmp1", nil)
	ctx := context.Background()

	inc := f.report(t, "cmp1", 1)
	_, err := f.engine.AddUpdate(ctx, incidents.AddUpdateInput{IncidentID: inc.ID, Status: domain.StatusResolved}, "operator")
	require.NoError(t, err)

	_, err = f.engine.AddUpdate(ctx, incidents.AddUpdateInput{
		IncidentID: inc.ID,
		Status:     domain.StatusChanged,
		Date:       ptr(inc.StartDate.Add(-time.Hour)),
	}, "operator")
	assert.ErrorIs(t, err, incidents.ErrInvalidDates)

	changed, err := f.engine.AddUpdate(ctx, incidents.AddUpdateInput{
		IncidentID: inc.ID,
		Status:     domain.StatusChanged,
		Date:       ptr(inc.StartDate.Add(time.Hour)),
	}, "operator")
	require.NoError(t, err)
	assert.Equal(t, inc.StartDate.Add(time.Hour), *changed.EndDate)
}

func TestEngine_AddUpdate_Maintenance(t *testing.T) {
	f := newFixture(t)
	cmp1 := f.component(t, "cmp1", nil)
	ctx := context.Background()

	start := f.clock.Now().Add(time.Hour)
	maint, err := f.engine.CreateIncident(ctx, incidents.CreateIncidentInput{
		Text:         "upgrade",
		Impact:       domain.ImpactMaintenance,
		StartDate:    &start,
		EndDate:      ptr(start.Add(2 * time.Hour)),
		ComponentIDs: []string{cmp1.ID},
	}, "operator")
	require.NoError(t, err)

	_, err = f.engine.AddUpdate(ctx, incidents.AddUpdateInput{IncidentID: maint.ID, Status: domain.StatusFixing}, "operator")
	assert.ErrorIs(t, err, incidents.ErrInvalidStatus)

	_, err = f.engine.AddUpdate(ctx, incidents.AddUpdateInput{
		IncidentID: maint.ID,
		Status:     domain.StatusScheduled,
		Impact:     ptr(domain.Impact(2)),
	}, "operator")
	assert.ErrorIs(t, err, incidents.ErrInvalidImpact, "maintenance cannot turn into an incident")

	earlier := start.Add(-2 * time.Hour)
	moved, err := f.engine.AddUpdate(ctx, incidents.AddUpdateInput{
		IncidentID: maint.ID,
		Status:     domain.StatusInProgress,
		Date:       &earlier,
	}, "operator")
	require.NoError(t, err)
	assert.Equal(t, earlier, moved.StartDate)

	newEnd := start.Add(4 * time.Hour)
	modified, err := f.engine.AddUpdate(ctx, incidents.AddUpdateInput{
		IncidentID: maint.ID,
		Status:     domain.StatusModified,
		EndDate:    &newEnd,
	}, "operator")
	require.NoError(t, err)
	assert.Equal(t, newEnd, *modified.EndDate)

	completed, err := f.engine.AddUpdate(ctx, incidents.AddUpdateInput{IncidentID: maint.ID, Status: domain.StatusCompleted}, "operator")
	require.NoError(t, err)
	require.NotNil(t, completed.EndDate)
	assert.True(t, completed.EndDate.Before(newEnd))
}

func TestEngine_SeparateComponent(t *testing.T) {
	f := newFixture(t)
	cmp1 := f.component(t, "cmp1", nil)
	cmp2 := f.component(t, "cmp2", map[string]string{"region": "eu"})
	ctx := context.Background()

	src := f.report(t, "cmp1", 2)
	f.report(t, "cmp2", 2)

	created, err := f.engine.SeparateComponent(ctx, src.ID, cmp2.ID, "operator")
	require.NoError(t, err)
	assert.False(t, created.System)
	assert.Equal(t, "incident cmp1 (cmp2)", created.Text)
	assert.Equal(t, src.Impact, created.Impact)
	assert.Equal(t, src.StartDate, created.StartDate)
	assert.Equal(t, []string{cmp2.ID}, created.ComponentIDs())
	assert.Equal(t, "cmp2 (eu) moved from incident cmp1", created.Updates[0].Text)

	left, err := f.engine.GetIncident(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{cmp1.ID}, left.ComponentIDs())
	assert.Equal(t, "cmp2 (eu) moved to incident cmp1 (cmp2)", left.Updates[0].Text)

	_, err = f.engine.SeparateComponent(ctx, src.ID, cmp1.ID, "operator")
	assert.ErrorIs(t, err, incidents.ErrLastComponent)

	_, err = f.engine.SeparateComponent(ctx, src.ID, cmp2.ID, "operator")
	assert.ErrorIs(t, err, incidents.ErrComponentNotInIncident)
}
