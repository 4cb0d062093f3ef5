package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/incidents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0   = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cmp1 = domain.Component{ID: "cmp1", Name: "cmp1"}
	cmp2 = domain.Component{ID: "cmp2", Name: "cmp2"}
)

func create(t *testing.T, r *Repository, inc *domain.Incident) string {
	t.Helper()
	err := r.InTx(context.Background(), nil, func(ctx context.Context, tx incidents.Tx) error {
		return tx.CreateIncident(ctx, inc)
	})
	require.NoError(t, err)
	require.NotEmpty(t, inc.ID)
	return inc.ID
}

func TestRepository_ListActiveForComponents(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	end := t0.Add(time.Hour)
	maintID := create(t, r, &domain.Incident{Text: "m", Impact: 0, StartDate: t0.Add(-time.Hour), EndDate: &end, Components: []domain.Component{cmp1}})
	sharedID := create(t, r, &domain.Incident{Text: "h", Impact: 1, StartDate: t0, Components: []domain.Component{cmp1, cmp2}})
	create(t, r, &domain.Incident{Text: "future", Impact: 2, StartDate: t0.Add(time.Hour), System: true, Components: []domain.Component{cmp2}})

	got, err := r.ListActiveForComponents(ctx, []string{"cmp1", "cmp2", "cmp3"}, t0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	ids := func(list []domain.Incident) []string {
		out := make([]string, 0, len(list))
		for _, inc := range list {
			out = append(out, inc.ID)
		}
		return out
	}
	assert.Equal(t, []string{maintID, sharedID}, ids(got["cmp1"]))
	assert.Equal(t, []string{sharedID}, ids(got["cmp2"]))
	assert.NotNil(t, got["cmp3"])
	assert.Empty(t, got["cmp3"])
}

func TestRepository_ActiveLookups(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	end := t0.Add(time.Hour)
	maintID := create(t, r, &domain.Incident{Text: "m", Impact: 0, StartDate: t0.Add(-time.Hour), EndDate: &end, Components: []domain.Component{cmp1}})
	sysID := create(t, r, &domain.Incident{Text: "s", Impact: 2, StartDate: t0, System: true, Components: []domain.Component{cmp1}})
	manualID := create(t, r, &domain.Incident{Text: "h", Impact: 1, StartDate: t0, Components: []domain.Component{cmp1, cmp2}})
	create(t, r, &domain.Incident{Text: "future", Impact: 2, StartDate: t0.Add(time.Hour), System: true, Components: []domain.Component{cmp2}})

	err := r.InTx(ctx, []string{"cmp1"}, func(ctx context.Context, tx incidents.Tx) error {
		m, err := tx.ActiveMaintenanceFor(ctx, "cmp1", t0)
		require.NoError(t, err)
		// A maintenance stays current until its planned end.
		require.NotNil(t, m)
		assert.Equal(t, maintID, m.ID)

		manual, err := tx.ActiveManualFor(ctx, "cmp1", t0)
		require.NoError(t, err)
		require.Len(t, manual, 1)
		assert.Equal(t, manualID, manual[0].ID)

		system, err := tx.ActiveSystemFor(ctx, "cmp1", t0)
		require.NoError(t, err)
		require.Len(t, system, 1)
		assert.Equal(t, sysID, system[0].ID)

		byImpact, err := tx.ActiveSystemByImpact(ctx, 2, "", t0)
		require.NoError(t, err)
		require.NotNil(t, byImpact)
		assert.Equal(t, sysID, byImpact.ID)

		excluded, err := tx.ActiveSystemByImpact(ctx, 2, sysID, t0)
		require.NoError(t, err)
		assert.Nil(t, excluded, "future incident must not be active")

		count, err := tx.CountActiveSystem(ctx, t0)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_RollbackRestoresState(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	id := create(t, r, &domain.Incident{Text: "s", Impact: 1, StartDate: t0, System: true, Components: []domain.Component{cmp1, cmp2}})

	boom := errors.New("boom")
	var createdID string
	err := r.InTx(ctx, []string{"cmp1"}, func(ctx context.Context, tx incidents.Tx) error {
		require.NoError(t, tx.RemoveComponent(ctx, id, "cmp1"))
		require.NoError(t, tx.AppendStatus(ctx, &domain.IncidentStatus{IncidentID: id, Timestamp: t0, Status: domain.StatusSystem, Text: "x"}))

		inc, err := tx.GetIncident(ctx, id)
		require.NoError(t, err)
		inc.Impact = 3
		end := t0
		inc.EndDate = &end
		require.NoError(t, tx.UpdateIncident(ctx, inc))

		created := &domain.Incident{Text: "n", Impact: 3, StartDate: t0, System: true, Components: []domain.Component{cmp1}}
		require.NoError(t, tx.CreateIncident(ctx, created))
		createdID = created.ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := r.GetIncident(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Impact(1), got.Impact)
	assert.Nil(t, got.EndDate)
	assert.Equal(t, []string{"cmp1", "cmp2"}, got.ComponentIDs())
	assert.Empty(t, got.Updates)

	_, err = r.GetIncident(ctx, createdID)
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)

	// Indexes are restored as well.
	active, err := r.ListActiveForComponent(ctx, "cmp1", t0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)

	err = r.InTx(ctx, nil, func(ctx context.Context, tx incidents.Tx) error {
		inc, err := tx.ActiveSystemByImpact(ctx, 1, "", t0)
		require.NoError(t, err)
		require.NotNil(t, inc)
		assert.Equal(t, id, inc.ID)

		none, err := tx.ActiveSystemByImpact(ctx, 3, "", t0)
		require.NoError(t, err)
		assert.Nil(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_StatusLog(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()
	id := create(t, r, &domain.Incident{Text: "s", Impact: 1, StartDate: t0, System: true, Components: []domain.Component{cmp1}})

	err := r.InTx(ctx, nil, func(ctx context.Context, tx incidents.Tx) error {
		_, ok, err := tx.LatestStatusTime(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		for i := 0; i < 3; i++ {
			require.NoError(t, tx.AppendStatus(ctx, &domain.IncidentStatus{
				IncidentID: id,
				Timestamp:  t0.Add(time.Duration(i) * time.Minute),
				Status:     domain.StatusSystem,
			}))
		}

		latest, ok, err := tx.LatestStatusTime(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, t0.Add(2*time.Minute), latest)

		return tx.AppendStatus(ctx, &domain.IncidentStatus{IncidentID: "missing"})
	})
	require.ErrorIs(t, err, incidents.ErrIncidentNotFound)

	got, err := r.GetIncident(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.Updates, "failed unit of work must not leave status entries")
}

func TestRepository_Lists(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	end := t0.Add(30 * time.Minute)
	closedID := create(t, r, &domain.Incident{Text: "closed", Impact: 3, StartDate: t0, EndDate: &end, System: true, Components: []domain.Component{cmp1}})
	openID := create(t, r, &domain.Incident{Text: "open", Impact: 3, StartDate: t0.Add(time.Hour), System: true, Components: []domain.Component{cmp1}})
	create(t, r, &domain.Incident{Text: "other", Impact: 1, StartDate: t0.Add(-time.Hour), EndDate: &end, Components: []domain.Component{cmp1}})

	closed, err := r.ListClosedForComponent(ctx, "cmp1", 3, t0)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, closedID, closed[0].ID)

	closed, err = r.ListClosedForComponent(ctx, "cmp1", 3, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, closed)

	active := true
	list, err := r.ListIncidents(ctx, incidents.IncidentFilter{Active: &active, Now: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, openID, list[0].ID)

	all, err := r.ListIncidents(ctx, incidents.IncidentFilter{Now: t0})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, openID, all[0].ID, "newest first")

	page, err := r.ListIncidents(ctx, incidents.IncidentFilter{Now: t0, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, closedID, page[0].ID)

	require.NoError(t, r.DeleteAll(ctx))
	all, err = r.ListIncidents(ctx, incidents.IncidentFilter{Now: t0})
	require.NoError(t, err)
	assert.Empty(t, all)
}
