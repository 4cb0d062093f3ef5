// Package memory provides an in-memory incident repository.
//
// A single store mutex is held for the whole unit of work, so at most one
// reconciliation runs at a time. Mutations are journaled and undone when the
// unit of work fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/incidents"
	"github.com/google/uuid"
)

type set map[string]struct{}

// Repository implements incidents.Repository in process memory.
type Repository struct {
	mu        sync.Mutex
	incidents map[string]*domain.Incident
	statuses  map[string][]domain.IncidentStatus

	// byComponent lists every incident a component has been part of.
	byComponent map[string]set
	// openSystem indexes system incidents without end date by impact.
	openSystem map[domain.Impact]set
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		incidents:   make(map[string]*domain.Incident),
		statuses:    make(map[string][]domain.IncidentStatus),
		byComponent: make(map[string]set),
		openSystem:  make(map[domain.Impact]set),
	}
}

// InTx runs fn under the store lock and restores touched incidents if it fails.
func (r *Repository) InTx(ctx context.Context, _ []string, fn func(ctx context.Context, tx incidents.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &tx{repo: r, journal: make(map[string]*snapshot)}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// GetIncident returns a copy of an incident with components and updates.
func (r *Repository) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

// ListIncidents returns incidents ordered by start date, newest first.
func (r *Repository) ListIncidents(_ context.Context, filter incidents.IncidentFilter) ([]domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Incident, 0, len(r.incidents))
	for id, inc := range r.incidents {
		if filter.Active != nil && inc.IsActive(filter.Now) != *filter.Active {
			continue
		}
		full, _ := r.get(id)
		out = append(out, *full)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.After(out[j].StartDate)
		}
		return out[i].ID > out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []domain.Incident{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListActiveForComponent returns active incidents and maintenances holding a component.
func (r *Repository) ListActiveForComponent(_ context.Context, componentID string, now time.Time) ([]domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.collect(componentID, func(inc *domain.Incident) bool {
		return inc.IsActive(now)
	}), nil
}

// ListActiveForComponents returns active incidents and maintenances per component.
func (r *Repository) ListActiveForComponents(_ context.Context, componentIDs []string, now time.Time) (map[string][]domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]domain.Incident, len(componentIDs))
	for _, id := range componentIDs {
		out[id] = r.collect(id, func(inc *domain.Incident) bool {
			return inc.IsActive(now)
		})
	}
	return out, nil
}

// ListClosedForComponent returns closed incidents of one impact that ended at or after since.
func (r *Repository) ListClosedForComponent(_ context.Context, componentID string, impact domain.Impact, since time.Time) ([]domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.collect(componentID, func(inc *domain.Incident) bool {
		return inc.Impact == impact && inc.EndDate != nil && !inc.EndDate.Before(since)
	}), nil
}

// DeleteAll removes every incident.
func (r *Repository) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.incidents = make(map[string]*domain.Incident)
	r.statuses = make(map[string][]domain.IncidentStatus)
	r.byComponent = make(map[string]set)
	r.openSystem = make(map[domain.Impact]set)
	return nil
}

// collect returns matching incidents that currently hold the component,
// oldest first.
func (r *Repository) collect(componentID string, match func(*domain.Incident) bool) []domain.Incident {
	out := make([]domain.Incident, 0)
	for id := range r.byComponent[componentID] {
		inc := r.incidents[id]
		if inc == nil || !inc.HasComponent(componentID) || !match(inc) {
			continue
		}
		full, _ := r.get(id)
		out = append(out, *full)
	}
	sortOldestFirst(out)
	return out
}

func (r *Repository) get(id string) (*domain.Incident, error) {
	inc, ok := r.incidents[id]
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}
	out := cloneIncident(inc)

	updates := r.statuses[id]
	out.Updates = make([]domain.IncidentStatus, len(updates))
	copy(out.Updates, updates)
	sort.SliceStable(out.Updates, func(i, j int) bool {
		return out.Updates[i].Timestamp.After(out.Updates[j].Timestamp)
	})
	return out, nil
}

// reindex brings secondary indexes in line with the stored incident.
func (r *Repository) reindex(id string, before *domain.Incident) {
	if before != nil {
		for _, c := range before.Components {
			delete(r.byComponent[c.ID], id)
		}
		delete(r.openSystem[before.Impact], id)
	}

	inc, ok := r.incidents[id]
	if !ok {
		return
	}
	for _, c := range inc.Components {
		if r.byComponent[c.ID] == nil {
			r.byComponent[c.ID] = make(set)
		}
		r.byComponent[c.ID][id] = struct{}{}
	}
	if inc.System && inc.EndDate == nil && !inc.IsMaintenance() {
		if r.openSystem[inc.Impact] == nil {
			r.openSystem[inc.Impact] = make(set)
		}
		r.openSystem[inc.Impact][id] = struct{}{}
	}
}

type snapshot struct {
	incident *domain.Incident // nil when created inside the unit of work
	statuses int
}

type tx struct {
	repo    *Repository
	journal map[string]*snapshot
}

// touch records the incident state before its first mutation.
func (t *tx) touch(id string) {
	if _, ok := t.journal[id]; ok {
		return
	}
	snap := &snapshot{statuses: len(t.repo.statuses[id])}
	if inc, ok := t.repo.incidents[id]; ok {
		snap.incident = cloneIncident(inc)
	}
	t.journal[id] = snap
}

func (t *tx) rollback() {
	for id, snap := range t.journal {
		current := t.repo.incidents[id]
		var before *domain.Incident
		if current != nil {
			before = cloneIncident(current)
		}

		if snap.incident == nil {
			delete(t.repo.incidents, id)
			delete(t.repo.statuses, id)
		} else {
			t.repo.incidents[id] = snap.incident
			t.repo.statuses[id] = t.repo.statuses[id][:snap.statuses]
		}
		t.repo.reindex(id, before)
	}
}

func (t *tx) ActiveMaintenanceFor(_ context.Context, componentID string, now time.Time) (*domain.Incident, error) {
	list := t.repo.collect(componentID, func(inc *domain.Incident) bool {
		return inc.IsMaintenance() && inc.IsActive(now)
	})
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (t *tx) ActiveManualFor(_ context.Context, componentID string, now time.Time) ([]domain.Incident, error) {
	return t.repo.collect(componentID, func(inc *domain.Incident) bool {
		return !inc.System && !inc.IsMaintenance() && inc.IsActive(now)
	}), nil
}

func (t *tx) ActiveSystemFor(_ context.Context, componentID string, now time.Time) ([]domain.Incident, error) {
	return t.repo.collect(componentID, func(inc *domain.Incident) bool {
		return inc.System && !inc.IsMaintenance() && inc.IsActive(now)
	}), nil
}

func (t *tx) ActiveSystemByImpact(_ context.Context, impact domain.Impact, excludeID string, now time.Time) (*domain.Incident, error) {
	var found []domain.Incident
	for id := range t.repo.openSystem[impact] {
		inc := t.repo.incidents[id]
		if id == excludeID || inc == nil || !inc.IsActive(now) {
			continue
		}
		full, _ := t.repo.get(id)
		found = append(found, *full)
	}
	if len(found) == 0 {
		return nil, nil
	}
	sortOldestFirst(found)
	return &found[0], nil
}

func (t *tx) CountActiveSystem(_ context.Context, now time.Time) (int, error) {
	n := 0
	for _, ids := range t.repo.openSystem {
		for id := range ids {
			if inc := t.repo.incidents[id]; inc != nil && inc.IsActive(now) {
				n++
			}
		}
	}
	return n, nil
}

func (t *tx) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	return t.repo.get(id)
}

func (t *tx) CreateIncident(_ context.Context, incident *domain.Incident) error {
	incident.ID = uuid.New().String()
	t.touch(incident.ID)

	stored := cloneIncident(incident)
	stored.Updates = nil
	t.repo.incidents[incident.ID] = stored
	t.repo.reindex(incident.ID, nil)
	return nil
}

// UpdateIncident stores scalar fields only; membership changes go through
// AddComponent and RemoveComponent.
func (t *tx) UpdateIncident(_ context.Context, incident *domain.Incident) error {
	current, ok := t.repo.incidents[incident.ID]
	if !ok {
		return incidents.ErrIncidentNotFound
	}
	t.touch(incident.ID)
	before := cloneIncident(current)

	current.Text = incident.Text
	current.Impact = incident.Impact
	current.StartDate = incident.StartDate
	current.EndDate = copyTime(incident.EndDate)
	current.System = incident.System

	t.repo.reindex(incident.ID, before)
	return nil
}

func (t *tx) AddComponent(_ context.Context, incidentID string, component domain.Component) error {
	current, ok := t.repo.incidents[incidentID]
	if !ok {
		return incidents.ErrIncidentNotFound
	}
	if current.HasComponent(component.ID) {
		return nil
	}
	t.touch(incidentID)
	before := cloneIncident(current)

	current.Components = append(current.Components, cloneComponent(component))
	t.repo.reindex(incidentID, before)
	return nil
}

func (t *tx) RemoveComponent(_ context.Context, incidentID, componentID string) error {
	current, ok := t.repo.incidents[incidentID]
	if !ok {
		return incidents.ErrIncidentNotFound
	}
	if !current.HasComponent(componentID) {
		return incidents.ErrComponentNotInIncident
	}
	t.touch(incidentID)
	before := cloneIncident(current)

	kept := make([]domain.Component, 0, len(current.Components)-1)
	for _, c := range current.Components {
		if c.ID != componentID {
			kept = append(kept, c)
		}
	}
	current.Components = kept
	t.repo.reindex(incidentID, before)
	return nil
}

func (t *tx) AppendStatus(_ context.Context, status *domain.IncidentStatus) error {
	if _, ok := t.repo.incidents[status.IncidentID]; !ok {
		return incidents.ErrIncidentNotFound
	}
	t.touch(status.IncidentID)

	status.ID = uuid.New().String()
	t.repo.statuses[status.IncidentID] = append(t.repo.statuses[status.IncidentID], *status)
	return nil
}

func (t *tx) LatestStatusTime(_ context.Context, incidentID string) (time.Time, bool, error) {
	var latest time.Time
	found := false
	for _, s := range t.repo.statuses[incidentID] {
		if !found || s.Timestamp.After(latest) {
			latest = s.Timestamp
			found = true
		}
	}
	return latest, found, nil
}

func sortOldestFirst(list []domain.Incident) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartDate.Equal(list[j].StartDate) {
			return list[i].StartDate.Before(list[j].StartDate)
		}
		return list[i].ID < list[j].ID
	})
}

func cloneIncident(inc *domain.Incident) *domain.Incident {
	out := *inc
	out.EndDate = copyTime(inc.EndDate)
	out.Components = make([]domain.Component, 0, len(inc.Components))
	for _, c := range inc.Components {
		out.Components = append(out.Components, cloneComponent(c))
	}
	out.Updates = nil
	return &out
}

func cloneComponent(c domain.Component) domain.Component {
	attrs := make([]domain.Attribute, len(c.Attributes))
	copy(attrs, c.Attributes)
	c.Attributes = attrs
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
