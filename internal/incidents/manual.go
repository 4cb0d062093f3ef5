package incidents

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/pkg/ctxlog"
)

// CreateIncidentInput holds data for a human-declared incident or maintenance.
type CreateIncidentInput struct {
	Text         string
	Impact       domain.Impact
	StartDate    *time.Time
	EndDate      *time.Time
	ComponentIDs []string
	Description  string
}

// AddUpdateInput holds a human status progression entry.
type AddUpdateInput struct {
	IncidentID string
	Status     string
	Text       string
	Title      string
	Impact     *domain.Impact
	// Date is the moment the update refers to. Depending on the status it becomes
	// the entry timestamp, the end date or the start date.
	Date      *time.Time
	StartDate *time.Time
	EndDate   *time.Time
}

// CreateIncident opens a human-managed incident or maintenance.
// Components of a new incident are moved out of other active incidents;
// an incident losing its last component is closed.
func (e *Engine) CreateIncident(ctx context.Context, in CreateIncidentInput, actor string) (*domain.Incident, error) {
	if !e.cfg.Impacts.Contains(in.Impact) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidImpact, in.Impact)
	}
	if len(in.ComponentIDs) == 0 {
		return nil, ErrNoComponents
	}

	now := e.clock()
	start := now
	if in.StartDate != nil {
		start = in.StartDate.UTC().Truncate(time.Microsecond)
	}

	var end *time.Time
	if in.Impact == domain.ImpactMaintenance {
		if in.EndDate == nil {
			return nil, fmt.Errorf("%w: maintenance requires an end date", ErrInvalidDates)
		}
		t := in.EndDate.UTC().Truncate(time.Microsecond)
		end = &t
		if end.Before(start) {
			return nil, ErrInvalidDates
		}
	}

	components := make([]domain.Component, 0, len(in.ComponentIDs))
	seen := make(map[string]struct{}, len(in.ComponentIDs))
	for _, id := range in.ComponentIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		c, err := e.resolver.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get component %s: %w", id, err)
		}
		components = append(components, *c)
	}

	var created *domain.Incident
	var affected []string
	err := e.repo.InTx(ctx, in.ComponentIDs, func(ctx context.Context, tx Tx) error {
		created = &domain.Incident{
			Text:       in.Text,
			Impact:     in.Impact,
			StartDate:  start,
			EndDate:    end,
			System:     false,
			Components: components,
		}
		affected = nil
		if err := tx.CreateIncident(ctx, created); err != nil {
			return fmt.Errorf("create incident: %w", err)
		}
		affected = append(affected, created.ID)

		if created.IsMaintenance() {
			if in.Description == "" {
				return nil
			}
			return tx.AppendStatus(ctx, &domain.IncidentStatus{
				IncidentID: created.ID,
				Timestamp:  now,
				Text:       in.Description,
				Status:     domain.StatusDescription,
			})
		}

		moved, err := e.takeOver(ctx, tx, created, now)
		affected = append(affected, moved...)
		return err
	})
	if err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("incident opened", "incident_id", created.ID, "impact", created.Impact, "actor", actor)
	e.notify(ctx, Transition{Outcome: OutcomeCreated, IncidentID: created.ID, Impact: created.Impact, Affected: affected, Actor: actor})

	return e.load(ctx, created.ID)
}

// takeOver moves the components of dst out of every other active incident.
func (e *Engine) takeOver(ctx context.Context, tx Tx, dst *domain.Incident, now time.Time) ([]string, error) {
	type source struct {
		inc      domain.Incident
		messages []string
		left     int
	}

	sources := make(map[string]*source)
	var order []string
	var fromMessages []string

	for i := range dst.Components {
		c := &dst.Components[i]

		system, err := tx.ActiveSystemFor(ctx, c.ID, now)
		if err != nil {
			return nil, fmt.Errorf("active system incidents: %w", err)
		}
		manual, err := tx.ActiveManualFor(ctx, c.ID, now)
		if err != nil {
			return nil, fmt.Errorf("active manual incidents: %w", err)
		}

		for _, inc := range append(system, manual...) {
			if inc.ID == dst.ID {
				continue
			}
			src, ok := sources[inc.ID]
			if !ok {
				src = &source{inc: inc, left: len(inc.Components)}
				sources[inc.ID] = src
				order = append(order, inc.ID)
			}

			src.messages = append(src.messages, e.audit.movedTo(c, dst))
			fromMessages = append(fromMessages, e.audit.movedFrom(c, &src.inc))

			if src.left > 1 {
				if err := tx.RemoveComponent(ctx, inc.ID, c.ID); err != nil {
					return nil, fmt.Errorf("remove component: %w", err)
				}
				src.left--
				continue
			}
			src.messages = append(src.messages, closedBySystem)
			end := now
			src.inc.EndDate = &end
			if err := tx.UpdateIncident(ctx, &src.inc); err != nil {
				return nil, fmt.Errorf("close incident: %w", err)
			}
		}
	}

	for _, id := range order {
		if err := e.audit.append(ctx, tx, id, now, sources[id].messages...); err != nil {
			return nil, err
		}
	}
	if len(fromMessages) > 0 {
		if err := e.audit.append(ctx, tx, dst.ID, now, fromMessages...); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// AddUpdate records a human status progression on an incident.
func (e *Engine) AddUpdate(ctx context.Context, in AddUpdateInput, actor string) (*domain.Incident, error) {
	current, err := e.repo.GetIncident(ctx, in.IncidentID)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	err = e.repo.InTx(ctx, current.ComponentIDs(), func(ctx context.Context, tx Tx) error {
		inc, err := tx.GetIncident(ctx, in.IncidentID)
		if err != nil {
			return err
		}
		return e.applyUpdate(ctx, tx, inc, in, now)
	})
	if err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("incident updated", "incident_id", in.IncidentID, "status", in.Status, "actor", actor)
	e.notify(ctx, Transition{
		Outcome:    OutcomeUpdated,
		IncidentID: in.IncidentID,
		Status:     in.Status,
		Affected:   []string{in.IncidentID},
		Actor:      actor,
	})

	return e.load(ctx, in.IncidentID)
}

func (e *Engine) applyUpdate(ctx context.Context, tx Tx, inc *domain.Incident, in AddUpdateInput, now time.Time) error {
	if !e.cfg.Statuses.IsAllowed(inc, in.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}

	var date *time.Time
	if in.Date != nil {
		d := in.Date.UTC().Truncate(time.Microsecond)
		date = &d
		// A changed end date is only checked against the start below.
		if in.Status != domain.StatusChanged {
			if err := checkProgression(inc, d, in.Status != domain.StatusInProgress); err != nil {
				return err
			}
		}
	}

	impact := inc.Impact
	if in.Impact != nil {
		if !e.cfg.Impacts.Contains(*in.Impact) || (*in.Impact == domain.ImpactMaintenance) != inc.IsMaintenance() {
			return fmt.Errorf("%w: %d", ErrInvalidImpact, *in.Impact)
		}
		impact = *in.Impact
	}

	ts := now
	switch in.Status {
	case domain.StatusResolved:
		impact = inc.Impact
		if date != nil {
			ts = *date
		}
		end := ts
		inc.EndDate = &end
	case domain.StatusCompleted:
		impact = inc.Impact
		end := now
		inc.EndDate = &end
	case domain.StatusReopened:
		inc.EndDate = nil
	case domain.StatusChanged:
		end := now
		if date != nil {
			end = *date
		}
		inc.EndDate = &end
	case domain.StatusInProgress:
		if date != nil {
			inc.StartDate = *date
		} else {
			inc.StartDate = now
		}
	case domain.StatusModified:
		if in.StartDate != nil {
			inc.StartDate = in.StartDate.UTC().Truncate(time.Microsecond)
		}
		if in.EndDate != nil {
			end := in.EndDate.UTC().Truncate(time.Microsecond)
			inc.EndDate = &end
		}
	case domain.StatusAnalyzing, domain.StatusFixing, domain.StatusObserving:
		impact = inc.Impact
		if date != nil {
			ts = *date
		}
	default:
		if date != nil {
			ts = *date
		}
	}

	if inc.EndDate != nil && inc.EndDate.Before(inc.StartDate) {
		return ErrInvalidDates
	}

	if in.Title != "" {
		inc.Text = in.Title
	}
	inc.Impact = impact
	inc.System = false

	if err := tx.UpdateIncident(ctx, inc); err != nil {
		return fmt.Errorf("update incident: %w", err)
	}

	if err := tx.AppendStatus(ctx, &domain.IncidentStatus{
		IncidentID: inc.ID,
		Timestamp:  ts,
		Text:       in.Text,
		Status:     in.Status,
	}); err != nil {
		return fmt.Errorf("append status: %w", err)
	}
	return nil
}

// checkProgression requires date to follow every prior progression entry and,
// unless the update moves the start itself, the incident start.
// Back-dated resolution and date edits do not count.
func checkProgression(inc *domain.Incident, date time.Time, afterStart bool) error {
	if afterStart && date.Before(inc.StartDate) {
		return fmt.Errorf("%w: before incident start", ErrUpdateOutOfOrder)
	}
	for _, u := range inc.Updates {
		if !domain.CountsForOrdering(u.Status) {
			continue
		}
		if !date.After(u.Timestamp) {
			return fmt.Errorf("%w: not after update at %s", ErrUpdateOutOfOrder, u.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// SeparateComponent moves one component of an incident into a new human
// incident with the same impact and start date.
func (e *Engine) SeparateComponent(ctx context.Context, incidentID, componentID, actor string) (*domain.Incident, error) {
	current, err := e.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	var created *domain.Incident
	err = e.repo.InTx(ctx, current.ComponentIDs(), func(ctx context.Context, tx Tx) error {
		src, err := tx.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}

		var component *domain.Component
		for i := range src.Components {
			if src.Components[i].ID == componentID {
				component = &src.Components[i]
				break
			}
		}
		if component == nil {
			return ErrComponentNotInIncident
		}
		if len(src.Components) == 1 {
			return ErrLastComponent
		}

		if err := tx.RemoveComponent(ctx, src.ID, component.ID); err != nil {
			return fmt.Errorf("remove component: %w", err)
		}

		created = &domain.Incident{
			Text:       fmt.Sprintf("%s (%s)", src.Text, component.Name),
			Impact:     src.Impact,
			StartDate:  src.StartDate,
			System:     false,
			Components: []domain.Component{*component},
		}
		if err := tx.CreateIncident(ctx, created); err != nil {
			return fmt.Errorf("create incident: %w", err)
		}

		if err := e.audit.append(ctx, tx, src.ID, now, e.audit.movedTo(component, created)); err != nil {
			return err
		}
		return e.audit.append(ctx, tx, created.ID, now, e.audit.movedFrom(component, src))
	})
	if err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("component separated",
		"incident_id", incidentID,
		"component_id", componentID,
		"new_incident_id", created.ID,
		"actor", actor,
	)
	e.notify(ctx, Transition{
		Outcome:     OutcomeSplit,
		IncidentID:  created.ID,
		ComponentID: componentID,
		Impact:      created.Impact,
		Affected:    []string{incidentID, created.ID},
		Actor:       actor,
	})

	return e.load(ctx, created.ID)
}

// GetIncident returns an incident with its components and updates.
func (e *Engine) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return e.repo.GetIncident(ctx, id)
}

// ListIncidents returns incidents matching the filter.
func (e *Engine) ListIncidents(ctx context.Context, filter IncidentFilter) ([]domain.Incident, error) {
	if filter.Now.IsZero() {
		filter.Now = e.clock()
	}
	list, err := e.repo.ListIncidents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return list, nil
}

// ListActiveForComponents returns incidents and maintenances currently
// covering each of the components.
func (e *Engine) ListActiveForComponents(ctx context.Context, componentIDs []string) (map[string][]domain.Incident, error) {
	return e.repo.ListActiveForComponents(ctx, componentIDs, e.clock())
}

// Purge removes every incident and its status log.
func (e *Engine) Purge(ctx context.Context) error {
	if err := e.repo.DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete incidents: %w", err)
	}
	return nil
}

func (e *Engine) load(ctx context.Context, id string) (*domain.Incident, error) {
	inc, err := e.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load incident: %w", err)
	}
	return inc, nil
}
