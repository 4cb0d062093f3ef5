// Package incidents reconciles component status reports into incidents and
// manages human incident progression.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/status-dashboard/internal/catalog"
	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/pkg/ctxlog"
)

// DefaultIncidentText is the title of system incidents opened without text.
const DefaultIncidentText = "Incident"

// Outcome names the transition rule applied to a status report.
type Outcome string

// Reconciliation outcomes.
const (
	OutcomeMaintenance   Outcome = "maintenance"
	OutcomeManualCovered Outcome = "manual_covered"
	OutcomeCreated       Outcome = "created"
	OutcomeAdded         Outcome = "added"
	OutcomeCovered       Outcome = "covered"
	OutcomeMoved         Outcome = "moved"
	OutcomeMovedClosed   Outcome = "moved_closed"
	OutcomeEscalated     Outcome = "escalated"
	OutcomeSplit         Outcome = "split"
	OutcomeUpdated       Outcome = "updated"
)

// Mutating reports whether the outcome changed any incident.
func (o Outcome) Mutating() bool {
	switch o {
	case OutcomeMaintenance, OutcomeManualCovered, OutcomeCovered:
		return false
	}
	return true
}

// ComponentResolver resolves component identities.
type ComponentResolver interface {
	Resolve(ctx context.Context, name string, attrs map[string]string) (*domain.Component, error)
	Get(ctx context.Context, id string) (*domain.Component, error)
}

// Transition describes a committed incident change.
type Transition struct {
	Outcome     Outcome       `json:"outcome"`
	IncidentID  string        `json:"incident_id"`
	ComponentID string        `json:"component_id,omitempty"`
	Impact      domain.Impact `json:"impact"`
	Status      string        `json:"status,omitempty"`
	Affected    []string      `json:"affected"`
	Actor       string        `json:"actor"`
	At          time.Time     `json:"at"`
}

// TransitionNotifier is informed after a change has been committed.
type TransitionNotifier interface {
	Notify(ctx context.Context, t Transition)
}

// Config holds engine settings.
type Config struct {
	Impacts            domain.Impacts
	Statuses           domain.StatusVocabulary
	MaxConflictRetries int
}

// Engine maps status reports to incident create/merge/split/escalate/no-op actions.
type Engine struct {
	repo     Repository
	resolver ComponentResolver
	notifier TransitionNotifier
	audit    *auditWriter
	cfg      Config
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier sets the transition notifier.
func WithNotifier(n TransitionNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// NewEngine creates a new reconciliation engine.
func NewEngine(repo Repository, resolver ComponentResolver, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		resolver: resolver,
		audit:    newAuditWriter(cfg.Impacts),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReportInput is an inbound component status report.
type ReportInput struct {
	Name       string
	Attributes map[string]string
	Impact     domain.Impact
	Text       string
}

type reconcileResult struct {
	incidentID string
	outcome    Outcome
	affected   []string
}

// ReportStatus applies a status report and returns the incident now tracking the component.
func (e *Engine) ReportStatus(ctx context.Context, in ReportInput) (*domain.Incident, error) {
	if !e.cfg.Impacts.Contains(in.Impact) || in.Impact == domain.ImpactMaintenance {
		return nil, fmt.Errorf("%w: %d", ErrInvalidImpact, in.Impact)
	}

	component, err := e.resolver.Resolve(ctx, in.Name, in.Attributes)
	if err != nil {
		if errors.Is(err, catalog.ErrComponentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve component: %w", err)
	}

	text := in.Text
	if text == "" {
		text = DefaultIncidentText
	}

	start := time.Now()
	defer func() { reconcileDuration.Observe(time.Since(start).Seconds()) }()

	logger := ctxlog.FromContext(ctx).With("component_id", component.ID, "impact", in.Impact)

	var res reconcileResult
	for attempt := 0; ; attempt++ {
		res, err = e.reportOnce(ctx, component, in.Impact, text)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConcurrencyConflict) || attempt >= e.cfg.MaxConflictRetries || ctx.Err() != nil {
			if errors.Is(err, ErrEngineInvariantViolation) {
				logger.Error("reconciliation rejected", "error", err)
			}
			return nil, err
		}
		reconcileConflicts.Inc()
		logger.Warn("reconciliation conflict, retrying", "attempt", attempt+1, "error", err)
	}

	recordOutcome(res.outcome)
	if res.outcome.Mutating() {
		logger.Info("status report reconciled", "outcome", res.outcome, "incident_id", res.incidentID)
		e.notify(ctx, Transition{
			Outcome:     res.outcome,
			IncidentID:  res.incidentID,
			ComponentID: component.ID,
			Impact:      in.Impact,
			Affected:    res.affected,
			Actor:       domain.StatusSystem,
		})
	} else {
		logger.Debug("status report already covered", "outcome", res.outcome, "incident_id", res.incidentID)
	}

	incident, err := e.repo.GetIncident(ctx, res.incidentID)
	if err != nil {
		return nil, fmt.Errorf("load incident: %w", err)
	}
	return incident, nil
}

func (e *Engine) reportOnce(ctx context.Context, component *domain.Component, impact domain.Impact, text string) (reconcileResult, error) {
	var res reconcileResult
	err := e.repo.InTx(ctx, []string{component.ID}, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = e.reconcile(ctx, tx, component, impact, text, e.clock())
		return err
	})
	return res, err
}

// reconcile evaluates the transition rules in order; the first match wins.
func (e *Engine) reconcile(ctx context.Context, tx Tx, c *domain.Component, impact domain.Impact, text string, now time.Time) (reconcileResult, error) {
	// 1. Planned work suppresses incident churn.
	maintenance, err := tx.ActiveMaintenanceFor(ctx, c.ID, now)
	if err != nil {
		return reconcileResult{}, fmt.Errorf("active maintenance: %w", err)
	}
	if maintenance != nil {
		return reconcileResult{incidentID: maintenance.ID, outcome: OutcomeMaintenance}, nil
	}

	// 2. A human already tracks at least this severity.
	manual, err := tx.ActiveManualFor(ctx, c.ID, now)
	if err != nil {
		return reconcileResult{}, fmt.Errorf("active manual incidents: %w", err)
	}
	for _, inc := range manual {
		if inc.Impact >= impact {
			return reconcileResult{incidentID: inc.ID, outcome: OutcomeManualCovered}, nil
		}
	}

	// 3. Nothing is open yet.
	count, err := tx.CountActiveSystem(ctx, now)
	if err != nil {
		return reconcileResult{}, fmt.Errorf("count active system incidents: %w", err)
	}
	if count == 0 {
		return e.open(ctx, tx, c, impact, text, now)
	}

	holding, err := tx.ActiveSystemFor(ctx, c.ID, now)
	if err != nil {
		return reconcileResult{}, fmt.Errorf("active system incidents: %w", err)
	}

	switch len(holding) {
	case 0:
		// 4. Join an incident of the same severity or open a new one.
		dst, err := tx.ActiveSystemByImpact(ctx, impact, "", now)
		if err != nil {
			return reconcileResult{}, fmt.Errorf("active system incident by impact: %w", err)
		}
		if dst == nil {
			return e.open(ctx, tx, c, impact, text, now)
		}
		if err := tx.AddComponent(ctx, dst.ID, *c); err != nil {
			return reconcileResult{}, fmt.Errorf("add component: %w", err)
		}
		if err := e.audit.append(ctx, tx, dst.ID, now, e.audit.added(c, dst)); err != nil {
			return reconcileResult{}, err
		}
		return reconcileResult{incidentID: dst.ID, outcome: OutcomeAdded, affected: []string{dst.ID}}, nil
	case 1:
		src := holding[0]
		// 5. Already tracked at this severity or higher.
		if impact <= src.Impact {
			return reconcileResult{incidentID: src.ID, outcome: OutcomeCovered}, nil
		}
		// 6. Escalation.
		return e.escalate(ctx, tx, c, &src, impact, text, now)
	default:
		ids := make([]string, 0, len(holding))
		for _, inc := range holding {
			ids = append(ids, inc.ID)
		}
		return reconcileResult{}, fmt.Errorf("%w: component %s held by system incidents %v",
			ErrEngineInvariantViolation, c.ID, ids)
	}
}

func (e *Engine) escalate(ctx context.Context, tx Tx, c *domain.Component, src *domain.Incident, impact domain.Impact, text string, now time.Time) (reconcileResult, error) {
	if len(src.Components) == 0 || !src.HasComponent(c.ID) {
		return reconcileResult{}, fmt.Errorf("%w: incident %s does not list component %s",
			ErrEngineInvariantViolation, src.ID, c.ID)
	}

	dst, err := tx.ActiveSystemByImpact(ctx, impact, src.ID, now)
	if err != nil {
		return reconcileResult{}, fmt.Errorf("active system incident by impact: %w", err)
	}

	single := len(src.Components) == 1

	switch {
	case single && dst != nil:
		if err := e.move(ctx, tx, c, src, dst); err != nil {
			return reconcileResult{}, err
		}
		end := now
		src.EndDate = &end
		if err := tx.UpdateIncident(ctx, src); err != nil {
			return reconcileResult{}, fmt.Errorf("close incident: %w", err)
		}
		if err := e.audit.append(ctx, tx, src.ID, now, e.audit.movedTo(c, dst), closedBySystem); err != nil {
			return reconcileResult{}, err
		}
		if err := e.audit.append(ctx, tx, dst.ID, now, e.audit.movedFrom(c, src)); err != nil {
			return reconcileResult{}, err
		}
		return reconcileResult{incidentID: dst.ID, outcome: OutcomeMovedClosed, affected: []string{src.ID, dst.ID}}, nil

	case single:
		from := src.Impact
		src.Impact = impact
		if err := tx.UpdateIncident(ctx, src); err != nil {
			return reconcileResult{}, fmt.Errorf("escalate incident: %w", err)
		}
		if err := e.audit.append(ctx, tx, src.ID, now, e.audit.impactChanged(from, impact)); err != nil {
			return reconcileResult{}, err
		}
		return reconcileResult{incidentID: src.ID, outcome: OutcomeEscalated, affected: []string{src.ID}}, nil

	case dst != nil:
		if err := e.move(ctx, tx, c, src, dst); err != nil {
			return reconcileResult{}, err
		}
		if err := e.audit.append(ctx, tx, src.ID, now, e.audit.movedTo(c, dst)); err != nil {
			return reconcileResult{}, err
		}
		if err := e.audit.append(ctx, tx, dst.ID, now, e.audit.movedFrom(c, src)); err != nil {
			return reconcileResult{}, err
		}
		return reconcileResult{incidentID: dst.ID, outcome: OutcomeMoved, affected: []string{src.ID, dst.ID}}, nil

	default:
		if err := tx.RemoveComponent(ctx, src.ID, c.ID); err != nil {
			return reconcileResult{}, fmt.Errorf("remove component: %w", err)
		}
		res, err := e.open(ctx, tx, c, impact, text, now)
		if err != nil {
			return reconcileResult{}, err
		}
		created := &domain.Incident{ID: res.incidentID, Text: text}
		if err := e.audit.append(ctx, tx, src.ID, now, e.audit.movedTo(c, created)); err != nil {
			return reconcileResult{}, err
		}
		return reconcileResult{incidentID: res.incidentID, outcome: OutcomeSplit, affected: []string{src.ID, res.incidentID}}, nil
	}
}

// open creates a system incident holding only c.
func (e *Engine) open(ctx context.Context, tx Tx, c *domain.Component, impact domain.Impact, text string, now time.Time) (reconcileResult, error) {
	inc := &domain.Incident{
		Text:       text,
		Impact:     impact,
		StartDate:  now,
		System:     true,
		Components: []domain.Component{*c},
	}
	if err := tx.CreateIncident(ctx, inc); err != nil {
		return reconcileResult{}, fmt.Errorf("create incident: %w", err)
	}
	if err := e.audit.append(ctx, tx, inc.ID, now, e.audit.opened(c)); err != nil {
		return reconcileResult{}, err
	}
	return reconcileResult{incidentID: inc.ID, outcome: OutcomeCreated, affected: []string{inc.ID}}, nil
}

func (e *Engine) move(ctx context.Context, tx Tx, c *domain.Component, src, dst *domain.Incident) error {
	if err := tx.AddComponent(ctx, dst.ID, *c); err != nil {
		return fmt.Errorf("add component: %w", err)
	}
	if err := tx.RemoveComponent(ctx, src.ID, c.ID); err != nil {
		return fmt.Errorf("remove component: %w", err)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, t Transition) {
	if e.notifier == nil {
		return
	}
	if t.At.IsZero() {
		t.At = e.clock()
	}
	e.notifier.Notify(ctx, t)
}

// clock returns the current time at storage precision.
func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}
