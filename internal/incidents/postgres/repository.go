// Package postgres provides PostgreSQL implementation of the incident repository.
//
// A unit of work is one READ COMMITTED transaction. It first takes a
// transaction-scoped advisory lock per component (sorted, so two units never
// wait on each other in opposite order), then locks every incident row it
// reads with FOR UPDATE. Deadlocks, serialization failures and lock timeouts
// surface as incidents.ErrConcurrencyConflict.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/bissquit/status-dashboard/internal/incidents"
	pgutil "github.com/bissquit/status-dashboard/internal/pkg/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockClass namespaces component advisory locks from other users of the database.
const lockClass int32 = 0x5354

const codeForeignKeyViolation = "23503"

const incidentColumns = `i.id, i.text, i.impact, i.start_date, i.end_date, i.system`

// activeAt matches incidents that have started and are open at the bound time.
// A maintenance stays active until its planned end.
const activeAt = `i.start_date <= %[1]s AND (i.end_date IS NULL OR (i.impact = 0 AND %[1]s < i.end_date))`

// querier is an interface for database operations that both *pgxpool.Pool and pgx.Tx implement.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InTx runs fn in a transaction holding the advisory lock of every component.
func (r *Repository) InTx(ctx context.Context, componentIDs []string, fn func(ctx context.Context, tx incidents.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	for _, id := range lockOrder(componentIDs) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, lockClass, id); err != nil {
			return conflict(fmt.Errorf("lock component %s: %w", id, err))
		}
	}

	if err := fn(ctx, &unit{q: tx}); err != nil {
		return conflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return conflict(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// GetIncident retrieves an incident with its components and status log.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return getIncident(ctx, r.db, id, false)
}

// ListIncidents retrieves incidents ordered by start date, newest first.
func (r *Repository) ListIncidents(ctx context.Context, filter incidents.IncidentFilter) ([]domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents i WHERE 1=1`
	var args []interface{}
	argNum := 1

	if filter.Active != nil {
		cond := fmt.Sprintf(activeAt, fmt.Sprintf("$%d", argNum))
		if *filter.Active {
			query += " AND " + cond
		} else {
			query += " AND NOT (" + cond + ")"
		}
		args = append(args, filter.Now)
		argNum++
	}

	query += " ORDER BY i.start_date DESC, i.id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	return loadIncidents(ctx, r.db, query, args...)
}

// ListActiveForComponent returns active incidents and maintenances holding a component.
func (r *Repository) ListActiveForComponent(ctx context.Context, componentID string, now time.Time) ([]domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents i
		JOIN incident_components ic ON ic.incident_id = i.id
		WHERE ic.component_id = $1 AND ` + fmt.Sprintf(activeAt, "$2") + `
		ORDER BY i.start_date, i.id
	`
	if !validID(componentID) {
		return []domain.Incident{}, nil
	}
	return loadIncidents(ctx, r.db, query, componentID, now)
}

// ListActiveForComponents returns active incidents and maintenances per
// component with a single incident query.
func (r *Repository) ListActiveForComponents(ctx context.Context, componentIDs []string, now time.Time) (map[string][]domain.Incident, error) {
	out := make(map[string][]domain.Incident, len(componentIDs))
	ids := make([]string, 0, len(componentIDs))
	for _, id := range componentIDs {
		out[id] = []domain.Incident{}
		if validID(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT ` + incidentColumns + `
		FROM incidents i
		WHERE EXISTS (
			SELECT 1 FROM incident_components ic
			WHERE ic.incident_id = i.id AND ic.component_id = ANY($1)
		) AND ` + fmt.Sprintf(activeAt, "$2") + `
		ORDER BY i.start_date, i.id
	`
	list, err := loadIncidents(ctx, r.db, query, ids, now)
	if err != nil {
		return nil, err
	}

	for _, inc := range list {
		for _, c := range inc.Components {
			if group, ok := out[c.ID]; ok {
				out[c.ID] = append(group, inc)
			}
		}
	}
	return out, nil
}

// ListClosedForComponent returns closed incidents of one impact that ended at or after since.
func (r *Repository) ListClosedForComponent(ctx context.Context, componentID string, impact domain.Impact, since time.Time) ([]domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents i
		JOIN incident_components ic ON ic.incident_id = i.id
		WHERE ic.component_id = $1
		  AND i.impact = $2
		  AND i.end_date IS NOT NULL
		  AND i.end_date >= $3
		ORDER BY i.start_date, i.id
	`
	if !validID(componentID) {
		return []domain.Incident{}, nil
	}
	return loadIncidents(ctx, r.db, query, componentID, int(impact), since)
}

// DeleteAll removes all incidents. Memberships and status entries cascade.
func (r *Repository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM incidents`); err != nil {
		return fmt.Errorf("delete incidents: %w", err)
	}
	return nil
}

// unit is the transactional view handed to a unit of work.
type unit struct {
	q querier
}

func (u *unit) ActiveMaintenanceFor(ctx context.Context, componentID string, now time.Time) (*domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents i
		JOIN incident_components ic ON ic.incident_id = i.id
		WHERE ic.component_id = $1 AND i.impact = 0 AND ` + fmt.Sprintf(activeAt, "$2") + `
		ORDER BY i.start_date, i.id
		LIMIT 1
	`
	return first(loadIncidents(ctx, u.q, query, componentID, now))
}

func (u *unit) ActiveManualFor(ctx context.Context, componentID string, now time.Time) ([]domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents i
		JOIN incident_components ic ON ic.incident_id = i.id
		WHERE ic.component_id = $1 AND NOT i.system AND i.impact <> 0 AND ` + fmt.Sprintf(activeAt, "$2") + `
		ORDER BY i.start_date, i.id
		FOR UPDATE OF i
	`
	return loadIncidents(ctx, u.q, query, componentID, now)
}

func (u *unit) ActiveSystemFor(ctx context.Context, componentID string, now time.Time) ([]domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents i
		JOIN incident_components ic ON ic.incident_id = i.id
		WHERE ic.component_id = $1 AND i.system AND i.impact <> 0 AND ` + fmt.Sprintf(activeAt, "$2") + `
		ORDER BY i.start_date, i.id
		FOR UPDATE OF i
	`
	return loadIncidents(ctx, u.q, query, componentID, now)
}

func (u *unit) ActiveSystemByImpact(ctx context.Context, impact domain.Impact, excludeID string, now time.Time) (*domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents i
		WHERE i.system AND i.end_date IS NULL AND i.impact = $1 AND i.start_date <= $2
		  AND ($3 = '' OR i.id::text <> $3)
		ORDER BY i.start_date, i.id
		LIMIT 1
		FOR UPDATE OF i
	`
	return first(loadIncidents(ctx, u.q, query, int(impact), now, excludeID))
}

func (u *unit) CountActiveSystem(ctx context.Context, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM incidents i
		WHERE i.system AND i.end_date IS NULL AND i.impact <> 0 AND i.start_date <= $1
	`
	var n int
	if err := u.q.QueryRow(ctx, query, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active system incidents: %w", err)
	}
	return n, nil
}

func (u *unit) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return getIncident(ctx, u.q, id, true)
}

func (u *unit) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (text, impact, start_date, end_date, system)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := u.q.QueryRow(ctx, query,
		incident.Text,
		int(incident.Impact),
		incident.StartDate,
		incident.EndDate,
		incident.System,
	).Scan(&incident.ID)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}

	for _, c := range incident.Components {
		if err := u.AddComponent(ctx, incident.ID, c); err != nil {
			return err
		}
	}
	return nil
}

// UpdateIncident stores scalar fields only; membership changes go through
// AddComponent and RemoveComponent.
func (u *unit) UpdateIncident(ctx context.Context, incident *domain.Incident) error {
	if !validID(incident.ID) {
		return incidents.ErrIncidentNotFound
	}
	query := `
		UPDATE incidents
		SET text = $2, impact = $3, start_date = $4, end_date = $5, system = $6
		WHERE id = $1
	`
	result, err := u.q.Exec(ctx, query,
		incident.ID,
		incident.Text,
		int(incident.Impact),
		incident.StartDate,
		incident.EndDate,
		incident.System,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

func (u *unit) AddComponent(ctx context.Context, incidentID string, component domain.Component) error {
	query := `
		INSERT INTO incident_components (incident_id, component_id)
		VALUES ($1, $2)
		ON CONFLICT (incident_id, component_id) DO NOTHING
	`
	if _, err := u.q.Exec(ctx, query, incidentID, component.ID); err != nil {
		if hasCode(err, codeForeignKeyViolation) {
			return incidents.ErrIncidentNotFound
		}
		return fmt.Errorf("add component to incident: %w", err)
	}
	return nil
}

func (u *unit) RemoveComponent(ctx context.Context, incidentID, componentID string) error {
	if !validID(incidentID) {
		return incidents.ErrIncidentNotFound
	}
	if !validID(componentID) {
		return incidents.ErrComponentNotInIncident
	}
	query := `DELETE FROM incident_components WHERE incident_id = $1 AND component_id = $2`
	result, err := u.q.Exec(ctx, query, incidentID, componentID)
	if err != nil {
		return fmt.Errorf("remove component from incident: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := u.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1)`, incidentID).Scan(&exists); err != nil {
		return fmt.Errorf("check incident: %w", err)
	}
	if !exists {
		return incidents.ErrIncidentNotFound
	}
	return incidents.ErrComponentNotInIncident
}

func (u *unit) AppendStatus(ctx context.Context, status *domain.IncidentStatus) error {
	if !validID(status.IncidentID) {
		return incidents.ErrIncidentNotFound
	}
	query := `
		INSERT INTO incident_statuses (incident_id, timestamp, text, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := u.q.QueryRow(ctx, query,
		status.IncidentID,
		status.Timestamp,
		status.Text,
		status.Status,
	).Scan(&status.ID)
	if err != nil {
		if hasCode(err, codeForeignKeyViolation) {
			return incidents.ErrIncidentNotFound
		}
		return fmt.Errorf("append status: %w", err)
	}
	return nil
}

func (u *unit) LatestStatusTime(ctx context.Context, incidentID string) (time.Time, bool, error) {
	if !validID(incidentID) {
		return time.Time{}, false, nil
	}
	var latest *time.Time
	err := u.q.QueryRow(ctx, `SELECT MAX(timestamp) FROM incident_statuses WHERE incident_id = $1`, incidentID).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest status time: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

func getIncident(ctx context.Context, q querier, id string, lock bool) (*domain.Incident, error) {
	if !validID(id) {
		return nil, incidents.ErrIncidentNotFound
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents i WHERE i.id = $1`
	if lock {
		query += " FOR UPDATE"
	}
	list, err := loadIncidents(ctx, q, query, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, incidents.ErrIncidentNotFound
	}
	return &list[0], nil
}

// loadIncidents runs an incident query and attaches components and status log.
func loadIncidents(ctx context.Context, q querier, query string, args ...any) ([]domain.Incident, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}

	list := make([]domain.Incident, 0)
	for rows.Next() {
		var inc domain.Incident
		var impact int
		if err := rows.Scan(&inc.ID, &inc.Text, &impact, &inc.StartDate, &inc.EndDate, &inc.System); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.Impact = domain.Impact(impact)
		inc.StartDate = inc.StartDate.UTC()
		if inc.EndDate != nil {
			end := inc.EndDate.UTC()
			inc.EndDate = &end
		}
		list = append(list, inc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	if len(list) == 0 {
		return list, nil
	}

	ids := make([]string, len(list))
	index := make(map[string]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		index[list[i].ID] = i
		list[i].Components = []domain.Component{}
		list[i].Updates = []domain.IncidentStatus{}
	}

	if err := loadComponents(ctx, q, ids, list, index); err != nil {
		return nil, err
	}
	if err := loadStatuses(ctx, q, ids, list, index); err != nil {
		return nil, err
	}
	return list, nil
}

func loadComponents(ctx context.Context, q querier, ids []string, list []domain.Incident, index map[string]int) error {
	query := `
		SELECT ic.incident_id, c.id, c.name, c.created_at
		FROM incident_components ic
		JOIN components c ON c.id = ic.component_id
		WHERE ic.incident_id = ANY($1)
		ORDER BY ic.position
	`
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("query incident components: %w", err)
	}

	var componentIDs []string
	type ref struct{ incident, component int }
	byComponent := make(map[string][]ref)
	for rows.Next() {
		var incidentID string
		var c domain.Component
		if err := rows.Scan(&incidentID, &c.ID, &c.Name, &c.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan incident component: %w", err)
		}
		c.Attributes = []domain.Attribute{}
		i := index[incidentID]
		list[i].Components = append(list[i].Components, c)
		if _, seen := byComponent[c.ID]; !seen {
			componentIDs = append(componentIDs, c.ID)
		}
		byComponent[c.ID] = append(byComponent[c.ID], ref{incident: i, component: len(list[i].Components) - 1})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate incident components: %w", err)
	}
	if len(componentIDs) == 0 {
		return nil
	}

	attrQuery := `
		SELECT component_id, name, value
		FROM component_attributes
		WHERE component_id = ANY($1)
		ORDER BY component_id, name
	`
	rows, err = q.Query(ctx, attrQuery, componentIDs)
	if err != nil {
		return fmt.Errorf("query component attributes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var componentID string
		var a domain.Attribute
		if err := rows.Scan(&componentID, &a.Name, &a.Value); err != nil {
			return fmt.Errorf("scan component attribute: %w", err)
		}
		for _, ref := range byComponent[componentID] {
			c := &list[ref.incident].Components[ref.component]
			c.Attributes = append(c.Attributes, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate component attributes: %w", err)
	}
	return nil
}

func loadStatuses(ctx context.Context, q querier, ids []string, list []domain.Incident, index map[string]int) error {
	query := `
		SELECT id, incident_id, timestamp, text, status
		FROM incident_statuses
		WHERE incident_id = ANY($1)
		ORDER BY timestamp DESC, position
	`
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("query incident statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.IncidentStatus
		if err := rows.Scan(&s.ID, &s.IncidentID, &s.Timestamp, &s.Text, &s.Status); err != nil {
			return fmt.Errorf("scan incident status: %w", err)
		}
		s.Timestamp = s.Timestamp.UTC()
		i := index[s.IncidentID]
		list[i].Updates = append(list[i].Updates, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate incident statuses: %w", err)
	}
	return nil
}

func first(list []domain.Incident, err error) (*domain.Incident, error) {
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// lockOrder returns unique ids in a stable order.
func lockOrder(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// conflict marks retryable database errors with incidents.ErrConcurrencyConflict.
func conflict(err error) error {
	if err == nil || errors.Is(err, incidents.ErrConcurrencyConflict) || !pgutil.IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%w: %w", incidents.ErrConcurrencyConflict, err)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// validID reports whether id can be a stored key; anything else is simply not found.
func validID(id string) bool {
	return uuid.Validate(id) == nil
}
