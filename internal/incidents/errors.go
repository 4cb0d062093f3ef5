package incidents

import "errors"

// Validation errors returned before any state is touched.
var (
	ErrInvalidImpact = errors.New("invalid impact")
	ErrInvalidStatus = errors.New("status is not allowed for this incident")
	ErrInvalidDates  = errors.New("end date must not be before start date")
	ErrNoComponents  = errors.New("at least one component is required")
)

// Incident state errors.
var (
	ErrIncidentNotFound       = errors.New("incident not found")
	ErrUpdateOutOfOrder       = errors.New("update date must be after previous updates")
	ErrComponentNotInIncident = errors.New("component does not belong to incident")
	ErrLastComponent          = errors.New("cannot separate the only component of an incident")
)

// ErrEngineInvariantViolation is returned when reconciliation reaches a state the
// transition rules cannot classify. The unit of work is rolled back.
var ErrEngineInvariantViolation = errors.New("engine invariant violation")

// ErrConcurrencyConflict is returned by a repository when a unit of work lost a
// race with a concurrent one. Re-running the whole reconciliation is safe.
var ErrConcurrencyConflict = errors.New("concurrency conflict")
