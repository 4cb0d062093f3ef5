package domain

// Status tags written to incident updates.
const (
	StatusSystem      = "SYSTEM"
	StatusAnalyzing   = "analyzing"
	StatusFixing      = "fixing"
	StatusObserving   = "observing"
	StatusResolved    = "resolved"
	StatusScheduled   = "scheduled"
	StatusInProgress  = "in progress"
	StatusCompleted   = "completed"
	StatusReopened    = "reopened"
	StatusChanged     = "changed"
	StatusModified    = "modified"
	StatusDescription = "description"
)

// StatusVocabulary lists the status tags a human may post, per incident kind.
type StatusVocabulary struct {
	Incident    []string `koanf:"incident"`
	Maintenance []string `koanf:"maintenance"`
	Actions     []string `koanf:"actions"`
}

// DefaultStatusVocabulary mirrors the stock dashboard progression.
func DefaultStatusVocabulary() StatusVocabulary {
	return StatusVocabulary{
		Incident:    []string{StatusAnalyzing, StatusFixing, StatusObserving, StatusResolved},
		Maintenance: []string{StatusScheduled, StatusInProgress, StatusCompleted, StatusModified},
		Actions:     []string{StatusReopened, StatusChanged},
	}
}

// Allowed returns statuses valid for the incident in its current state.
// Closed incidents accept only actions; maintenances use their own progression.
func (v StatusVocabulary) Allowed(inc *Incident) []string {
	switch {
	case inc.IsMaintenance():
		return v.Maintenance
	case inc.EndDate != nil:
		return v.Actions
	default:
		return v.Incident
	}
}

// IsAllowed reports whether status may be posted on the incident.
func (v StatusVocabulary) IsAllowed(inc *Incident, status string) bool {
	for _, s := range v.Allowed(inc) {
		if s == status {
			return true
		}
	}
	return false
}

// CountsForOrdering reports whether an entry with this status participates in
// progression ordering. Resolution and date edits may be back-dated.
func CountsForOrdering(status string) bool {
	switch status {
	case StatusResolved, StatusDescription, StatusChanged, StatusModified:
		return false
	}
	return true
}
