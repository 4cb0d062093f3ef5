package domain

import "time"

// Incident is either a human-declared incident/maintenance or one managed by the
// reconciliation engine (System set).
type Incident struct {
	ID         string           `json:"id"`
	Text       string           `json:"text"`
	Impact     Impact           `json:"impact"`
	StartDate  time.Time        `json:"start_date"`
	EndDate    *time.Time       `json:"end_date"`
	System     bool             `json:"system"`
	Components []Component      `json:"components"`
	Updates    []IncidentStatus `json:"updates"`
}

// IsActive reports whether the incident has started and is not closed.
// A maintenance carries its planned end and stays active until then.
func (i *Incident) IsActive(now time.Time) bool {
	if i.StartDate.After(now) {
		return false
	}
	if i.EndDate == nil {
		return true
	}
	return i.IsMaintenance() && now.Before(*i.EndDate)
}

// IsMaintenance reports whether the incident is planned work.
func (i *Incident) IsMaintenance() bool {
	return i.Impact == ImpactMaintenance
}

// HasComponent reports whether the component belongs to the incident.
func (i *Incident) HasComponent(componentID string) bool {
	for _, c := range i.Components {
		if c.ID == componentID {
			return true
		}
	}
	return false
}

// ComponentIDs returns ids of the incident components.
func (i *Incident) ComponentIDs() []string {
	ids := make([]string, 0, len(i.Components))
	for _, c := range i.Components {
		ids = append(ids, c.ID)
	}
	return ids
}

// IncidentStatus is an append-only audit/progress entry of an incident.
type IncidentStatus struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"text"`
	Status     string    `json:"status"`
}
