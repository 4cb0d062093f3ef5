package incidents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/status-dashboard/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const closedBySystem = "Incident closed by system"

// auditWriter appends SYSTEM entries to the incident status log.
type auditWriter struct {
	impacts domain.Impacts
}

func newAuditWriter(impacts domain.Impacts) *auditWriter {
	return &auditWriter{impacts: impacts}
}

// append writes one entry whose timestamp is strictly later than the latest
// entry of the incident, even if the clock did not advance.
func (a *auditWriter) append(ctx context.Context, tx Tx, incidentID string, now time.Time, parts ...string) error {
	ts := now
	latest, ok, err := tx.LatestStatusTime(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("latest status time: %w", err)
	}
	if ok && !ts.After(latest) {
		ts = latest.Add(time.Microsecond)
	}

	status := &domain.IncidentStatus{
		IncidentID: incidentID,
		Timestamp:  ts,
		Text:       strings.Join(parts, ", "),
		Status:     domain.StatusSystem,
	}
	if err := tx.AppendStatus(ctx, status); err != nil {
		return fmt.Errorf("append status: %w", err)
	}
	return nil
}

func (a *auditWriter) opened(c *domain.Component) string {
	return c.Display() + " opened by system"
}

func (a *auditWriter) added(c *domain.Component, inc *domain.Incident) string {
	return fmt.Sprintf("%s added to %s", c.Display(), inc.Text)
}

func (a *auditWriter) movedTo(c *domain.Component, dst *domain.Incident) string {
	return fmt.Sprintf("%s moved to %s", c.Display(), dst.Text)
}

func (a *auditWriter) movedFrom(c *domain.Component, src *domain.Incident) string {
	return fmt.Sprintf("%s moved from %s", c.Display(), src.Text)
}

func (a *auditWriter) impactChanged(from, to domain.Impact) string {
	// Caser keeps state between calls, so one per message.
	title := cases.Title(language.English)
	return fmt.Sprintf("impact changed from %s to %s",
		title.String(a.impacts.Key(from)),
		title.String(a.impacts.Key(to)),
	)
}
