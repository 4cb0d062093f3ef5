// Package availability computes monthly component availability from closed outages.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/status-dashboard/internal/domain"
)

// ErrInvalidMonths is returned when the requested number of months is not positive.
var ErrInvalidMonths = errors.New("months must be a positive number")

// OutageReader lists closed incidents of a component.
type OutageReader interface {
	ListClosedForComponent(ctx context.Context, componentID string, impact domain.Impact, since time.Time) ([]domain.Incident, error)
}

// MonthAvailability is the availability of one calendar month (UTC).
type MonthAvailability struct {
	Month         time.Time `json:"month"`
	Ratio         float64   `json:"ratio"`
	OutageMinutes float64   `json:"outage_minutes"`
	Minutes       float64   `json:"minutes"`
	// Overcounted marks months where overlapping outages summed to more than
	// the elapsed minutes; Ratio is clamped to zero then.
	Overcounted bool `json:"overcounted"`
}

// Config holds calculator settings.
type Config struct {
	Impacts   domain.Impacts
	MaxMonths int
}

// Calculator computes availability ratios. It only reads and takes no locks.
type Calculator struct {
	reader OutageReader
	cfg    Config
	now    func() time.Time
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithClock overrides the calculator clock.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// NewCalculator creates a new availability calculator.
func NewCalculator(reader OutageReader, cfg Config, opts ...Option) *Calculator {
	c := &Calculator{reader: reader, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MonthlyAvailability returns availability for the current and previous
// calendar months, newest first. Outage minutes of overlapping outages are
// summed as is.
func (c *Calculator) MonthlyAvailability(ctx context.Context, componentID string, monthsBack int) ([]MonthAvailability, error) {
	if monthsBack <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMonths, monthsBack)
	}
	if c.cfg.MaxMonths > 0 && monthsBack > c.cfg.MaxMonths {
		monthsBack = c.cfg.MaxMonths
	}

	now := c.now().UTC()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	oldest := current.AddDate(0, -(monthsBack - 1), 0)

	outages, err := c.reader.ListClosedForComponent(ctx, componentID, c.cfg.Impacts.Outage(), oldest)
	if err != nil {
		return nil, fmt.Errorf("list outages: %w", err)
	}

	result := make([]MonthAvailability, 0, monthsBack)
	for i := 0; i < monthsBack; i++ {
		start := current.AddDate(0, -i, 0)
		end := start.AddDate(0, 1, 0)
		if end.After(now) {
			end = now
		}
		result = append(result, month(start, end, outages))
	}
	return result, nil
}

// month computes availability of [start, end).
func month(start, end time.Time, outages []domain.Incident) MonthAvailability {
	m := MonthAvailability{Month: start, Ratio: 1}
	if !end.After(start) {
		return m
	}
	m.Minutes = end.Sub(start).Minutes()

	for _, o := range outages {
		if o.EndDate == nil {
			continue
		}
		from := o.StartDate
		if from.Before(start) {
			from = start
		}
		to := *o.EndDate
		if to.After(end) {
			to = end
		}
		if to.After(from) {
			m.OutageMinutes += to.Sub(from).Minutes()
		}
	}

	ratio := (m.Minutes - m.OutageMinutes) / m.Minutes
	switch {
	case ratio < 0:
		m.Ratio = 0
		m.Overcounted = true
	case ratio > 1:
		m.Ratio = 1
	default:
		m.Ratio = ratio
	}
	return m
}
