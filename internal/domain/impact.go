package domain

import (
	"errors"
	"fmt"
	"sort"
)

// Impact is an ordered incident severity. Zero is reserved for maintenance.
type Impact int

// ImpactMaintenance marks planned work.
const ImpactMaintenance Impact = 0

// ImpactLevel describes one configured severity.
type ImpactLevel struct {
	Value Impact `json:"value" koanf:"value"`
	Key   string `json:"key" koanf:"key"`
	Name  string `json:"name" koanf:"name"`
}

// Impacts is the ordered set of configured severity levels.
type Impacts struct {
	levels []ImpactLevel
}

// DefaultImpactLevels returns the stock maintenance/minor/major/outage scale.
func DefaultImpactLevels() []ImpactLevel {
	return []ImpactLevel{
		{Value: 0, Key: "maintenance", Name: "Scheduled maintenance"},
		{Value: 1, Key: "minor", Name: "Minor incident (i.e. performance impact)"},
		{Value: 2, Key: "major", Name: "Major incident"},
		{Value: 3, Key: "outage", Name: "Service outage"},
	}
}

// NewImpacts validates and orders impact levels.
// The maintenance level must be present and at least one real severity is required.
func NewImpacts(levels []ImpactLevel) (Impacts, error) {
	if len(levels) == 0 {
		return Impacts{}, errors.New("no impact levels configured")
	}

	sorted := make([]ImpactLevel, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })

	seen := make(map[Impact]struct{}, len(sorted))
	for _, l := range sorted {
		if l.Value < 0 {
			return Impacts{}, fmt.Errorf("impact %d: negative values are not allowed", l.Value)
		}
		if _, ok := seen[l.Value]; ok {
			return Impacts{}, fmt.Errorf("impact %d: duplicate value", l.Value)
		}
		seen[l.Value] = struct{}{}
	}

	if sorted[0].Value != ImpactMaintenance {
		return Impacts{}, errors.New("maintenance impact level 0 is required")
	}
	if len(sorted) < 2 {
		return Impacts{}, errors.New("at least one incident impact level is required")
	}

	return Impacts{levels: sorted}, nil
}

// MustImpacts is NewImpacts that panics on error. Intended for defaults and tests.
func MustImpacts(levels []ImpactLevel) Impacts {
	imp, err := NewImpacts(levels)
	if err != nil {
		panic(err)
	}
	return imp
}

// Contains reports whether the value is a configured level.
func (i Impacts) Contains(v Impact) bool {
	_, ok := i.Level(v)
	return ok
}

// Level returns the configured level for a value.
func (i Impacts) Level(v Impact) (ImpactLevel, bool) {
	for _, l := range i.levels {
		if l.Value == v {
			return l, true
		}
	}
	return ImpactLevel{}, false
}

// Outage returns the highest configured severity.
func (i Impacts) Outage() Impact {
	if len(i.levels) == 0 {
		return ImpactMaintenance
	}
	return i.levels[len(i.levels)-1].Value
}

// Levels returns a copy of the ordered levels.
func (i Impacts) Levels() []ImpactLevel {
	out := make([]ImpactLevel, len(i.levels))
	copy(out, i.levels)
	return out
}

// Key returns the short key of a level, or the number when unknown.
func (i Impacts) Key(v Impact) string {
	if l, ok := i.Level(v); ok {
		return l.Key
	}
	return fmt.Sprintf("%d", v)
}
