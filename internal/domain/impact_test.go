package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImpacts(t *testing.T) {
	tests := []struct {
		name    string
		levels  []ImpactLevel
		wantErr bool
	}{
		{name: "defaults", levels: DefaultImpactLevels()},
		{name: "unordered input", levels: []ImpactLevel{{Value: 2, Key: "major"}, {Value: 0, Key: "maintenance"}}},
		{name: "empty", levels: nil, wantErr: true},
		{name: "no maintenance", levels: []ImpactLevel{{Value: 1}, {Value: 2}}, wantErr: true},
		{name: "only maintenance", levels: []ImpactLevel{{Value: 0}}, wantErr: true},
		{name: "duplicate", levels: []ImpactLevel{{Value: 0}, {Value: 1}, {Value: 1}}, wantErr: true},
		{name: "negative", levels: []ImpactLevel{{Value: -1}, {Value: 0}, {Value: 1}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewImpacts(tt.levels)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestImpacts_Lookup(t *testing.T) {
	imp, err := NewImpacts(DefaultImpactLevels())
	require.NoError(t, err)

	assert.True(t, imp.Contains(0))
	assert.True(t, imp.Contains(3))
	assert.False(t, imp.Contains(4))
	assert.False(t, imp.Contains(-1))
	assert.Equal(t, Impact(3), imp.Outage())
	assert.Equal(t, "major", imp.Key(2))
	assert.Equal(t, "7", imp.Key(7))
	assert.Len(t, imp.Levels(), 4)
}

func TestComponent_Matches(t *testing.T) {
	c := Component{Name: "cmp1", Attributes: []Attribute{{Name: "a1", Value: "v1"}, {Name: "a2", Value: "v2"}}}

	tests := []struct {
		name  string
		attrs map[string]string
		want  bool
	}{
		{name: "empty", attrs: map[string]string{}, want: true},
		{name: "exact", attrs: map[string]string{"a1": "v1", "a2": "v2"}, want: true},
		{name: "subset", attrs: map[string]string{"a1": "v1"}, want: true},
		{name: "wrong value", attrs: map[string]string{"a1": "v2"}, want: false},
		{name: "unknown key", attrs: map[string]string{"a3": "v1"}, want: false},
		{name: "superset of component", attrs: map[string]string{"a1": "v1", "a2": "v2", "a3": "v3"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Matches(tt.attrs))
		})
	}

	assert.Equal(t, "cmp1 (v1, v2)", c.Display())
}

func TestStatusVocabulary_Allowed(t *testing.T) {
	v := DefaultStatusVocabulary()

	open := &Incident{Impact: 1}
	assert.True(t, v.IsAllowed(open, StatusFixing))
	assert.False(t, v.IsAllowed(open, StatusReopened))

	end := open.StartDate
	closed := &Incident{Impact: 1, EndDate: &end}
	assert.True(t, v.IsAllowed(closed, StatusReopened))
	assert.False(t, v.IsAllowed(closed, StatusFixing))

	maint := &Incident{Impact: 0}
	assert.True(t, v.IsAllowed(maint, StatusInProgress))
	assert.False(t, v.IsAllowed(maint, StatusAnalyzing))

	assert.False(t, CountsForOrdering(StatusResolved))
	assert.True(t, CountsForOrdering(StatusFixing))
}

func TestIncident_IsActive(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	tests := []struct {
		name string
		inc  Incident
		want bool
	}{
		{"open incident", Incident{Impact: 1, StartDate: before}, true},
		{"not started", Incident{Impact: 1, StartDate: after}, false},
		{"closed incident", Incident{Impact: 1, StartDate: before, EndDate: &after}, false},
		{"maintenance inside window", Incident{Impact: 0, StartDate: before, EndDate: &after}, true},
		{"maintenance after window", Incident{Impact: 0, StartDate: before.Add(-time.Hour), EndDate: &before}, false},
		{"maintenance without end", Incident{Impact: 0, StartDate: before}, true},
		{"maintenance at planned end", Incident{Impact: 0, StartDate: before, EndDate: &now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.inc.IsActive(now))
		})
	}
}
