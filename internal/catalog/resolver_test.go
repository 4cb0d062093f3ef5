package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepository implements Repository for testing.
type mockRepository struct {
	components []domain.Component
	listErr    error
	createErr  error
	seq        int
}

func (m *mockRepository) CreateComponent(_ context.Context, c *domain.Component) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.seq++
	c.ID = "created-" + string(rune('a'+m.seq))
	c.CreatedAt = time.Date(2024, 1, 1, 0, 0, m.seq, 0, time.UTC)
	m.components = append(m.components, *c)
	return nil
}

func (m *mockRepository) GetComponent(_ context.Context, id string) (*domain.Component, error) {
	for _, c := range m.components {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, ErrComponentNotFound
}

func (m *mockRepository) ListComponentsByName(_ context.Context, name string) ([]domain.Component, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Component
	for _, c := range m.components {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockRepository) ListComponents(_ context.Context, _ ComponentFilter) ([]domain.Component, error) {
	return m.components, nil
}

func (m *mockRepository) DeleteAll(_ context.Context) error {
	m.components = nil
	return nil
}

func at(sec int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, sec, 0, time.UTC)
}

func TestResolver_Resolve(t *testing.T) {
	repo := &mockRepository{components: []domain.Component{
		// Deliberately out of creation order.
		{ID: "c3", Name: "cmp1", CreatedAt: at(3), Attributes: []domain.Attribute{{Name: "a1", Value: "v1"}}},
		{ID: "c1", Name: "cmp1", CreatedAt: at(1), Attributes: []domain.Attribute{{Name: "a1", Value: "v1"}, {Name: "a2", Value: "v2"}}},
		{ID: "c2", Name: "cmp2", CreatedAt: at(2), Attributes: []domain.Attribute{{Name: "a1", Value: "v1"}}},
		{ID: "c4", Name: "cmp1", CreatedAt: at(4), Attributes: []domain.Attribute{{Name: "a1", Value: "v9"}}},
	}}
	r := NewResolver(repo)

	tests := []struct {
		name    string
		cmp     string
		attrs   map[string]string
		wantID  string
		wantErr error
	}{
		{name: "empty attributes returns oldest", cmp: "cmp1", attrs: map[string]string{}, wantID: "c1"},
		{name: "nil attributes returns oldest", cmp: "cmp1", attrs: nil, wantID: "c1"},
		{name: "subset picks oldest superset", cmp: "cmp1", attrs: map[string]string{"a1": "v1"}, wantID: "c1"},
		{name: "exact match", cmp: "cmp1", attrs: map[string]string{"a1": "v1", "a2": "v2"}, wantID: "c1"},
		{name: "value disambiguates", cmp: "cmp1", attrs: map[string]string{"a1": "v9"}, wantID: "c4"},
		{name: "other name", cmp: "cmp2", attrs: map[string]string{"a1": "v1"}, wantID: "c2"},
		{name: "name is case sensitive", cmp: "CMP1", attrs: nil, wantErr: ErrComponentNotFound},
		{name: "no attribute match", cmp: "cmp1", attrs: map[string]string{"a3": "v3"}, wantErr: ErrComponentNotFound},
		{name: "unknown name", cmp: "nope", attrs: nil, wantErr: ErrComponentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := r.Resolve(context.Background(), tt.cmp, tt.attrs)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, c.ID)
		})
	}
}

func TestResolver_Resolve_TieBreakByID(t *testing.T) {
	repo := &mockRepository{components: []domain.Component{
		{ID: "b", Name: "cmp", CreatedAt: at(1)},
		{ID: "a", Name: "cmp", CreatedAt: at(1)},
	}}

	c, err := NewResolver(repo).Resolve(context.Background(), "cmp", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", c.ID)
}

func TestResolver_Resolve_RepositoryError(t *testing.T) {
	repo := &mockRepository{listErr: errors.New("db down")}

	_, err := NewResolver(repo).Resolve(context.Background(), "cmp", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrComponentNotFound)
}

func TestParseFile(t *testing.T) {
	doc := `
components:
  - name: compute
    attributes:
      region: eu-de
      category: Compute
  - name: dns
`
	file, err := ParseFile(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, file.Components, 2)
	assert.Equal(t, "eu-de", file.Components[0].Attributes["region"])
	assert.Empty(t, file.Components[1].Attributes)

	_, err = ParseFile(strings.NewReader("components:\n  - attributes: {a: b}\n"))
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	_, err = ParseFile(strings.NewReader("components: ["))
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	file, err = ParseFile(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, file.Components)
}

func TestResolver_Provision_Idempotent(t *testing.T) {
	repo := &mockRepository{}
	r := NewResolver(repo)
	file := &File{Components: []FileComponent{
		{Name: "compute", Attributes: map[string]string{"region": "eu-de"}},
		{Name: "compute", Attributes: map[string]string{"region": "eu-nl"}},
		{Name: "dns"},
	}}

	res, err := r.Provision(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, ProvisionResult{Created: 3}, res)

	res, err = r.Provision(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, ProvisionResult{Skipped: 3}, res)
	assert.Len(t, repo.components, 3)

	require.NoError(t, r.Purge(context.Background()))
	assert.Empty(t, repo.components)
}

func TestResolver_Provision_CreateError(t *testing.T) {
	repo := &mockRepository{createErr: errors.New("insert failed")}

	_, err := NewResolver(repo).Provision(context.Background(), &File{Components: []FileComponent{{Name: "x"}}})
	assert.Error(t, err)
}
