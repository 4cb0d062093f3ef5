package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bissquit/status-dashboard/internal/incidents"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestLockOrder(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, lockOrder([]string{"c", "a", "b", "a"}))
	assert.Empty(t, lockOrder(nil))
}

func TestConflict(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantConflict bool
	}{
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, wantConflict: true},
		{name: "lock timeout wrapped", err: fmt.Errorf("lock component: %w", &pgconn.PgError{Code: "55P03"}), wantConflict: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}},
		{name: "plain error", err: errors.New("boom")},
		{name: "already a conflict", err: incidents.ErrConcurrencyConflict, wantConflict: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := conflict(tt.err)
			assert.Equal(t, tt.wantConflict, errors.Is(got, incidents.ErrConcurrencyConflict))
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, conflict(nil))
}

func TestValidID(t *testing.T) {
	assert.True(t, validID("5f1c1a3e-8c4e-4b8a-9d1e-0c0a3a1f2b3c"))
	assert.False(t, validID("missing"))
	assert.False(t, validID(""))
}
