package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := With(WithLogger(context.Background(), base), "component_id", "c1")
	FromContext(ctx).Info("reported")

	assert.Contains(t, buf.String(), "component_id=c1")
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}
