package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestFromCarriesContextIDs(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupWriter(&buf, "debug")

	ctx := WithSessionID(WithTraceID(context.Background(), "tr-1"), "S1")
	From(ctx).Info("mounted")

	out := buf.String()
	assert.Contains(t, out, "tr-1")
	assert.Contains(t, out, "S1")
	assert.Equal(t, "S1", GetSessionID(ctx))
}
