package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		rec := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestTraceHandlerInjectsIDs(t *testing.T) {
	SetLevel("info")
	var buf bytes.Buffer
	l := newWithWriter(&buf, Config{Service: "svc", Module: "lattice"})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03},
		SpanID:     trace.SpanID{0x0a},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.InfoContext(ctx, "quote", "price", 10.45)
	l.With("steps", 8).InfoContext(ctx, "resolution")
	l.InfoContext(context.Background(), "no trace")

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 3)
	assert.Equal(t, sc.TraceID().String(), recs[0]["trace_id"])
	assert.Equal(t, sc.SpanID().String(), recs[0]["span_id"])
	assert.Equal(t, "svc", recs[0]["service"])
	assert.Equal(t, "lattice", recs[0]["module"])
	assert.Contains(t, recs[0], "timestamp")
	assert.Equal(t, sc.TraceID().String(), recs[1]["trace_id"])
	assert.NotContains(t, recs[2], "trace_id")
}

func TestSetLevelAffectsExistingLoggers(t *testing.T) {
	var buf bytes.Buffer
	SetLevel("warn")
	l := newWithWriter(&buf, Config{Service: "svc"})
	t.Cleanup(func() { SetLevel("info") })

	l.Info("hidden")
	l.Debug("hidden")
	l.Warn("shown")
	assert.Len(t, decodeLines(t, &buf), 1)

	SetLevel("debug")
	assert.Equal(t, slog.LevelDebug, Level())
	l.Debug("now shown")
	assert.Len(t, decodeLines(t, &buf), 2)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLogDuration(t *testing.T) {
	SetLevel("info")
	var buf bytes.Buffer
	l := newWithWriter(&buf, Config{Service: "svc"})
	l.LogDuration(context.Background(), "converge", "steps", 16)()

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "converge finished", recs[0]["msg"])
	assert.Contains(t, recs[0], "duration")
	assert.EqualValues(t, 16, recs[0]["steps"])
}
