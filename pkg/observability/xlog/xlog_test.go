package xlog

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xtracing/pkg/context/xctx"
)

func spanCtx(sampled bool) context.Context {
	var flags trace.TraceFlags
	if sampled {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9},
		SpanID:     trace.SpanID{0x00, 0xf0},
		TraceFlags: flags,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTraceHandler(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name: "sampled span",
			ctx:  spanCtx(true),
			want: []string{
				`"trace_id":"4bf90000000000000000000000000000"`,
				`"span_id":"00f0000000000000"`,
				`"trace_flags":"01"`,
			},
		},
		{
			name: "unsampled span",
			ctx:  spanCtx(false),
			want: []string{`"trace_flags":"00"`},
		},
		{
			name:    "no span",
			ctx:     context.Background(),
			notWant: []string{xctx.KeyTraceID, xctx.KeySpanID, xctx.KeyRequestID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h, err := NewTraceHandler(slog.NewJSONHandler(&buf, nil))
			require.NoError(t, err)

			slog.New(h).InfoContext(tt.ctx, "hello")
			out := buf.String()
			assert.Contains(t, out, `"msg":"hello"`)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, out, nw)
			}
		})
	}
}

func TestTraceHandler_NilBase(t *testing.T) {
	_, err := NewTraceHandler(nil)
	require.ErrorIs(t, err, ErrNilHandler)
}

func TestTraceHandler_WithAttrsKeepsEnrichment(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewTraceHandler(slog.NewJSONHandler(&buf, nil))
	require.NoError(t, err)

	slog.New(h).With("component", "xtracectl").InfoContext(spanCtx(true), "x")
	assert.Contains(t, buf.String(), `"component":"xtracectl"`)
	assert.Contains(t, buf.String(), `"trace_id"`)
}

func TestBuilder(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New().
		SetOutput(&buf).
		SetFormat("JSON").
		SetLevelString("warn").
		Build()
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	logger.InfoContext(spanCtx(true), "dropped")
	logger.WarnContext(spanCtx(true), "kept")
	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"kept"`)
	assert.Contains(t, out, `"trace_id"`)
}

func TestBuilder_DisableEnrich(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetEnrich(false).Build()
	require.NoError(t, err)
	logger.InfoContext(spanCtx(true), "plain")
	assert.NotContains(t, buf.String(), xctx.KeyTraceID)
}

func TestBuilder_Errors(t *testing.T) {
	_, _, err := New().SetLevelString("verbose").Build()
	require.ErrorIs(t, err, ErrUnknownLevel)

	_, _, err = New().SetFormat("xml").Build()
	require.ErrorIs(t, err, ErrUnknownFormat)

	_, _, err = New().SetRotation("", RotationConfig{}).Build()
	require.ErrorIs(t, err, ErrEmptyFilename)

	_, _, err = New().SetRotation(filepath.Join(t.TempDir(), "a.log"), RotationConfig{MaxSizeMB: -1}).Build()
	require.ErrorIs(t, err, ErrInvalidRotation)
}

func TestBuilder_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trace.log")
	logger, cleanup, err := New().SetRotation(path, RotationConfig{MaxSizeMB: 1}).Build()
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, cleanup())
	require.NoError(t, cleanup(), "cleanup is idempotent")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestTraceHandler_RequestID(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewTraceHandler(slog.NewJSONHandler(&buf, nil))
	require.NoError(t, err)

	ctx, err := xctx.WithRequestID(spanCtx(true), "rid-3")
	require.NoError(t, err)
	slog.New(h).InfoContext(ctx, "with request")
	assert.Contains(t, buf.String(), `"request_id":"rid-3"`)
	assert.Contains(t, buf.String(), `"trace_id"`)
}
