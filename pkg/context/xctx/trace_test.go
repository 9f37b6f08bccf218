package xctx_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xtracing/pkg/context/xctx"
)

const (
	testTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	testSpanID  = "00f067aa0ba902b7"
)

func spanCtx(t *testing.T, flags trace.TraceFlags, remote bool) context.Context {
	t.Helper()
	tid, err := trace.TraceIDFromHex(testTraceID)
	require.NoError(t, err)
	sid, err := trace.SpanIDFromHex(testSpanID)
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: flags, Remote: remote})
	if remote {
		return trace.ContextWithRemoteSpanContext(context.Background(), sc)
	}
	return trace.ContextWithSpanContext(context.Background(), sc)
}

// =============================================================================
// span 派生字段
// =============================================================================

func TestSpanFields(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		wantTrace string
		wantSpan  string
		wantFlags string
	}{
		{"local sampled", spanCtx(t, trace.FlagsSampled, false), testTraceID, testSpanID, "01"},
		{"remote unsampled", spanCtx(t, 0, true), testTraceID, testSpanID, "00"},
		{"no span", context.Background(), "", "", ""},
		{"nil context", nil, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantTrace, xctx.TraceID(tt.ctx))
			assert.Equal(t, tt.wantSpan, xctx.SpanID(tt.ctx))
			assert.Equal(t, tt.wantFlags, xctx.TraceFlags(tt.ctx))
		})
	}
}

func TestRequireSpanFields(t *testing.T) {
	ctx := spanCtx(t, trace.FlagsSampled, false)
	v, err := xctx.RequireTraceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, testTraceID, v)
	v, err = xctx.RequireSpanID(ctx)
	require.NoError(t, err)
	assert.Equal(t, testSpanID, v)

	_, err = xctx.RequireTraceID(context.Background())
	require.ErrorIs(t, err, xctx.ErrMissingTraceID)
	_, err = xctx.RequireSpanID(context.Background())
	require.ErrorIs(t, err, xctx.ErrMissingSpanID)

	var nilCtx context.Context
	_, err = xctx.RequireTraceID(nilCtx)
	require.ErrorIs(t, err, xctx.ErrNilContext)
	_, err = xctx.RequireSpanID(nilCtx)
	require.ErrorIs(t, err, xctx.ErrNilContext)
}

// =============================================================================
// RequestID
// =============================================================================

func TestRequestID(t *testing.T) {
	assert.Empty(t, xctx.RequestID(context.Background()))

	ctx, err := xctx.WithRequestID(context.Background(), "rid-1")
	require.NoError(t, err)
	assert.Equal(t, "rid-1", xctx.RequestID(ctx))

	ctx, err = xctx.WithRequestID(ctx, "rid-2")
	require.NoError(t, err)
	assert.Equal(t, "rid-2", xctx.RequestID(ctx), "later value wins")

	v, err := xctx.RequireRequestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rid-2", v)

	_, err = xctx.RequireRequestID(context.Background())
	require.ErrorIs(t, err, xctx.ErrMissingRequestID)

	var nilCtx context.Context
	assert.Empty(t, xctx.RequestID(nilCtx))
	_, err = xctx.WithRequestID(nilCtx, "rid")
	require.ErrorIs(t, err, xctx.ErrNilContext)
	_, err = xctx.RequireRequestID(nilCtx)
	require.ErrorIs(t, err, xctx.ErrNilContext)
}

func TestEnsureRequestID(t *testing.T) {
	ctx, err := xctx.EnsureRequestID(context.Background())
	require.NoError(t, err)
	generated := xctx.RequestID(ctx)
	_, err = uuid.Parse(generated)
	require.NoError(t, err)

	ctx, err = xctx.EnsureRequestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, generated, xctx.RequestID(ctx), "existing value is kept")

	var nilCtx context.Context
	_, err = xctx.EnsureRequestID(nilCtx)
	require.ErrorIs(t, err, xctx.ErrNilContext)

	assert.NotEqual(t, xctx.GenerateRequestID(), xctx.GenerateRequestID())
}

// =============================================================================
// Trace 结构体
// =============================================================================

func TestGetTrace(t *testing.T) {
	ctx, err := xctx.WithRequestID(spanCtx(t, trace.FlagsSampled, false), "rid")
	require.NoError(t, err)

	tr := xctx.GetTrace(ctx)
	assert.Equal(t, xctx.Trace{TraceID: testTraceID, SpanID: testSpanID, TraceFlags: "01", RequestID: "rid"}, tr)
	require.NoError(t, tr.Validate())
	assert.True(t, tr.IsComplete())

	var nilCtx context.Context
	assert.Equal(t, xctx.Trace{}, xctx.GetTrace(nilCtx))
}

func TestTrace_Validate(t *testing.T) {
	tests := []struct {
		name string
		tr   xctx.Trace
		want error
	}{
		{"missing trace", xctx.Trace{SpanID: "s", RequestID: "r"}, xctx.ErrMissingTraceID},
		{"missing span", xctx.Trace{TraceID: "t", RequestID: "r"}, xctx.ErrMissingSpanID},
		{"missing request", xctx.Trace{TraceID: "t", SpanID: "s"}, xctx.ErrMissingRequestID},
		{"flags optional", xctx.Trace{TraceID: "t", SpanID: "s", RequestID: "r"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tr.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				assert.True(t, tt.tr.IsComplete())
				return
			}
			require.ErrorIs(t, err, tt.want)
			assert.False(t, tt.tr.IsComplete())
		})
	}
}
