package xctx_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xtracing/pkg/context/xctx"
)

func attrMap(attrs []slog.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value.String()
	}
	return m
}

func TestAppendTraceAttrs(t *testing.T) {
	withRID := func(ctx context.Context) context.Context {
		ctx, err := xctx.WithRequestID(ctx, "rid-9")
		require.NoError(t, err)
		return ctx
	}

	tests := []struct {
		name string
		ctx  context.Context
		want map[string]string
	}{
		{
			name: "span and request id",
			ctx:  withRID(spanCtx(t, trace.FlagsSampled, false)),
			want: map[string]string{
				xctx.KeyTraceID:    testTraceID,
				xctx.KeySpanID:     testSpanID,
				xctx.KeyTraceFlags: "01",
				xctx.KeyRequestID:  "rid-9",
			},
		},
		{
			name: "remote span only",
			ctx:  spanCtx(t, 0, true),
			want: map[string]string{
				xctx.KeyTraceID:    testTraceID,
				xctx.KeySpanID:     testSpanID,
				xctx.KeyTraceFlags: "00",
			},
		},
		{
			name: "request id only",
			ctx:  withRID(context.Background()),
			want: map[string]string{xctx.KeyRequestID: "rid-9"},
		},
		{
			name: "empty",
			ctx:  context.Background(),
			want: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix := []slog.Attr{slog.String("k", "v")}
			got := xctx.AppendTraceAttrs(prefix, tt.ctx)
			require.Len(t, got, len(tt.want)+1)
			assert.Equal(t, "k", got[0].Key, "existing attrs are kept in front")
			assert.Equal(t, tt.want, attrMap(got[1:]))
		})
	}
}

func TestTraceAttrs(t *testing.T) {
	assert.Nil(t, xctx.TraceAttrs(context.Background()))
	var nilCtx context.Context
	assert.Nil(t, xctx.TraceAttrs(nilCtx))
	assert.Len(t, xctx.TraceAttrs(spanCtx(t, trace.FlagsSampled, false)), 3)

	var attrs []slog.Attr
	assert.Nil(t, xctx.AppendTraceAttrs(attrs, nilCtx))
}
