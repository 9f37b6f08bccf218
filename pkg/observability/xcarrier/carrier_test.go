package xcarrier

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

func testSpanContext(t *testing.T) trace.SpanContext {
	t.Helper()
	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	})
}

func TestCarriers_RoundTrip(t *testing.T) {
	sc := testSpanContext(t)
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	prop := propagation.TraceContext{}

	tests := []struct {
		name   string
		writer func() (propagation.TextMapCarrier, func() propagation.TextMapCarrier)
	}{
		{"map", func() (propagation.TextMapCarrier, func() propagation.TextMapCarrier) {
			m := map[string]string{}
			return MapWriter(m), func() propagation.TextMapCarrier { return MapReader(m) }
		}},
		{"header", func() (propagation.TextMapCarrier, func() propagation.TextMapCarrier) {
			h := http.Header{}
			return HeaderWriter(h), func() propagation.TextMapCarrier { return NewHeaderReader(h, "") }
		}},
		{"metadata", func() (propagation.TextMapCarrier, func() propagation.TextMapCarrier) {
			md := metadata.MD{}
			return MetadataWriter(md), func() propagation.TextMapCarrier { return MetadataReader(md) }
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, reader := tt.writer()
			prop.Inject(ctx, w)
			assert.NotEmpty(t, w.Get("traceparent"))
			assert.NotEmpty(t, w.Keys())

			got := trace.SpanContextFromContext(prop.Extract(context.Background(), reader()))
			assert.Equal(t, sc.TraceID(), got.TraceID())
			assert.Equal(t, sc.SpanID(), got.SpanID())
			assert.True(t, got.IsSampled())
			assert.True(t, got.IsRemote())
		})
	}
}

func TestCarriers_AbsentKey(t *testing.T) {
	assert.Empty(t, MapReader(map[string]string{"a": "1"}).Get("b"))
	assert.Empty(t, MapReader(nil).Get("b"))
	assert.Empty(t, NewHeaderReader(http.Header{}, "").Get("traceparent"))
	assert.Empty(t, NewHeaderReader(nil, "").Get("traceparent"))
	assert.Empty(t, MetadataReader(metadata.MD{}).Get("traceparent"))
}

func TestReaders_SetIsNoop(t *testing.T) {
	m := map[string]string{}
	MapReader(m).Set("k", "v")
	assert.Empty(t, m)

	h := http.Header{}
	NewHeaderReader(h, "").Set("k", "v")
	assert.Empty(t, h)

	md := metadata.MD{}
	MetadataReader(md).Set("k", "v")
	assert.Empty(t, md)
}

func TestWriters_NilStore(t *testing.T) {
	assert.NotPanics(t, func() {
		MapWriter(nil).Set("k", "v")
		HeaderWriter(nil).Set("k", "v")
		MetadataWriter(nil).Set("k", "v")
	})
	assert.Empty(t, MapWriter(nil).Keys())
}

func TestWriters_GetDoesNotMutate(t *testing.T) {
	m := map[string]string{}
	_ = MapWriter(m).Get("missing")
	assert.Empty(t, m)

	h := http.Header{}
	_ = HeaderWriter(h).Get("missing")
	assert.Empty(t, h)
}

func TestMetadata_CaseInsensitive(t *testing.T) {
	md := metadata.MD{}
	MetadataWriter(md).Set("TraceParent", "v")
	assert.Equal(t, "v", MetadataReader(md).Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, MetadataReader(md).Keys())
}

// =============================================================================
// 嵌入式 JSON 回退
// =============================================================================

func TestHeaderReader_EmbeddedJSON(t *testing.T) {
	h := http.Header{}
	h.Set(TransInfoHeader, `{"traceparent":"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01","n":3,"tracestate":"a=b"}`)
	r := NewHeaderReader(h, "")

	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", r.Get("traceparent"))
	assert.Equal(t, "a=b", r.Get("tracestate"))
	assert.Empty(t, r.Get("n"), "non-string members are ignored")
	assert.Empty(t, r.Get("missing"))
	assert.ElementsMatch(t, []string{TransInfoHeader, "traceparent", "tracestate"}, r.Keys())

	got := trace.SpanContextFromContext(propagation.TraceContext{}.Extract(context.Background(), r))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID().String())
}

func TestHeaderReader_HeaderWinsOverJSON(t *testing.T) {
	h := http.Header{}
	h.Set("Traceparent", "from-header")
	h.Set(TransInfoHeader, `{"traceparent":"from-json"}`)
	assert.Equal(t, "from-header", NewHeaderReader(h, "").Get("traceparent"))
}

func TestHeaderReader_EmptyHeaderIsPresent(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   string
	}{
		{"empty value", http.Header{"Tracestate": {""}}, ""},
		{"empty slice", http.Header{"Tracestate": {}}, ""},
		{"absent", http.Header{}, "from-json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.header.Set(TransInfoHeader, `{"tracestate":"from-json"}`)
			r := NewHeaderReader(tt.header, "")
			assert.Equal(t, tt.want, r.Get("tracestate"))

			if tt.want == "" {
				assert.NotContains(t, r.Keys(), "tracestate")
			} else {
				assert.Contains(t, r.Keys(), "tracestate")
			}
		})
	}
}

func TestHeaderReader_MalformedJSON(t *testing.T) {
	for _, raw := range []string{`{"traceparent":`, `not json`, `["traceparent"]`, `"str"`} {
		h := http.Header{}
		h.Set(TransInfoHeader, raw)
		r := NewHeaderReader(h, "")
		assert.Empty(t, r.Get("traceparent"), raw)
		assert.Equal(t, []string{TransInfoHeader}, r.Keys(), raw)
	}
}

func TestHeaderReader_CustomTransInfoHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Trpc-Trans-Info", `{"k":"v"}`)
	assert.Equal(t, "v", NewHeaderReader(h, "trpc-trans-info").Get("k"))
	assert.Empty(t, NewHeaderReader(h, "").Get("k"))
}

func TestHeaderReader_ParsesOnce(t *testing.T) {
	h := http.Header{}
	h.Set(TransInfoHeader, `{"k":"v"}`)
	r := NewHeaderReader(h, "")
	assert.Equal(t, "v", r.Get("k"))

	// 解析结果缓存在载体上，后续修改 Header 不影响已解析的成员
	h.Set(TransInfoHeader, `{"k":"changed"}`)
	assert.Equal(t, "v", r.Get("k"))
}
