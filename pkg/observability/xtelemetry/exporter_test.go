package xtelemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"
)

func TestNewExporter(t *testing.T) {
	tests := []struct {
		name     string
		protocol string
		addr     string
	}{
		{"http host port", ProtocolHTTP, "127.0.0.1:4318"},
		{"http url", ProtocolHTTP, "http://127.0.0.1:4318"},
		{"grpc host port", ProtocolGRPC, "127.0.0.1:4317"},
		{"grpc url", ProtocolGRPC, "http://127.0.0.1:4317"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Protocol, cfg.Addr = tt.protocol, tt.addr

			exp, err := newExporter(context.Background(), cfg)
			require.NoError(t, err)
			require.NotNil(t, exp)
			require.NoError(t, exp.Shutdown(context.Background()))
		})
	}
}

func TestNewExporter_UnsupportedProtocol(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Protocol = "zipkin"
	_, err := newExporter(context.Background(), cfg)
	require.ErrorIs(t, err, ErrUnsupportedProtocol)
}

func TestHTTPEndpointURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://collector:4318", "http://collector:4318/v1/traces"},
		{"http://collector:4318/", "http://collector:4318/v1/traces"},
		{"https://collector/custom/path", "https://collector/custom/path"},
	}
	for _, tt := range tests {
		got, err := httpEndpointURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := httpEndpointURL("http://[::1")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

// =============================================================================
// 熔断导出器
// =============================================================================

func testSpans(n int) []sdktrace.ReadOnlySpan {
	stubs := make(tracetest.SpanStubs, n)
	for i := range stubs {
		stubs[i].Name = "span"
	}
	return stubs.Snapshots()
}

func TestBreakerExporter_TripsAndDrops(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockSpanExporter(ctrl)
	boom := errors.New("collector down")

	// 只有前两次调用到达内部导出器
	mock.EXPECT().ExportSpans(gomock.Any(), gomock.Any()).Return(boom).Times(2)

	e := NewBreakerExporter(mock, ExporterConfig{BreakerFailures: 2, BreakerOpenPeriod: time.Hour}, nil)
	ctx := context.Background()

	require.ErrorIs(t, e.ExportSpans(ctx, testSpans(1)), boom)
	assert.Equal(t, gobreaker.StateClosed, e.State())
	require.ErrorIs(t, e.ExportSpans(ctx, testSpans(1)), boom)
	assert.Equal(t, gobreaker.StateOpen, e.State())

	require.NoError(t, e.ExportSpans(ctx, testSpans(3)), "open breaker drops silently")
	assert.Equal(t, uint64(3), e.Dropped())
}

func TestBreakerExporter_HalfOpenRecovers(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockSpanExporter(ctrl)

	gomock.InOrder(
		mock.EXPECT().ExportSpans(gomock.Any(), gomock.Any()).Return(errors.New("down")),
		mock.EXPECT().ExportSpans(gomock.Any(), gomock.Any()).Return(nil),
	)

	e := NewBreakerExporter(mock, ExporterConfig{BreakerFailures: 1, BreakerOpenPeriod: 20 * time.Millisecond}, nil)
	ctx := context.Background()

	require.Error(t, e.ExportSpans(ctx, testSpans(1)))
	assert.Equal(t, gobreaker.StateOpen, e.State())

	require.Eventually(t, func() bool { return e.State() == gobreaker.StateHalfOpen },
		time.Second, 5*time.Millisecond)
	require.NoError(t, e.ExportSpans(ctx, testSpans(1)))
	assert.Equal(t, gobreaker.StateClosed, e.State())
	assert.Zero(t, e.Dropped())
}

func TestBreakerExporter_ShutdownBypassesBreaker(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockSpanExporter(ctrl)
	mock.EXPECT().ExportSpans(gomock.Any(), gomock.Any()).Return(errors.New("down"))
	mock.EXPECT().Shutdown(gomock.Any()).Return(nil)

	e := NewBreakerExporter(mock, ExporterConfig{BreakerFailures: 1}, nil)
	require.Error(t, e.ExportSpans(context.Background(), testSpans(1)))
	assert.Equal(t, gobreaker.StateOpen, e.State())
	require.NoError(t, e.Shutdown(context.Background()))
}
