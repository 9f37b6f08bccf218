package xtelemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

//go:generate mockgen -destination=mock_exporter_test.go -package=xtelemetry go.opentelemetry.io/otel/sdk/trace SpanExporter

// TracesPath OTLP/HTTP 的 traces 上报路径
const TracesPath = "/v1/traces"

// newExporter 按协议创建 OTLP 导出器。
//
// addr 带 scheme（http://、https://）时按 URL 解析，
// 否则视为 host:port 并使用明文连接。
func newExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	hasScheme := strings.Contains(cfg.Addr, "://")

	switch cfg.Protocol {
	case ProtocolHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithTimeout(cfg.Timeout)}
		if hasScheme {
			endpoint, err := httpEndpointURL(cfg.Addr)
			if err != nil {
				return nil, err
			}
			opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
		} else {
			opts = append(opts,
				otlptracehttp.WithEndpoint(cfg.Addr),
				otlptracehttp.WithURLPath(TracesPath),
				otlptracehttp.WithInsecure(),
			)
		}
		return otlptracehttp.New(ctx, opts...)

	case ProtocolGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithTimeout(cfg.Timeout)}
		if hasScheme {
			opts = append(opts, otlptracegrpc.WithEndpointURL(cfg.Addr))
		} else {
			opts = append(opts,
				otlptracegrpc.WithEndpoint(cfg.Addr),
				otlptracegrpc.WithInsecure(),
			)
		}
		return otlptracegrpc.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, cfg.Protocol)
	}
}

// httpEndpointURL 为没有路径的 URL 补上 TracesPath
func httpEndpointURL(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("%w: addr %q: %w", ErrInvalidConfig, addr, err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = TracesPath
	}
	return u.String(), nil
}

// =============================================================================
// 熔断导出器
// =============================================================================

// BreakerExporter 为导出器加熔断。
//
// 熔断打开时批次直接丢弃并返回 nil，批处理器不会因后端不可用而阻塞在超时上，
// 也不会每个批次都向 otel 全局错误处理器报错。丢弃的 span 数见 Dropped。
type BreakerExporter struct {
	next    sdktrace.SpanExporter
	cb      *gobreaker.CircuitBreaker[struct{}]
	dropped atomic.Uint64
}

var _ sdktrace.SpanExporter = (*BreakerExporter)(nil)

// NewBreakerExporter 包装 next。连续 failures 次导出失败后熔断，
// 经过 cfg.Exporter.BreakerOpenPeriod 后进入半开状态放行一个批次试探。
func NewBreakerExporter(next sdktrace.SpanExporter, cfg ExporterConfig, logger *slog.Logger) *BreakerExporter {
	if logger == nil {
		logger = slog.Default()
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = DefaultBreakerFailures
	}
	openPeriod := cfg.BreakerOpenPeriod
	if openPeriod <= 0 {
		openPeriod = DefaultBreakerOpenPeriod
	}

	settings := gobreaker.Settings{
		Name:        "xtelemetry-exporter",
		MaxRequests: 1,
		Timeout:     openPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("xtelemetry: exporter breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &BreakerExporter{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// ExportSpans 经熔断器转发给内部导出器
func (e *BreakerExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	_, err := e.cb.Execute(func() (struct{}, error) {
		return struct{}{}, e.next.ExportSpans(ctx, spans)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		e.dropped.Add(uint64(len(spans)))
		return nil
	}
	return err
}

// Shutdown 不经过熔断器，直接关闭内部导出器
func (e *BreakerExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}

// State 返回熔断器当前状态
func (e *BreakerExporter) State() gobreaker.State {
	return e.cb.State()
}

// Dropped 返回因熔断被丢弃的 span 数
func (e *BreakerExporter) Dropped() uint64 {
	return e.dropped.Load()
}
