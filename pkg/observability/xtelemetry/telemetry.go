package xtelemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xtracing/pkg/observability/xcarrier"
	"github.com/omeyang/xtracing/pkg/observability/xdeferred"
	"github.com/omeyang/xtracing/pkg/observability/xsampling"
	"github.com/omeyang/xtracing/pkg/observability/xtrace"
)

// 资源属性键
const (
	ResourceServiceName      = "service.name"
	ResourceServiceNamespace = "service.namespace"
	ResourceEnvironment      = "deployment.environment"
)

// =============================================================================
// 选项
// =============================================================================

// Option Telemetry 选项
type Option func(*options)

type options struct {
	exporter      sdktrace.SpanExporter
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	batchOpts     []sdktrace.BatchSpanProcessorOption
	filterOpts    []xtrace.Option
}

// WithExporter 使用给定导出器，忽略 addr 与 protocol
func WithExporter(e sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = e }
}

// WithLogger 设置日志记录器。nil 被忽略。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMeterProvider 为延迟采样处理器提供 MeterProvider
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithBatchOptions 追加批处理器选项
func WithBatchOptions(opts ...sdktrace.BatchSpanProcessorOption) Option {
	return func(o *options) { o.batchOpts = append(o.batchOpts, opts...) }
}

// WithFilterOptions 追加过滤器选项，排在由配置生成的选项之后
func WithFilterOptions(opts ...xtrace.Option) Option {
	return func(o *options) { o.filterOpts = append(o.filterOpts, opts...) }
}

// =============================================================================
// Telemetry
// =============================================================================

// Telemetry 链路追踪运行时
type Telemetry struct {
	provider *sdktrace.TracerProvider
	sampler  *xsampling.Reloadable
	deferred *xdeferred.SDKProcessor
	breaker  *BreakerExporter
	registry *xcarrier.Registry
	client   *xtrace.ClientFilter
	server   *xtrace.ServerFilter
	logger   *slog.Logger

	mu  sync.RWMutex
	cfg Config

	shutdownOnce sync.Once
	shutdownErr  error
}

// New 按配置组装追踪运行时。cfg 不会被修改。
//
// 配置中的非法值按 Config.Normalize 修正并记录告警；协议未知时返回 ErrUnsupportedProtocol。
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := *cfg
	c.Traces.Resources = cloneResources(cfg.Traces.Resources)
	if err := c.Normalize(); err != nil {
		o.logger.Warn("xtelemetry: config normalized", slog.Any("error", err))
	}

	exporter := o.exporter
	if exporter == nil {
		var err error
		if exporter, err = newExporter(ctx, &c); err != nil {
			return nil, err
		}
	}

	t := &Telemetry{logger: o.logger, cfg: c}
	if c.Exporter.Breaker {
		t.breaker = NewBreakerExporter(exporter, c.Exporter, o.logger)
		exporter = t.breaker
	}

	var processor sdktrace.SpanProcessor = sdktrace.NewBatchSpanProcessor(exporter, o.batchOpts...)
	if c.Traces.EnableDeferredSample {
		dopts := []xdeferred.Option{
			xdeferred.WithSampleError(c.Traces.DeferredSampleError),
			xdeferred.WithSlowThreshold(c.Traces.DeferredSampleSlowDuration),
		}
		if o.meterProvider != nil {
			dopts = append(dopts, xdeferred.WithMeterProvider(o.meterProvider))
		}
		dp, err := xdeferred.NewSpanProcessor(processor, dopts...)
		if err != nil {
			return nil, errors.Join(err, processor.Shutdown(ctx))
		}
		t.deferred = dp
		processor = dp
	}

	res, err := buildResource(&c)
	if err != nil {
		return nil, errors.Join(err, processor.Shutdown(ctx))
	}

	// 采样器非 nil，NewReloadable 不会失败
	t.sampler, _ = xsampling.NewReloadable(xsampling.NewSampler(c.SamplerOptions()))

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(t.sampler),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
	)

	if err := xtrace.SetMaxStringLength(c.Traces.MaxStringLength); err != nil {
		o.logger.Warn("xtelemetry: max string length rejected", slog.Any("error", err))
	}

	t.registry = xcarrier.NewRegistry(xcarrier.WithLogger(o.logger))
	t.registry.RegisterDefaults()

	filterOpts := append([]xtrace.Option{
		xtrace.WithServiceName(c.ServiceName),
		xtrace.WithEnvironment(c.Namespace, c.EnvName),
		xtrace.WithExporterService(c.Exporter.Service),
		xtrace.WithTraceBody(!c.Traces.DisableTraceBody),
		xtrace.WithDeferredSampleError(c.Traces.EnableDeferredSample && c.Traces.DeferredSampleError),
		xtrace.WithLogger(o.logger),
	}, o.filterOpts...)
	tracer := t.Tracer(c.ServiceName)
	t.client = xtrace.NewClientFilter(tracer, t.registry, filterOpts...)
	t.server = xtrace.NewServerFilter(tracer, t.registry, filterOpts...)

	o.logger.Info("xtelemetry: initialized",
		slog.String("service", c.ServiceName),
		slog.String("protocol", c.Protocol),
		slog.String("sampler", t.sampler.Description()),
		slog.Bool("deferred", c.Traces.EnableDeferredSample))
	return t, nil
}

func buildResource(c *Config) (*resource.Resource, error) {
	attrs := make([]attribute.KeyValue, 0, len(c.Traces.Resources)+3)
	for k, v := range c.Traces.Resources {
		attrs = append(attrs, attribute.String(k, v))
	}
	// service.name 以 service_name 为准，覆盖 resources 中的同名项
	if c.ServiceName != "" {
		attrs = append(attrs, attribute.String(ResourceServiceName, c.ServiceName))
	}
	if c.Namespace != "" {
		attrs = append(attrs, attribute.String(ResourceServiceNamespace, c.Namespace))
	}
	if c.EnvName != "" {
		attrs = append(attrs, attribute.String(ResourceEnvironment, c.EnvName))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("xtelemetry: build resource: %w", err)
	}
	return res, nil
}

func cloneResources(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// =============================================================================
// 热更新
// =============================================================================

// Apply 以新配置替换采样器与字符串长度上限。
//
// 导出器、批处理器与延迟处理器在 New 时固定，相关字段的变更被忽略并记录告警。
func (t *Telemetry) Apply(cfg *Config) error {
	if cfg == nil {
		return ErrNilConfig
	}
	c := *cfg
	c.Traces.Resources = cloneResources(cfg.Traces.Resources)
	if err := c.Normalize(); err != nil {
		t.logger.Warn("xtelemetry: config normalized", slog.Any("error", err))
	}

	t.mu.RLock()
	prev := t.cfg
	t.mu.RUnlock()

	if c.Traces.EnableDeferredSample != prev.Traces.EnableDeferredSample ||
		c.Protocol != prev.Protocol || c.Addr != prev.Addr {
		t.logger.Warn("xtelemetry: exporter and deferred settings require restart",
			slog.String("protocol", c.Protocol),
			slog.String("addr", c.Addr),
			slog.Bool("deferred", c.Traces.EnableDeferredSample))
	}
	// 采样器的延迟开关必须与处理器链一致
	c.Traces.EnableDeferredSample = prev.Traces.EnableDeferredSample

	s := xsampling.NewSampler(c.SamplerOptions())
	if err := t.sampler.Store(s); err != nil {
		return err
	}
	if err := xtrace.SetMaxStringLength(c.Traces.MaxStringLength); err != nil {
		return err
	}

	t.mu.Lock()
	t.cfg.Sampler = c.Sampler
	t.cfg.Traces.DisableParentSampling = c.Traces.DisableParentSampling
	t.cfg.Traces.MaxStringLength = c.Traces.MaxStringLength
	t.mu.Unlock()

	t.logger.Info("xtelemetry: sampler reloaded", slog.String("sampler", s.Description()))
	return nil
}

// OnConfigChange 可直接作为 Watch 的回调
func (t *Telemetry) OnConfigChange(cfg *Config, err error) {
	if err != nil {
		t.logger.Warn("xtelemetry: config reload failed", slog.Any("error", err))
		return
	}
	if err := t.Apply(cfg); err != nil {
		t.logger.Warn("xtelemetry: config apply failed", slog.Any("error", err))
	}
}

// =============================================================================
// 访问器
// =============================================================================

// Tracer 返回指定名称的 Tracer，name 为空时使用 xtrace.DefaultTracerName
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if name == "" {
		name = xtrace.DefaultTracerName
	}
	return t.provider.Tracer(name, opts...)
}

// TracerProvider 返回底层 TracerProvider
func (t *Telemetry) TracerProvider() *sdktrace.TracerProvider { return t.provider }

// Sampler 返回可重载采样器
func (t *Telemetry) Sampler() *xsampling.Reloadable { return t.sampler }

// Registry 返回载体注册表
func (t *Telemetry) Registry() *xcarrier.Registry { return t.registry }

// ClientFilter 返回客户端过滤器
func (t *Telemetry) ClientFilter() *xtrace.ClientFilter { return t.client }

// ServerFilter 返回服务端过滤器
func (t *Telemetry) ServerFilter() *xtrace.ServerFilter { return t.server }

// Breaker 返回熔断导出器，未启用时为 nil
func (t *Telemetry) Breaker() *BreakerExporter { return t.breaker }

// DeferredStats 返回延迟采样处理器的计数。未启用延迟采样时 ok 为 false。
func (t *Telemetry) DeferredStats() (stats xdeferred.Stats, ok bool) {
	if t.deferred == nil {
		return xdeferred.Stats{}, false
	}
	return t.deferred.Stats(), true
}

// Config 返回当前生效配置的副本
func (t *Telemetry) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c := t.cfg
	c.Traces.Resources = cloneResources(t.cfg.Traces.Resources)
	return c
}

// SetGlobal 把 TracerProvider 与传播器设置为 otel 全局默认
func (t *Telemetry) SetGlobal() {
	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(xtrace.Propagator())
}

// ForceFlush 导出所有已结束但未导出的 span
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	return t.provider.ForceFlush(ctx)
}

// Shutdown 刷出剩余 span 并关闭处理器链与导出器。重复调用返回首次结果。
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.shutdownOnce.Do(func() {
		t.shutdownErr = t.provider.Shutdown(ctx)
	})
	return t.shutdownErr
}
