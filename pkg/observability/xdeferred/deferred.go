package xdeferred

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/omeyang/xtracing/xdeferred"

	// MetricDeferredSpans 延迟处理器决策计数指标名
	MetricDeferredSpans = "xtracing.deferred.spans"
)

// 决策原因，同时作为指标的 reason 属性值
const (
	ReasonSampled = "sampled"
	ReasonError   = "error"
	ReasonSlow    = "slow"
	ReasonNone    = "none"
)

// NeverSlow 默认慢调用阈值：不按耗时补采
const NeverSlow = time.Duration(math.MaxInt64)

// =============================================================================
// DeferredRecordable
// =============================================================================

// DeferredRecordable 包装内部 Recordable，额外捕获采样标记、状态码与耗时。
//
// 只覆盖 SetIdentity、SetStatus、SetDuration，其余写入通过嵌入直接委托。
type DeferredRecordable struct {
	Recordable

	sampled    bool
	statusCode codes.Code
	duration   time.Duration
}

// SetIdentity 记录采样标记后委托
func (d *DeferredRecordable) SetIdentity(sc trace.SpanContext, parent trace.SpanID) {
	d.sampled = sc.IsSampled()
	d.Recordable.SetIdentity(sc, parent)
}

// SetStatus 记录状态码后委托
func (d *DeferredRecordable) SetStatus(code codes.Code, description string) {
	d.statusCode = code
	d.Recordable.SetStatus(code, description)
}

// SetDuration 记录耗时后委托
func (d *DeferredRecordable) SetDuration(dur time.Duration) {
	d.duration = dur
	d.Recordable.SetDuration(dur)
}

// Sampled 返回捕获的采样标记
func (d *DeferredRecordable) Sampled() bool { return d.sampled }

// StatusCode 返回捕获的状态码
func (d *DeferredRecordable) StatusCode() codes.Code { return d.statusCode }

// Duration 返回捕获的耗时
func (d *DeferredRecordable) Duration() time.Duration { return d.duration }

// Unwrap 返回内部 Recordable
func (d *DeferredRecordable) Unwrap() Recordable { return d.Recordable }

// =============================================================================
// Processor
// =============================================================================

// Option 处理器选项
type Option func(*options)

type options struct {
	sampleError   bool
	slowThreshold time.Duration
	meterProvider metric.MeterProvider
}

// WithSampleError 设置是否补采状态为 Error 的 span。默认 false。
func WithSampleError(enabled bool) Option {
	return func(o *options) {
		o.sampleError = enabled
	}
}

// WithSlowThreshold 设置慢调用阈值，耗时严格大于阈值的 span 被补采。
// 默认 NeverSlow；负值按 0 处理。
func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) {
		o.slowThreshold = max(d, 0)
	}
}

// WithMeterProvider 设置 MeterProvider，启用决策计数指标。nil 被忽略。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// Stats 决策计数快照
type Stats struct {
	Forwarded uint64
	Dropped   uint64
}

// Processor 延迟采样处理器，包装一个内部 SpanProcessor。
//
// OnEnd 在调用方 goroutine 中同步执行。
type Processor struct {
	inner         SpanProcessor
	sampleError   bool
	slowThreshold time.Duration

	forwarded atomic.Uint64
	dropped   atomic.Uint64
	counter   metric.Int64Counter
}

// New 创建延迟采样处理器。inner 为 nil 时返回 ErrNilProcessor。
func New(inner SpanProcessor, opts ...Option) (*Processor, error) {
	if inner == nil {
		return nil, ErrNilProcessor
	}
	o := options{slowThreshold: NeverSlow}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Processor{
		inner:         inner,
		sampleError:   o.sampleError,
		slowThreshold: o.slowThreshold,
	}
	if o.meterProvider != nil {
		counter, err := o.meterProvider.Meter(instrumentationName).Int64Counter(
			MetricDeferredSpans,
			metric.WithDescription("Spans seen by the deferred sampling processor"),
			metric.WithUnit("{span}"),
		)
		if err != nil {
			return nil, err
		}
		p.counter = counter
	}
	return p, nil
}

// MakeRecordable 以内部处理器的 Recordable 构造 DeferredRecordable
func (p *Processor) MakeRecordable() Recordable {
	return &DeferredRecordable{Recordable: p.inner.MakeRecordable()}
}

// OnStart 解包后委托给内部处理器
func (p *Processor) OnStart(ctx context.Context, r Recordable, parent trace.SpanContext) {
	if d, ok := r.(*DeferredRecordable); ok {
		r = d.Recordable
	}
	p.inner.OnStart(ctx, r, parent)
}

// OnEnd 二次决策。非 DeferredRecordable 直接忽略；转发时交给内部处理器的是解包后的 Recordable。
func (p *Processor) OnEnd(r Recordable) {
	d, ok := r.(*DeferredRecordable)
	if !ok || d == nil {
		return
	}
	forward, reason := p.Decide(d)
	p.observe(forward, reason)
	if forward {
		p.inner.OnEnd(d.Recordable)
	}
}

// Decide 返回是否转发及原因，不产生副作用
func (p *Processor) Decide(d *DeferredRecordable) (forward bool, reason string) {
	switch {
	case d.sampled:
		return true, ReasonSampled
	case p.sampleError && d.statusCode == codes.Error:
		return true, ReasonError
	case d.duration > p.slowThreshold:
		return true, ReasonSlow
	default:
		return false, ReasonNone
	}
}

// ForceFlush 委托给内部处理器
func (p *Processor) ForceFlush(ctx context.Context) error {
	return p.inner.ForceFlush(ctx)
}

// Shutdown 委托给内部处理器
func (p *Processor) Shutdown(ctx context.Context) error {
	return p.inner.Shutdown(ctx)
}

// Stats 返回转发/丢弃计数
func (p *Processor) Stats() Stats {
	return Stats{
		Forwarded: p.forwarded.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// SlowThreshold 返回慢调用阈值
func (p *Processor) SlowThreshold() time.Duration { return p.slowThreshold }

// SampleError 返回是否补采错误 span
func (p *Processor) SampleError() bool { return p.sampleError }

func (p *Processor) observe(forward bool, reason string) {
	decision := "drop"
	if forward {
		p.forwarded.Add(1)
		decision = "forward"
	} else {
		p.dropped.Add(1)
	}
	if p.counter != nil {
		p.counter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("decision", decision),
			attribute.String("reason", reason),
		))
	}
}

var _ SpanProcessor = (*Processor)(nil)
