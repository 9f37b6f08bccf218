package xsampling

import (
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ForceSampleKey 强制采样属性键。
//
// span 创建时的属性中只要存在该键（值不限），即无条件采样。
// 同名键也用于跨进程透传染色标记，见 xtrace.WithForceSample。
const ForceSampleKey = "x-force-sample"

// Options 采样配置
type Options struct {
	// Ratio 比率采样的比例，范围 [0, 1]。超出范围会被钳制。
	Ratio float64

	// EnableDeferredSample 未命中其他规则时返回 RecordOnly 而非 Drop，
	// 使 span 仍被记录，留给延迟处理器按错误或耗时补采。
	EnableDeferredSample bool

	// DisableParentSampling 忽略父 span 的采样标记
	DisableParentSampling bool
}

// Validate 校验配置。
//
// 返回非 nil 时 NewSampler 仍可使用该配置（会被钳制），
// 调用方通常只需记录告警。
func (o Options) Validate() error {
	if math.IsNaN(o.Ratio) || o.Ratio < 0 || o.Ratio > 1 {
		return fmt.Errorf("%w: got %v", ErrRatioOutOfRange, o.Ratio)
	}
	return nil
}

// Sampler 链路采样决策器。
//
// 创建后只读，并发安全。零值等价于 ratio=0 且关闭延迟采样。
type Sampler struct {
	opts      Options
	threshold uint64
}

// NewSampler 创建采样器。ratio 超出 [0, 1] 或为 NaN 时被钳制。
func NewSampler(opts Options) *Sampler {
	opts.Ratio = clampRatio(opts.Ratio)
	return &Sampler{
		opts:      opts,
		threshold: RatioThreshold(opts.Ratio),
	}
}

// ShouldSample 计算采样决策。
//
// attrs 为 span 创建时的属性，仅用于检测 ForceSampleKey。纯函数，无 I/O。
func (s *Sampler) ShouldSample(parentSampled bool, traceID trace.TraceID, attrs []attribute.KeyValue) Decision {
	if hasForceSample(attrs) {
		return RecordAndSample
	}
	if parentSampled && !s.opts.DisableParentSampling {
		return RecordAndSample
	}
	if selected(s.threshold, traceID) {
		return RecordAndSample
	}
	if s.opts.EnableDeferredSample {
		return RecordOnly
	}
	return Drop
}

// Options 返回钳制后的配置
func (s *Sampler) Options() Options {
	return s.opts
}

// Threshold 返回比率采样阈值
func (s *Sampler) Threshold() uint64 {
	return s.threshold
}

// Description 返回采样器描述，格式与 OpenTelemetry 内置采样器一致
func (s *Sampler) Description() string {
	return fmt.Sprintf("XSampler{ratio=%g,deferred=%t,disableParent=%t}",
		s.opts.Ratio, s.opts.EnableDeferredSample, s.opts.DisableParentSampling)
}

// SDK 返回 sdktrace.Sampler 适配器。
//
// 父级采样标记取自 ParentContext 中的 SpanContext（本地或远端），
// 并沿用父级的 TraceState。
func (s *Sampler) SDK() sdktrace.Sampler {
	return sdkSampler{s: s}
}

func hasForceSample(attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		if kv.Key == ForceSampleKey {
			return true
		}
	}
	return false
}

// sdkSampler 将 Sampler 适配为 sdktrace.Sampler
type sdkSampler struct {
	s *Sampler
}

func (a sdkSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	return sample(a.s, p)
}

func (a sdkSampler) Description() string {
	return a.s.Description()
}

func sample(s *Sampler, p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	psc := trace.SpanContextFromContext(p.ParentContext)
	d := s.ShouldSample(psc.IsSampled(), p.TraceID, p.Attributes)
	return sdktrace.SamplingResult{
		Decision:   d.SDK(),
		Tracestate: psc.TraceState(),
	}
}

var _ sdktrace.Sampler = sdkSampler{}
