package xtrace

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Identity 追踪身份
// =============================================================================

// Identity 一个 span 的追踪身份。
//
// TraceID 在根 span 生成后沿调用链不变；SpanID 每个 span 重新生成；
// (TraceID, SpanID) 唯一标识一个 span。
type Identity struct {
	TraceID trace.TraceID
	SpanID  trace.SpanID
	Sampled bool
}

// IdentityFromSpanContext 从 SpanContext 提取追踪身份
func IdentityFromSpanContext(sc trace.SpanContext) Identity {
	return Identity{
		TraceID: sc.TraceID(),
		SpanID:  sc.SpanID(),
		Sampled: sc.IsSampled(),
	}
}

// IdentityFromContext 从 context 中的当前 span 提取追踪身份
func IdentityFromContext(ctx context.Context) Identity {
	return IdentityFromSpanContext(trace.SpanContextFromContext(ctx))
}

// SpanContext 转换为 SpanContext
func (id Identity) SpanContext() trace.SpanContext {
	var flags trace.TraceFlags
	if id.Sampled {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    id.TraceID,
		SpanID:     id.SpanID,
		TraceFlags: flags,
	})
}

// IsValid trace_id 与 span_id 均非全零
func (id Identity) IsValid() bool {
	return id.TraceID.IsValid() && id.SpanID.IsValid()
}

// String 返回 "trace_id/span_id/sampled" 形式的文本
func (id Identity) String() string {
	s := "0"
	if id.Sampled {
		s = "1"
	}
	return id.TraceID.String() + "/" + id.SpanID.String() + "/" + s
}

// =============================================================================
// 传播器
// =============================================================================

// 设计决策: 传播器为包级只读实例，W3C Trace Context 负责 trace 身份，
// Baggage 负责业务透传键值，两者与载体无关。
var defaultPropagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Propagator 返回 W3C Trace Context + Baggage 组合传播器
func Propagator() propagation.TextMapPropagator {
	return defaultPropagator
}

// =============================================================================
// Context 辅助函数
// =============================================================================

type ctxKey int

const (
	forceSampleKey ctxKey = iota
	callerMethodKey
)

// WithForceSample 标记调用链强制采样
func WithForceSample(ctx context.Context) context.Context {
	return context.WithValue(ctx, forceSampleKey, true)
}

// IsForceSample 报告调用链是否被标记为强制采样
func IsForceSample(ctx context.Context) bool {
	v, _ := ctx.Value(forceSampleKey).(bool)
	return v
}

// callerMethod 返回当前服务端正在处理的方法名，作为出站调用的主调方法
func callerMethod(ctx context.Context) string {
	v, _ := ctx.Value(callerMethodKey).(string)
	return v
}

func withCallerMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, callerMethodKey, method)
}
