package xctx

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Trace 日志属性 Key 常量
// =============================================================================

// Trace Key 常量，遵循 OpenTelemetry 语义约定（下划线分隔）
const (
	KeyTraceID    = "trace_id"
	KeySpanID     = "span_id"
	KeyTraceFlags = "trace_flags"
	KeyRequestID  = "request_id"

	// traceFieldCount 追踪字段数量（用于 slog 属性预分配）
	traceFieldCount = 4
)

const keyRequestID = contextKey("xctx:request_id")

// =============================================================================
// span 派生字段
// =============================================================================

// spanContext ctx 为 nil 时返回无效 SpanContext
func spanContext(ctx context.Context) trace.SpanContext {
	if ctx == nil {
		return trace.SpanContext{}
	}
	return trace.SpanContextFromContext(ctx)
}

// TraceID 返回当前 span 的 trace ID（32 位小写十六进制），没有有效 span 时返回空字符串
func TraceID(ctx context.Context) string {
	if sc := spanContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanID 返回当前 span 的 span ID（16 位小写十六进制），没有有效 span 时返回空字符串
func SpanID(ctx context.Context) string {
	if sc := spanContext(ctx); sc.IsValid() {
		return sc.SpanID().String()
	}
	return ""
}

// TraceFlags 返回当前 span 的 trace-flags（如 "01"），没有有效 span 时返回空字符串
func TraceFlags(ctx context.Context) string {
	if sc := spanContext(ctx); sc.IsValid() {
		return sc.TraceFlags().String()
	}
	return ""
}

// RequireTraceID 从 context 获取 trace ID，不存在则返回错误。
// 如果 ctx 为 nil，返回 ErrNilContext。
func RequireTraceID(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	v := TraceID(ctx)
	if v == "" {
		return "", ErrMissingTraceID
	}
	return v, nil
}

// RequireSpanID 从 context 获取 span ID，不存在则返回错误。
// 如果 ctx 为 nil，返回 ErrNilContext。
func RequireSpanID(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	v := SpanID(ctx)
	if v == "" {
		return "", ErrMissingSpanID
	}
	return v, nil
}

// =============================================================================
// RequestID 操作
// =============================================================================

// WithRequestID 将 request ID 注入 context
//
// 如果 ctx 为 nil，返回 ErrNilContext。
func WithRequestID(ctx context.Context, requestID string) (context.Context, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	return context.WithValue(ctx, keyRequestID, requestID), nil
}

// RequestID 从 context 提取 request ID，不存在返回空字符串
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// RequireRequestID 从 context 获取 request ID，不存在则返回错误。
// 如果 ctx 为 nil，返回 ErrNilContext。
func RequireRequestID(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	v := RequestID(ctx)
	if v == "" {
		return "", ErrMissingRequestID
	}
	return v, nil
}

// GenerateRequestID 生成 RequestID（UUID v4 字符串）
func GenerateRequestID() string {
	return uuid.NewString()
}

// EnsureRequestID 确保 context 中存在 RequestID。
//
// 已有时原样返回（不验证/不纠正），否则生成新的并注入。
// 如果 ctx 为 nil，返回 ErrNilContext。
func EnsureRequestID(ctx context.Context) (context.Context, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if RequestID(ctx) != "" {
		return ctx, nil
	}
	return WithRequestID(ctx, GenerateRequestID())
}

// =============================================================================
// Trace 结构体（批量获取模式）
// =============================================================================

// Trace 追踪信息结构体。字段可能为空字符串。
type Trace struct {
	TraceID    string
	SpanID     string
	TraceFlags string
	RequestID  string
}

// GetTrace 从 context 批量获取所有追踪信息，span 只查找一次
func GetTrace(ctx context.Context) Trace {
	var t Trace
	if sc := spanContext(ctx); sc.IsValid() {
		t.TraceID = sc.TraceID().String()
		t.SpanID = sc.SpanID().String()
		t.TraceFlags = sc.TraceFlags().String()
	}
	t.RequestID = RequestID(ctx)
	return t
}

// Validate 按 TraceID → SpanID → RequestID 顺序返回第一个缺失字段的错误。
// TraceFlags 不参与校验。
func (t Trace) Validate() error {
	if t.TraceID == "" {
		return ErrMissingTraceID
	}
	if t.SpanID == "" {
		return ErrMissingSpanID
	}
	if t.RequestID == "" {
		return ErrMissingRequestID
	}
	return nil
}

// IsComplete TraceID、SpanID、RequestID 都非空时返回 true
func (t Trace) IsComplete() bool {
	return t.Validate() == nil
}
