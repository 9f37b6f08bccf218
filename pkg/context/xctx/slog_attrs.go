package xctx

import (
	"context"
	"log/slog"
)

// =============================================================================
// Trace slog 集成
// =============================================================================

// AppendTraceAttrs 将 context 中的追踪信息追加到现有切片。
// 零分配热路径：传入预分配的切片，只追加非空字段。
func AppendTraceAttrs(attrs []slog.Attr, ctx context.Context) []slog.Attr {
	if ctx == nil {
		return attrs
	}

	if sc := spanContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String(KeyTraceID, sc.TraceID().String()),
			slog.String(KeySpanID, sc.SpanID().String()),
			slog.String(KeyTraceFlags, sc.TraceFlags().String()),
		)
	}
	if v := RequestID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyRequestID, v))
	}
	return attrs
}

// TraceAttrs 从 context 提取追踪信息，转换为 slog.Attr 切片
//
// 都为空时返回 nil。每次调用会分配新切片，热路径建议使用 AppendTraceAttrs。
func TraceAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	attrs := AppendTraceAttrs(make([]slog.Attr, 0, traceFieldCount), ctx)
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
