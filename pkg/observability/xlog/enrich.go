package xlog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/omeyang/xtracing/pkg/context/xctx"
)

// ErrNilHandler NewTraceHandler 的 base 为 nil
var ErrNilHandler = errors.New("xlog: base handler is nil")

// TraceHandler 装饰 slog.Handler，Handle 时通过 xctx 从 context 注入
// trace_id、span_id、trace_flags、request_id。
// context 中没有有效 span 时只注入 request_id（如存在）。
type TraceHandler struct {
	base slog.Handler
}

var _ slog.Handler = (*TraceHandler)(nil)

// NewTraceHandler 包装 base
//
// 设计决策: 对 logger 调用 WithGroup 后，注入字段会落在 group 下，
// 这是 slog handler 组合方式决定的。需要顶层 trace_id 时不要对其调用 WithGroup。
func NewTraceHandler(base slog.Handler) (*TraceHandler, error) {
	if base == nil {
		return nil, ErrNilHandler
	}
	return &TraceHandler{base: base}, nil
}

// Enabled 委托给底层 handler
func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// maxTraceAttrs trace_id、span_id、trace_flags、request_id
const maxTraceAttrs = 4

// Handle 注入链路字段后交给底层 handler。按 slog 约定先 Clone 再修改 record。
// ctx 为 nil 时不注入（xctx 内部处理 nil ctx）。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	// 栈数组避免热路径堆分配
	var buf [maxTraceAttrs]slog.Attr
	attrs := xctx.AppendTraceAttrs(buf[:0], ctx)

	if len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.base.Handle(ctx, r)
}

// WithAttrs 返回带额外属性的新 handler
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{base: h.base.WithAttrs(attrs)}
}

// WithGroup 返回带分组的新 handler
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{base: h.base.WithGroup(name)}
}
