package xctx

import "errors"

// contextKey 包私有的 context key 类型，字符串值便于调试时识别
type contextKey string

// =============================================================================
// 错误
// =============================================================================

var (
	// ErrNilContext 表示传入的 context 为 nil。
	ErrNilContext = errors.New("xctx: nil context")

	// ErrMissingTraceID context 中没有有效 span
	ErrMissingTraceID = errors.New("xctx: missing trace_id")

	// ErrMissingSpanID context 中没有有效 span
	ErrMissingSpanID = errors.New("xctx: missing span_id")

	// ErrMissingRequestID request_id 缺失
	ErrMissingRequestID = errors.New("xctx: missing request_id")
)
