// Package xctx 提供请求级追踪字段的 context 存取，并为日志系统提供属性提取。
//
// 追踪信息（Trace）：
//   - trace_id    : 当前 span 的 trace 标识（W3C，128-bit）
//   - span_id     : 当前 span 标识（W3C，64-bit）
//   - trace_flags : W3C trace-flags，"01" 表示已采样
//   - request_id  : 请求标识，由服务端入口写入
//
// 设计决策: trace_id、span_id、trace_flags 只读，直接取自 context 中的
// OpenTelemetry span（本地或远端），不在 context 中另存一份，避免与 span 不一致。
// request_id 不属于 W3C 规范，仍以 context value 保存。
//
// # 命名约定
//
//	WithXxx(ctx, value)    - 注入：将 value 写入 context
//	Xxx(ctx)               - 读取：缺失时返回空字符串
//	RequireXxx(ctx)        - 强制读取：缺失时返回错误
//	EnsureXxx(ctx)         - 确保存在：已存在则沿用，否则生成
//	GetTrace(ctx)          - 批量读取：返回结构体
//
// # slog 集成
//
//	attrs = xctx.AppendTraceAttrs(attrs, ctx) // 热路径，调用方预分配
//	attrs := xctx.TraceAttrs(ctx)            // 便捷版本，每次分配
package xctx
