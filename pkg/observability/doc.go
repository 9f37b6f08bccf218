// Package observability 提供链路追踪相关的子包。
//
// 子包列表：
//   - xsampling: 基于 trace_id 的比率采样与延迟采样决策
//   - xcarrier: 按协议构造透传载体（trpc 透传字段、HTTP Header、gRPC Metadata）
//   - xdeferred: 延迟采样 SpanProcessor，span 结束时按错误或耗时补采
//   - xtrace: 客户端/服务端过滤器、HTTP 中间件与 gRPC 拦截器
//   - xtelemetry: 配置加载、热更新与 TracerProvider 装配
//   - xlog: 注入 trace_id/span_id 的 slog handler 与日志构建器
//
// 设计原则：
//   - 遵循 OpenTelemetry 语义规范
//   - 采样决策只依赖 trace_id，跨进程、跨架构一致
//   - 自动从 context 中提取追踪信息注入日志
package observability
