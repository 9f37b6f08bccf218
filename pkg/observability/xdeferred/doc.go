// Package xdeferred 提供延迟采样处理器：在 span 结束时对未采样的 span 做二次决策。
//
// 头部采样在 span 创建时决定去留，此时还不知道调用是否出错、是否慢。
// 配合 xsampling 的延迟兜底（未命中时返回 RecordOnly），未采样但已记录的 span
// 会到达本包的处理器，按以下顺序决定是否转发给下游处理器：
//
//   - 已采样 → 转发
//   - 开启错误补采且状态为 Error → 转发
//   - 耗时严格大于慢调用阈值 → 转发
//   - 其余 → 丢弃
//
// 处理器同步执行，不启动 goroutine、不做缓冲。转发/丢弃计数使用原子变量，
// 可选地通过 OpenTelemetry Int64Counter 上报。
//
// # 两层接口
//
// Recordable / SpanProcessor 是 span 数据的可变构建模型：处理器创建 Recordable，
// 调用方逐项写入，结束时交回处理器。Processor 在此模型上实现决策，
// DeferredRecordable 只拦截 SetIdentity、SetStatus、SetDuration 三个写入。
//
// NewSpanProcessor 把同样的决策桥接到 OpenTelemetry SDK：它实现
// sdktrace.SpanProcessor，把结束的 span 快照回放到 DeferredRecordable 中，
// 需要转发时把快照标记为已采样后交给内部 SDK 处理器（SDK 的批处理器只导出已采样 span）。
package xdeferred
