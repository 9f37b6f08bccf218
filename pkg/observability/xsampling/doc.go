// Package xsampling 提供链路追踪的头部采样决策。
//
// 决策在 span 创建时计算一次，输入为父 span 是否已采样、trace_id
// 以及创建时可见的属性。优先级从高到低：
//
//   - 强制采样：属性中存在 ForceSampleKey（大小写敏感）→ RecordAndSample
//   - 父级继承：未禁用父级采样且父 span 已采样 → RecordAndSample
//   - 比率采样：trace_id 前 8 字节按大端解释为 v，v <= RatioThreshold(ratio) → RecordAndSample
//   - 延迟兜底：开启延迟采样 → RecordOnly，交给 xdeferred 在 span 结束时二次决策
//   - 其余情况 → Drop
//
// # 跨进程一致性
//
// 比率采样只依赖 trace_id 字节，不引入哈希或随机数。同一 trace 在任意进程、
// 任意重启之后得到同样的结果；且 ratio 越大，被选中的 trace 集合只增不减。
//
// # 与 OpenTelemetry SDK 集成
//
// Sampler.SDK() 返回 sdktrace.Sampler 适配器，可直接传给
// sdktrace.WithSampler。需要热更新采样配置时使用 Reloadable。
//
// # 并发安全
//
// Sampler 创建后只读，可在多个 goroutine 中共享；Reloadable 通过
// atomic.Pointer 切换底层 Sampler。
package xsampling
