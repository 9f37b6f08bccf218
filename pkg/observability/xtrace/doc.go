// Package xtrace 提供 RPC 调用链上的 span 创建与跨进程传播。
//
// # 设计理念
//
// xtrace 是采样核心与传输层之间的胶水：ClientFilter / ServerFilter 在调用前后
// 创建并结束 span，通过 xcarrier.Registry 按协议选择载体，用 W3C Trace Context
// 与 Baggage 传播器注入或提取 trace 身份。采样由 TracerProvider 上配置的
// xsampling 采样器完成，本包只负责把采样所需的属性在 span 创建时就写入。
//
// # 强制采样染色
//
// WithForceSample(ctx) 标记当前调用链需要强制采样。客户端把 xsampling.ForceSampleKey
// 写入出站载体；服务端在入站载体中发现该键后，为本地 span 带上同名属性，
// 并把标记继续放在 context 中，使后续的出站调用也被染色。
//
// # 请求/响应记录
//
// 开启消息体记录时，span 已采样（或开启了错误补采且调用出错）才会以事件形式
// 记录请求与响应：事件名 SENT / RECEIVED，属性 message.uncompressed_size 与
// message.detail。protobuf 消息使用 protojson 渲染，超过 MaxStringLength
// 的内容被截断并追加 TruncatedSuffix。
//
// # 协议适配
//
// HTTP：HTTPMiddleware 服务端中间件，RoundTripper 客户端传输层，InjectToRequest 手动注入。
// gRPC：GRPCUnaryServerInterceptor / GRPCStreamServerInterceptor 服务端拦截器，
// GRPCUnaryClientInterceptor / GRPCStreamClientInterceptor 客户端拦截器。
package xtrace
