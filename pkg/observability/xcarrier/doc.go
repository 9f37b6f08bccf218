// Package xcarrier 提供跨协议的链路上下文载体。
//
// 载体实现 OpenTelemetry 的 propagation.TextMapCarrier（Get/Set/Keys），
// 让同一个传播器把 trace 身份写入或读出不同传输层的键值存储：
//
//   - MapWriter / MapReader：RPC 透传字段 map[string]string
//   - HeaderWriter / HeaderReader：HTTP Header
//   - MetadataWriter / MetadataReader：gRPC Metadata
//
// Reader 的 Set 为空操作；Writer 的 Get 不修改底层存储。
//
// # 嵌入式 JSON 回退
//
// 部分网关把透传字段打包成一个 JSON 对象放进单个 Header（默认
// TransInfoHeader）。HeaderReader.Get 先查同名 Header，缺失时解析该 JSON，
// 返回对应的字符串成员。JSON 每个载体只解析一次；格式错误或成员非字符串时返回空串。
//
// # 协议注册表
//
// Registry 按 (协议, 角色) 保存载体构造函数。未注册的协议回退到通用的
// 透传字段载体，CarrierFunc 永不返回 nil。RegisterDefaults 注册
// "trpc"、"http"、"grpc" 三种协议的默认构造函数。
package xcarrier
