// Package xtelemetry 组装链路追踪运行时：配置加载与热更新、OTLP 导出器、
// 延迟采样处理器、可重载采样器，以及客户端/服务端过滤器。
//
// 典型用法：
//
//	cfg, err := xtelemetry.Load("trace.yaml")
//	if err != nil {
//	    return err
//	}
//	tel, err := xtelemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	w, err := xtelemetry.Watch("trace.yaml", tel.OnConfigChange)
//
// 配置热更新只替换采样器（比例、延迟采样开关、父采样开关），
// 导出器与处理器链在 New 时固定。
package xtelemetry
