// Package xlog 构建带链路上下文的 slog.Logger。
//
// TraceHandler 通过 xctx 从 context 中的 span 提取 trace_id、span_id、trace_flags，
// 以及 xtrace 服务端过滤器写入的 request_id，追加到每条日志。
// Builder 负责输出目标（stderr 或按大小轮转的文件）、级别与格式。
//
//	logger, cleanup, err := xlog.New().
//	    SetLevelString("debug").
//	    SetRotation("/var/log/app/trace.log", xlog.RotationConfig{MaxSizeMB: 100}).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
package xlog
