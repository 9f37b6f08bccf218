package xtrace

import (
	"errors"
	"net"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/status"
)

// span 属性键
const (
	AttrCallerService = "rpc.caller_service"
	AttrCallerMethod  = "rpc.caller_method"
	AttrCalleeService = "rpc.callee_service"
	AttrCalleeMethod  = "rpc.callee_method"
	AttrNamespace     = "rpc.namespace"
	AttrEnvName       = "rpc.envname"
	AttrFrameworkRet  = "rpc.framework_ret"
	AttrFuncRet       = "rpc.func_ret"
	AttrErrMsg        = "rpc.err_msg"
	AttrHostIP        = "net.host.ip"
	AttrPeerIP        = "net.peer.ip"
	AttrPeerPort      = "net.peer.port"
	AttrRequestID     = "request.id"
)

// 消息事件
const (
	EventSent     = "SENT"
	EventReceived = "RECEIVED"

	AttrMessageSize   = "message.uncompressed_size"
	AttrMessageDetail = "message.detail"
)

// HeaderRequestID 请求 ID 的透传键
const HeaderRequestID = "X-Request-ID"

// RetCoder 携带返回码的错误。
//
// Framework 为 true 时返回码记为 rpc.framework_ret，否则记为 rpc.func_ret。
type RetCoder interface {
	error
	Code() int
	Framework() bool
}

// appendNonEmpty 仅在 value 非空时追加字符串属性
func appendNonEmpty(attrs []attribute.KeyValue, key, value string) []attribute.KeyValue {
	if value == "" {
		return attrs
	}
	return append(attrs, attribute.String(key, value))
}

// peerAttributes 解析 "host:port" 形式的对端地址
func peerAttributes(addr string) []attribute.KeyValue {
	if addr == "" {
		return nil
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return []attribute.KeyValue{attribute.String(AttrPeerIP, addr)}
	}
	attrs := []attribute.KeyValue{attribute.String(AttrPeerIP, host)}
	if p, err := strconv.Atoi(port); err == nil {
		attrs = append(attrs, attribute.Int(AttrPeerPort, p))
	}
	return attrs
}

// setStatus 按调用结果设置 span 状态。
//
// nil → Ok；非 nil → Error，并记录错误信息与返回码。
// RetCoder 优先；其次识别 gRPC status 错误，其返回码视为框架返回码。
func setStatus(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetStatus(codes.Error, err.Error())
	attrs := []attribute.KeyValue{attribute.String(AttrErrMsg, err.Error())}

	var rc RetCoder
	if errors.As(err, &rc) {
		key := AttrFuncRet
		if rc.Framework() {
			key = AttrFrameworkRet
		}
		attrs = append(attrs, attribute.Int(key, rc.Code()))
	} else if st, ok := status.FromError(err); ok {
		attrs = append(attrs, attribute.Int(AttrFrameworkRet, int(st.Code())))
	}
	span.SetAttributes(attrs...)
}

// CodeError 携带返回码的简单错误实现
type CodeError struct {
	Ret     int
	Msg     string
	IsFrame bool
}

// Error 实现 error
func (e *CodeError) Error() string { return e.Msg }

// Code 实现 RetCoder
func (e *CodeError) Code() int { return e.Ret }

// Framework 实现 RetCoder
func (e *CodeError) Framework() bool { return e.IsFrame }

var _ RetCoder = (*CodeError)(nil)
