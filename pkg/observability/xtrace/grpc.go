package xtrace

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"github.com/omeyang/xtracing/pkg/observability/xcarrier"
)

// splitFullMethod 拆分 "/pkg.Service/Method" 为服务名与方法名
func splitFullMethod(fullMethod string) (service, method string) {
	name := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// =============================================================================
// gRPC 服务端拦截器
// =============================================================================

func newGRPCServerCall(ctx context.Context, fullMethod string) *ServerCall {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.MD{}
	}
	service, method := splitFullMethod(fullMethod)
	return &ServerCall{
		Envelope:      xcarrier.Envelope{Proto: xcarrier.ProtocolGRPC, MD: md},
		CalleeService: service,
		CalleeMethod:  method,
		PeerAddr:      peerAddr(ctx),
	}
}

// GRPCUnaryServerInterceptor 返回 gRPC 一元服务端拦截器。
// 从 incoming metadata 提取父 span，创建服务端 span 并记录请求与响应。
func GRPCUnaryServerInterceptor(f *ServerFilter) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		call := newGRPCServerCall(ctx, info.FullMethod)
		call.Request = req

		ctx, span := f.Begin(ctx, call)
		resp, err := handler(ctx, req)
		call.Response = resp
		f.End(span, call, err)
		return resp, err
	}
}

// GRPCStreamServerInterceptor 返回 gRPC 流式服务端拦截器。流消息不作为消息体记录。
func GRPCStreamServerInterceptor(f *ServerFilter) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		call := newGRPCServerCall(ss.Context(), info.FullMethod)
		ctx, span := f.Begin(ss.Context(), call)
		err := handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
		f.End(span, call, err)
		return err
	}
}

// wrappedServerStream 包装 ServerStream 以覆盖 Context
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context 返回包装后的 context
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// =============================================================================
// gRPC 客户端拦截器
// =============================================================================

// newGRPCClientCall 复制已有 outgoing metadata，避免修改调用方持有的 MD
func newGRPCClientCall(ctx context.Context, cc *grpc.ClientConn, fullMethod string) *ClientCall {
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	service, method := splitFullMethod(fullMethod)
	call := &ClientCall{
		Envelope:      xcarrier.Envelope{Proto: xcarrier.ProtocolGRPC, MD: md},
		CalleeService: service,
		CalleeMethod:  method,
	}
	if cc != nil {
		call.PeerAddr = cc.Target()
	}
	return call
}

// GRPCUnaryClientInterceptor 返回 gRPC 一元客户端拦截器。
// 创建客户端 span 并把 trace 身份注入 outgoing metadata。
func GRPCUnaryClientInterceptor(f *ClientFilter) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		call := newGRPCClientCall(ctx, cc, method)
		call.Request = req

		ctx, span := f.Begin(ctx, call)
		ctx = metadata.NewOutgoingContext(ctx, call.MD)
		err := invoker(ctx, method, req, reply, cc, opts...)
		call.Response = reply
		f.End(span, call, err)
		return err
	}
}

// GRPCStreamClientInterceptor 返回 gRPC 流式客户端拦截器。
//
// span 在以下任一情况结束，且只结束一次：
//   - RecvMsg 返回 io.EOF 或错误
//   - 非服务端流（desc.ServerStreams 为 false）的 RecvMsg 成功返回，即收到唯一响应
//   - 调用 context 被取消
//   - 建流失败
//
// 服务端流既不读到 io.EOF 也不取消 context 时 span 不会结束，调用方应读尽或取消流。
func GRPCStreamClientInterceptor(f *ClientFilter) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		call := newGRPCClientCall(ctx, cc, method)
		ctx, span := f.Begin(ctx, call)
		ctx = metadata.NewOutgoingContext(ctx, call.MD)

		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			f.End(span, call, err)
			return nil, err
		}
		w := &wrappedClientStream{
			ClientStream:  cs,
			serverStreams: desc != nil && desc.ServerStreams,
			done:          make(chan struct{}),
			finish: func(err error) {
				f.End(span, call, err)
			},
		}
		go w.watch(ctx)
		return w, nil
	}
}

// wrappedClientStream 在流结束时结束 span，只结束一次
type wrappedClientStream struct {
	grpc.ClientStream
	serverStreams bool
	once          sync.Once
	done          chan struct{}
	finish        func(error)
}

// end 结束 span 并释放 watch
func (w *wrappedClientStream) end(err error) {
	w.once.Do(func() {
		w.finish(err)
		close(w.done)
	})
}

// watch 在 context 取消时结束被丢弃的流的 span
func (w *wrappedClientStream) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		w.end(ctx.Err())
	case <-w.done:
	}
}

func (w *wrappedClientStream) RecvMsg(m any) error {
	err := w.ClientStream.RecvMsg(m)
	switch {
	case err == nil:
		if !w.serverStreams {
			w.end(nil)
		}
	case errors.Is(err, io.EOF):
		w.end(nil)
	default:
		w.end(err)
	}
	return err
}
