package xtrace

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/omeyang/xtracing/pkg/observability/xcarrier"
	"github.com/omeyang/xtracing/pkg/observability/xsampling"
)

// =============================================================================
// HTTP 服务端中间件
// =============================================================================

// HTTPStatusError 以 HTTP 状态码表示的失败，作为框架返回码记录
type HTTPStatusError struct {
	StatusCode int
}

// Error 实现 error
func (e *HTTPStatusError) Error() string {
	return "http status " + strconv.Itoa(e.StatusCode)
}

// Code 实现 RetCoder
func (e *HTTPStatusError) Code() int { return e.StatusCode }

// Framework 实现 RetCoder
func (e *HTTPStatusError) Framework() bool { return true }

// HTTPMiddleware 返回 HTTP 服务端中间件。
//
// 从请求 Header（含嵌入式 JSON 透传 Header）提取父 span 并创建服务端 span；
// 响应状态码 >= 500 视为失败。handler panic 时 span 以错误结束，panic 继续上抛。
func HTTPMiddleware(f *ServerFilter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			call := &ServerCall{
				Envelope:     xcarrier.Envelope{Proto: xcarrier.ProtocolHTTP, Hdr: r.Header},
				CalleeMethod: r.Method + " " + r.URL.Path,
				PeerAddr:     r.RemoteAddr,
			}
			ctx, span := f.Begin(r.Context(), call)

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			// handler panic 时以错误结束 span 后继续上抛
			defer func() {
				if rec := recover(); rec != nil {
					f.End(span, call, fmt.Errorf("xtrace: handler panic: %v", rec))
					panic(rec)
				}
				f.End(span, call, httpError(rw.status))
			}()
			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}

// statusRecorder 记录写出的状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap 供 http.ResponseController 访问底层 ResponseWriter
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func httpError(status int) error {
	if status >= http.StatusInternalServerError {
		return &HTTPStatusError{StatusCode: status}
	}
	return nil
}

// =============================================================================
// HTTP 客户端
// =============================================================================

// RoundTripper 返回为每个出站请求创建客户端 span 的 http.RoundTripper。
// next 为 nil 时使用 http.DefaultTransport。
func (f *ClientFilter) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		// RoundTripper 不得修改入参请求
		req = req.Clone(req.Context())
		if req.Header == nil {
			req.Header = make(http.Header)
		}
		call := &ClientCall{
			Envelope:      xcarrier.Envelope{Proto: xcarrier.ProtocolHTTP, Hdr: req.Header},
			CalleeService: req.URL.Host,
			CalleeMethod:  req.Method + " " + req.URL.Path,
			PeerAddr:      req.URL.Host,
		}
		ctx, span := f.Begin(req.Context(), call)
		resp, err := next.RoundTrip(req.WithContext(ctx))
		if err == nil {
			err = httpError(resp.StatusCode)
		}
		f.End(span, call, err)
		if _, ok := err.(*HTTPStatusError); ok {
			return resp, nil
		}
		return resp, err
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (fn roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return fn(req)
}

// InjectToRequest 把 ctx 中的 trace 身份与强制采样标记写入请求 Header。
// 用于不经过 ClientFilter 的手动注入场景。
func InjectToRequest(ctx context.Context, req *http.Request) {
	if req == nil {
		return
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	carrier := xcarrier.HeaderWriter(req.Header)
	defaultPropagator.Inject(ctx, carrier)
	if IsForceSample(ctx) {
		carrier.Set(xsampling.ForceSampleKey, "1")
	}
}
