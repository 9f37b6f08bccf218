package xtrace

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xtracing/pkg/context/xctx"
	"github.com/omeyang/xtracing/pkg/observability/xcarrier"
	"github.com/omeyang/xtracing/pkg/observability/xsampling"
)

// DefaultTracerName 未指定 Tracer 时使用的名称
const DefaultTracerName = "default_service"

// =============================================================================
// 选项配置（客户端与服务端共用）
// =============================================================================

// Option 过滤器选项。客户端与服务端过滤器共用同一套选项类型。
type Option func(*config)

type config struct {
	serviceName     string
	namespace       string
	envName         string
	hostIP          string
	exporterService string

	traceBody           bool
	deferredSampleError bool

	propagator       propagation.TextMapPropagator
	clientAttributes func(context.Context, *ClientCall) []attribute.KeyValue
	serverAttributes func(context.Context, *ServerCall) []attribute.KeyValue
	logger           *slog.Logger
}

// WithServiceName 设置本服务名，作为出站调用的主调服务与入站调用的默认被调服务
func WithServiceName(name string) Option {
	return func(c *config) { c.serviceName = name }
}

// WithEnvironment 设置命名空间与环境名
func WithEnvironment(namespace, envName string) Option {
	return func(c *config) {
		c.namespace = namespace
		c.envName = envName
	}
}

// WithHostIP 设置本机 IP
func WithHostIP(ip string) Option {
	return func(c *config) { c.hostIP = ip }
}

// WithExporterService 设置导出服务名。对该服务的调用不创建 span，避免上报链路自身形成环。
func WithExporterService(name string) Option {
	return func(c *config) { c.exporterService = name }
}

// WithTraceBody 设置是否以事件形式记录请求与响应。默认 false。
func WithTraceBody(enabled bool) Option {
	return func(c *config) { c.traceBody = enabled }
}

// WithDeferredSampleError 设置未采样但出错的 span 是否也记录消息体，
// 与延迟处理器的错误补采配合使用。
func WithDeferredSampleError(enabled bool) Option {
	return func(c *config) { c.deferredSampleError = enabled }
}

// WithPropagator 替换默认传播器。nil 被忽略。
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *config) {
		if p != nil {
			c.propagator = p
		}
	}
}

// WithClientAttributes 设置客户端 span 创建时的附加属性，采样器可见
func WithClientAttributes(fn func(context.Context, *ClientCall) []attribute.KeyValue) Option {
	return func(c *config) { c.clientAttributes = fn }
}

// WithServerAttributes 设置服务端 span 创建时的附加属性，采样器可见
func WithServerAttributes(fn func(context.Context, *ServerCall) []attribute.KeyValue) Option {
	return func(c *config) { c.serverAttributes = fn }
}

// WithLogger 设置日志记录器。nil 被忽略。
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func applyOptions(opts []Option) config {
	cfg := config{
		propagator: defaultPropagator,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// =============================================================================
// 调用描述
// =============================================================================

// ClientCall 一次出站调用。Envelope 提供协议名与可写入的传输层存储。
type ClientCall struct {
	xcarrier.Envelope

	CallerService string
	CallerMethod  string
	CalleeService string
	CalleeMethod  string
	PeerAddr      string

	Request  any
	Response any
}

// ServerCall 一次入站调用。Envelope 提供协议名与可读取的传输层存储。
type ServerCall struct {
	xcarrier.Envelope

	CallerService string
	CallerMethod  string
	CalleeService string
	CalleeMethod  string
	PeerAddr      string

	Request  any
	Response any
}

// spanName 以被调方法命名，缺失时回退到协议名
func spanName(method, protocol string) string {
	if method != "" {
		return method
	}
	if protocol != "" {
		return protocol
	}
	return "unknown"
}

// =============================================================================
// 共用逻辑
// =============================================================================

type filter struct {
	tracer   trace.Tracer
	registry *xcarrier.Registry
	cfg      config
}

func newFilter(tracer trace.Tracer, registry *xcarrier.Registry, opts []Option) filter {
	if tracer == nil {
		tracer = otel.Tracer(DefaultTracerName)
	}
	if registry == nil {
		registry = xcarrier.NewRegistry()
		registry.RegisterDefaults()
	}
	return filter{tracer: tracer, registry: registry, cfg: applyOptions(opts)}
}

func (f *filter) commonAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	attrs = appendNonEmpty(attrs, AttrNamespace, f.cfg.namespace)
	attrs = appendNonEmpty(attrs, AttrEnvName, f.cfg.envName)
	return appendNonEmpty(attrs, AttrHostIP, f.cfg.hostIP)
}

// needReportBody 判断是否记录消息体
func (f *filter) needReportBody(span trace.Span, err error) bool {
	if !f.cfg.traceBody {
		return false
	}
	return span.SpanContext().IsSampled() || (f.cfg.deferredSampleError && err != nil)
}

func (f *filter) addMessageEvent(span trace.Span, name string, msg any) {
	if msg == nil {
		return
	}
	detail, size := renderMessage(msg)
	span.AddEvent(name, trace.WithAttributes(
		attribute.Int(AttrMessageSize, size),
		attribute.String(AttrMessageDetail, Truncate(detail, MaxStringLength())),
	))
}

// =============================================================================
// ClientFilter
// =============================================================================

// ClientFilter 出站调用过滤器，并发安全。
type ClientFilter struct {
	filter
}

// NewClientFilter 创建客户端过滤器。registry 为 nil 时使用带默认注册的新注册表。
func NewClientFilter(tracer trace.Tracer, registry *xcarrier.Registry, opts ...Option) *ClientFilter {
	return &ClientFilter{filter: newFilter(tracer, registry, opts)}
}

// Begin 在调用前创建客户端 span 并把 trace 身份注入出站载体。
//
// 被调服务为导出服务时不创建 span，返回不记录的空 span。
func (f *ClientFilter) Begin(ctx context.Context, call *ClientCall) (context.Context, trace.Span) {
	if f.cfg.exporterService != "" && call.CalleeService == f.cfg.exporterService {
		f.cfg.logger.Debug("xtrace: skip span for exporter service",
			slog.String("callee_service", call.CalleeService))
		return ctx, trace.SpanFromContext(context.Background())
	}
	if call.CallerService == "" {
		call.CallerService = f.cfg.serviceName
	}
	if call.CallerMethod == "" {
		call.CallerMethod = callerMethod(ctx)
	}

	attrs := make([]attribute.KeyValue, 0, 10)
	attrs = appendNonEmpty(attrs, AttrCallerService, call.CallerService)
	attrs = appendNonEmpty(attrs, AttrCallerMethod, call.CallerMethod)
	attrs = appendNonEmpty(attrs, AttrCalleeService, call.CalleeService)
	attrs = appendNonEmpty(attrs, AttrCalleeMethod, call.CalleeMethod)
	attrs = f.commonAttributes(attrs)
	force := IsForceSample(ctx)
	if force {
		attrs = append(attrs, attribute.String(xsampling.ForceSampleKey, "1"))
	}
	if f.cfg.clientAttributes != nil {
		attrs = append(attrs, f.cfg.clientAttributes(ctx, call)...)
	}

	ctx, span := f.tracer.Start(ctx, spanName(call.CalleeMethod, call.Protocol()),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	carrier := f.registry.Carrier(call, xcarrier.RoleClient)
	f.cfg.propagator.Inject(ctx, carrier)
	if force {
		carrier.Set(xsampling.ForceSampleKey, "1")
	}
	if rid := xctx.RequestID(ctx); rid != "" {
		carrier.Set(HeaderRequestID, rid)
	}
	return ctx, span
}

// End 在调用后记录对端、消息体与状态，并结束 span
func (f *ClientFilter) End(span trace.Span, call *ClientCall, err error) {
	if !span.IsRecording() {
		span.End()
		return
	}
	span.SetAttributes(peerAttributes(call.PeerAddr)...)
	if f.needReportBody(span, err) {
		f.addMessageEvent(span, EventSent, call.Request)
		f.addMessageEvent(span, EventReceived, call.Response)
	}
	setStatus(span, err)
	span.End()
}

// =============================================================================
// ServerFilter
// =============================================================================

// ServerFilter 入站调用过滤器，并发安全。
type ServerFilter struct {
	filter
}

// NewServerFilter 创建服务端过滤器。registry 为 nil 时使用带默认注册的新注册表。
func NewServerFilter(tracer trace.Tracer, registry *xcarrier.Registry, opts ...Option) *ServerFilter {
	return &ServerFilter{filter: newFilter(tracer, registry, opts)}
}

// Begin 从入站载体提取父 span，创建服务端 span。
//
// 入站载体带 xsampling.ForceSampleKey 时，本地 span 带同名属性，且返回的 context
// 被标记为强制采样。请求 ID 取自 X-Request-ID，缺失时生成 UUID。
func (f *ServerFilter) Begin(ctx context.Context, call *ServerCall) (context.Context, trace.Span) {
	carrier := f.registry.Carrier(call, xcarrier.RoleServer)
	ctx = f.cfg.propagator.Extract(ctx, carrier)

	force := carrier.Get(xsampling.ForceSampleKey) != "" || IsForceSample(ctx)
	if force {
		ctx = WithForceSample(ctx)
	}
	if call.CalleeService == "" {
		call.CalleeService = f.cfg.serviceName
	}

	rid := carrier.Get(HeaderRequestID)
	if rid == "" {
		rid = carrier.Get(strings.ToLower(HeaderRequestID))
	}
	if rid == "" {
		rid = xctx.GenerateRequestID()
	}

	attrs := make([]attribute.KeyValue, 0, 11)
	attrs = appendNonEmpty(attrs, AttrCallerService, call.CallerService)
	attrs = appendNonEmpty(attrs, AttrCallerMethod, call.CallerMethod)
	attrs = appendNonEmpty(attrs, AttrCalleeService, call.CalleeService)
	attrs = appendNonEmpty(attrs, AttrCalleeMethod, call.CalleeMethod)
	attrs = f.commonAttributes(attrs)
	attrs = append(attrs, attribute.String(AttrRequestID, rid))
	if force {
		attrs = append(attrs, attribute.String(xsampling.ForceSampleKey, "1"))
	}
	if f.cfg.serverAttributes != nil {
		attrs = append(attrs, f.cfg.serverAttributes(ctx, call)...)
	}

	ctx, span := f.tracer.Start(ctx, spanName(call.CalleeMethod, call.Protocol()),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	// ctx 来自 Start，非 nil
	ctx, _ = xctx.WithRequestID(ctx, rid)
	ctx = withCallerMethod(ctx, call.CalleeMethod)
	return ctx, span
}

// End 在处理完成后记录对端、消息体与状态，并结束 span
func (f *ServerFilter) End(span trace.Span, call *ServerCall, err error) {
	if !span.IsRecording() {
		span.End()
		return
	}
	span.SetAttributes(peerAttributes(call.PeerAddr)...)
	if f.needReportBody(span, err) {
		f.addMessageEvent(span, EventReceived, call.Request)
		f.addMessageEvent(span, EventSent, call.Response)
	}
	setStatus(span, err)
	span.End()
}
