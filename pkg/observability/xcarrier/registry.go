package xcarrier

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc/metadata"
)

// 默认注册的协议名
const (
	ProtocolTRPC = "trpc"
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// Role 载体所在的调用方向
type Role uint8

const (
	// RoleClient 客户端：向外发请求，写入载体
	RoleClient Role = iota
	// RoleServer 服务端：收到请求，读取载体
	RoleServer
)

// String 返回角色名称
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// Message 载体构造的输入：一次调用的协议名与透传字段
type Message interface {
	Protocol() string
	TransInfo() map[string]string
}

// HeaderMessage 可提供 HTTP Header 的消息
type HeaderMessage interface {
	Message
	Header() http.Header
}

// MetadataMessage 可提供 gRPC Metadata 的消息
type MetadataMessage interface {
	Message
	Metadata() metadata.MD
}

// Func 载体构造函数
type Func func(Message) propagation.TextMapCarrier

// Option Registry 选项
type Option func(*Registry)

// WithLogger 设置日志记录器，nil 被忽略
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTransInfoHeader 设置默认 HTTP 服务端载体使用的嵌入式 JSON Header 名
func WithTransInfoHeader(name string) Option {
	return func(r *Registry) {
		if name != "" {
			r.transInfoHeader = name
		}
	}
}

type regKey struct {
	protocol string
	role     Role
}

// Registry 协议载体注册表，并发安全。
//
// 设计决策: 注册表是显式对象而非包级全局变量，由遥测初始化上下文持有并传给过滤器，
// 测试之间互不干扰。
type Registry struct {
	mu    sync.RWMutex
	funcs map[regKey]Func

	logger          *slog.Logger
	transInfoHeader string
}

// NewRegistry 创建空注册表
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		funcs:           make(map[regKey]Func),
		logger:          slog.Default(),
		transInfoHeader: TransInfoHeader,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetCarrierFunc 注册 (protocol, role) 的载体构造函数，覆盖已有注册。
// fn 为 nil 时忽略并记录告警，保留原注册。
func (r *Registry) SetCarrierFunc(protocol string, role Role, fn Func) {
	if fn == nil {
		r.logger.Warn("xcarrier: nil carrier func ignored",
			slog.String("protocol", protocol), slog.String("role", role.String()))
		return
	}
	r.mu.Lock()
	r.funcs[regKey{protocol: protocol, role: role}] = fn
	r.mu.Unlock()
}

// CarrierFunc 返回 (protocol, role) 的载体构造函数。
//
// 未注册时回退到透传字段载体：客户端为 MapWriter，服务端为 MapReader。永不返回 nil。
func (r *Registry) CarrierFunc(protocol string, role Role) Func {
	r.mu.RLock()
	fn, ok := r.funcs[regKey{protocol: protocol, role: role}]
	r.mu.RUnlock()
	if ok {
		return fn
	}
	if role == RoleServer {
		return MapReaderFunc
	}
	return MapWriterFunc
}

// Carrier 按消息的协议构造载体
func (r *Registry) Carrier(msg Message, role Role) propagation.TextMapCarrier {
	return r.CarrierFunc(msg.Protocol(), role)(msg)
}

// Protocols 返回已注册的协议名（去重、排序）
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	seen := make(map[string]struct{}, len(r.funcs))
	for k := range r.funcs {
		seen[k.protocol] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RegisterDefaults 注册 trpc、http、grpc 的默认构造函数
func (r *Registry) RegisterDefaults() {
	r.SetCarrierFunc(ProtocolTRPC, RoleClient, MapWriterFunc)
	r.SetCarrierFunc(ProtocolTRPC, RoleServer, MapReaderFunc)
	r.SetCarrierFunc(ProtocolHTTP, RoleClient, HeaderWriterFunc)
	r.SetCarrierFunc(ProtocolHTTP, RoleServer, HeaderReaderFunc(r.transInfoHeader))
	r.SetCarrierFunc(ProtocolGRPC, RoleClient, MetadataWriterFunc)
	r.SetCarrierFunc(ProtocolGRPC, RoleServer, MetadataReaderFunc)
}

// =============================================================================
// 默认构造函数
// =============================================================================

// MapWriterFunc 以消息透传字段构造 MapWriter
func MapWriterFunc(msg Message) propagation.TextMapCarrier {
	return MapWriter(msg.TransInfo())
}

// MapReaderFunc 以消息透传字段构造 MapReader
func MapReaderFunc(msg Message) propagation.TextMapCarrier {
	return MapReader(msg.TransInfo())
}

// HeaderWriterFunc 消息带 Header 时构造 HeaderWriter，否则回退到 MapWriter
func HeaderWriterFunc(msg Message) propagation.TextMapCarrier {
	if hm, ok := msg.(HeaderMessage); ok {
		if h := hm.Header(); h != nil {
			return HeaderWriter(h)
		}
	}
	return MapWriterFunc(msg)
}

// HeaderReaderFunc 返回使用指定嵌入式 JSON Header 的服务端构造函数。
// 消息不带 Header 时回退到 MapReader。
func HeaderReaderFunc(transInfoHeader string) Func {
	return func(msg Message) propagation.TextMapCarrier {
		if hm, ok := msg.(HeaderMessage); ok {
			if h := hm.Header(); h != nil {
				return NewHeaderReader(h, transInfoHeader)
			}
		}
		return MapReaderFunc(msg)
	}
}

// MetadataWriterFunc 消息带 Metadata 时构造 MetadataWriter，否则回退到 MapWriter
func MetadataWriterFunc(msg Message) propagation.TextMapCarrier {
	if mm, ok := msg.(MetadataMessage); ok {
		if md := mm.Metadata(); md != nil {
			return MetadataWriter(md)
		}
	}
	return MapWriterFunc(msg)
}

// MetadataReaderFunc 消息带 Metadata 时构造 MetadataReader，否则回退到 MapReader
func MetadataReaderFunc(msg Message) propagation.TextMapCarrier {
	if mm, ok := msg.(MetadataMessage); ok {
		if md := mm.Metadata(); md != nil {
			return MetadataReader(md)
		}
	}
	return MapReaderFunc(msg)
}

// =============================================================================
// Envelope
// =============================================================================

// Envelope 通用消息实现，同时满足 HeaderMessage 与 MetadataMessage。
// 未设置的字段为 nil，对应构造函数会回退到透传字段载体。
type Envelope struct {
	Proto string
	Info  map[string]string
	Hdr   http.Header
	MD    metadata.MD
}

// Protocol 实现 Message
func (e *Envelope) Protocol() string { return e.Proto }

// TransInfo 实现 Message
func (e *Envelope) TransInfo() map[string]string { return e.Info }

// Header 实现 HeaderMessage
func (e *Envelope) Header() http.Header { return e.Hdr }

// Metadata 实现 MetadataMessage
func (e *Envelope) Metadata() metadata.MD { return e.MD }

var (
	_ HeaderMessage   = (*Envelope)(nil)
	_ MetadataMessage = (*Envelope)(nil)
)
