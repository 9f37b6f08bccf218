package xcarrier

import (
	"net/http"
	"net/textproto"
	"strings"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc/metadata"
)

// TransInfoHeader 默认的嵌入式 JSON 透传 Header
const TransInfoHeader = "X-Trans-Info"

// =============================================================================
// 透传字段 map
// =============================================================================

// MapWriter 写入 map[string]string 的载体。底层 map 为 nil 时 Set 为空操作。
type MapWriter map[string]string

// Get 返回 key 对应的值，不存在时返回空串
func (m MapWriter) Get(key string) string { return m[key] }

// Set 写入键值
func (m MapWriter) Set(key, value string) {
	if m == nil {
		return
	}
	m[key] = value
}

// Keys 返回全部键
func (m MapWriter) Keys() []string { return mapKeys(m) }

// MapReader 只读的 map[string]string 载体
type MapReader map[string]string

// Get 返回 key 对应的值，不存在时返回空串
func (m MapReader) Get(key string) string { return m[key] }

// Set 为空操作
func (MapReader) Set(string, string) {}

// Keys 返回全部键
func (m MapReader) Keys() []string { return mapKeys(m) }

func mapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// =============================================================================
// HTTP Header
// =============================================================================

// HeaderWriter 写入 http.Header 的载体。Header 为 nil 时 Set 为空操作。
type HeaderWriter http.Header

// Get 返回 key 对应的首个值
func (h HeaderWriter) Get(key string) string { return http.Header(h).Get(key) }

// Set 覆盖写入（键名按 MIME 规范化）
func (h HeaderWriter) Set(key, value string) {
	if h == nil {
		return
	}
	http.Header(h).Set(key, value)
}

// Keys 返回全部 Header 名
func (h HeaderWriter) Keys() []string { return headerKeys(http.Header(h)) }

// HeaderReader 只读的 http.Header 载体，支持嵌入式 JSON 回退。
//
// 非并发安全：一个 HeaderReader 只应服务于一次提取。
type HeaderReader struct {
	header    http.Header
	transInfo string

	parsed  bool
	members map[string]string
}

// NewHeaderReader 创建 HeaderReader。transInfoHeader 为空时使用 TransInfoHeader。
func NewHeaderReader(h http.Header, transInfoHeader string) *HeaderReader {
	if transInfoHeader == "" {
		transInfoHeader = TransInfoHeader
	}
	return &HeaderReader{header: h, transInfo: transInfoHeader}
}

// Get 先查同名 Header，缺失时查嵌入式 JSON 中的字符串成员。
// 同名 Header 存在但值为空时视为已携带，不回退到嵌入式 JSON。
func (r *HeaderReader) Get(key string) string {
	if v, ok := r.header[textproto.CanonicalMIMEHeaderKey(key)]; ok {
		if len(v) > 0 {
			return v[0]
		}
		return ""
	}
	return r.embedded()[key]
}

// Set 为空操作
func (*HeaderReader) Set(string, string) {}

// Keys 返回全部 Header 名，以及嵌入式 JSON 中不与 Header 重名的成员名
func (r *HeaderReader) Keys() []string {
	keys := headerKeys(r.header)
	for k := range r.embedded() {
		if _, ok := r.header[textproto.CanonicalMIMEHeaderKey(k)]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// embedded 懒解析嵌入式 JSON，结果缓存在载体上。
//
// 设计决策: 只保留字符串成员，并对每个值做 strings.Clone，
// 返回值与原始 Header 缓冲区不共享内存。
func (r *HeaderReader) embedded() map[string]string {
	if r.parsed {
		return r.members
	}
	r.parsed = true

	raw := r.header.Get(r.transInfo)
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := sonic.UnmarshalString(raw, &obj); err != nil {
		return nil
	}
	members := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			members[k] = strings.Clone(s)
		}
	}
	r.members = members
	return members
}

func headerKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// =============================================================================
// gRPC Metadata
// =============================================================================

// MetadataWriter 写入 gRPC metadata.MD 的载体。MD 为 nil 时 Set 为空操作。
type MetadataWriter metadata.MD

// Get 返回 key 对应的首个值（key 不区分大小写）
func (m MetadataWriter) Get(key string) string { return firstValue(metadata.MD(m), key) }

// Set 覆盖写入（键名转为小写）
func (m MetadataWriter) Set(key, value string) {
	if m == nil {
		return
	}
	metadata.MD(m).Set(key, value)
}

// Keys 返回全部键
func (m MetadataWriter) Keys() []string { return mdKeys(metadata.MD(m)) }

// MetadataReader 只读的 gRPC metadata.MD 载体
type MetadataReader metadata.MD

// Get 返回 key 对应的首个值（key 不区分大小写）
func (m MetadataReader) Get(key string) string { return firstValue(metadata.MD(m), key) }

// Set 为空操作
func (MetadataReader) Set(string, string) {}

// Keys 返回全部键
func (m MetadataReader) Keys() []string { return mdKeys(metadata.MD(m)) }

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func mdKeys(md metadata.MD) []string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	return keys
}

// 确保实现了接口
var (
	_ propagation.TextMapCarrier = MapWriter(nil)
	_ propagation.TextMapCarrier = MapReader(nil)
	_ propagation.TextMapCarrier = HeaderWriter(nil)
	_ propagation.TextMapCarrier = (*HeaderReader)(nil)
	_ propagation.TextMapCarrier = MetadataWriter(nil)
	_ propagation.TextMapCarrier = MetadataReader(nil)
)
