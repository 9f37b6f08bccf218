package xtrace

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	// DefaultMaxStringLength message.detail 的默认最大长度
	DefaultMaxStringLength = 32766

	// TruncatedSuffix 截断后追加的后缀
	TruncatedSuffix = "...stringLengthTooLong"
)

// ErrMaxStringLength 表示最大长度短于截断后缀
var ErrMaxStringLength = errors.New("xtrace: max string length must not be shorter than the truncation suffix")

var maxStringLength atomic.Int64

func init() {
	maxStringLength.Store(DefaultMaxStringLength)
}

// SetMaxStringLength 设置 message.detail 的最大长度（字节）。
// n 小于 len(TruncatedSuffix) 时返回 ErrMaxStringLength，原值保留。
func SetMaxStringLength(n int) error {
	if n < len(TruncatedSuffix) {
		return fmt.Errorf("%w: got %d", ErrMaxStringLength, n)
	}
	maxStringLength.Store(int64(n))
	return nil
}

// MaxStringLength 返回当前最大长度
func MaxStringLength() int {
	return int(maxStringLength.Load())
}

// Truncate 把 s 截断到不超过 limit 字节，超长时以 TruncatedSuffix 结尾。
// 截断点回退到 UTF-8 字符边界。limit 不足以容纳后缀时只返回后缀的前缀。
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= len(TruncatedSuffix) {
		return TruncatedSuffix[:max(limit, 0)]
	}
	cut := limit - len(TruncatedSuffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncatedSuffix
}

// renderMessage 把消息体渲染为文本，返回文本与原始大小（字节）。
//
// protobuf 消息用 protojson，大小取 proto.Size；字符串与字节切片原样输出；
// 其余类型用 sonic 编码为 JSON，失败时回退到 fmt。
func renderMessage(msg any) (detail string, size int) {
	switch m := msg.(type) {
	case nil:
		return "", 0
	case proto.Message:
		b, err := protojson.Marshal(m)
		if err != nil {
			return fmt.Sprint(m), proto.Size(m)
		}
		return string(b), proto.Size(m)
	case string:
		return m, len(m)
	case []byte:
		return string(m), len(m)
	default:
		s, err := sonic.MarshalString(m)
		if err != nil {
			s = fmt.Sprintf("%+v", m)
		}
		return s, len(s)
	}
}
