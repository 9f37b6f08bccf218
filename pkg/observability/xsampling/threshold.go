package xsampling

import (
	"encoding/binary"
	"math"

	"go.opentelemetry.io/otel/trace"
)

// two64 为 2^64 的 float64 表示
var two64 = math.Ldexp(1, 64)

// RatioThreshold 将采样比率映射为 64 位阈值。
//
//   - ratio <= 0 或 NaN → 0（比率采样永不选中）
//   - ratio >= 1 → math.MaxUint64（全部选中）
//   - 其余 → round(ratio · 2^64)，溢出时饱和到 math.MaxUint64
//
// 阈值对 ratio 单调不减。
func RatioThreshold(ratio float64) uint64 {
	if math.IsNaN(ratio) || ratio <= 0 {
		return 0
	}
	if ratio >= 1 {
		return math.MaxUint64
	}
	f := math.Round(math.Ldexp(ratio, 64))
	if f >= two64 {
		return math.MaxUint64
	}
	return uint64(f)
}

// TraceIDValue 取 trace_id 前 8 字节，按大端解释为无符号整数。
//
// 设计决策: 固定使用大端而非主机字节序，保证不同架构的进程对同一 trace
// 做出相同决策。W3C traceparent 中 trace_id 的十六进制前 16 位即为该值。
func TraceIDValue(id trace.TraceID) uint64 {
	return binary.BigEndian.Uint64(id[:8])
}

// selected 报告 trace 是否被比率采样选中
func selected(threshold uint64, id trace.TraceID) bool {
	return threshold != 0 && TraceIDValue(id) <= threshold
}

// clampRatio 将 ratio 钳制到 [0, 1]，NaN 视为 0
func clampRatio(ratio float64) float64 {
	switch {
	case math.IsNaN(ratio), ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}
