package xsampling

import sdktrace "go.opentelemetry.io/otel/sdk/trace"

// Decision 采样决策。
//
// 与 OpenTelemetry 的三种决策一一对应，零值为 Drop。
type Decision uint8

const (
	// Drop 不记录、不导出
	Drop Decision = iota
	// RecordOnly 记录但不标记采样，由延迟处理器在 span 结束时决定去留
	RecordOnly
	// RecordAndSample 记录并标记采样，正常导出
	RecordAndSample
)

// String 返回决策名称
func (d Decision) String() string {
	switch d {
	case Drop:
		return "drop"
	case RecordOnly:
		return "record_only"
	case RecordAndSample:
		return "record_and_sample"
	default:
		return "unknown"
	}
}

// IsRecording 报告该决策下 span 是否会被记录
func (d Decision) IsRecording() bool {
	return d == RecordOnly || d == RecordAndSample
}

// IsSampled 报告该决策下 span 是否带采样标记
func (d Decision) IsSampled() bool {
	return d == RecordAndSample
}

// SDK 转换为 sdktrace.SamplingDecision。未知值按 Drop 处理。
func (d Decision) SDK() sdktrace.SamplingDecision {
	switch d {
	case RecordOnly:
		return sdktrace.RecordOnly
	case RecordAndSample:
		return sdktrace.RecordAndSample
	default:
		return sdktrace.Drop
	}
}
