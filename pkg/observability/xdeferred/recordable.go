package xdeferred

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// Recordable span 数据的写入面。由 SpanProcessor.MakeRecordable 创建，单一所有者，无需加锁。
type Recordable interface {
	// SetIdentity 写入 span 自身的 SpanContext 与父 span id
	SetIdentity(sc trace.SpanContext, parent trace.SpanID)
	SetName(name string)
	SetSpanKind(kind trace.SpanKind)
	SetAttributes(kv ...attribute.KeyValue)
	AddEvent(e sdktrace.Event)
	AddLink(l sdktrace.Link)
	SetStatus(code codes.Code, description string)
	SetResource(res *resource.Resource)
	SetInstrumentationScope(scope instrumentation.Scope)
	SetStartTime(t time.Time)
	SetDuration(d time.Duration)
}

// SpanProcessor 基于 Recordable 的 span 处理器
type SpanProcessor interface {
	MakeRecordable() Recordable
	OnStart(ctx context.Context, r Recordable, parent trace.SpanContext)
	OnEnd(r Recordable)
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// =============================================================================
// SpanDataRecordable
// =============================================================================

// SpanDataRecordable 把写入累积到 tracetest.SpanStub，可随时生成只读快照。
type SpanDataRecordable struct {
	stub     tracetest.SpanStub
	duration time.Duration
}

// NewSpanDataRecordable 创建空的 SpanDataRecordable
func NewSpanDataRecordable() *SpanDataRecordable {
	return &SpanDataRecordable{}
}

// SetIdentity 实现 Recordable。父 SpanContext 沿用本 span 的 trace_id 与 trace flags。
func (r *SpanDataRecordable) SetIdentity(sc trace.SpanContext, parent trace.SpanID) {
	r.stub.SpanContext = sc
	if parent.IsValid() {
		r.stub.Parent = trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    sc.TraceID(),
			SpanID:     parent,
			TraceFlags: sc.TraceFlags(),
		})
	}
}

// SetParent 直接写入完整的父 SpanContext（保留 remote 标记与 TraceState）
func (r *SpanDataRecordable) SetParent(parent trace.SpanContext) {
	r.stub.Parent = parent
}

// SetName 实现 Recordable
func (r *SpanDataRecordable) SetName(name string) { r.stub.Name = name }

// SetSpanKind 实现 Recordable
func (r *SpanDataRecordable) SetSpanKind(kind trace.SpanKind) { r.stub.SpanKind = kind }

// SetAttributes 实现 Recordable，追加写入
func (r *SpanDataRecordable) SetAttributes(kv ...attribute.KeyValue) {
	r.stub.Attributes = append(r.stub.Attributes, kv...)
}

// AddEvent 实现 Recordable
func (r *SpanDataRecordable) AddEvent(e sdktrace.Event) {
	r.stub.Events = append(r.stub.Events, e)
}

// AddLink 实现 Recordable
func (r *SpanDataRecordable) AddLink(l sdktrace.Link) {
	r.stub.Links = append(r.stub.Links, l)
}

// SetStatus 实现 Recordable
func (r *SpanDataRecordable) SetStatus(code codes.Code, description string) {
	r.stub.Status = sdktrace.Status{Code: code, Description: description}
}

// SetResource 实现 Recordable
func (r *SpanDataRecordable) SetResource(res *resource.Resource) { r.stub.Resource = res }

// SetInstrumentationScope 实现 Recordable
func (r *SpanDataRecordable) SetInstrumentationScope(scope instrumentation.Scope) {
	r.stub.InstrumentationScope = scope
}

// SetStartTime 实现 Recordable
func (r *SpanDataRecordable) SetStartTime(t time.Time) {
	r.stub.StartTime = t
	r.stub.EndTime = t.Add(r.duration)
}

// SetDuration 实现 Recordable，结束时间 = 开始时间 + 耗时
func (r *SpanDataRecordable) SetDuration(d time.Duration) {
	r.duration = d
	r.stub.EndTime = r.stub.StartTime.Add(d)
}

// Stub 返回累积的 span 数据副本（切片与原数据共享底层数组）
func (r *SpanDataRecordable) Stub() tracetest.SpanStub {
	return r.stub
}

// Snapshot 生成只读快照
func (r *SpanDataRecordable) Snapshot() sdktrace.ReadOnlySpan {
	return r.stub.Snapshot()
}

var _ Recordable = (*SpanDataRecordable)(nil)
