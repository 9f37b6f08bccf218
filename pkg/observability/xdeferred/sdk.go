package xdeferred

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NewSpanProcessor 返回实现 sdktrace.SpanProcessor 的延迟采样处理器。
//
// 已采样的 span 原样交给 inner；未采样的 span 回放到 DeferredRecordable 中决策，
// 需要转发时以带采样标记的快照交给 inner。inner 为 nil 时返回 ErrNilProcessor。
func NewSpanProcessor(inner sdktrace.SpanProcessor, opts ...Option) (*SDKProcessor, error) {
	if inner == nil {
		return nil, ErrNilProcessor
	}
	core, err := New(&sdkSink{inner: inner}, opts...)
	if err != nil {
		return nil, err
	}
	return &SDKProcessor{inner: inner, core: core}, nil
}

// SDKProcessor sdktrace.SpanProcessor 形式的延迟采样处理器
type SDKProcessor struct {
	inner sdktrace.SpanProcessor
	core  *Processor
}

// OnStart 委托给内部处理器
func (p *SDKProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	p.inner.OnStart(parent, s)
}

// OnEnd 二次决策
func (p *SDKProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if s.SpanContext().IsSampled() {
		p.core.observe(true, ReasonSampled)
		p.inner.OnEnd(s)
		return
	}
	r := p.core.MakeRecordable()
	replay(r, s)
	p.core.OnEnd(r)
}

// Shutdown 委托给内部处理器
func (p *SDKProcessor) Shutdown(ctx context.Context) error {
	return p.core.Shutdown(ctx)
}

// ForceFlush 委托给内部处理器
func (p *SDKProcessor) ForceFlush(ctx context.Context) error {
	return p.core.ForceFlush(ctx)
}

// Stats 返回转发/丢弃计数
func (p *SDKProcessor) Stats() Stats {
	return p.core.Stats()
}

// replay 把只读快照逐项写入 Recordable
func replay(r Recordable, s sdktrace.ReadOnlySpan) {
	r.SetIdentity(s.SpanContext(), s.Parent().SpanID())
	if d, ok := r.(*DeferredRecordable); ok {
		if data, ok := d.Recordable.(*SpanDataRecordable); ok {
			data.SetParent(s.Parent())
			data.stub.DroppedAttributes = s.DroppedAttributes()
			data.stub.DroppedEvents = s.DroppedEvents()
			data.stub.DroppedLinks = s.DroppedLinks()
			data.stub.ChildSpanCount = s.ChildSpanCount()
		}
	}
	r.SetName(s.Name())
	r.SetSpanKind(s.SpanKind())
	r.SetAttributes(s.Attributes()...)
	for _, e := range s.Events() {
		r.AddEvent(e)
	}
	for _, l := range s.Links() {
		r.AddLink(l)
	}
	st := s.Status()
	r.SetStatus(st.Code, st.Description)
	r.SetResource(s.Resource())
	r.SetInstrumentationScope(s.InstrumentationScope())
	r.SetStartTime(s.StartTime())
	r.SetDuration(s.EndTime().Sub(s.StartTime()))
}

// sdkSink 把 Recordable 模型的转发落到 SDK 处理器
type sdkSink struct {
	inner sdktrace.SpanProcessor
}

func (k *sdkSink) MakeRecordable() Recordable {
	return NewSpanDataRecordable()
}

// OnStart 为空：SDK 的 OnStart 已由 SDKProcessor 直接委托
func (k *sdkSink) OnStart(context.Context, Recordable, trace.SpanContext) {}

func (k *sdkSink) OnEnd(r Recordable) {
	data, ok := r.(*SpanDataRecordable)
	if !ok {
		return
	}
	sc := data.stub.SpanContext
	data.stub.SpanContext = sc.WithTraceFlags(sc.TraceFlags().WithSampled(true))
	k.inner.OnEnd(data.Snapshot())
}

func (k *sdkSink) ForceFlush(ctx context.Context) error {
	return k.inner.ForceFlush(ctx)
}

func (k *sdkSink) Shutdown(ctx context.Context) error {
	return k.inner.Shutdown(ctx)
}

var (
	_ sdktrace.SpanProcessor = (*SDKProcessor)(nil)
	_ SpanProcessor          = (*sdkSink)(nil)
)
