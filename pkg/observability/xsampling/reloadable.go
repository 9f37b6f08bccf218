package xsampling

import (
	"sync/atomic"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Reloadable 可热更新的 sdktrace.Sampler。
//
// TracerProvider 创建后无法替换采样器，Reloadable 作为固定入口，
// 配置变更时通过 Store 原子切换底层 Sampler，进行中的决策不受影响。
// 零值可用：未 Store 之前一律 Drop。
type Reloadable struct {
	cur atomic.Pointer[Sampler]
}

// NewReloadable 以初始采样器创建 Reloadable。s 为 nil 时返回 ErrNilSampler。
func NewReloadable(s *Sampler) (*Reloadable, error) {
	if s == nil {
		return nil, ErrNilSampler
	}
	r := &Reloadable{}
	r.cur.Store(s)
	return r, nil
}

// Store 切换底层采样器。nil 被忽略并返回 ErrNilSampler。
func (r *Reloadable) Store(s *Sampler) error {
	if s == nil {
		return ErrNilSampler
	}
	r.cur.Store(s)
	return nil
}

// Load 返回当前采样器
func (r *Reloadable) Load() *Sampler {
	return r.cur.Load()
}

// ShouldSample 实现 sdktrace.Sampler
func (r *Reloadable) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	s := r.cur.Load()
	if s == nil {
		return sdktrace.SamplingResult{
			Decision:   sdktrace.Drop,
			Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
	}
	return sample(s, p)
}

// Description 实现 sdktrace.Sampler
func (r *Reloadable) Description() string {
	s := r.cur.Load()
	if s == nil {
		return "Reloadable{<nil>}"
	}
	return "Reloadable{" + s.Description() + "}"
}

var _ sdktrace.Sampler = (*Reloadable)(nil)
