package xsampling_test

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xtracing/pkg/observability/xsampling"
)

func ExampleSampler_ShouldSample() {
	s := xsampling.NewSampler(xsampling.Options{Ratio: 0.5, EnableDeferredSample: true})

	low, _ := trace.TraceIDFromHex("00000000000000010000000000000001")
	high, _ := trace.TraceIDFromHex("ffffffffffffffff0000000000000001")

	fmt.Println(s.ShouldSample(false, low, nil))
	fmt.Println(s.ShouldSample(false, high, nil))
	fmt.Println(s.ShouldSample(true, high, nil))
	fmt.Println(s.ShouldSample(false, high, []attribute.KeyValue{
		attribute.String(xsampling.ForceSampleKey, "1"),
	}))
	// Output:
	// record_and_sample
	// record_only
	// record_and_sample
	// record_and_sample
}

func ExampleRatioThreshold() {
	fmt.Println(xsampling.RatioThreshold(0))
	fmt.Println(xsampling.RatioThreshold(0.5))
	fmt.Println(xsampling.RatioThreshold(1))
	// Output:
	// 0
	// 9223372036854775808
	// 18446744073709551615
}

func ExampleReloadable() {
	r, _ := xsampling.NewReloadable(xsampling.NewSampler(xsampling.Options{Ratio: 0.1}))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(r))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// 配置变更时切换，无需重建 TracerProvider
	_ = r.Store(xsampling.NewSampler(xsampling.Options{Ratio: 1}))
	fmt.Println(r.Load().Options().Ratio)
	// Output:
	// 1
}
