package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"

	"github.com/omeyang/xtracing/pkg/context/xctx"
	"github.com/omeyang/xtracing/pkg/observability/xcarrier"
	"github.com/omeyang/xtracing/pkg/observability/xsampling"
	"github.com/omeyang/xtracing/pkg/observability/xtelemetry"
	"github.com/omeyang/xtracing/pkg/observability/xtrace"
)

// 创建所有子命令。
func (a *app) createCommands() []*cli.Command {
	return []*cli.Command{
		a.createSampleCommand(),
		a.createThresholdCommand(),
		a.createExtractCommand(),
		a.createConfigCommand(),
	}
}

func ratioFlag(value float64) *cli.FloatFlag {
	return &cli.FloatFlag{
		Name:    "ratio",
		Aliases: []string{"r"},
		Usage:   "采样比率 [0, 1]",
		Value:   value,
	}
}

// parseRatio 命令行输入不做钳制，超出范围视为参数错误
func parseRatio(ratio float64) error {
	if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
		return usagef("ratio 必须在 [0, 1] 内: %v", ratio)
	}
	return nil
}

// =============================================================================
// sample
// =============================================================================

func (a *app) createSampleCommand() *cli.Command {
	return &cli.Command{
		Name:      "sample",
		Usage:     "计算 trace_id 的采样决策",
		ArgsUsage: "<trace_id>...",
		Flags: []cli.Flag{
			ratioFlag(1),
			&cli.BoolFlag{Name: "parent-sampled", Usage: "父 span 已采样"},
			&cli.BoolFlag{Name: "disable-parent", Usage: "忽略父 span 的采样标记"},
			&cli.BoolFlag{Name: "deferred", Usage: "开启延迟采样"},
			&cli.BoolFlag{Name: "force", Usage: "携带强制采样标记"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return a.cmdSample(ctx, sampleArgs{
				ratio:         cmd.Float("ratio"),
				parentSampled: cmd.Bool("parent-sampled"),
				disableParent: cmd.Bool("disable-parent"),
				deferred:      cmd.Bool("deferred"),
				force:         cmd.Bool("force"),
				traceIDs:      cmd.Args().Slice(),
			})
		},
	}
}

type sampleArgs struct {
	ratio         float64
	parentSampled bool
	disableParent bool
	deferred      bool
	force         bool
	traceIDs      []string
}

func (a *app) cmdSample(ctx context.Context, args sampleArgs) error {
	if err := parseRatio(args.ratio); err != nil {
		return err
	}
	if len(args.traceIDs) == 0 {
		return usagef("sample 需要至少一个 trace_id")
	}
	ids := make([]trace.TraceID, 0, len(args.traceIDs))
	for _, s := range args.traceIDs {
		id, err := trace.TraceIDFromHex(strings.ToLower(strings.TrimSpace(s)))
		if err != nil {
			return usagef("非法 trace_id %q: %v", s, err)
		}
		ids = append(ids, id)
	}

	s := xsampling.NewSampler(xsampling.Options{
		Ratio:                 args.ratio,
		EnableDeferredSample:  args.deferred,
		DisableParentSampling: args.disableParent,
	})
	var attrs []attribute.KeyValue
	if args.force {
		attrs = append(attrs, attribute.String(xsampling.ForceSampleKey, "1"))
	}

	a.logger.DebugContext(ctx, "sampling", "sampler", s.Description(), "count", len(ids))
	for _, id := range ids {
		d := s.ShouldSample(args.parentSampled, id, attrs)
		fmt.Fprintf(a.stdout, "%s decision=%s value=0x%016x threshold=0x%016x\n",
			id, d, xsampling.TraceIDValue(id), s.Threshold())
	}
	return nil
}

// =============================================================================
// threshold
// =============================================================================

func (a *app) createThresholdCommand() *cli.Command {
	return &cli.Command{
		Name:  "threshold",
		Usage: "打印采样比率对应的 64 位阈值",
		Flags: []cli.Flag{ratioFlag(1)},
		Action: func(_ context.Context, cmd *cli.Command) error {
			ratio := cmd.Float("ratio")
			if err := parseRatio(ratio); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "ratio=%g threshold=0x%016x\n", ratio, xsampling.RatioThreshold(ratio))
			return nil
		},
	}
}

// =============================================================================
// extract
// =============================================================================

func (a *app) createExtractCommand() *cli.Command {
	return &cli.Command{
		Name:  "extract",
		Usage: "模拟入站请求，提取链路上下文并计算本地 span 的采样决策",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "protocol",
				Aliases: []string{"p"},
				Usage:   "协议 (http/grpc/trpc)",
				Value:   xcarrier.ProtocolHTTP,
			},
			&cli.StringSliceFlag{
				Name:    "header",
				Aliases: []string{"H"},
				Usage:   `请求头，格式 "key: value"，可重复`,
			},
			&cli.StringFlag{
				Name:  "trans-info-header",
				Usage: "HTTP 嵌入式 JSON 透传头名",
				Value: xcarrier.TransInfoHeader,
			},
			ratioFlag(1),
			&cli.BoolFlag{Name: "deferred", Usage: "开启延迟采样"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return a.cmdExtract(ctx, extractArgs{
				protocol:        cmd.String("protocol"),
				headers:         cmd.StringSlice("header"),
				transInfoHeader: cmd.String("trans-info-header"),
				ratio:           cmd.Float("ratio"),
				deferred:        cmd.Bool("deferred"),
			})
		},
	}
}

type extractArgs struct {
	protocol        string
	headers         []string
	transInfoHeader string
	ratio           float64
	deferred        bool
}

// parseHeaders 解析 "key: value"，值中可以再含冒号
func parseHeaders(raw []string) ([][2]string, error) {
	out := make([][2]string, 0, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, usagef("非法请求头 %q，应为 \"key: value\"", h)
		}
		out = append(out, [2]string{k, strings.TrimSpace(v)})
	}
	return out, nil
}

// buildEnvelope 按协议把请求头放进对应的传输层存储
func buildEnvelope(protocol string, headers [][2]string) (*xcarrier.Envelope, error) {
	env := &xcarrier.Envelope{Proto: protocol}
	switch protocol {
	case xcarrier.ProtocolHTTP:
		env.Hdr = make(http.Header, len(headers))
		for _, kv := range headers {
			env.Hdr.Add(kv[0], kv[1])
		}
	case xcarrier.ProtocolGRPC:
		env.MD = metadata.MD{}
		for _, kv := range headers {
			env.MD.Append(kv[0], kv[1])
		}
	case xcarrier.ProtocolTRPC:
		env.Info = make(map[string]string, len(headers))
		for _, kv := range headers {
			env.Info[kv[0]] = kv[1]
		}
	default:
		return nil, usagef("不支持的协议 %q", protocol)
	}
	return env, nil
}

func (a *app) cmdExtract(ctx context.Context, args extractArgs) error {
	if err := parseRatio(args.ratio); err != nil {
		return err
	}
	headers, err := parseHeaders(args.headers)
	if err != nil {
		return err
	}
	protocol := strings.ToLower(strings.TrimSpace(args.protocol))
	env, err := buildEnvelope(protocol, headers)
	if err != nil {
		return err
	}

	registry := xcarrier.NewRegistry(
		xcarrier.WithLogger(a.logger),
		xcarrier.WithTransInfoHeader(args.transInfoHeader),
	)
	registry.RegisterDefaults()

	remote := xtrace.IdentityFromContext(
		xtrace.Propagator().Extract(ctx, registry.Carrier(env, xcarrier.RoleServer)))
	if !remote.IsValid() {
		fmt.Fprintln(a.stderr, "请求头中没有有效的链路上下文")
		return &exitError{code: 1}
	}

	// 与服务端过滤器相同的路径创建本地 span，不配置导出器
	sampler := xsampling.NewSampler(xsampling.Options{Ratio: args.ratio, EnableDeferredSample: args.deferred})
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler.SDK()))
	defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

	filter := xtrace.NewServerFilter(tp.Tracer(xtrace.DefaultTracerName), registry, xtrace.WithLogger(a.logger))
	call := &xtrace.ServerCall{Envelope: *env}
	spanCtx, span := filter.Begin(ctx, call)
	defer filter.End(span, call, nil)

	local := xtrace.IdentityFromContext(spanCtx)
	printExtract(spanCtx, a.stdout, protocol, remote, local, span)
	a.logger.InfoContext(spanCtx, "trace context extracted", "protocol", protocol, "remote", remote.String())
	return nil
}

func printExtract(ctx context.Context, w io.Writer, protocol string, remote, local xtrace.Identity, span trace.Span) {
	decision := xsampling.Drop
	switch {
	case local.Sampled:
		decision = xsampling.RecordAndSample
	case span.IsRecording():
		decision = xsampling.RecordOnly
	}
	fmt.Fprintf(w, "protocol:   %s\n", protocol)
	fmt.Fprintf(w, "remote:     %s\n", remote)
	fmt.Fprintf(w, "local:      %s\n", local)
	fmt.Fprintf(w, "decision:   %s\n", decision)
	fmt.Fprintf(w, "force:      %t\n", xtrace.IsForceSample(ctx))
	fmt.Fprintf(w, "request_id: %s\n", xctx.RequestID(ctx))
}

// =============================================================================
// config check
// =============================================================================

func (a *app) createConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "链路配置工具",
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "加载并校验配置文件，打印修正项与生效值",
				ArgsUsage: "<file>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return usagef("config check 需要且只需要一个文件路径")
					}
					return a.cmdConfigCheck(ctx, cmd.Args().First())
				},
			},
		},
	}
}

func (a *app) cmdConfigCheck(ctx context.Context, path string) error {
	cfg, err := xtelemetry.Load(path)
	if err != nil {
		fmt.Fprintf(a.stderr, "加载失败: %v\n", err)
		return &exitError{code: 1}
	}

	warnings := flattenErrors(cfg.Normalize())
	for _, w := range warnings {
		fmt.Fprintf(a.stdout, "warning: %v\n", w)
	}
	a.logger.DebugContext(ctx, "config loaded", "path", path, "warnings", len(warnings))

	fmt.Fprintf(a.stdout, "protocol:  %s\n", cfg.Protocol)
	fmt.Fprintf(a.stdout, "addr:      %s\n", cfg.Addr)
	fmt.Fprintf(a.stdout, "service:   %s\n", cfg.ServiceName)
	fmt.Fprintf(a.stdout, "fraction:  %g\n", cfg.Sampler.Fraction)
	fmt.Fprintf(a.stdout, "deferred:  %t\n", cfg.Traces.EnableDeferredSample)
	fmt.Fprintf(a.stdout, "breaker:   %t\n", cfg.Exporter.Breaker)

	if cfg.Protocol != xtelemetry.ProtocolHTTP && cfg.Protocol != xtelemetry.ProtocolGRPC {
		fmt.Fprintf(a.stderr, "%v: %q\n", xtelemetry.ErrUnsupportedProtocol, cfg.Protocol)
		return &exitError{code: 1}
	}
	return nil
}

// flattenErrors 展开 errors.Join 的结果
func flattenErrors(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
