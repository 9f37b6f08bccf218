// xtracectl 是链路采样与上下文透传的命令行诊断工具。
//
// 用法:
//
//	xtracectl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	--log-file     日志写入文件（按大小轮转），默认输出到 stderr
//	--log-level    日志级别 debug/info/warn/error (默认: warn)
//	--log-format   日志格式 text/json (默认: text)
//
// 命令:
//
//	sample         计算给定 trace_id 的采样决策
//	threshold      打印采样比率对应的 64 位阈值
//	extract        从模拟的入站请求头中提取链路上下文
//	config check   校验链路配置文件
//
// 退出码:
//
//	0: 成功
//	1: 执行失败（配置不可用、请求头中没有链路上下文等）
//	2: 参数错误
//
// 示例:
//
//	xtracectl sample --ratio 0.1 4bf92f3577b34da6a3ce929d0e0e4736
//	xtracectl threshold --ratio 0.25
//	xtracectl extract --protocol http -H "traceparent: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
//	xtracectl config check ./trace.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xtracing/pkg/observability/xlog"
)

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD) -X main.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	setupSignalHandler(cancel)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// app 保存命令运行期间共享的状态
type app struct {
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
	cleanup func() error
}

// createApp 创建 CLI 应用。
func createApp(stdout, stderr io.Writer) (*cli.Command, *app) {
	a := &app{
		stdout: stdout,
		stderr: stderr,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	cmd := &cli.Command{
		Name:      "xtracectl",
		Usage:     "链路采样与上下文透传诊断工具",
		Version:   fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "日志文件路径，按大小轮转",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别 (debug/info/warn/error)",
				Value: "warn",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "日志格式 (text/json)",
				Value: "text",
			},
		},
		Before:   a.setupLogger,
		After:    a.closeLogger,
		Commands: a.createCommands(),
		// 设计决策: 禁止 urfave/cli 直接调用 os.Exit，由 run() 统一映射退出码。
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(stderr, err)
			}
		},
	}
	return cmd, a
}

// setupLogger 按全局选项构建日志，链路字段由 xlog.TraceHandler 注入
func (a *app) setupLogger(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	b := xlog.New().
		SetOutput(a.stderr).
		SetLevelString(cmd.String("log-level")).
		SetFormat(cmd.String("log-format"))
	if path := cmd.String("log-file"); path != "" {
		b.SetRotation(path, xlog.RotationConfig{})
	}
	logger, cleanup, err := b.Build()
	if err != nil {
		return ctx, &usageError{msg: err.Error()}
	}
	a.logger, a.cleanup = logger, cleanup
	return ctx, nil
}

func (a *app) closeLogger(context.Context, *cli.Command) error {
	if a.cleanup == nil {
		return nil
	}
	return a.cleanup()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, _ := createApp(stdout, stderr)

	if err := cmd.Run(ctx, args); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "参数错误: %v\n", usageErr)
			return 2
		}
		// 框架产生的参数错误（未知 flag、flag 取值非法等）已由解析器输出详情
		if isCLIUsageError(err) {
			return 2
		}
		fmt.Fprintf(stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}

// exitError 表示需要非零退出码但已完成输出的场景。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return "" }

// usageError 参数错误，退出码 2
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// cliUsageMarkers urfave/cli 与标准 flag 包参数错误消息中的固定片段
var cliUsageMarkers = []string{
	"flag provided but not defined",
	"flag needs an argument",
	"invalid value",
	"Required flag",
	"No help topic for",
}

// isCLIUsageError 识别框架产生的参数错误。框架未导出错误类型，只能按消息匹配。
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, m := range cliUsageMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// setupSignalHandler 第一次信号优雅取消，第二次信号强制退出（130 = 128 + SIGINT）。
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()

		<-sigCh
		signal.Stop(sigCh)
		os.Exit(130)
	}()
}
