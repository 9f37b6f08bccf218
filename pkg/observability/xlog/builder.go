package xlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// 轮转默认值
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 7
	DefaultMaxAgeDays = 30

	maxSizeMB  = 10240
	maxBackups = 1024
	maxAgeDays = 3650
)

// 配置错误
var (
	ErrEmptyFilename     = errors.New("xlog: rotation filename is required")
	ErrInvalidRotation   = errors.New("xlog: invalid rotation config")
	ErrUnknownLevel      = errors.New("xlog: unknown level")
	ErrUnknownFormat     = errors.New("xlog: unknown format")
	errDirectoryCreation = errors.New("xlog: create log directory")
)

// RotationConfig 按大小轮转的文件输出配置。
// MaxSizeMB 为 0 取默认值；MaxBackups 与 MaxAgeDays 同为 0 时两者都取默认值，避免备份无限堆积。
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	LocalTime  bool
}

// Builder 日志构建器
type Builder struct {
	output    io.Writer
	rotator   *lumberjack.Logger
	levelVar  *slog.LevelVar
	format    string
	addSource bool
	enrich    bool
	err       error
}

// New 创建构建器。默认输出 stderr、info 级别、text 格式、注入链路字段。
func New() *Builder {
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelInfo)
	return &Builder{
		output:   os.Stderr,
		levelVar: lv,
		format:   "text",
		enrich:   true,
	}
}

// SetOutput 设置输出目标，覆盖之前的 SetRotation
func (b *Builder) SetOutput(w io.Writer) *Builder {
	if w != nil {
		b.output = w
		b.rotator = nil
	}
	return b
}

// SetLevel 设置日志级别
func (b *Builder) SetLevel(level slog.Level) *Builder {
	b.levelVar.Set(level)
	return b
}

// SetLevelString 通过 debug/info/warn/warning/error 设置级别，大小写不敏感
func (b *Builder) SetLevelString(s string) *Builder {
	level, err := ParseLevel(s)
	if err != nil {
		b.err = err
		return b
	}
	return b.SetLevel(level)
}

// SetFormat 设置输出格式：text 或 json。空值使用 text。
func (b *Builder) SetFormat(format string) *Builder {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "":
		b.format = "text"
	case "text", "json":
		b.format = f
	default:
		b.err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return b
}

// SetAddSource 是否输出源码位置
func (b *Builder) SetAddSource(enable bool) *Builder {
	b.addSource = enable
	return b
}

// SetEnrich 是否注入链路字段，默认开启
func (b *Builder) SetEnrich(enable bool) *Builder {
	b.enrich = enable
	return b
}

// SetRotation 输出到按大小轮转的文件，父目录不存在时创建（0750）
func (b *Builder) SetRotation(filename string, cfg RotationConfig) *Builder {
	l, err := newRotator(filename, cfg)
	if err != nil {
		b.err = err
		return b
	}
	b.rotator = l
	b.output = l
	return b
}

// LevelVar 返回可在运行期调整的级别
func (b *Builder) LevelVar() *slog.LevelVar { return b.levelVar }

// Build 构建 Logger。cleanup 关闭轮转文件，可重复调用。
func (b *Builder) Build() (logger *slog.Logger, cleanup func() error, err error) {
	if b.err != nil {
		return nil, nil, b.err
	}

	opts := &slog.HandlerOptions{Level: b.levelVar, AddSource: b.addSource}
	var handler slog.Handler
	if b.format == "json" {
		handler = slog.NewJSONHandler(b.output, opts)
	} else {
		handler = slog.NewTextHandler(b.output, opts)
	}
	if b.enrich {
		// handler 非 nil
		handler, _ = NewTraceHandler(handler)
	}

	var once sync.Once
	rotator := b.rotator
	cleanup = func() error {
		var closeErr error
		once.Do(func() {
			if rotator != nil {
				closeErr = rotator.Close()
			}
		})
		return closeErr
	}
	return slog.New(handler), cleanup, nil
}

// ParseLevel 解析日志级别，输入先 TrimSpace
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

func newRotator(filename string, cfg RotationConfig) (*lumberjack.Logger, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, ErrEmptyFilename
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = DefaultMaxSizeMB
	}
	if cfg.MaxBackups == 0 && cfg.MaxAgeDays == 0 {
		cfg.MaxBackups, cfg.MaxAgeDays = DefaultMaxBackups, DefaultMaxAgeDays
	}
	if err := validateRotation(cfg); err != nil {
		return nil, err
	}

	path := filepath.Clean(filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("%w: %w", errDirectoryCreation, err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  cfg.LocalTime,
	}, nil
}

func validateRotation(cfg RotationConfig) error {
	if cfg.MaxSizeMB < 0 || cfg.MaxSizeMB > maxSizeMB {
		return fmt.Errorf("%w: MaxSizeMB %d, want 1~%d", ErrInvalidRotation, cfg.MaxSizeMB, maxSizeMB)
	}
	if cfg.MaxBackups < 0 || cfg.MaxBackups > maxBackups {
		return fmt.Errorf("%w: MaxBackups %d, want 0~%d", ErrInvalidRotation, cfg.MaxBackups, maxBackups)
	}
	if cfg.MaxAgeDays < 0 || cfg.MaxAgeDays > maxAgeDays {
		return fmt.Errorf("%w: MaxAgeDays %d, want 0~%d", ErrInvalidRotation, cfg.MaxAgeDays, maxAgeDays)
	}
	return nil
}
