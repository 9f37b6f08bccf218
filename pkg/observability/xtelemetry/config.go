package xtelemetry

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/omeyang/xtracing/pkg/observability/xsampling"
	"github.com/omeyang/xtracing/pkg/observability/xtrace"
)

// Format 配置格式
type Format string

const (
	// FormatYAML YAML 格式
	FormatYAML Format = "yaml"
	// FormatJSON JSON 格式
	FormatJSON Format = "json"
)

// 导出协议
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// keyDelim koanf 路径分隔符。resources 的键是 service.version 这类带点的属性名，
// 用 "." 作分隔符会被拆成嵌套结构。
const keyDelim = "::"

// 默认值
const (
	DefaultAddr              = "127.0.0.1:4318"
	DefaultTimeout           = 10 * time.Second
	DefaultSlowDuration      = 500 * time.Millisecond
	DefaultBreakerFailures   = 5
	DefaultBreakerOpenPeriod = 30 * time.Second
)

// Config 链路追踪配置
type Config struct {
	Addr        string        `koanf:"addr"`
	Protocol    string        `koanf:"protocol"`
	Timeout     time.Duration `koanf:"timeout"`
	ServiceName string        `koanf:"service_name"`
	Namespace   string        `koanf:"namespace"`
	EnvName     string        `koanf:"env_name"`

	Sampler  SamplerConfig  `koanf:"sampler"`
	Traces   TracesConfig   `koanf:"traces"`
	Exporter ExporterConfig `koanf:"exporter"`
}

// SamplerConfig 采样比例配置
type SamplerConfig struct {
	Fraction float64 `koanf:"fraction"`
}

// TracesConfig span 记录行为配置
type TracesConfig struct {
	DisableTraceBody           bool              `koanf:"disable_trace_body"`
	EnableDeferredSample       bool              `koanf:"enable_deferred_sample"`
	DeferredSampleError        bool              `koanf:"deferred_sample_error"`
	DeferredSampleSlowDuration time.Duration     `koanf:"deferred_sample_slow_duration"`
	DisableParentSampling      bool              `koanf:"disable_parent_sampling"`
	MaxStringLength            int               `koanf:"max_string_length"`
	Resources                  map[string]string `koanf:"resources"`
}

// ExporterConfig 导出器配置
type ExporterConfig struct {
	// Service 导出服务名。对它的出站调用不创建 span。
	Service string `koanf:"service"`

	// Breaker 是否为导出器套一层熔断器
	Breaker           bool          `koanf:"breaker"`
	BreakerFailures   uint32        `koanf:"breaker_failures"`
	BreakerOpenPeriod time.Duration `koanf:"breaker_open_period"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Addr:     DefaultAddr,
		Protocol: ProtocolHTTP,
		Timeout:  DefaultTimeout,
		Sampler:  SamplerConfig{Fraction: 1},
		Traces: TracesConfig{
			DisableTraceBody:           true,
			DeferredSampleSlowDuration: DefaultSlowDuration,
			MaxStringLength:            xtrace.DefaultMaxStringLength,
		},
		Exporter: ExporterConfig{
			BreakerFailures:   DefaultBreakerFailures,
			BreakerOpenPeriod: DefaultBreakerOpenPeriod,
		},
	}
}

// SamplerOptions 由配置生成采样器选项
func (c *Config) SamplerOptions() xsampling.Options {
	return xsampling.Options{
		Ratio:                 c.Sampler.Fraction,
		EnableDeferredSample:  c.Traces.EnableDeferredSample,
		DisableParentSampling: c.Traces.DisableParentSampling,
	}
}

// Normalize 把非法值修正为可用值，并返回所有被修正项组成的错误。
// 返回非 nil 时配置依然可用，调用方按需记录告警。
// 未知协议不做修正，留给 New 报 ErrUnsupportedProtocol。
func (c *Config) Normalize() error {
	var errs []error
	report := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	c.Protocol = strings.ToLower(strings.TrimSpace(c.Protocol))
	if c.Protocol == "" {
		c.Protocol = ProtocolHTTP
	}
	if c.Protocol != ProtocolHTTP && c.Protocol != ProtocolGRPC {
		report("protocol %q", c.Protocol)
	}
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = DefaultAddr
	}
	if c.Timeout <= 0 {
		report("timeout %s, using %s", c.Timeout, DefaultTimeout)
		c.Timeout = DefaultTimeout
	}

	f := c.Sampler.Fraction
	switch {
	case math.IsNaN(f):
		report("sampler.fraction NaN, using 0")
		c.Sampler.Fraction = 0
	case f < 0 || f > 1:
		c.Sampler.Fraction = min(max(f, 0), 1)
		report("sampler.fraction %g, using %g", f, c.Sampler.Fraction)
	}

	if c.Traces.DeferredSampleSlowDuration < 0 {
		report("traces.deferred_sample_slow_duration %s, using 0", c.Traces.DeferredSampleSlowDuration)
		c.Traces.DeferredSampleSlowDuration = 0
	}
	if c.Traces.MaxStringLength < len(xtrace.TruncatedSuffix) {
		report("traces.max_string_length %d, using %d", c.Traces.MaxStringLength, xtrace.DefaultMaxStringLength)
		c.Traces.MaxStringLength = xtrace.DefaultMaxStringLength
	}

	if c.Exporter.BreakerFailures == 0 {
		c.Exporter.BreakerFailures = DefaultBreakerFailures
	}
	if c.Exporter.BreakerOpenPeriod <= 0 {
		c.Exporter.BreakerOpenPeriod = DefaultBreakerOpenPeriod
	}
	return errors.Join(errs...)
}

// =============================================================================
// 加载
// =============================================================================

// Load 从文件加载配置，格式由扩展名决定（.yaml/.yml/.json）。
// 未出现在文件中的字段保持 DefaultConfig 的值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	return LoadBytes(data, format)
}

// LoadBytes 从字节数据加载配置。空数据得到默认配置。
func LoadBytes(data []byte, format Format) (*Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}

	k := koanf.New(keyDelim)
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return cfg, nil
}

func detectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %s", ErrUnsupportedFormat, ext)
	}
}
