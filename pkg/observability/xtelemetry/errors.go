package xtelemetry

import "errors"

var (
	// ErrEmptyPath 配置文件路径为空
	ErrEmptyPath = errors.New("xtelemetry: config path is empty")

	// ErrUnsupportedFormat 不支持的配置格式
	ErrUnsupportedFormat = errors.New("xtelemetry: unsupported config format")

	// ErrLoadFailed 配置文件读取失败
	ErrLoadFailed = errors.New("xtelemetry: load config failed")

	// ErrParseFailed 配置内容解析失败
	ErrParseFailed = errors.New("xtelemetry: parse config failed")

	// ErrUnsupportedProtocol 不支持的导出协议
	ErrUnsupportedProtocol = errors.New("xtelemetry: unsupported exporter protocol")

	// ErrInvalidConfig 配置值非法（已被修正为可用值）
	ErrInvalidConfig = errors.New("xtelemetry: invalid config value")

	// ErrNilConfig 配置为 nil
	ErrNilConfig = errors.New("xtelemetry: config is nil")

	// ErrNilCallback Watch 回调为 nil
	ErrNilCallback = errors.New("xtelemetry: watch callback is nil")
)
