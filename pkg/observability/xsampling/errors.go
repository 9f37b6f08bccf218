package xsampling

import "errors"

// 采样配置相关的错误
var (
	// ErrRatioOutOfRange 表示采样比率不在 [0.0, 1.0] 范围内（含 NaN），已被钳制
	ErrRatioOutOfRange = errors.New("xsampling: ratio must be in [0.0, 1.0]")

	// ErrNilSampler 表示传入的 Sampler 为 nil
	ErrNilSampler = errors.New("xsampling: sampler must not be nil")
)
