package xdeferred

import "errors"

var (
	// ErrNilProcessor 表示内部处理器为 nil
	ErrNilProcessor = errors.New("xdeferred: inner processor must not be nil")
)
