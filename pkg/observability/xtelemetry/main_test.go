package xtelemetry

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain 检测批处理器、fsnotify 与 gRPC 连接的 goroutine 泄漏
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}
