package xtelemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reloadResult struct {
	cfg *Config
	err error
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.yaml")
	writeConfig(t, path, "sampler:\n  fraction: 0.1\n")

	results := make(chan reloadResult, 8)
	w, err := Watch(path, func(cfg *Config, err error) {
		results <- reloadResult{cfg, err}
	}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	w.StartAsync()
	t.Cleanup(func() { _ = w.Stop() })

	// 等待监视循环就绪
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "sampler:\n  fraction: 0.9\n")

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.InDelta(t, 0.9, r.cfg.Sampler.Fraction, 0)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestWatch_AppliesToTelemetry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	writeConfig(t, path, `{"sampler":{"fraction":1}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	tel, _ := newTestTelemetry(t, cfg)

	w, err := Watch(path, tel.OnConfigChange, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	w.StartAsync()
	t.Cleanup(func() { _ = w.Stop() })

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, `{"sampler":{"fraction":0.3}}`)

	require.Eventually(t, func() bool {
		return tel.Sampler().Load().Options().Ratio == 0.3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.yaml")
	writeConfig(t, path, "service_name: a\n")

	results := make(chan reloadResult, 8)
	w, err := Watch(path, func(cfg *Config, err error) {
		results <- reloadResult{cfg, err}
	}, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	w.StartAsync()
	t.Cleanup(func() { _ = w.Stop() })

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, filepath.Join(dir, "other.yaml"), "service_name: b\n")

	select {
	case r := <-results:
		t.Fatalf("unexpected reload: %+v", r)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatch_RetryReportsLastError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.yaml")
	writeConfig(t, path, "service_name: a\n")

	results := make(chan reloadResult, 8)
	w, err := Watch(path, func(cfg *Config, err error) {
		results <- reloadResult{cfg, err}
	}, WithDebounce(10*time.Millisecond), WithReloadRetry(2, time.Millisecond))
	require.NoError(t, err)
	w.StartAsync()
	t.Cleanup(func() { _ = w.Stop() })

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "sampler: [broken\n")

	select {
	case r := <-results:
		require.ErrorIs(t, r.err, ErrParseFailed)
		assert.Nil(t, r.cfg)
	case <-time.After(2 * time.Second):
		t.Fatal("no callback after broken write")
	}
}

func TestWatch_Errors(t *testing.T) {
	noop := func(*Config, error) {}

	_, err := Watch("", noop)
	require.ErrorIs(t, err, ErrEmptyPath)

	_, err = Watch(filepath.Join(t.TempDir(), "trace.yaml"), nil)
	require.ErrorIs(t, err, ErrNilCallback)

	_, err = Watch(filepath.Join(t.TempDir(), "trace.toml"), noop)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Watch(filepath.Join(t.TempDir(), "missing", "trace.yaml"), noop)
	require.Error(t, err)
}

func TestWatcher_StopLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.yaml")
	writeConfig(t, path, "")

	w, err := Watch(path, func(*Config, error) {})
	require.NoError(t, err)
	require.NoError(t, w.Stop(), "stop before start releases the watcher")
	require.NoError(t, w.Stop())

	w.StartAsync() // 已停止的监视器不会再启动
	w.Start()
}
