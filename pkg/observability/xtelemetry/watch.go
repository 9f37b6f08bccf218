package xtelemetry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/fsnotify/fsnotify"
)

// WatchCallback 配置变更回调。err 非 nil 时 cfg 为 nil。
type WatchCallback func(cfg *Config, err error)

// 监视默认值
const (
	DefaultDebounce      = 100 * time.Millisecond
	DefaultReloadRetries = 3
	defaultRetryDelay    = 50 * time.Millisecond
)

// WatchOption 监视器选项
type WatchOption func(*watchOptions)

type watchOptions struct {
	debounce   time.Duration
	attempts   uint
	retryDelay time.Duration
}

// WithDebounce 设置防抖时间。窗口内的多次变更只触发一次重载。
func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithReloadRetry 设置单次重载的尝试次数与间隔。
// 编辑器写文件不是原子的，读到半截内容时解析失败，稍后重试即可。
func WithReloadRetry(attempts uint, delay time.Duration) WatchOption {
	return func(o *watchOptions) {
		if attempts > 0 {
			o.attempts = attempts
		}
		if delay >= 0 {
			o.retryDelay = delay
		}
	}
}

// Watcher 配置文件监视器
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	callback WatchCallback
	opts     watchOptions
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
	timer    *time.Timer
}

// Watch 创建配置文件监视器，需调用 Start 或 StartAsync 开始监视。
//
// 监视的是文件所在目录而非文件本身：vim 等编辑器先写临时文件再 rename，
// 直接监视文件会在第一次保存后丢失后续事件。
func Watch(path string, callback WatchCallback, opts ...WatchOption) (*Watcher, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if callback == nil {
		return nil, ErrNilCallback
	}
	if _, err := detectFormat(path); err != nil {
		return nil, err
	}

	o := watchOptions{
		debounce:   DefaultDebounce,
		attempts:   DefaultReloadRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("xtelemetry: failed to create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsWatcher.Add(dir); err != nil {
		closeErr := fsWatcher.Close()
		return nil, errors.Join(
			fmt.Errorf("xtelemetry: failed to watch directory %s: %w", dir, err),
			closeErr,
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		watcher:  fsWatcher,
		callback: callback,
		opts:     o,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start 启动监视，阻塞直到 Stop
func (w *Watcher) Start() {
	if !w.markRunning() {
		return
	}
	w.run()
}

// StartAsync 在后台 goroutine 中启动监视
func (w *Watcher) StartAsync() {
	if !w.markRunning() {
		return
	}
	go w.run()
}

func (w *Watcher) markRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.ctx.Err() != nil {
		return false
	}
	w.running = true
	return true
}

// Stop 停止监视。未启动的监视器同样释放 fsnotify 资源。
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx.Err() != nil {
		return nil
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.cancel()
	w.running = false
	return w.watcher.Close()
}

func (w *Watcher) run() {
	filename := filepath.Base(w.path)
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, filename)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.callback(nil, fmt.Errorf("xtelemetry: watch error: %w", err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, filename string) {
	if filepath.Base(event.Name) != filename {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.debounce, func() {
		if w.ctx.Err() != nil {
			return
		}
		cfg, err := w.reload()
		if w.ctx.Err() != nil {
			return
		}
		w.callback(cfg, err)
	})
}

// reload 带重试地重新读取配置
func (w *Watcher) reload() (*Config, error) {
	var cfg *Config
	err := retry.New(
		retry.Attempts(w.opts.attempts),
		retry.Delay(w.opts.retryDelay),
		retry.Context(w.ctx),
		retry.LastErrorOnly(true),
	).Do(func() error {
		c, err := Load(w.path)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
