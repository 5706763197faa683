package customkeys

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听密钥文件所在目录。编辑器通常以“写临时文件再 rename”的方式保存，
// 所以监听目录而不是文件本身。
type Watcher struct {
	dirPath  string
	fileName string
	debounce time.Duration
	onChange func()
	logger   Logger

	watcher *fsnotify.Watcher

	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
	inflight sync.WaitGroup // 正在执行的 onChange
	done     chan struct{}
	closing  chan struct{}
	once     sync.Once
}

// NewWatcher 创建并启动监听。debounce 为 0 时每个事件都触发一次 onChange。
func NewWatcher(path string, debounce time.Duration, onChange func(), logger Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if onChange == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}
	if logger == nil {
		logger = nopLogger{}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(absPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	w := &Watcher{
		dirPath:  dir,
		fileName: filepath.Base(absPath),
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		watcher:  fsw,
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.closing:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("密钥文件变化: %s", event)
			w.trigger()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("密钥文件监听错误: %v", err)
		}
	}
}

// trigger 在监听协程上调用；带防抖时回调在定时器协程上执行
func (w *Watcher) trigger() {
	if w.debounce <= 0 {
		w.fire()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()
	w.onChange()
}

// Stop 停止监听，等待监听协程和进行中的回调结束后返回，可重复调用
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		w.mu.Lock()
		w.stopped = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		close(w.closing)
		err = w.watcher.Close()
		<-w.done
		w.inflight.Wait()
	})
	return err
}
