package eventbus

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
)

// Logger 事件总线使用的日志接口
type Logger interface {
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// AsyncEventBus 异步事件总线：PublishAsync 入队，由固定数量的 worker 同步分发
type AsyncEventBus struct {
	bus       evbus.Bus
	workerNum int
	workChan  chan asyncEvent
	stopChan  chan struct{}
	wg        sync.WaitGroup
	pending   sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool
	dropped   atomic.Int64
	logger    Logger
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

// NewAsyncEventBus 创建异步事件总线
func NewAsyncEventBus(workerNum int, logger Logger) *AsyncEventBus {
	if workerNum <= 0 {
		workerNum = 4
	}

	return &AsyncEventBus{
		bus:       evbus.New(),
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, 1000), // 缓冲区1000个事件
		stopChan:  make(chan struct{}),
		logger:    logger,
	}
}

// Start 启动异步处理，可重复调用
func (aeb *AsyncEventBus) Start() {
	aeb.startOnce.Do(func() {
		for i := 0; i < aeb.workerNum; i++ {
			aeb.wg.Add(1)
			go aeb.worker()
		}
	})
}

// Stop 停止接收新事件，处理完队列中剩余事件后返回
func (aeb *AsyncEventBus) Stop() {
	aeb.stopOnce.Do(func() {
		aeb.stopped.Store(true)
		close(aeb.stopChan)
		aeb.wg.Wait()
	})
}

func (aeb *AsyncEventBus) worker() {
	defer aeb.wg.Done()

	for {
		select {
		case <-aeb.stopChan:
			for {
				select {
				case event := <-aeb.workChan:
					aeb.dispatch(event)
				default:
					return
				}
			}
		case event := <-aeb.workChan:
			aeb.dispatch(event)
		}
	}
}

func (aeb *AsyncEventBus) dispatch(event asyncEvent) {
	defer aeb.pending.Done()
	defer func() {
		if r := recover(); r != nil && aeb.logger != nil {
			aeb.logger.Error("事件处理 panic: topic=%s, %v", event.topic, r)
		}
	}()
	aeb.bus.Publish(event.topic, event.args...)
}

// Publish 发布事件（同步）
func (aeb *AsyncEventBus) Publish(topic string, args ...interface{}) {
	aeb.bus.Publish(topic, args...)
}

// PublishAsync 异步发布事件，队列满或已停止时丢弃
func (aeb *AsyncEventBus) PublishAsync(topic string, args ...interface{}) {
	if aeb.stopped.Load() {
		aeb.drop(topic, "bus stopped")
		return
	}
	aeb.pending.Add(1)
	select {
	case aeb.workChan <- asyncEvent{topic: topic, args: args}:
	default:
		aeb.pending.Done()
		aeb.drop(topic, "queue full")
	}
}

func (aeb *AsyncEventBus) drop(topic, why string) {
	aeb.dropped.Add(1)
	if aeb.logger != nil {
		aeb.logger.Warn("丢弃事件 %s: %s", topic, why)
	}
}

// Dropped 返回被丢弃的事件数
func (aeb *AsyncEventBus) Dropped() int64 {
	return aeb.dropped.Load()
}

// Subscribe 订阅事件
func (aeb *AsyncEventBus) Subscribe(topic string, fn interface{}) error {
	return aeb.bus.Subscribe(topic, fn)
}

// Unsubscribe 取消订阅
func (aeb *AsyncEventBus) Unsubscribe(topic string, handler interface{}) error {
	return aeb.bus.Unsubscribe(topic, handler)
}

// HasCallback 检查是否有订阅者
func (aeb *AsyncEventBus) HasCallback(topic string) bool {
	return aeb.bus.HasCallback(topic)
}

// Flush 等待已入队的事件全部处理完
func (aeb *AsyncEventBus) Flush() {
	aeb.pending.Wait()
}
