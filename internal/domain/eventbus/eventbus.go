package eventbus

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

var (
	asyncBus *AsyncEventBus
	mu       sync.Mutex
)

// New 创建新的同步事件总线
func New() evbus.Bus {
	return evbus.New()
}

// Install 设置进程级默认异步总线并启动
func Install(bus *AsyncEventBus) {
	mu.Lock()
	defer mu.Unlock()
	asyncBus = bus
	if bus != nil {
		bus.Start()
	}
}

// GetAsync 获取默认异步总线，未安装时创建一个
func GetAsync() *AsyncEventBus {
	mu.Lock()
	defer mu.Unlock()
	if asyncBus == nil {
		asyncBus = NewAsyncEventBus(4, nil)
		asyncBus.Start()
	}
	return asyncBus
}

// PublishAsync 发布异步事件
func PublishAsync(topic string, args ...interface{}) {
	GetAsync().PublishAsync(topic, args...)
}

// Subscribe 订阅事件
func Subscribe(topic string, fn interface{}) error {
	return GetAsync().Subscribe(topic, fn)
}

// Shutdown 关闭事件总线
func Shutdown() {
	mu.Lock()
	bus := asyncBus
	asyncBus = nil
	mu.Unlock()
	if bus != nil {
		bus.Stop()
	}
}
