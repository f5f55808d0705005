package pump

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrLoopClosed 向已关闭的 Loop 投递任务
var ErrLoopClosed = errors.New("pump: loop closed")

// Loop 单消费者任务队列，所有任务在同一个专用 goroutine 上串行执行
type Loop struct {
	mu        sync.RWMutex
	closed    bool
	tasks     chan func()
	done      chan struct{}
	executing atomic.Bool
}

// NewLoop 创建并启动 Loop，capacity 为队列容量，满时 Post 阻塞
func NewLoop(capacity int) *Loop {
	if capacity <= 0 {
		capacity = 64
	}
	l := &Loop{
		tasks: make(chan func(), capacity),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for task := range l.tasks {
		l.executing.Store(true)
		task()
		l.executing.Store(false)
	}
}

// Post 投递任务，按投递顺序执行
func (l *Loop) Post(fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrLoopClosed
	}
	l.tasks <- fn
	return nil
}

// Executing 当前是否处于 Loop 任务内，供亲和性断言使用
func (l *Loop) Executing() bool {
	return l.executing.Load()
}

// Close 停止接收任务，执行完已入队任务后返回
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.tasks)
	}
	l.mu.Unlock()
	<-l.done
}
