// Package pool 固定数量工作协程加有界队列，队列满时提交立即失败
package pool

import (
	"sync"
)

// Pool 有界工作池
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup
	mu    sync.RWMutex
	done  bool
}

// New 启动 workers 个工作协程，队列容量为 capacity
func New(workers, capacity int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	p := &Pool{tasks: make(chan func(), capacity)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for fn := range p.tasks {
		fn()
	}
}

// Submit 非阻塞提交；池已停止或队列已满时返回 false
func (p *Pool) Submit(fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.done {
		return false
	}
	select {
	case p.tasks <- fn:
		return true
	default:
		return false
	}
}

// Pending 排队中尚未开始的任务数
func (p *Pool) Pending() int { return len(p.tasks) }

// Stop 拒绝新任务，等待已排队的任务执行完毕
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
