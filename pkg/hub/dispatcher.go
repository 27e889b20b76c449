package hub

import (
	"sync"
	"sync/atomic"
	"time"
)

// dispatcher 固定数量 worker 执行异步任务，调用方不等待任务完成
type dispatcher struct {
	tasks   chan func()
	stopCh  chan struct{}
	wg      sync.WaitGroup
	grace   time.Duration
	closed  atomic.Bool
	started atomic.Bool
	dropped atomic.Int64
}

// newDispatcher 创建分发器
// 队列满时最多等待 grace，仍无法入队则丢弃
func newDispatcher(queueSize int, grace time.Duration) *dispatcher {
	return &dispatcher{
		tasks:  make(chan func(), queueSize),
		stopCh: make(chan struct{}),
		grace:  grace,
	}
}

// start 启动 worker，重复调用无副作用
func (d *dispatcher) start(workers int) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case task := <-d.tasks:
			task()
		case <-d.stopCh:
			return
		}
	}
}

// submit 提交任务
func (d *dispatcher) submit(task func()) error {
	if d.closed.Load() {
		return ErrHubClosed
	}

	select {
	case d.tasks <- task:
		return nil
	default:
	}

	timer := time.NewTimer(d.grace)
	defer timer.Stop()

	select {
	case d.tasks <- task:
		return nil
	case <-d.stopCh:
		return ErrHubClosed
	case <-timer.C:
		d.dropped.Add(1)
		return ErrDispatchQueueFull
	}
}

// stop 停止 worker 并等待正在执行的任务结束，队列中剩余任务丢弃
func (d *dispatcher) stop() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	close(d.stopCh)
	d.wg.Wait()
}

// droppedCount 丢弃的任务数量
func (d *dispatcher) droppedCount() int64 {
	return d.dropped.Load()
}
