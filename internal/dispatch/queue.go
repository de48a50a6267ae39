package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed 表示控制队列已经关闭，不再接受任务。
var ErrQueueClosed = errors.New("dispatch queue closed")

// Queue 是单 goroutine 的 FIFO 执行器，所有提交的闭包按提交顺序串行执行。
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	done   chan struct{}
}

// NewQueue 创建并启动控制队列。
func NewQueue() *Queue {
	q := &Queue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Async 将 fn 排入队列后立即返回，永不阻塞调用方；队列关闭后提交会被丢弃。
func (q *Queue) Async(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Signal()
}

// Sync 在队列上执行 fn 并等待其完成。不得在队列自身的任务中调用。
func (q *Queue) Sync(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.tasks = append(q.tasks, func() {
		defer close(finished)
		fn()
	})
	q.cond.Signal()
	q.mu.Unlock()

	select {
	case <-finished:
		return nil
	case <-q.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrQueueClosed
		}
	case <-ctx.Done():
		// fn 仍会在队列上执行，调用方只是不再等待。
		return ctx.Err()
	}
}

// Close 执行完已排队的任务后停止队列，重复调用无副作用。
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		batch := q.tasks
		q.tasks = nil
		q.mu.Unlock()

		for _, task := range batch {
			task()
		}
	}
}
