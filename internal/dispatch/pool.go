package dispatch

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool 是后台工作上下文，使用加权信号量限制同时进行的哈希与磁盘任务数量。
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool 创建后台池，workers <= 0 时按 CPU 数量设置并发上限。
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Run 占用一个后台槽位执行 fn，并把结果返回给调用方。
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Go 在新的 goroutine 中执行 fn，完成后以结果调用 done；done 可以为 nil。
func (p *Pool) Go(ctx context.Context, fn func() error, done func(error)) {
	go func() {
		err := p.Run(ctx, fn)
		if done != nil {
			done(err)
		}
	}()
}
