package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"AgentReceipt/pkg/logger"
)

// MemoryQueue 在进程内以 channel 传递校验任务，适用于单实例部署与测试。
type MemoryQueue struct {
	tasks  chan Task
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建一个容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{tasks: make(chan Task, size)}
}

// Publish 校验消息后入队；队列已满时阻塞到 ctx 取消。
func (q *MemoryQueue) Publish(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errors.New("队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.tasks <- task:
		return nil
	}
}

// Len 返回尚未被消费的任务数。
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

// Consume 以 workerCount 个协程处理任务，直到 ctx 取消或队列关闭。
// 处理器返回错误的任务会被重新放回队列。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			q.work(gctx, handler)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) work(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			if err := handler(ctx, task); err != nil && ctx.Err() == nil {
				q.redeliver(task, err)
			}
		}
	}
}

// redeliver 不阻塞地把任务放回队列；队列已满或已关闭时丢弃并记录日志。
func (q *MemoryQueue) redeliver(task Task, cause error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.closed {
		select {
		case q.tasks <- task:
			return
		default:
		}
	}
	logger.Named("jobs.memory").Warn("校验任务未能重新入队",
		slog.String("job_id", task.JobID),
		slog.String("receipt_id", task.ReceiptID),
		slog.Any("error", cause))
}

// Close 关闭队列，已入队的任务仍会被消费完。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.tasks)
		q.closed = true
	}
	return nil
}
