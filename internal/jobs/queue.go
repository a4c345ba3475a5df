package jobs

import (
	"context"
	"encoding/json"
	"strings"

	xerrors "AgentReceipt/internal/errors"
)

// Task 是投递到队列中的一条收据校验消息。
type Task struct {
	JobID        string `json:"jobId"`
	ReceiptID    string `json:"receiptId"`
	CheckOnChain bool   `json:"checkOnChain,omitempty"`
	// Attempt 是该任务此前已执行的次数，首次投递为 0。
	Attempt int `json:"attempt"`
}

// TaskFor 根据任务记录构造队列消息。
func TaskFor(job *Job) Task {
	return Task{JobID: job.ID, ReceiptID: job.ReceiptID, CheckOnChain: job.CheckOnChain, Attempt: job.Attempts}
}

// Validate 检查消息是否可以被处理。
func (t Task) Validate() error {
	if strings.TrimSpace(t.JobID) == "" {
		return xerrors.New(CodeJobValidation, "task has no job id")
	}
	if strings.TrimSpace(t.ReceiptID) == "" {
		return xerrors.New(CodeJobValidation, "task has no receipt id", xerrors.WithMetadata("job_id", t.JobID))
	}
	return nil
}

func encodeTask(t Task) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(t)
}

func decodeTask(body []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return Task{}, xerrors.Wrap(CodeJobValidation, err, "malformed task message")
	}
	return t, t.Validate()
}

// Handler 处理来自消息队列的校验任务。
type Handler func(ctx context.Context, task Task) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, task Task) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
