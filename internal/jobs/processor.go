package jobs

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "AgentReceipt/internal/errors"
	"AgentReceipt/internal/observability/alerting"
	"AgentReceipt/internal/observability/metrics"
	"AgentReceipt/internal/receipt"
	"AgentReceipt/internal/verify"
	"AgentReceipt/pkg/logger"
)

// Verifier 定义了处理器所需的校验能力。
type Verifier interface {
	Verify(ctx context.Context, req verify.Request) verify.Result
}

// Processor 负责从队列消费任务并执行收据校验。
type Processor struct {
	verifier    Verifier
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(verifier Verifier, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		verifier:    verifier,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("jobs"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, task Task) error {
	if p.store == nil || p.verifier == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, task.JobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobExhausted) {
			p.logger.Debug("跳过任务", slog.String("job_id", task.JobID), slog.String("receipt_id", task.ReceiptID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("job_id", task.JobID), slog.String("receipt_id", task.ReceiptID))
		return err
	}
	if job.ReceiptID != task.ReceiptID {
		return p.fail(ctx, job, xerrors.New(CodeJobValidation, "task receipt id does not match the job",
			xerrors.WithMetadata("task_receipt_id", task.ReceiptID)), true)
	}

	r, err := receipt.ParseDocument(job.Document)
	if err != nil {
		return p.fail(ctx, job, xerrors.Wrap(CodeJobValidation, err, "parse receipt document"), true)
	}

	started := time.Now()
	result := p.verifier.Verify(ctx, verify.Request{Receipt: r, CheckOnChain: job.CheckOnChain})
	if ctx.Err() != nil {
		return p.fail(ctx, job, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "verification interrupted"), false)
	}
	metrics.ObserveVerification("job", result.Valid, result.Confidence, time.Since(started))

	if err := p.store.MarkSucceeded(ctx, job.ID, result); err != nil {
		p.logger.Error("保存校验结果失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return p.fail(ctx, job, err, false)
	}
	logger.Audit().Info("校验任务完成",
		slog.String("job_id", job.ID),
		slog.String("receipt_id", job.ReceiptID),
		slog.Bool("valid", result.Valid),
		slog.Int("confidence", result.Confidence),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, job *Job, cause error, permanent bool) error {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := !permanent && xerrors.RetryableError(cause)
	terminal := !retryable || job.Attempts >= job.MaxRetries

	if storeErr := p.store.MarkFailed(context.WithoutCancel(ctx), job.ID, code, cause.Error(), terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("校验任务失败",
		slog.String("job_id", job.ID),
		slog.String("receipt_id", job.ReceiptID),
		slog.Bool("terminal", terminal),
		slog.String("error", cause.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)
	if terminal {
		p.emitAlert(ctx, job, code, cause)
		return nil
	}
	if p.producer != nil && ctx.Err() == nil {
		if pubErr := p.producer.Publish(ctx, TaskFor(job)); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", job.ID))
		}
		p.logger.Debug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error) {
	if p.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:       code,
		Message:    cause.Error(),
		Severity:   attrs.Severity,
		JobID:      job.ID,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   map[string]string{"receipt_id": job.ReceiptID},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("job_id", job.ID))
	}
}
