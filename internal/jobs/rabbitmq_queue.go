package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"AgentReceipt/pkg/logger"
)

// TaskMessageType 标记 RabbitMQ 中的收据校验消息。
const TaskMessageType = "agentreceipt.verify"

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL      string
	Queue    string
	Prefetch int
	Durable  bool
	// DeadLetterExchange 接收无法解析的校验消息；为空时直接丢弃。
	DeadLetterExchange string
}

// RabbitMQQueue 以 JSON 消息在 RabbitMQ 上传递校验任务。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *slog.Logger
}

// NewRabbitMQQueue 连接 RabbitMQ 并声明任务队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	if cfg.Queue == "" {
		cfg.Queue = "agentreceipt.jobs"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := openTaskChannel(conn, cfg)
	if err != nil {
		// 关闭连接会一并关闭其上的 channel。
		_ = conn.Close()
		return nil, err
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: cfg.Queue, log: logger.Named("jobs.rabbitmq")}, nil
}

func openTaskChannel(conn *amqp.Connection, cfg RabbitMQConfig) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(cfg.Queue, cfg.Durable, false, false, false, queueArgs(cfg)); err != nil {
		return nil, fmt.Errorf("声明 RabbitMQ 队列 %s 失败: %w", cfg.Queue, err)
	}
	return ch, nil
}

func queueArgs(cfg RabbitMQConfig) amqp.Table {
	if cfg.DeadLetterExchange == "" {
		return nil
	}
	return amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
}

// taskPublishing 把任务编码为持久化消息，收据 ID 同时写入 CorrelationId 与消息头。
func taskPublishing(task Task, now time.Time) (amqp.Publishing, error) {
	body, err := encodeTask(task)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Type:          TaskMessageType,
		MessageId:     task.JobID,
		CorrelationId: task.ReceiptID,
		Timestamp:     now,
		Headers: amqp.Table{
			"receipt_id":     task.ReceiptID,
			"attempt":        int32(task.Attempt),
			"check_on_chain": task.CheckOnChain,
		},
		Body: body,
	}, nil
}

// taskFromDelivery 解码消息体，并拒绝类型或收据 ID 与消息属性不一致的投递。
func taskFromDelivery(msg amqp.Delivery) (Task, error) {
	if msg.Type != "" && msg.Type != TaskMessageType {
		return Task{}, fmt.Errorf("未知的消息类型 %q", msg.Type)
	}
	task, err := decodeTask(msg.Body)
	if err != nil {
		return Task{}, err
	}
	if msg.CorrelationId != "" && msg.CorrelationId != task.ReceiptID {
		return Task{}, fmt.Errorf("消息 %s 的收据 ID 不一致: %s != %s", msg.MessageId, msg.CorrelationId, task.ReceiptID)
	}
	return task, nil
}

// Publish 将任务投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, task Task) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	msg, err := taskPublishing(task, time.Now())
	if err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg)
}

// Consume 使用手动确认模式消费任务。处理失败的消息重新入队，
// 无法解析的消息被拒绝且不再入队。连接断开时返回错误。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case msg, ok := <-msgs:
					if !ok {
						return errors.New("RabbitMQ 消息通道已关闭")
					}
					q.deliver(gctx, msg, handler)
				}
			}
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (q *RabbitMQQueue) deliver(ctx context.Context, msg amqp.Delivery, handler Handler) {
	task, err := taskFromDelivery(msg)
	if err != nil {
		q.log.Warn("丢弃无法解析的校验消息",
			slog.String("message_id", msg.MessageId),
			slog.String("receipt_id", msg.CorrelationId),
			slog.Any("error", err))
		_ = msg.Nack(false, false)
		return
	}
	if err := handler(ctx, task); err != nil {
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
