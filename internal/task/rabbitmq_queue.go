package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"FlowAgent-Chain/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用 RabbitMQ 传递派发消息。消息 ID 即任务 ID，
// 动作类型写入 AMQP type 属性，便于在管理界面中筛选。
type RabbitMQQueue struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	durable bool
}

// NewRabbitMQQueue 创建 RabbitMQ 队列实例。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "flowagent.actions"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue, durable: cfg.Durable}, nil
}

// publishing 将派发消息转换为 AMQP 消息。
func publishing(env Envelope, durable bool) (amqp.Publishing, error) {
	body, err := env.Encode()
	if err != nil {
		return amqp.Publishing{}, err
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   env.ID,
		Type:        string(env.ActionType),
		Timestamp:   time.UnixMilli(env.EnqueuedAt),
		Body:        body,
	}
	if durable {
		msg.DeliveryMode = amqp.Persistent
	}
	return msg, nil
}

// Publish 将派发消息投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, env Envelope) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	msg, err := publishing(env, q.durable)
	if err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg)
}

// Consume 使用手动确认模式消费 RabbitMQ 队列。
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

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					deliverAMQP(ctx, msg, handler)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// acknowledger 是 amqp.Delivery 确认操作的子集。
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func deliverAMQP(ctx context.Context, msg amqp.Delivery, handler Handler) {
	handleDelivery(ctx, msg.MessageId, msg.Body, msg, handler)
}

// handleDelivery 解析并处理一条消息。无法解析或 ID 与消息属性不一致的消息被拒绝且不重投；
// 处理失败的任务已在存储中记录状态，重投只会被 Claim 拒绝，因此总是确认。
func handleDelivery(ctx context.Context, messageID string, body []byte, ack acknowledger, handler Handler) {
	env, err := DecodeEnvelope(body)
	if err == nil && messageID != "" && messageID != env.ID {
		err = fmt.Errorf("message id %s does not match envelope %s", messageID, env.ID)
	}
	if err != nil {
		logger.L().Warn("拒绝无法解析的派发消息", slog.String("message_id", messageID), slog.Any("error", err))
		_ = ack.Nack(false, false)
		return
	}
	if err := handler(ctx, env); err != nil {
		logger.L().Warn("RabbitMQ 任务处理失败", slog.String("task_id", env.ID), slog.Any("error", err))
	}
	_ = ack.Ack(false)
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
