package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"FlowAgent-Chain/pkg/logger"
)

// RedisQueueConfig 描述 Redis 派发队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
	// PendingTTL 限制去重标记的存活时间，避免消费者崩溃后任务永远无法再次入队。
	PendingTTL time.Duration
}

// RedisQueue 使用 Redis list 保存派发消息，并用 SETNX 标记去重。
// 无法解析的消息被移入 <queue>:dead 列表。
type RedisQueue struct {
	client     *redis.Client
	queue      string
	wait       time.Duration
	pendingTTL time.Duration
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	q := &RedisQueue{client: client, queue: cfg.Queue, wait: cfg.BlockWait, pendingTTL: cfg.PendingTTL}
	if q.queue == "" {
		q.queue = "flowagent:actions"
	}
	if q.wait <= 0 {
		q.wait = 5 * time.Second
	}
	if q.pendingTTL <= 0 {
		q.pendingTTL = 10 * time.Minute
	}
	return q
}

func (q *RedisQueue) pendingKey(id string) string { return q.queue + ":pending:" + id }

func (q *RedisQueue) deadKey() string { return q.queue + ":dead" }

// Publish 写入派发消息。同一任务尚未被消费时不会重复入队。
func (q *RedisQueue) Publish(ctx context.Context, env Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}
	fresh, err := q.client.SetNX(ctx, q.pendingKey(env.ID), env.EnqueuedAt, q.pendingTTL).Result()
	if err != nil {
		return fmt.Errorf("Redis 写入去重标记失败: %w", err)
	}
	if !fresh {
		logger.L().Debug("任务已在 Redis 队列中", slog.String("task_id", env.ID))
		return nil
	}
	if err := q.client.LPush(ctx, q.queue, body).Err(); err != nil {
		_ = q.client.Del(ctx, q.pendingKey(env.ID)).Err()
		return fmt.Errorf("Redis 发布任务失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 获取派发消息。处理返回错误的消息会被重新投递。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					if errors.Is(err, redis.Nil) {
						continue
					}
					errCh <- fmt.Errorf("Redis 取任务失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				q.deliver(ctx, []byte(values[1]), handler)
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) deliver(ctx context.Context, body []byte, handler Handler) {
	env, err := DecodeEnvelope(body)
	if err != nil {
		logger.L().Warn("丢弃无法解析的派发消息", slog.Any("error", err))
		_ = q.client.LPush(ctx, q.deadKey(), body).Err()
		return
	}
	_ = q.client.Del(ctx, q.pendingKey(env.ID)).Err()
	if err := handler(ctx, env); err != nil {
		logger.L().Warn("派发消息处理失败，重新投递", slog.String("task_id", env.ID), slog.Any("error", err))
		_ = q.Publish(ctx, env)
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
