// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dream-weaver-go/internal/config"
	"dream-weaver-go/internal/model"
	"dream-weaver-go/pkg/log"
	"dream-weaver-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是同一任务失败多少次后放弃重试并提交 offset。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DreamIndexTask) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 把保存后的梦境作为索引任务发送到 Kafka。
type Publisher struct {
	writer messageWriter
}

// NewPublisher 初始化 Kafka 生产者。
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Publisher{writer: w}
}

// IndexDream 发送一个梦境索引任务。以梦境 ID 为 key，同一梦境的任务落在同一分区内保持顺序。
func (p *Publisher) IndexDream(ctx context.Context, entry model.DreamEntry) error {
	taskBytes, err := json.Marshal(tasks.NewDreamIndexTask(entry))
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(entry.ID), Value: taskBytes}); err != nil {
		return fmt.Errorf("failed to publish dream index task: %w", err)
	}
	return nil
}

// Close 关闭生产者。
func (p *Publisher) Close() error {
	return p.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 消费索引任务并交给 TaskProcessor 处理。
type Consumer struct {
	reader    messageReader
	processor TaskProcessor
	rdb       *redis.Client
}

// NewConsumer 创建消费者。rdb 用于记录失败次数，为 nil 时失败任务直接提交不再重试。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, rdb: rdb}
}

// Run 循环拉取消息直到 ctx 结束。
func (c *Consumer) Run(ctx context.Context) {
	log.Info("Kafka 消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}
		c.handle(ctx, m)
	}
}

// handle 处理单条消息：成功或多次失败后提交 offset，否则不提交等待重试。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	log.Infof("收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.DreamIndexTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.DreamID)
	if err := c.processor.Process(ctx, task); err != nil {
		log.Errorf("处理索引任务失败: id=%s, Error: %v", task.DreamID, err)
		if c.rdb == nil {
			c.commit(ctx, m)
			return
		}
		attempts, incErr := c.rdb.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			return
		}
		_ = c.rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		if attempts >= maxAttempts {
			log.Errorf("索引任务多次失败(>=%d)，提交 offset 终止重试: id=%s", maxAttempts, task.DreamID)
			c.commit(ctx, m)
		}
		return
	}

	log.Infof("索引任务处理成功: id=%s", task.DreamID)
	if c.rdb != nil {
		_ = c.rdb.Del(ctx, attemptsKey).Err()
	}
	c.commit(ctx, m)
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
