/*
 * @module service/notify/notifier
 * @description 批次完成事件通知：批次终态写入后向 Kafka 发送一条事件
 * @architecture 基础设施层 - 消息发布
 * @rules 通知失败只记录日志，不影响批次终态；未配置 broker 时使用空实现
 * @dependencies github.com/segmentio/kafka-go
 * @refs service/pipeline/runner.go
 */

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event 批次完成事件
type Event struct {
	BatchID     string                 `json:"batch_id"`
	CompanyCode string                 `json:"company_code"`
	DataKind    string                 `json:"data_kind"`
	Status      string                 `json:"status"`
	Counts      map[string]interface{} `json:"counts"`
	FinishedAt  time.Time              `json:"finished_at"`
}

// Notifier 批次完成通知
type Notifier interface {
	BatchFinalized(ctx context.Context, evt Event) error
	Close() error
}

// Noop 空实现
type Noop struct{}

func (Noop) BatchFinalized(context.Context, Event) error { return nil }
func (Noop) Close() error                                { return nil }

// KafkaNotifier Kafka 实现，以 batch_id 为消息键
type KafkaNotifier struct {
	writer *kafka.Writer
}

// New 按配置创建通知器；brokers 为空时返回空实现
func New(brokers []string, topic string) Notifier {
	if len(brokers) == 0 || topic == "" {
		return Noop{}
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// BatchFinalized 发送批次完成事件
func (n *KafkaNotifier) BatchFinalized(ctx context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.BatchID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("batch.finalized")},
		},
	}); err != nil {
		return fmt.Errorf("发送批次完成事件失败: %w", err)
	}
	slog.Debug("批次完成事件已发送", "batch_id", evt.BatchID, "status", evt.Status)
	return nil
}

// Close 关闭生产者
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
