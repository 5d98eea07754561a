// internal/listener/kafka.go
package listener

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaReader 는 *kafka.Reader 중 실제로 쓰는 부분. 테스트에서 교체한다.
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSubscriber 는 consumer group 으로 토픽을 읽는다.
// ReadMessage 는 offset 을 자동 커밋하므로 처리 전에 ack 된 것과 같다.
type KafkaSubscriber struct {
	r KafkaReader
}

func NewKafkaSubscriber(brokers []string, topic, groupID string) *KafkaSubscriber {
	return NewKafkaSubscriberFromReader(kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  500 * time.Millisecond,
		// 모델 알림은 드물다. 매 메시지마다 커밋
		CommitInterval:    0,
		StartOffset:       kafka.LastOffset,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
	}))
}

func NewKafkaSubscriberFromReader(r KafkaReader) *KafkaSubscriber {
	return &KafkaSubscriber{r: r}
}

func (s *KafkaSubscriber) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.r.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return msg.Value, nil
}

func (s *KafkaSubscriber) Close() error {
	return s.r.Close()
}
