// internal/listener/amqp.go
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSubscriber
// ------------------------------------------------------------
// RabbitMQ 큐를 auto-ack 로 소비한다. 배달되는 순간 ack 되므로
// 처리 중에 죽으면 그 메시지는 잃는다 (at-most-once).
// 연결/채널이 닫히면 Receive 가 에러를 돌려주고, Listener 는 이를 채널 장애로 본다.
type AMQPSubscriber struct {
	deliveries <-chan amqp.Delivery
	connClosed <-chan *amqp.Error
	chClosed   <-chan *amqp.Error
	closer     func() error
	closeOnce  sync.Once
	closeErr   error
}

// DialAMQP 는 연결 → 채널 → 큐 존재 확인 → consume 까지 한다.
// 큐는 브로커 쪽(버킷 알림 설정)에서 만들어져 있어야 한다.
func DialAMQP(url, queue string) (*AMQPSubscriber, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclarePassive(queue, false, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue %q: %w", queue, err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag: 서버가 생성
		true,  // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp consume %q: %w", queue, err)
	}

	// 라이브러리가 종료 시 close 하므로 연결/채널에 각각 다른 채널을 등록한다
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	return newAMQPSubscriber(deliveries, connClosed, chClosed, conn.Close), nil
}

func newAMQPSubscriber(deliveries <-chan amqp.Delivery, connClosed, chClosed <-chan *amqp.Error, closer func() error) *AMQPSubscriber {
	return &AMQPSubscriber{deliveries: deliveries, connClosed: connClosed, chClosed: chClosed, closer: closer}
}

func (s *AMQPSubscriber) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case d, ok := <-s.deliveries:
		if !ok {
			return nil, errors.New("amqp delivery channel closed")
		}
		return d.Body, nil

	case aerr, ok := <-s.connClosed:
		return nil, closeError("connection", aerr, ok)

	case aerr, ok := <-s.chClosed:
		return nil, closeError("channel", aerr, ok)
	}
}

func closeError(what string, aerr *amqp.Error, ok bool) error {
	if !ok || aerr == nil {
		return fmt.Errorf("amqp %s closed", what)
	}
	return fmt.Errorf("amqp %s closed: %w", what, aerr)
}

func (s *AMQPSubscriber) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}
