// internal/listener/dial.go
package listener

import (
	"context"
	"fmt"

	"priceest/internal/config"
)

// Dial 은 NOTIFY_DRIVER 에 맞는 Subscriber 를 연다.
func Dial(ctx context.Context, cfg config.Config) (Subscriber, error) {
	switch cfg.NotifyDriver {
	case config.DriverAMQP, "":
		return DialAMQP(cfg.AMQPURL, cfg.AMQPQueue)
	case config.DriverKafka:
		return NewKafkaSubscriber(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID), nil
	case config.DriverRedis:
		return DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel)
	default:
		return nil, fmt.Errorf("unknown notify driver %q", cfg.NotifyDriver)
	}
}
