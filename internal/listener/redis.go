// internal/listener/redis.go
package listener

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisSubscriber 는 pub/sub 채널 1개를 구독한다.
// pub/sub 은 구독 중이 아닐 때 발행된 메시지를 보관하지 않는다.
type RedisSubscriber struct {
	client *redis.Client
	ps     *redis.PubSub

	closeOnce sync.Once
	closeErr  error
}

// DialRedis 는 구독 확인 응답까지 받은 뒤 돌아온다.
func DialRedis(ctx context.Context, addr, password string, db int, channel string) (*RedisSubscriber, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", channel, err)
	}

	return &RedisSubscriber{client: client, ps: ps}, nil
}

func (s *RedisSubscriber) Receive(ctx context.Context) ([]byte, error) {
	// go-redis 는 ctx 취소로 블록된 read 를 깨우지 않는다. 취소되면 구독을 닫아서 깨운다.
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *RedisSubscriber) Close() error {
	s.closeOnce.Do(func() {
		psErr := s.ps.Close()
		clErr := s.client.Close()
		if psErr != nil {
			s.closeErr = psErr
		} else {
			s.closeErr = clErr
		}
	})
	return s.closeErr
}
