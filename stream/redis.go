package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// RedisSource consumes board events from a redis pub/sub channel. Deployments
// that colocate the client with the server's event bus use this instead of
// SSE over HTTP.
type RedisSource struct {
	rc           *redis.Client
	channel      string
	consumer     *Consumer
	logger       *log.Logger
	onDisconnect func()
}

func NewRedisSource(rc *redis.Client, channel string, consumer *Consumer, logger *log.Logger, onDisconnect func()) *RedisSource {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisSource{rc: rc, channel: channel, consumer: consumer, logger: logger, onDisconnect: onDisconnect}
}

// Run subscribes and pushes events until ctx is cancelled. A closed pub/sub
// channel resubscribes after a short pause.
func (s *RedisSource) Run(ctx context.Context) {
	for {
		sub := s.rc.Subscribe(ctx, s.channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.WithError(err).Warn("unable to parse board event")
					continue
				}
				s.consumer.Push(ev)
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		if s.onDisconnect != nil {
			s.onDisconnect()
		}
		s.logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
