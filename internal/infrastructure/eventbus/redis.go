package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope is the wire form of an event on the redis channel.
type Envelope struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// publisher is the slice of redis.UniversalClient the publisher needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher forwards every bus event to a redis pub/sub channel so
// other gateway processes can follow task progress.
type RedisPublisher struct {
	client  publisher
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisPublisher creates a publisher on channel.
func NewRedisPublisher(client publisher, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
		logger:  logger.With(zap.String("component", "redis_publisher")),
	}
}

// NewRedisClient opens a client and checks it with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Attach subscribes the publisher to every event on bus.
func (p *RedisPublisher) Attach(bus Bus) (detach func()) {
	return bus.Subscribe(Wildcard, p.Handle)
}

// Handle publishes one event. Failures are logged; the local bus never
// waits on redis.
func (p *RedisPublisher) Handle(ctx context.Context, event Event) {
	data, err := json.Marshal(Envelope{
		Type:    event.Type(),
		At:      event.Timestamp(),
		Payload: event.Payload(),
	})
	if err != nil {
		p.logger.Warn("Encode event", zap.String("type", event.Type()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Warn("Publish event to redis failed",
			zap.String("type", event.Type()),
			zap.String("channel", p.channel),
			zap.Error(err),
		)
	}
}
