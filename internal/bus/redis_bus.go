package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Bus carries envelopes between instances
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, fn func(Envelope)) error
	Close() error
}

// RedisOptions selects the redis server
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisBus is a Bus over redis pub/sub, one channel per room
type RedisBus struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisBus connects to redis and verifies connectivity
func NewRedisBus(ctx context.Context, opts RedisOptions, log *slog.Logger) (*RedisBus, error) {
	if opts.Addr == "" {
		return nil, ErrNoAddress
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", opts.Addr)
	}
	return &RedisBus{rdb: rdb, log: log}, nil
}

// Publish sends env on its room channel
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	if err := b.rdb.Publish(ctx, channel(env.RoomID), raw).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", channel(env.RoomID))
	}
	return nil
}

// Subscribe listens on every room channel and calls fn per envelope until
// ctx is done
func (b *RedisBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	pubsub := b.rdb.PSubscribe(ctx, channel("*"))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe to room channels")
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("bus: bad envelope", "channel", msg.Channel, "err", err)
				continue
			}
			if env.RoomID != "" {
				fn(env)
			}
		}
	}
}

// Close shuts down the redis connection
func (b *RedisBus) Close() error { return b.rdb.Close() }
