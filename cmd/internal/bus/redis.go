package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	v1 "pulse/contracts/feed/v1"

	"github.com/redis/go-redis/v9"
)

// RedisSink relays envelopes onto one Redis pub/sub channel per deployment.
// Horizontal scaling works by every instance publishing to and subscribing
// from the same channel.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink constructs a RedisSink for the given channel.
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Relay implements Sink.
func (s *RedisSink) Relay(ctx context.Context, env v1.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, data).Err()
}

// RedisSource consumes the deployment channel and republishes inbound
// envelopes onto the local bus.
//
// Envelopes originating from this instance are dropped: local listeners
// already ran synchronously at publish time, and republishing the echo would
// deliver the event twice.
type RedisSource struct {
	log     *slog.Logger
	client  redis.UniversalClient
	channel string
	bus     *Bus
}

// NewRedisSource constructs a RedisSource feeding bus.
func NewRedisSource(log *slog.Logger, client redis.UniversalClient, channel string, bus *Bus) *RedisSource {
	if log == nil {
		log = slog.Default()
	}
	return &RedisSource{log: log, client: client, channel: channel, bus: bus}
}

// Run subscribes and pumps messages until ctx is cancelled or the
// subscription closes. It returns nil on clean shutdown.
func (s *RedisSource) Run(ctx context.Context) error {
	ps := s.client.Subscribe(ctx, s.channel)
	defer func() { _ = ps.Close() }()

	// Fail fast if the subscription cannot be established at all.
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}

	s.log.Info("bus.redis.subscribed", "channel", s.channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle([]byte(msg.Payload))
		}
	}
}

func (s *RedisSource) handle(data []byte) {
	env, ok := decodeInbound(data)
	if !ok {
		s.log.Warn("bus.redis.bad_envelope", "bytes", len(data))
		return
	}
	if env.Origin != "" && env.Origin == s.bus.Origin() {
		// Own echo: already delivered locally at publish time.
		return
	}
	s.bus.Republish(env)
}

// decodeInbound parses and validates one wire envelope.
func decodeInbound(data []byte) (v1.Envelope, bool) {
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, false
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, false
	}
	return env, true
}
