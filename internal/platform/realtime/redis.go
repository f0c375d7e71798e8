package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix namespaces the keys the redis backend owns.
const DefaultRedisPrefix = "clinicq"

// RedisBackend stores every leaf as a field of one hash and announces changed
// paths on a pub/sub channel.
type RedisBackend struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	hashKey  string
	channel  string
	watchers *watchers
	logger   zerolog.Logger
	done     chan struct{}
}

// NewRedisBackend subscribes to the change channel before returning, so no
// change published after construction is missed.
func NewRedisBackend(ctx context.Context, client *redis.Client, prefix string, logger zerolog.Logger) (*RedisBackend, error) {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	b := &RedisBackend{
		client:   client,
		hashKey:  prefix + ":nodes",
		channel:  prefix + ":changes",
		watchers: newWatchers(),
		logger:   logger.With().Str("backend", "redis").Logger(),
		done:     make(chan struct{}),
	}

	b.pubsub = client.Subscribe(ctx, b.channel)
	if _, err := b.pubsub.Receive(ctx); err != nil {
		b.pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	go b.listen()
	return b, nil
}

func (b *RedisBackend) listen() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		b.watchers.notify(msg.Payload)
	}
}

func (b *RedisBackend) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	p, err := normalize(path)
	if err != nil {
		return nil, false, err
	}

	if v, err := b.client.HGet(ctx, b.hashKey, p).Result(); err == nil {
		return json.RawMessage(v), true, nil
	} else if err != redis.Nil {
		return nil, false, fmt.Errorf("hget %s: %w", p, err)
	}

	all, err := b.client.HGetAll(ctx, b.hashKey).Result()
	if err != nil {
		return nil, false, fmt.Errorf("hgetall %s: %w", b.hashKey, err)
	}
	leaves := make(map[string]json.RawMessage)
	for k, v := range all {
		if isUnder(k, p) || isUnder(p, k) {
			leaves[k] = json.RawMessage(v)
		}
	}
	return assemble(p, leaves)
}

// stale lists the fields a write at p replaces: p itself and its
// descendants.
func (b *RedisBackend) stale(ctx context.Context, p string) ([]string, error) {
	keys, err := b.client.HKeys(ctx, b.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hkeys %s: %w", b.hashKey, err)
	}
	var out []string
	for _, k := range keys {
		if k == p || isUnder(k, p) {
			out = append(out, k)
		}
	}
	return out, nil
}

// split reads the ancestor fields of p and returns how to break them up
// before a write at p (see splitAncestors).
func (b *RedisBackend) split(ctx context.Context, p string) ([]string, map[string]json.RawMessage, error) {
	anc := ancestors(p)
	if len(anc) == 0 {
		return nil, nil, nil
	}
	vals, err := b.client.HMGet(ctx, b.hashKey, anc...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("hmget ancestors of %s: %w", p, err)
	}
	stored := make(map[string]json.RawMessage)
	for i, v := range vals {
		if str, ok := v.(string); ok {
			stored[anc[i]] = json.RawMessage(str)
		}
	}
	if len(stored) == 0 {
		return nil, nil, nil
	}
	remove, add := splitAncestors(p, func(a string) (json.RawMessage, bool) {
		v, ok := stored[a]
		return v, ok
	})
	return remove, add, nil
}

// applySplit queues the field changes computed by split.
func (b *RedisBackend) applySplit(ctx context.Context, pipe redis.Pipeliner, remove []string, add map[string]json.RawMessage) {
	if len(remove) > 0 {
		pipe.HDel(ctx, b.hashKey, remove...)
	}
	for k, v := range add {
		pipe.HSet(ctx, b.hashKey, k, string(v))
	}
}

func (b *RedisBackend) Set(ctx context.Context, path string, value json.RawMessage) error {
	p, err := normalize(path)
	if err != nil {
		return err
	}
	if isNull(value) {
		return b.Delete(ctx, p)
	}
	if !json.Valid(value) {
		return ErrInvalidValue
	}

	remove, add, err := b.split(ctx, p)
	if err != nil {
		return err
	}
	stale, err := b.stale(ctx, p)
	if err != nil {
		return err
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		b.applySplit(ctx, pipe, remove, add)
		if len(stale) > 0 {
			pipe.HDel(ctx, b.hashKey, stale...)
		}
		pipe.HSet(ctx, b.hashKey, p, string(value))
		pipe.Publish(ctx, b.channel, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", p, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, path string) error {
	p, err := normalize(path)
	if err != nil {
		return err
	}
	remove, add, err := b.split(ctx, p)
	if err != nil {
		return err
	}
	stale, err := b.stale(ctx, p)
	if err != nil {
		return err
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		b.applySplit(ctx, pipe, remove, add)
		if len(stale) > 0 {
			pipe.HDel(ctx, b.hashKey, stale...)
		}
		pipe.Publish(ctx, b.channel, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func (b *RedisBackend) Watch(path string, fn func()) (func(), error) {
	p, err := normalize(path)
	if err != nil {
		return nil, err
	}
	return b.watchers.add(p, fn), nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Describe() map[string]any {
	return map[string]any{
		"backend":  "redis",
		"hash":     b.hashKey,
		"watchers": b.watchers.count(),
	}
}

func (b *RedisBackend) Close() error {
	if err := b.pubsub.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("failed to close pubsub")
	}
	<-b.done
	return b.client.Close()
}
