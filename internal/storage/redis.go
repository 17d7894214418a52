package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aelexs/embedded-checkout/internal/observability"
	redisclient "github.com/aelexs/embedded-checkout/internal/redis"
	"github.com/aelexs/embedded-checkout/internal/session"
)

var tracer = otel.Tracer("storage")

var _ session.Storage = (*Redis)(nil)

// Redis stores the session record in Redis under prefix+key. Every write
// refreshes the TTL so an abandoned record expires with the client session.
type Redis struct {
	cmd    redisclient.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis storage. A zero ttl stores keys without expiry.
func NewRedis(cmd redisclient.Cmdable, prefix string, ttl time.Duration) *Redis {
	return &Redis{cmd: cmd, prefix: prefix, ttl: ttl}
}

func (s *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "redis.session.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "GET"),
	)

	v, err := s.cmd.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		observability.FailSpan(span, err)
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

func (s *Redis) Set(ctx context.Context, key, value string) error {
	ctx, span := tracer.Start(ctx, "redis.session.set")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	if err := s.cmd.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		observability.FailSpan(span, err)
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key succeeds.
func (s *Redis) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "redis.session.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "DEL"),
	)

	if err := s.cmd.Del(ctx, s.prefix+key).Err(); err != nil {
		observability.FailSpan(span, err)
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}
