// Package alert carries operator-facing warnings about degraded ledger
// behavior, such as settlements that could not credit the platform account.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Kind string

const KindPlatformAccountMissing Kind = "PLATFORM_ACCOUNT_MISSING"

// Alert is a single operator notification.
type Alert struct {
	Kind      Kind              `json:"kind"`
	Message   string            `json:"message"`
	Reference string            `json:"reference,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	At        time.Time         `json:"at"`
}

// Publisher delivers alerts to an operator channel.
type Publisher interface {
	Publish(ctx context.Context, a Alert) error
}

// LogPublisher writes alerts as warnings to the service log.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("alert")}
}

func (p *LogPublisher) Publish(_ context.Context, a Alert) error {
	fields := []zap.Field{
		zap.String("kind", string(a.Kind)),
		zap.String("reference", a.Reference),
		zap.Time("at", a.At),
	}
	for k, v := range a.Fields {
		fields = append(fields, zap.String(k, v))
	}
	p.logger.Warn(a.Message, fields...)
	return nil
}

// RedisPublisher publishes alerts as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish alert to %s: %w", p.channel, err)
	}
	return nil
}

// Multi fans an alert out to every publisher, continuing past failures.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, a Alert) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
