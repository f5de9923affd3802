package messaging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"obd2-service/internal/logger"
	"obd2-service/internal/types"
)

// RedisClient publishes decoded OBD-II signals and power state changes to
// the platform Redis instance. Other services subscribe to the "obd2"
// channel and read the "obd2" hash.
type RedisClient struct {
	client *redis.Client
	logger *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRedisClient(host string, port int, l *logger.Logger) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
			DB:   0,
		}),
		logger: l.WithTag("redis"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")
	return nil
}

// publishHashSet is a helper that atomically updates a hash field and publishes a notification
func (r *RedisClient) publishHashSet(hash, field string, value interface{}, channel, payload string) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, hash, field, value)
	pipe.Publish(r.ctx, channel, payload)
	_, err := pipe.Exec(r.ctx)
	return err
}

// PublishSignal writes one decoded signal value to the "obd2" hash and
// notifies subscribers with the signal name.
func (r *RedisClient) PublishSignal(name string, value float64) error {
	r.logger.Debugf("Publishing signal %s: %v", name, value)
	formatted := strconv.FormatFloat(value, 'f', -1, 64)
	if err := r.publishHashSet("obd2", name, formatted, "obd2", name); err != nil {
		return fmt.Errorf("failed to publish signal %s: %w", name, err)
	}
	return nil
}

// PublishPowerState records the power state with a timestamp.
func (r *RedisClient) PublishPowerState(state types.PowerState) error {
	r.logger.Infof("Publishing power state: %s", state)
	timestamp := time.Now().Format(time.RFC3339)

	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "obd2", "power-state", string(state))
	pipe.HSet(r.ctx, "obd2", "power-state:timestamp", timestamp)
	pipe.Publish(r.ctx, "obd2", "power-state")
	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to publish power state: %w", err)
	}
	return nil
}

func (r *RedisClient) Close() error {
	r.cancel()
	return r.client.Close()
}
