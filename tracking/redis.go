package tracking

import (
	"context"
	"time"

	"github.com/kayac/Binfish/apns"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single redis command.
const DefaultTimeout = time.Second

var _ apns.Tracker = (*RedisTracker)(nil)

// RedisTracker appends the tracking token of every sent notification to a redis list.
type RedisTracker struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisTracker connects to the redis server of url and checks it is reachable.
func NewRedisTracker(ctx context.Context, url, key string) (*RedisTracker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid redis url %s", url)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "redis is not ready")
	}

	return &RedisTracker{
		client:  client,
		key:     key,
		timeout: DefaultTimeout,
	}, nil
}

// RecordSend pushes token. Failures are logged and otherwise ignored.
func (t *RedisTracker) RecordSend(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	if err := t.client.RPush(ctx, t.key, token).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"type":           "tracking",
			"key":            t.key,
			"tracking_token": token,
		}).Warnf("Failed to record send: %s", err)
	}
}

// Len returns the number of tokens waiting in the list.
func (t *RedisTracker) Len(ctx context.Context) (int64, error) {
	return t.client.LLen(ctx, t.key).Result()
}

// Close closes the redis client.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}
