// Package clusterbus coordinates multiple enforcerd replicas over Redis:
// a pub/sub wake signal so every replica's scheduler notices a command-socket
// mutation without waiting for its own poll interval, and a short-lived
// distributed lock so only one replica performs a given policy's resalt.
package clusterbus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// WakeChannel is the pub/sub channel every enforcerd replica subscribes to.
const WakeChannel = "enforcerd:wake"

// Bus wraps a Redis client for the two coordination primitives enforcerd
// replicas need: broadcast wake and per-policy resalt locking.
type Bus struct {
	client *redis.Client
}

// NewBus returns a Bus backed by the Redis instance at addr.
func NewBus(addr, password string, db int) *Bus {
	return &Bus{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Ping verifies the Redis connection is reachable.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection pool.
func (b *Bus) Close() error {
	return b.client.Close()
}

// PublishWake notifies every subscribed replica that a mutation landed and
// its scheduler should re-check for due tasks immediately.
func (b *Bus) PublishWake(ctx context.Context) error {
	return b.client.Publish(ctx, WakeChannel, "1").Err()
}

// Subscribe calls onWake once per message received on WakeChannel, until ctx
// is cancelled.
func (b *Bus) Subscribe(ctx context.Context, onWake func()) {
	pubsub := b.client.Subscribe(ctx, WakeChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			onWake()
		}
	}
}

// AcquireResaltLock attempts to claim exclusive ownership of a policy's
// resalt for ttl. It returns ok=false (with a nil release function) when
// another replica already holds the lock. The returned release function is
// safe to call even if the lock has since expired.
func (b *Bus) AcquireResaltLock(ctx context.Context, policyName string, ttl time.Duration) (ok bool, release func(context.Context) error, err error) {
	key := lockKey(policyName)
	token := uuid.NewString()

	acquired, err := b.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("acquire resalt lock for %s: %w", policyName, err)
	}
	if !acquired {
		return false, nil, nil
	}

	release = func(ctx context.Context) error {
		cur, err := b.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if cur != token {
			return nil
		}
		return b.client.Del(ctx, key).Err()
	}
	return true, release, nil
}

func lockKey(policyName string) string {
	return "enforcerd:resalt-lock:" + policyName
}
