package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// RedisRelay publishes events on "<prefix><department>" and pattern-subscribes
// to "<prefix>*" so every instance sees every department's events.
type RedisRelay struct {
	rdb    *redis.Client
	prefix string

	readyOnce  sync.Once
	ready      chan struct{}
	subscribed atomic.Bool
}

var errRelayClosed = errors.New("relay subscription closed")

// NewRedisRelay creates a relay over rdb using channels named prefix+department.
func NewRedisRelay(rdb *redis.Client, prefix string) *RedisRelay {
	return &RedisRelay{
		rdb:    rdb,
		prefix: prefix,
		ready:  make(chan struct{}),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, department string, payload []byte) error {
	return r.rdb.Publish(ctx, r.prefix+department, payload).Err()
}

// Ready is closed the first time the subscription is confirmed by the server.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Subscribed reports whether Run currently holds a confirmed subscription.
func (r *RedisRelay) Subscribed() bool {
	return r.subscribed.Load()
}

// Run blocks delivering relayed events until ctx is done. It returns an error
// when the subscription cannot be established or is lost.
func (r *RedisRelay) Run(ctx context.Context, deliver func(department string, payload []byte)) error {
	sub := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	r.readyOnce.Do(func() { close(r.ready) })
	log.Infof("[Broadcast] relay subscribed to %s*", r.prefix)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errRelayClosed
			}
			department := strings.TrimPrefix(msg.Channel, r.prefix)
			deliver(department, []byte(msg.Payload))
		}
	}
}
