package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"modeldrop/internal/logging"
)

const relayQueueSize = 256

// RedisRelay shares events between server instances through a Redis
// pub/sub channel. Events published on any instance reach the local
// Publisher of every instance, including the one that sent them, in the
// order Redis delivers them.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   Publisher
	queue   chan Event
	timeout time.Duration
}

// NewRedisRelay wires client to local. Call Run to start relaying.
func NewRedisRelay(client *redis.Client, channel string, local Publisher) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		local:   local,
		queue:   make(chan Event, relayQueueSize),
		timeout: 500 * time.Millisecond,
	}
}

// Publish queues ev for Redis. It never blocks; when the queue is full the
// event is dropped and logged.
func (r *RedisRelay) Publish(ev Event) {
	select {
	case r.queue <- ev:
	default:
		logging.Warn("relay_queue_full", logging.Fields{"channel": r.channel, "type": ev.Type})
	}
}

// Run subscribes to the channel and forwards queued events until ctx is
// cancelled or the subscription fails.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		incoming := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-incoming:
				if !ok {
					return errors.New("redis subscription closed")
				}
				r.deliver(msg.Payload)
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-r.queue:
				r.send(ctx, ev)
			}
		}
	})

	return g.Wait()
}

func (r *RedisRelay) send(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		logging.Error("relay_marshal_failed", logging.Fields{"type": ev.Type}, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, string(b)).Err(); err != nil {
		logging.Error("relay_publish_failed", logging.Fields{"channel": r.channel}, err)
	}
}

func (r *RedisRelay) deliver(payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		logging.Warn("relay_bad_payload", logging.Fields{"channel": r.channel, "error": err.Error()})
		return
	}
	r.local.Publish(ev)
}
