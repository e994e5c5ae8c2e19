package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// reconnectDelay is the fixed wait before re-establishing a dropped Redis
// subscription.
const reconnectDelay = 5 * time.Second

// RedisBus is the production Bus backed by Redis pub/sub. Per-channel
// history lives in bus:history:<channel> lists trimmed to HistoryLimit.
// The receive loop owns the only Redis subscription per channel; local
// handlers are keyed by name, so agents re-subscribing after a restart
// replace their handler instead of doubling delivery.
type RedisBus struct {
	client *redis.Client
	log    *zap.Logger

	mu       sync.Mutex
	channels map[string]*redisChannel
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type redisChannel struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(addr string, db int, log *zap.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		client:   client,
		log:      log.Named("bus"),
		channels: make(map[string]*redisChannel),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func historyKey(channel string) string {
	return "bus:history:" + channel
}

// Publish sends the envelope to every subscriber and records it in the
// channel's history list. Transport failures are logged, not propagated:
// publishing is fire-and-forget.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload any) error {
	msg, err := encode(channel, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		b.log.Warn("publish failed", zap.String("channel", channel), zap.Error(err))
		return nil
	}

	pipe := b.client.Pipeline()
	pipe.LPush(ctx, historyKey(channel), data)
	pipe.LTrim(ctx, historyKey(channel), 0, HistoryLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Warn("history append failed", zap.String("channel", channel), zap.Error(err))
	}
	return nil
}

// Subscribe registers handler under (channel, name), starting the channel's
// receive loop on first use.
func (b *RedisBus) Subscribe(channel, name string, handler Handler) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	ch, ok := b.channels[channel]
	if !ok {
		ch = &redisChannel{handlers: make(map[string]Handler)}
		b.channels[channel] = ch
		b.wg.Add(1)
		go b.receive(channel, ch)
	}
	b.mu.Unlock()

	ch.mu.Lock()
	ch.handlers[name] = handler
	ch.mu.Unlock()
}

// Unsubscribe removes the handler registered under (channel, name).
func (b *RedisBus) Unsubscribe(channel, name string) {
	b.mu.Lock()
	ch, ok := b.channels[channel]
	b.mu.Unlock()
	if !ok {
		return
	}
	ch.mu.Lock()
	delete(ch.handlers, name)
	ch.mu.Unlock()
}

// History returns up to limit of the most recent messages, oldest first.
func (b *RedisBus) History(channel string, limit int) []Message {
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	raw, err := b.client.LRange(b.ctx, historyKey(channel), 0, int64(limit-1)).Result()
	if err != nil {
		b.log.Warn("history read failed", zap.String("channel", channel), zap.Error(err))
		return nil
	}
	// LPUSH stores newest first; reverse to oldest-first.
	out := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg Message
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Close stops all receive loops and closes the connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// receive pumps one channel's subscription and survives transport failures:
// on error it waits reconnectDelay and subscribes again. Handlers stay
// registered across reconnects, so nothing is duplicated or lost locally.
func (b *RedisBus) receive(channel string, ch *redisChannel) {
	defer b.wg.Done()
	for {
		if b.ctx.Err() != nil {
			return
		}

		pubsub := b.client.Subscribe(b.ctx, channel)
		for {
			m, err := pubsub.ReceiveMessage(b.ctx)
			if err != nil {
				break
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.log.Warn("malformed message", zap.String("channel", channel), zap.Error(err))
				continue
			}

			ch.mu.RLock()
			handlers := make([]Handler, 0, len(ch.handlers))
			for _, h := range ch.handlers {
				handlers = append(handlers, h)
			}
			ch.mu.RUnlock()

			for _, h := range handlers {
				b.deliver(channel, h, msg)
			}
		}
		_ = pubsub.Close()

		if b.ctx.Err() != nil {
			return
		}
		b.log.Warn("subscription dropped, reconnecting",
			zap.String("channel", channel),
			zap.Duration("delay", reconnectDelay))
		select {
		case <-b.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (b *RedisBus) deliver(channel string, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panicked",
				zap.String("channel", channel),
				zap.Any("panic", r))
		}
	}()
	h(b.ctx, msg)
}
