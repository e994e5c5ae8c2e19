package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// queueCapacity bounds each channel's in-flight queue. Publishing to a full
// queue drops the message rather than blocking the publisher.
const queueCapacity = 4096

// MemoryBus is the in-process Bus used for paper trading and tests. One
// dispatch goroutine per channel consumes a bounded queue, so delivery is
// FIFO per channel and a slow handler never reorders messages.
type MemoryBus struct {
	log *zap.Logger

	mu       sync.Mutex
	channels map[string]*memChannel
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type memChannel struct {
	queue chan Message

	mu       sync.RWMutex
	handlers map[string]Handler
	history  []Message
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus(log *zap.Logger) *MemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryBus{
		log:      log.Named("bus"),
		channels: make(map[string]*memChannel),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (b *MemoryBus) channel(name string) (*memChannel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	ch, ok := b.channels[name]
	if !ok {
		ch = &memChannel{
			queue:    make(chan Message, queueCapacity),
			handlers: make(map[string]Handler),
		}
		b.channels[name] = ch
		b.wg.Add(1)
		go b.dispatch(name, ch)
	}
	return ch, true
}

// Publish encodes the payload, records it in channel history and queues it
// for delivery. It never blocks: a full queue drops the message with a log.
func (b *MemoryBus) Publish(_ context.Context, channel string, payload any) error {
	msg, err := encode(channel, payload)
	if err != nil {
		return err
	}
	ch, ok := b.channel(channel)
	if !ok {
		return ErrBusClosed
	}

	ch.mu.Lock()
	ch.history = append(ch.history, msg)
	if len(ch.history) > HistoryLimit {
		ch.history = ch.history[len(ch.history)-HistoryLimit:]
	}
	ch.mu.Unlock()

	select {
	case ch.queue <- msg:
	default:
		b.log.Warn("queue full, dropping message", zap.String("channel", channel))
	}
	return nil
}

// Subscribe registers handler under (channel, name). An existing handler
// with the same name is replaced, never duplicated.
func (b *MemoryBus) Subscribe(channel, name string, handler Handler) {
	ch, ok := b.channel(channel)
	if !ok {
		return
	}
	ch.mu.Lock()
	ch.handlers[name] = handler
	ch.mu.Unlock()
}

// Unsubscribe removes the handler registered under (channel, name).
func (b *MemoryBus) Unsubscribe(channel, name string) {
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

// History returns up to limit of the most recent messages on the channel.
func (b *MemoryBus) History(channel string, limit int) []Message {
	b.mu.Lock()
	ch, ok := b.channels[channel]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	n := len(ch.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Message, n)
	copy(out, ch.history[len(ch.history)-n:])
	return out
}

// Close stops dispatching and waits for in-flight handlers to return.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

func (b *MemoryBus) dispatch(name string, ch *memChannel) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-ch.queue:
			ch.mu.RLock()
			handlers := make([]Handler, 0, len(ch.handlers))
			for _, h := range ch.handlers {
				handlers = append(handlers, h)
			}
			ch.mu.RUnlock()

			for _, h := range handlers {
				b.deliver(name, h, msg)
			}
		}
	}
}

// deliver runs one handler, containing panics so a broken subscriber cannot
// take down delivery for the rest of the channel.
func (b *MemoryBus) deliver(channel string, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panicked",
				zap.String("channel", channel),
				zap.Any("panic", r))
		}
	}()
	h(b.ctx, msg)
}
