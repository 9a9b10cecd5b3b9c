// Package worker runs the hook pipeline: it subscribes to the configured
// topics on a Watermill broker and delivers every message, one at a time,
// to each registered hook.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"gerrithooks/pkg/hook"
)

// topicMetadataKey carries the original broker topic inside the message
// when the transport cannot expose it on the subscription itself.
const topicMetadataKey = "topic"

// Worker delivers broker messages to hooks. Delivery is strictly serial:
// one message is fully processed by every hook before the next one is
// picked up, so hooks never need their own locking.
type Worker struct {
	subscriber message.Subscriber
	topics     []string
	hooks      []hook.Hook
	listeners  []Listener
	logger     zerolog.Logger
}

// New creates a Worker with the given options.
func New(opts ...Option) *Worker {
	w := &Worker{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AddHook appends a hook to the delivery chain. Hooks run in registration
// order for every message.
func (w *Worker) AddHook(h hook.Hook) {
	if h != nil {
		w.hooks = append(w.hooks, h)
	}
}

// Run subscribes to every configured topic and processes messages until
// the context is canceled. Messages are always acked: a failing hook is
// logged and reported to listeners, never redelivered.
func (w *Worker) Run(ctx context.Context) error {
	if w.subscriber == nil {
		return errors.New("subscriber is required")
	}
	if len(w.topics) == 0 {
		return errors.New("at least one topic is required")
	}
	if len(w.hooks) == 0 {
		return errors.New("at least one hook is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Fan every subscription into one channel so that delivery stays
	// single-threaded regardless of how many topics are configured.
	incoming := make(chan delivery)
	var wg sync.WaitGroup
	for _, topic := range unique(w.topics) {
		msgs, err := w.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		wg.Add(1)
		go func(topic string, ch <-chan *message.Message) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					select {
					case incoming <- delivery{topic: topic, msg: msg}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(topic, msgs)
	}
	go func() {
		wg.Wait()
		close(incoming)
	}()

	w.notifyStart(ctx)
	defer w.notifyExit(ctx)
	w.logger.Info().Strs("topics", w.topics).Int("hooks", len(w.hooks)).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-incoming:
			if !ok {
				return nil
			}
			w.deliver(ctx, entry)
		}
	}
}

// Close shuts down the underlying subscriber.
func (w *Worker) Close() error {
	if w.subscriber == nil {
		return nil
	}
	return w.subscriber.Close()
}

type delivery struct {
	topic string
	msg   *message.Message
}

func (w *Worker) deliver(ctx context.Context, entry delivery) {
	msg := toHookMessage(entry)
	w.logger.Debug().Str("topic", msg.Topic).Str("uuid", entry.msg.UUID).Msg("message received")
	w.notifyMessage(ctx, msg)

	for _, h := range w.hooks {
		w.invoke(ctx, h, msg)
	}
	entry.msg.Ack()
}

// invoke runs one hook on one message. A panicking or erroring hook only
// affects itself; the remaining hooks still see the message.
func (w *Worker) invoke(ctx context.Context, h hook.Hook, msg hook.Message) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("hook panicked: %v", r)
			w.logger.Error().Err(err).Str("hook", h.Name()).Str("topic", msg.Topic).Msg("hook failed")
			w.notifyHookError(ctx, h.Name(), msg, err)
		}
	}()
	if err := hook.Invoke(ctx, h, msg); err != nil {
		w.logger.Error().Err(err).Str("hook", h.Name()).Str("topic", msg.Topic).Msg("hook failed")
		w.notifyHookError(ctx, h.Name(), msg, err)
	}
}

// toHookMessage builds the hook-facing message. The logical topic comes
// from the message metadata when present; transports that demultiplex per
// topic fall back to the subscription topic itself.
func toHookMessage(entry delivery) hook.Message {
	topic := entry.topic
	if meta := entry.msg.Metadata.Get(topicMetadataKey); meta != "" {
		topic = meta
	}
	return hook.Message{
		Topic:    topic,
		Payload:  entry.msg.Payload,
		Metadata: entry.msg.Metadata,
	}
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func (w *Worker) notifyStart(ctx context.Context) {
	for _, listener := range w.listeners {
		if listener.OnStart != nil {
			listener.OnStart(ctx)
		}
	}
}

func (w *Worker) notifyExit(ctx context.Context) {
	for _, listener := range w.listeners {
		if listener.OnExit != nil {
			listener.OnExit(ctx)
		}
	}
}

func (w *Worker) notifyMessage(ctx context.Context, msg hook.Message) {
	for _, listener := range w.listeners {
		if listener.OnMessage != nil {
			listener.OnMessage(ctx, msg)
		}
	}
}

func (w *Worker) notifyHookError(ctx context.Context, hookName string, msg hook.Message, err error) {
	for _, listener := range w.listeners {
		if listener.OnHookError != nil {
			listener.OnHookError(ctx, hookName, msg, err)
		}
	}
}
