package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"gerrithooks/pkg/hook"
)

// recordingHook collects the messages it processed and can be told to fail
// or panic.
type recordingHook struct {
	mu       sync.Mutex
	name     string
	accept   func(hook.Message) bool
	fail     error
	panicMsg string
	seen     []hook.Message
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) Filter(msg hook.Message) bool {
	if h.accept == nil {
		return true
	}
	return h.accept(msg)
}

func (h *recordingHook) Process(ctx context.Context, msg hook.Message) error {
	h.mu.Lock()
	h.seen = append(h.seen, msg)
	h.mu.Unlock()
	if h.panicMsg != "" {
		panic(h.panicMsg)
	}
	return h.fail
}

func (h *recordingHook) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func (h *recordingHook) topic(i int) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[i].Topic
}

func (h *recordingHook) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hook %s saw %d messages, want %d", h.name, h.count(), n)
}

func newPubSub() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
}

// TestDeliveryToAllHooks checks that every hook sees every message, in
// registration order, and that the logical topic comes from the metadata.
func TestDeliveryToAllHooks(t *testing.T) {
	pubsub := newPubSub()
	first := &recordingHook{name: "first"}
	second := &recordingHook{name: "second"}

	w := New(
		WithSubscriber(pubsub),
		WithTopics("gerrit"),
		WithHooks(first, second),
		WithLogger(zerolog.Nop()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	msg := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	msg.Metadata.Set("topic", "gerrit/myproject/patchset-created")
	if err := pubsub.Publish("gerrit", msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first.waitFor(t, 1)
	second.waitFor(t, 1)
	if got := first.topic(0); got != "gerrit/myproject/patchset-created" {
		t.Fatalf("got topic %q, want metadata topic", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// TestTopicFallback uses the subscription topic when the message carries
// no topic metadata.
func TestTopicFallback(t *testing.T) {
	pubsub := newPubSub()
	h := &recordingHook{name: "h"}

	w := New(WithSubscriber(pubsub), WithTopics("gerrit/myproject/change-merged"), WithHooks(h))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := pubsub.Publish("gerrit/myproject/change-merged", message.NewMessage(watermill.NewUUID(), []byte(`{}`))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	h.waitFor(t, 1)
	if got := h.topic(0); got != "gerrit/myproject/change-merged" {
		t.Fatalf("got topic %q, want subscription topic", got)
	}
}

// TestHookIsolation checks that an erroring and a panicking hook do not
// stop delivery to later hooks or of later messages, and that errors reach
// the listener.
func TestHookIsolation(t *testing.T) {
	pubsub := newPubSub()
	failing := &recordingHook{name: "failing", fail: errors.New("boom")}
	panicking := &recordingHook{name: "panicking", panicMsg: "oops"}
	healthy := &recordingHook{name: "healthy"}

	var mu sync.Mutex
	var hookErrors []string
	w := New(
		WithSubscriber(pubsub),
		WithTopics("gerrit"),
		WithHooks(failing, panicking, healthy),
		WithListener(Listener{
			OnHookError: func(ctx context.Context, hookName string, msg hook.Message, err error) {
				mu.Lock()
				hookErrors = append(hookErrors, hookName)
				mu.Unlock()
			},
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 2; i++ {
		if err := pubsub.Publish("gerrit", message.NewMessage(watermill.NewUUID(), []byte(`{}`))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	healthy.waitFor(t, 2)
	failing.waitFor(t, 2)
	panicking.waitFor(t, 2)

	mu.Lock()
	defer mu.Unlock()
	if len(hookErrors) != 4 {
		t.Fatalf("got %d hook errors, want 4: %v", len(hookErrors), hookErrors)
	}
}

// TestFilteredHookSkipsProcess ensures Filter gates Process.
func TestFilteredHookSkipsProcess(t *testing.T) {
	pubsub := newPubSub()
	picky := &recordingHook{name: "picky", accept: func(msg hook.Message) bool { return false }}
	open := &recordingHook{name: "open"}

	w := New(WithSubscriber(pubsub), WithTopics("gerrit"), WithHooks(picky, open))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := pubsub.Publish("gerrit", message.NewMessage(watermill.NewUUID(), []byte(`{}`))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	open.waitFor(t, 1)
	if picky.count() != 0 {
		t.Fatalf("filtered hook should not process")
	}
}

// TestRunValidation rejects a worker without subscriber, topics, or hooks.
func TestRunValidation(t *testing.T) {
	if err := New().Run(context.Background()); err == nil {
		t.Fatalf("expected an error without a subscriber")
	}
	if err := New(WithSubscriber(newPubSub())).Run(context.Background()); err == nil {
		t.Fatalf("expected an error without topics")
	}
	if err := New(WithSubscriber(newPubSub()), WithTopics("t")).Run(context.Background()); err == nil {
		t.Fatalf("expected an error without hooks")
	}
}

// TestLoadBrokerConfigDefaults checks driver and buffer defaults.
func TestLoadBrokerConfigDefaults(t *testing.T) {
	path := t.TempDir() + "/broker.yaml"
	content := "broker:\n  topics:\n    - gerrit\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadBrokerConfig(path)
	if err != nil {
		t.Fatalf("LoadBrokerConfig: %v", err)
	}
	if cfg.Driver != "gochannel" {
		t.Fatalf("got driver %q, want gochannel default", cfg.Driver)
	}
	if cfg.GoChannel.OutputChannelBuffer != 64 {
		t.Fatalf("got buffer %d, want 64", cfg.GoChannel.OutputChannelBuffer)
	}
	if len(cfg.Topics) != 1 || cfg.Topics[0] != "gerrit" {
		t.Fatalf("unexpected topics %v", cfg.Topics)
	}
}
