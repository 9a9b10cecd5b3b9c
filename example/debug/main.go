// A self-contained demo of the hook pipeline: an in-process gochannel
// broker, a debug hook, and a few synthetic Gerrit events. Run it with
// no arguments and watch the dispatch log.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"gerrithooks/internal"
	"gerrithooks/pkg/hook"
	"gerrithooks/pkg/worker"
)

func main() {
	logger := internal.NewLogger("debug")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, internal.NewWatermillLogger(logger))
	runner := worker.New(
		worker.WithSubscriber(pubsub),
		worker.WithTopics("gerrit"),
		worker.WithHooks(hook.NewDebugHook(logger)),
		worker.WithLogger(internal.ComponentLogger(logger, "worker")),
	)
	defer runner.Close()

	go publishSamples(ctx, pubsub)

	if err := runner.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}

func publishSamples(ctx context.Context, pubsub *gochannel.GoChannel) {
	events := []struct {
		topic   string
		payload map[string]interface{}
	}{
		{
			topic: "gerrit/myproject/patchset-created",
			payload: map[string]interface{}{
				"change": map[string]interface{}{
					"project": "myproject", "number": 12, "subject": "Add frobnicator",
					"owner": map[string]interface{}{"username": "johnny"},
					"url":   "https://gerrit.example.com/12",
				},
				"patchSet": map[string]interface{}{"number": 1},
			},
		},
		{
			topic: "gerrit/myproject/comment-added",
			payload: map[string]interface{}{
				"change":   map[string]interface{}{"project": "myproject", "number": 12},
				"patchSet": map[string]interface{}{"number": 1},
				"author":   map[string]interface{}{"username": "johnny"},
				"comment":  "recheck",
			},
		},
		{
			topic: "gerrit/myproject/change-merged",
			payload: map[string]interface{}{
				"change":    map[string]interface{}{"project": "myproject", "number": 12},
				"submitter": map[string]interface{}{"username": "johnny"},
			},
		},
	}

	// Give the subscription a moment to settle before publishing.
	time.Sleep(100 * time.Millisecond)
	for _, evt := range events {
		raw, _ := json.Marshal(evt.payload)
		msg := message.NewMessage(watermill.NewUUID(), raw)
		msg.Metadata.Set("topic", evt.topic)
		if err := pubsub.Publish("gerrit", msg); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}
