package worker

import (
	"context"

	"gerrithooks/pkg/hook"
)

// Listener provides hooks into the worker's lifecycle for logging and
// metrics.
type Listener struct {
	// OnStart is called when the worker starts.
	OnStart func(ctx context.Context)
	// OnExit is called when the worker exits.
	OnExit func(ctx context.Context)
	// OnMessage is called once per received message, before delivery.
	OnMessage func(ctx context.Context, msg hook.Message)
	// OnHookError is called when a hook returns an error or panics.
	OnHookError func(ctx context.Context, hookName string, msg hook.Message, err error)
}
