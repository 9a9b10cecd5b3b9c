package hook

import (
	"context"

	"github.com/rs/zerolog"

	"gerrithooks/pkg/gerrit"
)

// DebugHook logs every matched Gerrit event at debug level. Useful as a
// first hook while wiring up a deployment.
type DebugHook struct {
	GerritBase
	gerrit.DebugHandler
}

// NewDebugHook builds a debug hook.
func NewDebugHook(logger zerolog.Logger) *DebugHook {
	return &DebugHook{
		GerritBase:   GerritBase{Logger: logger},
		DebugHandler: gerrit.NewDebugHandler(logger),
	}
}

func (d *DebugHook) Name() string {
	return "debug"
}

// Process dispatches the event to the debug handler. Undecodable payloads
// are logged and dropped.
func (d *DebugHook) Process(ctx context.Context, msg Message) error {
	topic, payload, _, err := d.Data(msg)
	if err != nil {
		d.Logger.Error().Err(err).Str("topic", msg.Topic).Msg("could not decode payload")
		return nil
	}
	return gerrit.Dispatch(ctx, d.Logger, d, topic, payload)
}
