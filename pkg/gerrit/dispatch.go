package gerrit

import (
	"context"

	"github.com/rs/zerolog"
)

// Handler receives dispatched Gerrit events. Hooks implement the events
// they care about and embed DebugHandler for the rest.
type Handler interface {
	OnPatchsetCreated(ctx context.Context, project, repo string, payload Payload) error
	OnCommentAdded(ctx context.Context, project, repo string, payload Payload) error
	OnChangeMerged(ctx context.Context, project, repo string, payload Payload) error
}

// Dispatch routes a parsed topic to the matching handler method. Events
// outside the known enumeration only get a debug log; that is the intended
// catch-all, not an error.
func Dispatch(ctx context.Context, logger zerolog.Logger, handler Handler, topic Topic, payload Payload) error {
	switch topic.Kind() {
	case EventPatchsetCreated:
		return handler.OnPatchsetCreated(ctx, topic.Project, topic.Repo, payload)
	case EventCommentAdded:
		return handler.OnCommentAdded(ctx, topic.Project, topic.Repo, payload)
	case EventChangeMerged:
		return handler.OnChangeMerged(ctx, topic.Project, topic.Repo, payload)
	default:
		logger.Debug().
			Str("event", topic.Event).
			Str("key", topic.HandlerKey()).
			Str("project", topic.Project).
			Str("repo", topic.Repo).
			Msg("no handler for event")
		return nil
	}
}

// DebugHandler implements Handler by logging every event at debug level.
// Hooks embed it to get catch-all behavior for the events they do not
// override.
type DebugHandler struct {
	logger zerolog.Logger
}

// NewDebugHandler builds a DebugHandler writing to the given logger.
func NewDebugHandler(logger zerolog.Logger) DebugHandler {
	return DebugHandler{logger: logger}
}

func (d DebugHandler) OnPatchsetCreated(ctx context.Context, project, repo string, payload Payload) error {
	d.logEvent("patchset-created", project, repo)
	return nil
}

func (d DebugHandler) OnCommentAdded(ctx context.Context, project, repo string, payload Payload) error {
	d.logEvent("comment-added", project, repo)
	return nil
}

func (d DebugHandler) OnChangeMerged(ctx context.Context, project, repo string, payload Payload) error {
	d.logEvent("change-merged", project, repo)
	return nil
}

func (d DebugHandler) logEvent(event, project, repo string) {
	d.logger.Debug().
		Str("event", event).
		Str("project", project).
		Str("repo", repo).
		Msg("event hook triggered")
}
