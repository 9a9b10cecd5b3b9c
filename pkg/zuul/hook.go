// Package zuul implements the autohold hook: review comments requesting a
// node hold are forwarded to the Zuul admin API through manageSF, and the
// outcome is reported back on the review.
package zuul

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/rs/zerolog"

	"gerrithooks/internal"
	"gerrithooks/pkg/gerrit"
	"gerrithooks/pkg/hook"
)

// SoftwareFactory is the slice of the Software Factory client the hook
// uses: one impersonated POST plus a way to answer on the review.
type SoftwareFactory interface {
	PostAs(ctx context.Context, user, path string, body interface{}) (*http.Response, error)
	CommentOnReview(ctx context.Context, changeID string, revision int, comment string) error
}

// The request grammar: "autohold <job> on <tenant>", with an optional
// "hold for <n> hour|minute" tail that is accepted but not yet forwarded.
var autoholdPattern = regexp.MustCompile(`(?i)autohold (.+?) on (\S+)(?:\s+hold for (\d+)\s+(hour|minute))?`)

// Hook watches comment-added events for autohold requests.
type Hook struct {
	hook.GerritBase
	gerrit.DebugHandler

	name           string
	projectPattern *regexp.Regexp
	factory        SoftwareFactory
	logger         zerolog.Logger
}

// NewHook builds an autohold hook. projectPattern is matched against the
// Gerrit project name, anchored at the start.
func NewHook(projectPattern, guardExpr string, factory SoftwareFactory, logger zerolog.Logger) (*Hook, error) {
	pattern, err := regexp.Compile(`(?i)^(?:` + projectPattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile project pattern %q: %w", projectPattern, err)
	}
	name := fmt.Sprintf("autohold(%s)", projectPattern)
	logger = logger.With().Str("hook", name).Logger()
	base, err := hook.NewGerritBase(logger, guardExpr)
	if err != nil {
		return nil, err
	}
	return &Hook{
		GerritBase:     base,
		DebugHandler:   gerrit.NewDebugHandler(logger),
		name:           name,
		projectPattern: pattern,
		factory:        factory,
		logger:         logger,
	}, nil
}

func (h *Hook) Name() string {
	return h.name
}

// Filter passes only Gerrit topics whose project matches the configured
// pattern (and the guard, when set).
func (h *Hook) Filter(msg hook.Message) bool {
	if !h.GerritBase.Filter(msg) {
		return false
	}
	topic, _ := gerrit.MatchTopic(msg.Topic)
	return h.projectPattern.MatchString(topic.Project)
}

// Process decodes the message and dispatches it to the event methods.
func (h *Hook) Process(ctx context.Context, msg hook.Message) error {
	topic, payload, _, err := h.Data(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", msg.Topic).Msg("could not decode payload")
		return nil
	}
	return gerrit.Dispatch(ctx, h.logger, h, topic, payload)
}

// OnCommentAdded scans the review comment for an autohold request. When
// one is found, the hold is submitted to Zuul as the comment's author and
// the result is posted back on the change, whatever the outcome.
func (h *Hook) OnCommentAdded(ctx context.Context, project, repo string, payload gerrit.Payload) error {
	match := autoholdPattern.FindStringSubmatch(payload.Comment)
	if match == nil {
		return nil
	}
	job, tenant := match[1], match[2]
	author := payload.Author.UsernameOrUnknown()

	// Zuul identifies the repository by its full project name; a bare
	// project means project and repository coincide.
	zuulProject := project
	if repo != project {
		zuulProject = project + "/" + repo
	}

	path := fmt.Sprintf("/v2/zuul/admin/%s/%s/%s/autohold", tenant, zuulProject, job)
	body := map[string]interface{}{
		"change": payload.Change.Number,
		"reason": fmt.Sprintf("Requested by %s", author),
		"count":  1,
	}
	h.logger.Info().Str("tenant", tenant).Str("project", zuulProject).Str("job", job).
		Str("author", author).Msg("submitting autohold request")
	internal.IncAutohold(tenant)

	var status int
	resp, err := h.factory.PostAs(ctx, author, path, body)
	if err != nil {
		h.logger.Error().Err(err).Msg("autohold request failed")
		status = http.StatusInternalServerError
	} else {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		status = resp.StatusCode
	}

	var comment string
	switch {
	case status < http.StatusBadRequest:
		comment = "Autohold successfully set."
	case status == http.StatusUnauthorized:
		comment = fmt.Sprintf("Autohold is not allowed for user %s.", author)
	case status == http.StatusNotFound:
		comment = "Job and/or tenant not found."
	default:
		comment = "Unknown error while attempting autohold, please contact an administrator."
	}
	if status >= http.StatusBadRequest {
		h.logger.Error().Int("status", status).Str("tenant", tenant).Str("job", job).
			Msg("autohold request rejected")
	}

	if err := h.factory.CommentOnReview(ctx, payload.Change.ID, payload.PatchSet.Number, comment); err != nil {
		return fmt.Errorf("report autohold result on %s: %w", payload.Change.ID, err)
	}
	return nil
}

// ParseRequest exposes the autohold grammar for diagnostics: it returns
// the job and tenant of the first request found in the comment.
func ParseRequest(comment string) (job, tenant string, ok bool) {
	match := autoholdPattern.FindStringSubmatch(comment)
	if match == nil {
		return "", "", false
	}
	return match[1], match[2], true
}
