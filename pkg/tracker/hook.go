package tracker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"gerrithooks/internal"
	"gerrithooks/pkg/gerrit"
	"gerrithooks/pkg/hook"
)

// API is the tracker surface the hook needs, bound to one project. *Client
// implements it.
type API interface {
	FindByRef(ctx context.Context, ref string) (*Item, error)
	StatusBySlug(ctx context.Context, kind ItemKind, slug string) (Status, bool, error)
	History(ctx context.Context, item *Item) ([]HistoryEntry, error)
	AddComment(ctx context.Context, item *Item, comment string) error
	SetStatus(ctx context.Context, item *Item, statusID int) error
}

// RefMatch is one tracker reference extracted from a commit message,
// optionally carrying a "#status" token.
type RefMatch struct {
	Ref    string
	Status string
}

// The pattern mimics taiga.io's own GitHub integration: "TG-<id> [#status]".
var refPattern = regexp.MustCompile(`(?i)TG-(\d+)\s*(#[a-zA-Z-]+)?`)

// ParseRefs extracts all tracker references from a commit message.
func ParseRefs(commitMessage string) []RefMatch {
	groups := refPattern.FindAllStringSubmatch(commitMessage, -1)
	refs := make([]RefMatch, 0, len(groups))
	for _, group := range groups {
		refs = append(refs, RefMatch{Ref: group[1], Status: group[2]})
	}
	return refs
}

// Hook updates tracker items referenced from commit messages as the review
// evolves: in progress on a fresh patchset, ready for review once the owner
// scores it, and closed (or the token's status) on merge.
type Hook struct {
	hook.GerritBase
	gerrit.DebugHandler

	name           string
	projectPattern *regexp.Regexp
	api            API
	logger         zerolog.Logger
}

// NewHook builds a tracker-update hook. projectPattern is a regular
// expression matched against the Gerrit project name, anchored at the
// start; guardExpr is an optional payload condition.
func NewHook(projectPattern, guardExpr string, api API, logger zerolog.Logger) (*Hook, error) {
	pattern, err := regexp.Compile(`(?i)^(?:` + projectPattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile project pattern %q: %w", projectPattern, err)
	}
	name := fmt.Sprintf("tracker(%s)", projectPattern)
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
		api:            api,
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

// Process decodes the message and dispatches it to the event methods below.
func (h *Hook) Process(ctx context.Context, msg hook.Message) error {
	topic, payload, _, err := h.Data(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", msg.Topic).Msg("could not decode payload")
		return nil
	}
	return gerrit.Dispatch(ctx, h.logger, h, topic, payload)
}

// OnPatchsetCreated sets every referenced item to in-progress and leaves a
// comment pointing at the new patch. A history scan makes the creation path
// idempotent: if the exact comment already exists, the reference is skipped
// entirely.
func (h *Hook) OnPatchsetCreated(ctx context.Context, project, repo string, payload gerrit.Payload) error {
	author := payload.Change.Owner.UsernameOrUnknown()
	for _, match := range ParseRefs(payload.Change.CommitMessage) {
		item, err := h.findRef(ctx, match.Ref)
		if err != nil {
			return err
		}
		if item == nil {
			continue
		}

		comment := fmt.Sprintf("%s created patch [#%d: %s](%s) on repository %s.",
			author, payload.Change.Number, payload.Change.Subject, payload.Change.URL, repo)
		history, err := h.api.History(ctx, item)
		if err != nil {
			return err
		}
		if historyContains(history, comment) {
			h.logger.Debug().Int("ref", item.Ref).Msg("ref up to date, skipping")
			continue
		}
		if err := h.api.AddComment(ctx, item, comment); err != nil {
			return err
		}
		h.logger.Debug().Str("comment", comment).Msg("comment added")

		if err := h.applyStatus(ctx, item, "in-progress", "in-progress"); err != nil {
			return err
		}
	}
	return nil
}

// OnCommentAdded marks referenced items ready for review, but only when the
// change owner scored their own change with a positive Code-Review vote.
// User stories go back to in-progress instead; closing a story is left to
// an explicit step.
func (h *Hook) OnCommentAdded(ctx context.Context, project, repo string, payload gerrit.Payload) error {
	owner := payload.Change.Owner.UsernameOrUnknown()
	author := payload.Author.UsernameOrUnknown()
	if !selfApproved(payload.Approvals, owner, author) {
		return nil
	}

	for _, match := range ParseRefs(payload.Change.CommitMessage) {
		item, err := h.findRef(ctx, match.Ref)
		if err != nil {
			return err
		}
		if item == nil {
			continue
		}

		comment := fmt.Sprintf("Patch [#%d,%d: %s](%s) is ready for review.",
			payload.Change.Number, payload.PatchSet.Number, payload.Change.Subject, payload.Change.URL)
		if err := h.api.AddComment(ctx, item, comment); err != nil {
			return err
		}
		h.logger.Debug().Str("comment", comment).Msg("comment added")

		slug := "ready-for-review"
		if item.Kind == KindUserStory {
			slug = "in-progress"
		}
		if err := h.applyStatus(ctx, item, slug, slug); err != nil {
			return err
		}
	}
	return nil
}

// OnChangeMerged closes referenced issues and tasks, or moves them to the
// status named by the "#token" captured next to the reference. User stories
// always go back to in-progress regardless of the token; several patches
// may contribute to one story and closure stays an explicit step.
func (h *Hook) OnChangeMerged(ctx context.Context, project, repo string, payload gerrit.Payload) error {
	for _, match := range ParseRefs(payload.Change.CommitMessage) {
		slug := strings.ToLower(strings.TrimPrefix(match.Status, "#"))
		h.logger.Debug().Str("status", slug).Str("ref", match.Ref).Msg("merged reference")

		item, err := h.findRef(ctx, match.Ref)
		if err != nil {
			return err
		}
		if item == nil {
			continue
		}

		comment := fmt.Sprintf("patch [#%d: %s](%s) was merged.",
			payload.Change.Number, payload.Change.Subject, payload.Change.URL)
		if err := h.api.AddComment(ctx, item, comment); err != nil {
			return err
		}
		h.logger.Debug().Str("comment", comment).Msg("comment added")

		switch item.Kind {
		case KindUserStory:
			err = h.applyStatus(ctx, item, "in-progress", "in-progress")
		default:
			err = h.applyStatus(ctx, item, slug, "closed")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// findRef resolves a reference, swallowing not-found into a logged skip so
// the remaining references of the same message are still processed.
func (h *Hook) findRef(ctx context.Context, ref string) (*Item, error) {
	item, err := h.api.FindByRef(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrRefNotFound) {
			h.logger.Error().Err(err).Str("ref", ref).Msg("reference lookup failed")
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

// applyStatus resolves a status slug on the item's per-kind status list and
// applies it, falling back to the given default slug when the tracker does
// not know the requested one. Items of unknown kind are left untouched.
func (h *Hook) applyStatus(ctx context.Context, item *Item, slug, fallback string) error {
	if item.Kind == KindUnknown {
		return nil
	}
	status, ok, err := h.api.StatusBySlug(ctx, item.Kind, slug)
	if err != nil {
		return err
	}
	if !ok {
		h.logger.Debug().Msgf("status %q not found, using default status", slug)
		status, ok, err = h.api.StatusBySlug(ctx, item.Kind, fallback)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("default status %q not found for %s", fallback, item.Kind)
		}
	}
	if err := h.api.SetStatus(ctx, item, status.ID); err != nil {
		return err
	}
	internal.IncTrackerUpdate(item.Kind.String())
	h.logger.Debug().Int("ref", item.Ref).Str("status", status.Slug).Msg("ref updated")
	return nil
}

// selfApproved reports whether the approval set carries a positive
// Code-Review vote and the vote author is the change owner.
func selfApproved(approvals []gerrit.Approval, owner, author string) bool {
	for _, approval := range approvals {
		if approval.Type == "Code-Review" && approval.Value > 0 {
			return owner == author
		}
	}
	return false
}

func historyContains(history []HistoryEntry, comment string) bool {
	for _, entry := range history {
		if strings.Contains(entry.Comment, comment) {
			return true
		}
	}
	return false
}
