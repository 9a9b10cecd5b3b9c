// Package gerrit parses broker topics and payloads produced by a Gerrit
// event stream and routes them to event handlers.
package gerrit

import (
	"regexp"
	"strings"
)

// Topic is a parsed broker topic of the form
// gerrit/<project>[/<repo>]/<event>. Repo equals Project when the topic
// carries no repo segment.
type Topic struct {
	Project string
	Repo    string
	Event   string
}

// EventKind enumerates the events this router dispatches. Topics carrying
// any other event name resolve to EventUndefined.
type EventKind int

const (
	EventUndefined EventKind = iota
	EventPatchsetCreated
	EventCommentAdded
	EventChangeMerged
)

var topicPattern = regexp.MustCompile(`(?i)^gerrit/([A-Za-z0-9_-]+)(?:/([A-Za-z0-9_-]+))?/([A-Za-z0-9_-]+)$`)

// MatchTopic parses a broker topic string. It reports false for anything
// that is not a Gerrit topic with exactly one or two segments before the
// event name.
func MatchTopic(topic string) (Topic, bool) {
	groups := topicPattern.FindStringSubmatch(topic)
	if groups == nil {
		return Topic{}, false
	}
	project, repo, event := groups[1], groups[2], groups[3]
	if repo == "" {
		repo = project
	}
	return Topic{Project: project, Repo: repo, Event: event}, true
}

// HandlerKey derives the handler lookup key from the event name, e.g.
// "comment-added" becomes "on_comment_added".
func (t Topic) HandlerKey() string {
	return "on_" + strings.ReplaceAll(t.Event, "-", "_")
}

// Kind maps the event name onto the closed event enumeration.
func (t Topic) Kind() EventKind {
	switch strings.ToLower(t.Event) {
	case "patchset-created":
		return EventPatchsetCreated
	case "comment-added":
		return EventCommentAdded
	case "change-merged":
		return EventChangeMerged
	default:
		return EventUndefined
	}
}

// String returns the canonical event name for a kind.
func (k EventKind) String() string {
	switch k {
	case EventPatchsetCreated:
		return "patchset-created"
	case EventCommentAdded:
		return "comment-added"
	case EventChangeMerged:
		return "change-merged"
	default:
		return "undefined"
	}
}
