package gerrit

import "testing"

// TestMatchTopicSingleSegment tests that a topic without a repo segment uses the project as repo.
func TestMatchTopicSingleSegment(t *testing.T) {
	topic, ok := MatchTopic("gerrit/myproject/comment-added")
	if !ok {
		t.Fatalf("expected topic to match")
	}
	if topic.Project != "myproject" || topic.Repo != "myproject" {
		t.Fatalf("expected project and repo myproject, got %q/%q", topic.Project, topic.Repo)
	}
	if topic.Event != "comment-added" {
		t.Fatalf("expected event comment-added, got %q", topic.Event)
	}
}

// TestMatchTopicTwoSegments tests that an explicit repo segment is parsed.
func TestMatchTopicTwoSegments(t *testing.T) {
	topic, ok := MatchTopic("gerrit/myproject/myrepo/patchset-created")
	if !ok {
		t.Fatalf("expected topic to match")
	}
	if topic.Project != "myproject" || topic.Repo != "myrepo" {
		t.Fatalf("expected myproject/myrepo, got %q/%q", topic.Project, topic.Repo)
	}
}

// TestMatchTopicRejectsOtherShapes tests that malformed topics yield no match.
func TestMatchTopicRejectsOtherShapes(t *testing.T) {
	rejected := []string{
		"random/topic",
		"just/a/random/topic",
		"gerrit/myproject",
		"gerrit/p/r/extra/comment-added",
		"notgerrit/p/comment-added",
		"gerrit/p/comment added",
		"",
	}
	for _, candidate := range rejected {
		if _, ok := MatchTopic(candidate); ok {
			t.Fatalf("expected no match for %q", candidate)
		}
	}
}

// TestMatchTopicCaseInsensitive tests that the prefix matches regardless of case.
func TestMatchTopicCaseInsensitive(t *testing.T) {
	topic, ok := MatchTopic("GERRIT/MyProject/Change-Merged")
	if !ok {
		t.Fatalf("expected case-insensitive match")
	}
	if topic.Kind() != EventChangeMerged {
		t.Fatalf("expected change-merged kind, got %v", topic.Kind())
	}
}

// TestHandlerKey tests that the handler key derivation replaces hyphens and adds the prefix.
func TestHandlerKey(t *testing.T) {
	cases := map[string]string{
		"comment-added":    "on_comment_added",
		"patchset-created": "on_patchset_created",
		"change-merged":    "on_change_merged",
		"ref-updated":      "on_ref_updated",
		"simple":           "on_simple",
	}
	for event, want := range cases {
		topic := Topic{Event: event}
		if got := topic.HandlerKey(); got != want {
			t.Fatalf("expected key %q for %q, got %q", want, event, got)
		}
		// deterministic for equal input
		if again := topic.HandlerKey(); again != want {
			t.Fatalf("expected stable key for %q, got %q", event, again)
		}
	}
}

// TestTopicKind tests the mapping from event names onto the closed enumeration.
func TestTopicKind(t *testing.T) {
	if (Topic{Event: "patchset-created"}).Kind() != EventPatchsetCreated {
		t.Fatalf("expected patchset-created kind")
	}
	if (Topic{Event: "ref-updated"}).Kind() != EventUndefined {
		t.Fatalf("expected undefined kind for ref-updated")
	}
}
