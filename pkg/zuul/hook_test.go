package zuul

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"gerrithooks/pkg/hook"
)

// fakeFactory records the autohold POST and the review comments, and
// answers with a configurable status code.
type fakeFactory struct {
	status   int
	lastUser string
	lastPath string
	lastBody map[string]interface{}
	comments []string
}

func (f *fakeFactory) PostAs(ctx context.Context, user, path string, body interface{}) (*http.Response, error) {
	f.lastUser = user
	f.lastPath = path
	raw, _ := json.Marshal(body)
	json.Unmarshal(raw, &f.lastBody)
	return &http.Response{StatusCode: f.status, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func (f *fakeFactory) CommentOnReview(ctx context.Context, changeID string, revision int, comment string) error {
	f.comments = append(f.comments, comment)
	return nil
}

func newHook(t *testing.T, factory *fakeFactory) *Hook {
	t.Helper()
	h, err := NewHook(".*", "", factory, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHook: %v", err)
	}
	return h
}

func commentMessage(comment string) hook.Message {
	payload := map[string]interface{}{
		"change": map[string]interface{}{
			"project": "myproject",
			"id":      "Iabc123",
			"number":  12,
			"owner":   map[string]interface{}{"username": "mark"},
		},
		"patchSet": map[string]interface{}{"number": 2},
		"author":   map[string]interface{}{"username": "Mark"},
		"comment":  comment,
	}
	raw, _ := json.Marshal(payload)
	return hook.Message{Topic: "gerrit/myproject/comment-added", Payload: raw}
}

// TestAutoholdRequest checks the happy path: the request is posted as the
// comment author against the tenant/project/job path and a success comment
// lands on the review.
func TestAutoholdRequest(t *testing.T) {
	factory := &fakeFactory{status: http.StatusOK}
	h := newHook(t, factory)

	msg := commentMessage("autohold run-tests on local")
	if !h.Filter(msg) {
		t.Fatalf("message should pass the filter")
	}
	if err := h.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if factory.lastPath != "/v2/zuul/admin/local/myproject/run-tests/autohold" {
		t.Fatalf("unexpected autohold path %q", factory.lastPath)
	}
	if factory.lastUser != "Mark" {
		t.Fatalf("request should be impersonated as the author, got %q", factory.lastUser)
	}
	if factory.lastBody["change"] != float64(12) || factory.lastBody["count"] != float64(1) {
		t.Fatalf("unexpected body %v", factory.lastBody)
	}
	if factory.lastBody["reason"] != "Requested by Mark" {
		t.Fatalf("unexpected reason %q", factory.lastBody["reason"])
	}
	if len(factory.comments) != 1 || factory.comments[0] != "Autohold successfully set." {
		t.Fatalf("unexpected review comments %v", factory.comments)
	}
}

// TestAutoholdSplitRepository checks that two-segment topics produce the
// "project/repo" Zuul project name.
func TestAutoholdSplitRepository(t *testing.T) {
	factory := &fakeFactory{status: http.StatusOK}
	h := newHook(t, factory)

	msg := commentMessage("autohold run-tests on local")
	msg.Topic = "gerrit/myproject/mysubrepo/comment-added"
	if err := h.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if factory.lastPath != "/v2/zuul/admin/local/myproject/mysubrepo/run-tests/autohold" {
		t.Fatalf("unexpected autohold path %q", factory.lastPath)
	}
}

// TestAutoholdStatusComments covers the error taxonomy reported on the
// review.
func TestAutoholdStatusComments(t *testing.T) {
	cases := []struct {
		status  int
		comment string
	}{
		{http.StatusUnauthorized, "Autohold is not allowed for user Mark."},
		{http.StatusNotFound, "Job and/or tenant not found."},
		{http.StatusInternalServerError, "Unknown error while attempting autohold, please contact an administrator."},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("status-%d", tc.status), func(t *testing.T) {
			factory := &fakeFactory{status: tc.status}
			h := newHook(t, factory)
			if err := h.Process(context.Background(), commentMessage("autohold run-tests on local")); err != nil {
				t.Fatalf("Process: %v", err)
			}
			if len(factory.comments) != 1 || factory.comments[0] != tc.comment {
				t.Fatalf("status %d: got comments %v, want %q", tc.status, factory.comments, tc.comment)
			}
		})
	}
}

// TestPlainCommentIgnored leaves ordinary review comments untouched.
func TestPlainCommentIgnored(t *testing.T) {
	factory := &fakeFactory{status: http.StatusOK}
	h := newHook(t, factory)

	if err := h.Process(context.Background(), commentMessage("looks good to me")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if factory.lastPath != "" || len(factory.comments) != 0 {
		t.Fatalf("plain comment should not trigger anything: path=%q comments=%v", factory.lastPath, factory.comments)
	}
}

// TestProjectFilter rejects events from projects the hook is not bound to.
func TestProjectFilter(t *testing.T) {
	factory := &fakeFactory{status: http.StatusOK}
	h, err := NewHook("myproject", "", factory, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHook: %v", err)
	}

	msg := commentMessage("autohold run-tests on local")
	if !h.Filter(msg) {
		t.Fatalf("myproject should pass the filter")
	}
	msg.Topic = "gerrit/otherproject/comment-added"
	if h.Filter(msg) {
		t.Fatalf("otherproject should not pass the filter")
	}
}

// TestParseRequest checks the request grammar, including the optional hold
// duration tail.
func TestParseRequest(t *testing.T) {
	job, tenant, ok := ParseRequest("please autohold run-tests on local hold for 2 hour")
	if !ok || job != "run-tests" || tenant != "local" {
		t.Fatalf("got job=%q tenant=%q ok=%v", job, tenant, ok)
	}
	if _, _, ok := ParseRequest("recheck"); ok {
		t.Fatalf("plain comment should not parse")
	}
}
