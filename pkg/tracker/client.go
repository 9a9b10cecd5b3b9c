package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrRefNotFound reports that a reference does not resolve to any user
// story, issue, or task on the tracker project.
var ErrRefNotFound = errors.New("reference not found on tracker")

// Config holds the Taiga endpoint, credentials, and target project slug.
type Config struct {
	URL      string
	Project  string
	Username string
	Password string
}

// Client is a Taiga REST client bound to a single project after Connect.
type Client struct {
	baseURL   string
	project   string
	username  string
	password  string
	client    *http.Client
	logger    zerolog.Logger
	token     string
	projectID int
}

// NewClient builds an unauthenticated client. Call Connect before use.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:  normalizeBaseURL(cfg.URL),
		project:  cfg.Project,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Connect authenticates against the tracker and resolves the configured
// project slug. It must succeed before any other call.
func (c *Client) Connect(ctx context.Context) error {
	body := map[string]interface{}{
		"type":     "normal",
		"username": c.username,
		"password": c.password,
	}
	var auth struct {
		AuthToken string `json:"auth_token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/auth", body, &auth); err != nil {
		return fmt.Errorf("taiga auth: %w", err)
	}
	if auth.AuthToken == "" {
		return errors.New("taiga auth: empty token")
	}
	c.token = auth.AuthToken

	var project struct {
		ID   int    `json:"id"`
		Slug string `json:"slug"`
	}
	endpoint := fmt.Sprintf("%s/projects/by_slug?slug=%s", c.baseURL, url.QueryEscape(c.project))
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &project); err != nil {
		return fmt.Errorf("taiga project %q: %w", c.project, err)
	}
	c.projectID = project.ID
	c.logger.Debug().Str("project", c.project).Int("id", project.ID).Msg("connected to tracker project")
	return nil
}

// FindByRef resolves a reference against the project as, in order, a user
// story, an issue, then a task. The first successful lookup wins; if none
// succeed the error wraps ErrRefNotFound.
func (c *Client) FindByRef(ctx context.Context, ref string) (*Item, error) {
	kinds := []ItemKind{KindUserStory, KindIssue, KindTask}
	for _, kind := range kinds {
		item, err := c.itemByRef(ctx, kind, ref)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, errStatusNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("reference #%s: %w", ref, ErrRefNotFound)
}

// StatusBySlug looks up a status slug on the project's status list for the
// given item kind. The second return reports whether the slug exists.
func (c *Client) StatusBySlug(ctx context.Context, kind ItemKind, slug string) (Status, bool, error) {
	endpoint := fmt.Sprintf("%s/%s?project=%d", c.baseURL, statusPath(kind), c.projectID)
	var statuses []Status
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &statuses); err != nil {
		return Status{}, false, err
	}
	for _, status := range statuses {
		if status.Slug == slug {
			return status, true, nil
		}
	}
	return Status{}, false, nil
}

// History fetches the activity entries of an item, newest first.
func (c *Client) History(ctx context.Context, item *Item) ([]HistoryEntry, error) {
	endpoint := fmt.Sprintf("%s/%s/%d", c.baseURL, historyPath(item.Kind), item.ID)
	var entries []HistoryEntry
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// AddComment appends a comment to an item.
func (c *Client) AddComment(ctx context.Context, item *Item, comment string) error {
	return c.patchItem(ctx, item, map[string]interface{}{"comment": comment})
}

// SetStatus moves an item to the given status id.
func (c *Client) SetStatus(ctx context.Context, item *Item, statusID int) error {
	if err := c.patchItem(ctx, item, map[string]interface{}{"status": statusID}); err != nil {
		return err
	}
	item.StatusID = statusID
	return nil
}

var errStatusNotFound = errors.New("not found")

func (c *Client) itemByRef(ctx context.Context, kind ItemKind, ref string) (*Item, error) {
	endpoint := fmt.Sprintf("%s/%s/by_ref?ref=%s&project=%d",
		c.baseURL, itemPath(kind), url.QueryEscape(ref), c.projectID)
	var decoded struct {
		ID       int    `json:"id"`
		Ref      int    `json:"ref"`
		Subject  string `json:"subject"`
		Version  int    `json:"version"`
		StatusID int    `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &decoded); err != nil {
		return nil, err
	}
	return &Item{
		Kind:     kind,
		ID:       decoded.ID,
		Ref:      decoded.Ref,
		Subject:  decoded.Subject,
		Version:  decoded.Version,
		StatusID: decoded.StatusID,
	}, nil
}

// patchItem issues a partial update. Taiga rejects stale versions, so the
// local version counter advances after every successful mutation.
func (c *Client) patchItem(ctx context.Context, item *Item, fields map[string]interface{}) error {
	fields["version"] = item.Version
	endpoint := fmt.Sprintf("%s/%s/%d", c.baseURL, itemPath(item.Kind), item.ID)
	if err := c.doJSON(ctx, http.MethodPatch, endpoint, fields, nil); err != nil {
		return err
	}
	item.Version++
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload map[string]interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errStatusNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("taiga api error %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func itemPath(kind ItemKind) string {
	switch kind {
	case KindUserStory:
		return "userstories"
	case KindIssue:
		return "issues"
	default:
		return "tasks"
	}
}

func statusPath(kind ItemKind) string {
	switch kind {
	case KindUserStory:
		return "userstory-statuses"
	case KindIssue:
		return "issue-statuses"
	default:
		return "task-statuses"
	}
}

func historyPath(kind ItemKind) string {
	switch kind {
	case KindUserStory:
		return "history/userstory"
	case KindIssue:
		return "history/issue"
	default:
		return "history/task"
	}
}

func normalizeBaseURL(base string) string {
	if base == "" {
		return "https://api.taiga.io/api/v1"
	}
	return strings.TrimRight(base, "/")
}
