// Package softwarefactory is a thin authenticated client for a Software
// Factory deployment, used by hooks to reach the Zuul admin API through
// manageSF and to comment on Gerrit reviews.
package softwarefactory

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gerrithooks/internal"
)

// Client talks to one Software Factory instance as the service user. It is
// not safe for concurrent use; the runner delivers messages serially.
type Client struct {
	baseURL  string
	managesf string
	gerrit   string
	user     string
	password string
	client   *http.Client
	logger   zerolog.Logger

	// apikey is lazily validated; the initial value is a placeholder that
	// fails the probe and forces a refresh on first use.
	apikey string
}

// NewClient builds a client from the softwarefactory config section.
func NewClient(cfg internal.SoftwareFactoryConfig, logger zerolog.Logger) *Client {
	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		managesf: strings.TrimRight(cfg.ManageSF, "/"),
		gerrit:   strings.TrimRight(cfg.Gerrit, "/") + "/",
		user:     cfg.Auth.Username,
		password: cfg.Auth.Password,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: internal.ComponentLogger(logger, "softwarefactory"),
		apikey: "password",
	}
}

// APIKey returns a valid Gerrit API key for the service user. The key can
// be rotated server-side at any time, so every call probes the cached key
// with a HEAD request and re-authenticates when the probe is rejected.
func (c *Client) APIKey(ctx context.Context) (string, error) {
	probe, err := http.NewRequestWithContext(ctx, http.MethodHead, c.gerrit+"accounts/self/", nil)
	if err != nil {
		return "", err
	}
	probe.SetBasicAuth(c.user, c.apikey)
	resp, err := c.client.Do(probe)
	if err != nil {
		return "", err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 300 {
		return c.apikey, nil
	}

	cookie, err := c.authCookie(ctx)
	if err != nil {
		return "", err
	}
	key, err := c.fetchAPIKey(ctx, cookie)
	if err != nil {
		return "", err
	}
	c.apikey = key
	c.logger.Debug().Msg("api key refreshed")
	return c.apikey, nil
}

// GetAs performs a GET against manageSF on behalf of another user.
func (c *Client) GetAs(ctx context.Context, user, path string) (*http.Response, error) {
	return c.fetchAs(ctx, http.MethodGet, user, path, nil)
}

// PostAs performs a JSON POST against manageSF on behalf of another user.
func (c *Client) PostAs(ctx context.Context, user, path string, body interface{}) (*http.Response, error) {
	return c.fetchAs(ctx, http.MethodPost, user, path, body)
}

// PutAs performs a JSON PUT against manageSF on behalf of another user.
func (c *Client) PutAs(ctx context.Context, user, path string, body interface{}) (*http.Response, error) {
	return c.fetchAs(ctx, http.MethodPut, user, path, body)
}

// DeleteAs performs a DELETE against manageSF on behalf of another user.
func (c *Client) DeleteAs(ctx context.Context, user, path string) (*http.Response, error) {
	return c.fetchAs(ctx, http.MethodDelete, user, path, nil)
}

// CommentOnReview posts a review message on a specific change revision as
// the service user.
func (c *Client) CommentOnReview(ctx context.Context, changeID string, revision int, comment string) error {
	key, err := c.APIKey(ctx)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%schanges/%s/revisions/%d/review", c.gerrit, url.PathEscape(changeID), revision)
	raw, err := json.Marshal(map[string]string{"message": comment})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, key)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	c.logger.Debug().Int("status", resp.StatusCode).Str("change", changeID).Msg("review comment posted")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gerrit review comment: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) fetchAs(ctx context.Context, method, user, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.managesf+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Remote-User", user)
	return c.client.Do(req)
}

// authCookie logs in with the service credentials and returns the SSO
// cookie issued by the deployment.
func (c *Client) authCookie(ctx context.Context) (*http.Cookie, error) {
	form := url.Values{}
	form.Set("username", c.user)
	form.Set("password", c.password)
	form.Set("back", "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "auth_pubtkt" {
			return cookie, nil
		}
	}
	return nil, fmt.Errorf("login did not issue an auth cookie (status %d)", resp.StatusCode)
}

// fetchAPIKey retrieves the service user's API key, creating one when the
// deployment has none yet.
func (c *Client) fetchAPIKey(ctx context.Context, cookie *http.Cookie) (string, error) {
	key, status, err := c.apiKeyRequest(ctx, http.MethodGet, cookie)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		key, status, err = c.apiKeyRequest(ctx, http.MethodPost, cookie)
		if err != nil {
			return "", err
		}
	}
	if key == "" {
		return "", fmt.Errorf("api key fetch failed with status %d", status)
	}
	return key, nil
}

func (c *Client) apiKeyRequest(ctx context.Context, method string, cookie *http.Cookie) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/auth/apikey", nil)
	if err != nil {
		return "", 0, err
	}
	req.AddCookie(cookie)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", resp.StatusCode, nil
	}

	var decoded struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", resp.StatusCode, err
	}
	return decoded.APIKey, resp.StatusCode, nil
}
