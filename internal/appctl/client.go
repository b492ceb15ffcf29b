// Package appctl talks to the running SisterOS application over its admin
// HTTP interface: a liveness probe, and the quiesce protocol that pauses
// write activity while a snapshot or restore touches the store.
package appctl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Client probes and controls the application process. A nil or unconfigured
// client reports the application as absent, which callers treat as "nothing
// is writing".
type Client struct {
	statusURL string
	http      *http.Client
}

// New returns a client for the application's status endpoint. statusURL may
// be empty when no application endpoint is configured.
func New(statusURL string, timeout time.Duration) *Client {
	return &Client{
		statusURL: statusURL,
		http:      &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an application endpoint is known at all.
func (c *Client) Configured() bool {
	return c != nil && c.statusURL != ""
}

// Alive probes the status endpoint. Any 2xx answer within the client
// timeout counts as up; no answer or a non-2xx answer counts as down and is
// not an error.
func (c *Client) Alive(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Quiesce asks the application to pause store writes and waits for the
// acknowledgement. The wait is bounded by ctx; callers pass a deadline and
// treat an error as a hard abort before any destructive step.
func (c *Client) Quiesce(ctx context.Context) error {
	return c.post(ctx, "quiesce")
}

// Resume lifts a previous quiesce. Safe to call after a failed restore; the
// application ignores a resume with no quiesce outstanding.
func (c *Client) Resume(ctx context.Context) error {
	return c.post(ctx, "resume")
}

func (c *Client) post(ctx context.Context, action string) error {
	if !c.Configured() {
		return nil
	}
	url := adminURL(c.statusURL, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: application answered %s", action, resp.Status)
	}
	return nil
}

// adminURL derives the control endpoint from the status URL: the status
// path's last segment is replaced with the action name.
func adminURL(statusURL, action string) string {
	u, err := url.Parse(statusURL)
	if err != nil {
		return strings.TrimRight(statusURL, "/") + "/" + action
	}
	dir := path.Dir(strings.TrimRight(u.Path, "/"))
	if dir == "." || dir == "/" {
		dir = ""
	}
	u.Path = dir + "/" + action
	return u.String()
}
