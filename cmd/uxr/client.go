package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/config"
	"github.com/UXPLIMA/uxrcoder-hub/internal/lockfile"
)

// hubClient is the thin HTTP client the CLI subcommands share. The hub
// address comes from --addr, else from the workspace's .uxr/config.yaml
// (with HOST/PORT env overrides, same as the editor plugin resolves it).
type hubClient struct {
	base   string
	uxrDir string
	http   *http.Client
}

func newHubClient() *hubClient {
	uxrDir := filepath.Join(resolveWorkspace(), ".uxr")
	addr := addrFlag
	if addr == "" {
		addr = config.HubDialAddr(uxrDir)
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &hubClient{
		base:   strings.TrimRight(addr, "/"),
		uxrDir: uxrDir,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is the hub's error body.
type apiError struct {
	Error string `json:"error"`
}

func (c *hubClient) url(path string, query url.Values) string {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// getJSON fetches path and decodes the response into out. A nil out
// discards the body.
func (c *hubClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path, query), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// getRaw fetches path and returns the raw body bytes.
func (c *hubClient) getRaw(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path, query), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.dialHint(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// postJSON sends in as a JSON body and decodes the response into out.
func (c *hubClient) postJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path, nil), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *hubClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return c.dialHint(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unexpected response from hub: %w", err)
	}
	return nil
}

// dialHint rewrites connection failures into something actionable: whether
// a hub holds the workspace lock decides between "not running" and
// "running but unreachable at this address".
func (c *hubClient) dialHint(err error) error {
	if pid, held := lockfile.HolderPID(c.uxrDir); held {
		return fmt.Errorf("hub appears to be running (pid %d) but %s is unreachable: %v\ncheck server.host/server.port in %s",
			pid, c.base, err, filepath.Join(c.uxrDir, "config.yaml"))
	}
	return fmt.Errorf("no hub running at %s (start one with 'uxr serve'): %v", c.base, err)
}

func decodeAPIError(status int, body []byte) error {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error != "" {
		return fmt.Errorf("hub returned %d: %s", status, ae.Error)
	}
	return fmt.Errorf("hub returned %d", status)
}
