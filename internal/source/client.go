// Package source provides shared HTTP plumbing and the pagination driver
// used by every source client.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cakehq/cake/internal/crawl"
)

// maxErrorBodyBytes caps how much of an error response is kept for messages.
const maxErrorBodyBytes = 2048

// Client is the authenticated JSON HTTP client shared by source adapters.
type Client struct {
	http      *http.Client
	baseURL   string
	username  string
	token     string
	bearer    string
	userAgent string
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// Username and Token enable basic auth (Atlassian APIs).
	Username string
	Token    string
	// Bearer enables bearer-token auth (Google APIs).
	Bearer    string
	Timeout   time.Duration
	UserAgent string
}

// NewClient builds a Client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "cake-exporter/1.0"
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		baseURL:   base,
		username:  opts.Username,
		token:     opts.Token,
		bearer:    opts.Bearer,
		userAgent: ua,
	}, nil
}

// GetJSON issues a GET against path with query params and decodes the JSON
// response into out. Non-2xx statuses and undecodable bodies come back as a
// classified *crawl.FetchError.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return crawl.NewFetchError(crawl.KindMalformed, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	switch {
	case c.bearer != "":
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	case c.username != "" || c.token != "":
		req.SetBasicAuth(c.username, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return crawl.ClassifyErr(err)
	}
	defer resp.Body.Close()

	if fe := crawl.ClassifyStatus(resp.StatusCode, snippet(resp.Body)); fe != nil {
		return fe
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &crawl.FetchError{Kind: crawl.KindMalformed, Msg: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func snippet(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil || len(body) == 0 {
		return ""
	}
	return strings.TrimSpace(string(body))
}
