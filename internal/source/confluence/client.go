// Package confluence adapts the Confluence REST API as a crawl source. A
// page's children are its child pages.
package confluence

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cakehq/cake/internal/crawl"
	"github.com/cakehq/cake/internal/metrics"
	"github.com/cakehq/cake/internal/source"
)

// Client fetches Confluence pages and lists their children.
type Client struct {
	api      *source.Client
	baseURL  string
	pageSize int
	logger   *zap.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	Username string
	APIToken string
	PageSize int
	Timeout  time.Duration
}

// New builds a Confluence client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	api, err := source.NewClient(source.Options{
		BaseURL:  cfg.BaseURL,
		Username: cfg.Username,
		Token:    cfg.APIToken,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("confluence client: %w", err)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Client{
		api:      api,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: pageSize,
		logger:   logger,
	}, nil
}

type page struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Space struct {
		Key string `json:"key"`
	} `json:"space"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
	Metadata struct {
		Labels struct {
			Results []struct {
				Name string `json:"name"`
			} `json:"results"`
		} `json:"labels"`
	} `json:"metadata"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

type listResponse struct {
	Results []page `json:"results"`
	Start   int    `json:"start"`
	Limit   int    `json:"limit"`
	Size    *int   `json:"size"`
	Links   struct {
		Next string `json:"next"`
	} `json:"_links"`
}

// FetchNode retrieves one page with its storage body, space, version and
// labels expanded.
func (c *Client) FetchNode(ctx context.Context, id string) (crawl.SourceRecord, error) {
	var p page
	query := url.Values{"expand": {"body.storage,space,version,metadata.labels"}}
	if err := c.api.GetJSON(ctx, "/rest/api/content/"+url.PathEscape(id), query, &p); err != nil {
		return crawl.SourceRecord{}, err
	}
	if p.ID == "" {
		return crawl.SourceRecord{}, crawl.NewFetchError(crawl.KindMalformed, "page response missing id")
	}

	labels := make([]string, 0, len(p.Metadata.Labels.Results))
	for _, l := range p.Metadata.Labels.Results {
		if l.Name != "" {
			labels = append(labels, l.Name)
		}
	}
	meta := map[string]string{
		"space":   p.Space.Key,
		"version": fmt.Sprint(p.Version.Number),
	}
	pageURL := p.Links.WebUI
	if pageURL != "" && !strings.HasPrefix(pageURL, "http") {
		pageURL = c.baseURL + pageURL
	}

	return crawl.SourceRecord{
		Ref:       crawl.NodeRef{Source: crawl.SourceConfluence, ID: p.ID},
		Title:     p.Title,
		URL:       pageURL,
		Content:   p.Body.Storage.Value,
		Labels:    labels,
		Metadata:  meta,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// ListChildren lists the page's child pages, paginating with start/limit
// until the listing is exhausted.
func (c *Client) ListChildren(ctx context.Context, id string) ([]crawl.NodeRef, error) {
	pages, err := c.collect(ctx, "/rest/api/content/"+url.PathEscape(id)+"/child/page", nil)
	if err != nil {
		return nil, err
	}
	refs := make([]crawl.NodeRef, 0, len(pages))
	for _, child := range pages {
		if child.ID == "" {
			continue
		}
		refs = append(refs, crawl.NodeRef{Source: crawl.SourceConfluence, ID: child.ID})
	}
	return refs, nil
}

// SpaceRootIDs lists the ids of a space's top-level pages.
func (c *Client) SpaceRootIDs(ctx context.Context, spaceKey string) ([]string, error) {
	query := url.Values{
		"spaceKey": {spaceKey},
		"type":     {"page"},
		"depth":    {"root"},
	}
	pages, err := c.collect(ctx, "/rest/api/content", query)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.ID != "" {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (c *Client) collect(ctx context.Context, path string, base url.Values) ([]page, error) {
	return source.CollectPages(ctx, c.pageSize, func(ctx context.Context, req source.PageRequest) (source.Page[page], error) {
		metrics.ObservePageCall(string(crawl.SourceConfluence))
		query := url.Values{}
		for k, v := range base {
			query[k] = v
		}
		query.Set("start", fmt.Sprint(req.Offset))
		query.Set("limit", fmt.Sprint(req.Limit))

		var resp listResponse
		if err := c.api.GetJSON(ctx, path, query, &resp); err != nil {
			return source.Page[page]{}, err
		}
		p := source.Page[page]{Items: resp.Results}
		// Confluence signals continuation with a _links.next href; size is
		// the page's own count, not a grand total.
		if resp.Size != nil {
			p.HasMore = resp.Links.Next != ""
			p.HasMoreSet = true
		}
		return p, nil
	}, c.logger)
}

var (
	pageIDPathPattern  = regexp.MustCompile(`/pages/(\d+)(?:/|$)`)
	pageIDQueryPattern = regexp.MustCompile(`[?&]pageId=(\d+)`)
)

// IsPageURL reports whether rawURL points at a Confluence page.
func IsPageURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "/wiki/") || strings.Contains(lower, "pageid=") ||
		strings.Contains(lower, "/display/")
}

// ExtractPageID pulls the numeric page id out of a Confluence URL, or
// returns "" when no id is present.
func ExtractPageID(rawURL string) string {
	if m := pageIDPathPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := pageIDQueryPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}
