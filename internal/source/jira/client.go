// Package jira adapts the Jira REST API (v3) as a crawl source. An issue's
// children are its subtasks, linked issues, epic children, and the targets
// of its remote links (Confluence pages and Drive files).
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cakehq/cake/internal/crawl"
	"github.com/cakehq/cake/internal/metrics"
	"github.com/cakehq/cake/internal/source"
	"github.com/cakehq/cake/internal/source/confluence"
	"github.com/cakehq/cake/internal/source/drive"
)

// Client fetches Jira issues and discovers their related issues and links.
type Client struct {
	api      *source.Client
	baseURL  string
	pageSize int
	logger   *zap.Logger

	// issueTypes caches key -> type name from FetchNode so ListChildren
	// can tell epics apart without refetching.
	issueTypes sync.Map
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	Username string
	APIToken string
	PageSize int
	Timeout  time.Duration
}

// New builds a Jira client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	api, err := source.NewClient(source.Options{
		BaseURL:  cfg.BaseURL,
		Username: cfg.Username,
		Token:    cfg.APIToken,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("jira client: %w", err)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		api:      api,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: pageSize,
		logger:   logger,
	}, nil
}

type issueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"`
	Labels      []string        `json:"labels"`
	Created     string          `json:"created"`
	Updated     string          `json:"updated"`
	Status      *named          `json:"status"`
	Priority    *named          `json:"priority"`
	IssueType   *named          `json:"issuetype"`
	Project     *keyed          `json:"project"`
	Assignee    *struct {
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	Subtasks   []issueStub `json:"subtasks"`
	IssueLinks []struct {
		InwardIssue  *issueStub `json:"inwardIssue"`
		OutwardIssue *issueStub `json:"outwardIssue"`
	} `json:"issuelinks"`
	RemoteLinks []remoteLink `json:"remotelink"`
}

type named struct {
	Name string `json:"name"`
}

type keyed struct {
	Key string `json:"key"`
}

type issueStub struct {
	Key string `json:"key"`
}

type remoteLink struct {
	Object struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"object"`
}

type issue struct {
	Key    string      `json:"key"`
	Fields issueFields `json:"fields"`
}

type searchResponse struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      *int    `json:"total"`
	Issues     []issue `json:"issues"`
}

// FetchNode retrieves one issue with remote links expanded. Subtasks,
// linked issues and remote-link targets land on the record's children;
// epic children need a search and are discovered by ListChildren.
func (c *Client) FetchNode(ctx context.Context, key string) (crawl.SourceRecord, error) {
	var iss issue
	query := url.Values{"expand": {"remotelink"}}
	if err := c.api.GetJSON(ctx, "/rest/api/3/issue/"+url.PathEscape(key), query, &iss); err != nil {
		return crawl.SourceRecord{}, err
	}
	if iss.Key == "" {
		return crawl.SourceRecord{}, crawl.NewFetchError(crawl.KindMalformed, "issue response missing key")
	}
	if iss.Fields.IssueType != nil {
		c.issueTypes.Store(iss.Key, iss.Fields.IssueType.Name)
	}
	return c.toRecord(iss), nil
}

// ListChildren returns the epic's child issues when the fetched issue was
// an epic; other relations were already discovered on the record itself.
func (c *Client) ListChildren(ctx context.Context, key string) ([]crawl.NodeRef, error) {
	typeName, ok := c.issueTypes.Load(key)
	if !ok || !strings.EqualFold(typeName.(string), "Epic") {
		return nil, nil
	}
	jql := fmt.Sprintf(`parent = %q OR "Epic Link" = %q`, key, key)
	issues, err := c.search(ctx, jql)
	if err != nil {
		return nil, err
	}
	refs := make([]crawl.NodeRef, 0, len(issues))
	for _, child := range issues {
		if child.Key == "" || child.Key == key {
			continue
		}
		refs = append(refs, crawl.NodeRef{Source: crawl.SourceJira, ID: child.Key})
	}
	return refs, nil
}

// SearchKeys resolves a JQL query into root issue keys, paginating to the
// declared total.
func (c *Client) SearchKeys(ctx context.Context, jql string) ([]string, error) {
	issues, err := c.search(ctx, jql)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(issues))
	for _, iss := range issues {
		if iss.Key != "" {
			keys = append(keys, iss.Key)
		}
	}
	return keys, nil
}

// ProjectKeys resolves every issue key in a project.
func (c *Client) ProjectKeys(ctx context.Context, project string) ([]string, error) {
	return c.SearchKeys(ctx, fmt.Sprintf("project = %q ORDER BY created DESC", project))
}

func (c *Client) search(ctx context.Context, jql string) ([]issue, error) {
	return source.CollectPages(ctx, c.pageSize, func(ctx context.Context, req source.PageRequest) (source.Page[issue], error) {
		metrics.ObservePageCall(string(crawl.SourceJira))
		query := url.Values{
			"jql":        {jql},
			"startAt":    {fmt.Sprint(req.Offset)},
			"maxResults": {fmt.Sprint(req.Limit)},
			"fields":     {"summary,issuetype,created"},
		}
		var resp searchResponse
		if err := c.api.GetJSON(ctx, "/rest/api/3/search", query, &resp); err != nil {
			return source.Page[issue]{}, err
		}
		page := source.Page[issue]{Items: resp.Issues}
		if resp.Total != nil {
			page.Total = *resp.Total
			page.TotalSet = true
		}
		return page, nil
	}, c.logger)
}

func (c *Client) toRecord(iss issue) crawl.SourceRecord {
	f := iss.Fields
	meta := map[string]string{
		"created": f.Created,
		"updated": f.Updated,
	}
	if f.Status != nil {
		meta["status"] = f.Status.Name
	}
	if f.Priority != nil {
		meta["priority"] = f.Priority.Name
	}
	if f.IssueType != nil {
		meta["issue_type"] = f.IssueType.Name
	}
	if f.Project != nil {
		meta["project"] = f.Project.Key
	}
	if f.Assignee != nil {
		meta["assignee"] = f.Assignee.DisplayName
	}

	var children []crawl.NodeRef
	for _, sub := range f.Subtasks {
		if sub.Key != "" {
			children = append(children, crawl.NodeRef{Source: crawl.SourceJira, ID: sub.Key})
		}
	}
	for _, link := range f.IssueLinks {
		if link.InwardIssue != nil && link.InwardIssue.Key != "" {
			children = append(children, crawl.NodeRef{Source: crawl.SourceJira, ID: link.InwardIssue.Key})
		}
		if link.OutwardIssue != nil && link.OutwardIssue.Key != "" {
			children = append(children, crawl.NodeRef{Source: crawl.SourceJira, ID: link.OutwardIssue.Key})
		}
	}
	for _, remote := range f.RemoteLinks {
		if ref, ok := resolveRemoteLink(remote.Object.URL); ok {
			children = append(children, ref)
		}
	}

	content := f.Summary
	if len(f.Description) > 0 && string(f.Description) != "null" {
		content += "\n" + renderDescription(f.Description)
	}

	return crawl.SourceRecord{
		Ref:       crawl.NodeRef{Source: crawl.SourceJira, ID: iss.Key},
		Title:     f.Summary,
		URL:       c.baseURL + "/browse/" + iss.Key,
		Content:   content,
		Labels:    f.Labels,
		Metadata:  meta,
		Children:  children,
		FetchedAt: time.Now().UTC(),
	}
}

// resolveRemoteLink maps a remote-link URL to a node in another source.
// Links to systems this exporter does not crawl are dropped.
func resolveRemoteLink(rawURL string) (crawl.NodeRef, bool) {
	if rawURL == "" {
		return crawl.NodeRef{}, false
	}
	if confluence.IsPageURL(rawURL) {
		if id := confluence.ExtractPageID(rawURL); id != "" {
			return crawl.NodeRef{Source: crawl.SourceConfluence, ID: id}, true
		}
		return crawl.NodeRef{}, false
	}
	if drive.IsDriveURL(rawURL) {
		if id := drive.ExtractID(rawURL); id != "" {
			return crawl.NodeRef{Source: crawl.SourceDrive, ID: id}, true
		}
	}
	return crawl.NodeRef{}, false
}

// renderDescription flattens an Atlassian document (ADF) into plain text.
// Unknown shapes fall back to the raw JSON so nothing is silently lost.
func renderDescription(raw json.RawMessage) string {
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return string(raw)
	}
	var b strings.Builder
	doc.render(&b)
	text := strings.TrimSpace(b.String())
	if text == "" {
		return string(raw)
	}
	return text
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

func (n adfNode) render(b *strings.Builder) {
	if n.Text != "" {
		b.WriteString(n.Text)
	}
	for _, child := range n.Content {
		child.render(b)
	}
	switch n.Type {
	case "paragraph", "heading", "listItem", "codeBlock":
		b.WriteString("\n")
	}
}
