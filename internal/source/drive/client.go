// Package drive adapts the Google Drive REST API (v3) as a crawl source. A
// folder's children are the files and folders it contains.
package drive

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

const folderMimeType = "application/vnd.google-apps.folder"

// Client fetches Drive file metadata and lists folder contents.
type Client struct {
	api      *source.Client
	pageSize int
	logger   *zap.Logger
}

// Config configures a Client. AccessToken is supplied externally; acquiring
// it is outside this module.
type Config struct {
	BaseURL     string
	AccessToken string
	PageSize    int
	Timeout     time.Duration
}

// New builds a Drive client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = "https://www.googleapis.com/drive/v3"
	}
	api, err := source.NewClient(source.Options{
		BaseURL: base,
		Bearer:  cfg.AccessToken,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{api: api, pageSize: pageSize, logger: logger}, nil
}

type file struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	WebViewLink  string `json:"webViewLink"`
	ModifiedTime string `json:"modifiedTime"`
	Owners       []struct {
		DisplayName  string `json:"displayName"`
		EmailAddress string `json:"emailAddress"`
	} `json:"owners"`
}

type listResponse struct {
	Files         []file `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

// FetchNode retrieves one file's metadata.
func (c *Client) FetchNode(ctx context.Context, id string) (crawl.SourceRecord, error) {
	var f file
	query := url.Values{"fields": {"id,name,mimeType,webViewLink,modifiedTime,owners"}}
	if err := c.api.GetJSON(ctx, "/files/"+url.PathEscape(id), query, &f); err != nil {
		return crawl.SourceRecord{}, err
	}
	if f.ID == "" {
		return crawl.SourceRecord{}, crawl.NewFetchError(crawl.KindMalformed, "file response missing id")
	}

	meta := map[string]string{
		"mime_type": f.MimeType,
		"modified":  f.ModifiedTime,
	}
	if len(f.Owners) > 0 {
		meta["owner"] = f.Owners[0].EmailAddress
	}
	return crawl.SourceRecord{
		Ref:       crawl.NodeRef{Source: crawl.SourceDrive, ID: f.ID},
		Title:     f.Name,
		URL:       f.WebViewLink,
		Metadata:  meta,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// ListChildren lists a folder's contents, following page tokens until the
// listing is exhausted. Non-folder files simply have no children.
func (c *Client) ListChildren(ctx context.Context, id string) ([]crawl.NodeRef, error) {
	files, err := source.CollectPages(ctx, c.pageSize, func(ctx context.Context, req source.PageRequest) (source.Page[file], error) {
		metrics.ObservePageCall(string(crawl.SourceDrive))
		query := url.Values{
			"q":        {fmt.Sprintf("'%s' in parents and trashed = false", id)},
			"pageSize": {fmt.Sprint(req.Limit)},
			"fields":   {"nextPageToken,files(id,name,mimeType)"},
		}
		if req.Token != "" {
			query.Set("pageToken", req.Token)
		}
		var resp listResponse
		if err := c.api.GetJSON(ctx, "/files", query, &resp); err != nil {
			return source.Page[file]{}, err
		}
		return source.Page[file]{Items: resp.Files, NextToken: resp.NextPageToken}, nil
	}, c.logger)
	if err != nil {
		return nil, err
	}

	refs := make([]crawl.NodeRef, 0, len(files))
	for _, f := range files {
		if f.ID == "" {
			continue
		}
		refs = append(refs, crawl.NodeRef{Source: crawl.SourceDrive, ID: f.ID})
	}
	return refs, nil
}

var drivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`/(?:file|document|spreadsheets|presentation)/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),
}

// IsDriveURL reports whether rawURL points at a Drive or Docs resource.
func IsDriveURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "drive.google.com") || strings.Contains(lower, "docs.google.com")
}

// ExtractID pulls the file or folder id out of a Drive URL, or returns ""
// when no id is present.
func ExtractID(rawURL string) string {
	for _, pattern := range drivePatterns {
		if m := pattern.FindStringSubmatch(rawURL); m != nil {
			return m[1]
		}
	}
	return ""
}
