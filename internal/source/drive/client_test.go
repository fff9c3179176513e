package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cakehq/cake/internal/crawl"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:     srv.URL,
		AccessToken: "ya29.token",
		PageSize:    2,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestFetchNode_File(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/files/abc123", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer ya29.token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{
			"id": "abc123",
			"name": "Quarterly report",
			"mimeType": "application/vnd.google-apps.document",
			"webViewLink": "https://docs.google.com/document/d/abc123/edit",
			"modifiedTime": "2026-02-10T08:00:00.000Z",
			"owners": [{"displayName": "Sam Doe", "emailAddress": "sam@example.com"}]
		}`)
	})

	c := newTestClient(t, mux)
	record, err := c.FetchNode(context.Background(), "abc123")
	require.NoError(t, err)

	require.Equal(t, crawl.NodeRef{Source: crawl.SourceDrive, ID: "abc123"}, record.Ref)
	require.Equal(t, "Quarterly report", record.Title)
	require.Equal(t, "https://docs.google.com/document/d/abc123/edit", record.URL)
	require.Equal(t, "application/vnd.google-apps.document", record.Metadata["mime_type"])
	require.Equal(t, "sam@example.com", record.Metadata["owner"])
}

func TestListChildren_FollowsPageTokens(t *testing.T) {
	t.Parallel()
	pages := map[string]listResponse{
		"":     {Files: []file{{ID: "f1"}, {ID: "f2"}}, NextPageToken: "tok1"},
		"tok1": {Files: []file{{ID: "f3"}}},
	}
	var queries []string
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "'folder1' in parents and trashed = false", r.URL.Query().Get("q"))
		token := r.URL.Query().Get("pageToken")
		queries = append(queries, token)
		require.NoError(t, json.NewEncoder(w).Encode(pages[token]))
	})

	c := newTestClient(t, mux)
	refs, err := c.ListChildren(context.Background(), "folder1")
	require.NoError(t, err)
	require.Equal(t, []crawl.NodeRef{
		{Source: crawl.SourceDrive, ID: "f1"},
		{Source: crawl.SourceDrive, ID: "f2"},
		{Source: crawl.SourceDrive, ID: "f3"},
	}, refs)
	require.Equal(t, []string{"", "tok1"}, queries)
}

func TestListChildren_EmptyFolder(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"files":[]}`)
	})

	c := newTestClient(t, mux)
	refs, err := c.ListChildren(context.Background(), "folder1")
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestIsDriveURL(t *testing.T) {
	t.Parallel()
	require.True(t, IsDriveURL("https://drive.google.com/drive/folders/xyz"))
	require.True(t, IsDriveURL("https://docs.google.com/document/d/abc/edit"))
	require.False(t, IsDriveURL("https://example.com/drive"))
}

func TestExtractID(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"https://docs.google.com/document/d/aB3-_x/edit":      "aB3-_x",
		"https://docs.google.com/spreadsheets/d/sheet42/view": "sheet42",
		"https://drive.google.com/drive/folders/folder7":      "folder7",
		"https://drive.google.com/open?id=legacy9":            "legacy9",
		"https://drive.google.com/drive/my-drive":             "",
	}
	for rawURL, want := range cases {
		require.Equal(t, want, ExtractID(rawURL), rawURL)
	}
}
