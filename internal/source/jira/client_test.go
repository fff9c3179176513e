package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cakehq/cake/internal/crawl"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:  srv.URL,
		Username: "bot@example.com",
		APIToken: "token",
		PageSize: 2,
	}, zap.NewNop())
	require.NoError(t, err)
	return c, srv
}

func TestFetchNode_Issue(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/issue/DW-1", func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "bot@example.com", user)
		require.Equal(t, "remotelink", r.URL.Query().Get("expand"))

		fmt.Fprint(w, `{
			"key": "DW-1",
			"fields": {
				"summary": "Data warehouse rollout",
				"description": {"type":"doc","content":[
					{"type":"paragraph","content":[{"type":"text","text":"First line."}]},
					{"type":"paragraph","content":[{"type":"text","text":"Second line."}]}
				]},
				"labels": ["infra"],
				"created": "2026-01-02T10:00:00.000+0000",
				"updated": "2026-01-03T10:00:00.000+0000",
				"status": {"name": "In Progress"},
				"priority": {"name": "High"},
				"issuetype": {"name": "Story"},
				"project": {"key": "DW"},
				"assignee": {"displayName": "Sam Doe"},
				"subtasks": [{"key": "DW-2"}],
				"issuelinks": [
					{"outwardIssue": {"key": "DW-3"}},
					{"inwardIssue": {"key": "DW-4"}}
				],
				"remotelink": [
					{"object": {"title": "Design page", "url": "https://acme.atlassian.net/wiki/spaces/ENG/pages/123456/Design"}},
					{"object": {"title": "Budget sheet", "url": "https://docs.google.com/spreadsheets/d/1AbCdEfGh/edit"}},
					{"object": {"title": "Unrelated", "url": "https://example.com/whatever"}}
				]
			}
		}`)
	})

	c, _ := newTestClient(t, mux)
	record, err := c.FetchNode(context.Background(), "DW-1")
	require.NoError(t, err)

	require.Equal(t, crawl.NodeRef{Source: crawl.SourceJira, ID: "DW-1"}, record.Ref)
	require.Equal(t, "Data warehouse rollout", record.Title)
	require.Contains(t, record.URL, "/browse/DW-1")
	require.Contains(t, record.Content, "Data warehouse rollout")
	require.Contains(t, record.Content, "First line.")
	require.Contains(t, record.Content, "Second line.")
	require.Equal(t, []string{"infra"}, record.Labels)
	require.Equal(t, "In Progress", record.Metadata["status"])
	require.Equal(t, "High", record.Metadata["priority"])
	require.Equal(t, "Story", record.Metadata["issue_type"])
	require.Equal(t, "DW", record.Metadata["project"])
	require.Equal(t, "Sam Doe", record.Metadata["assignee"])

	require.Equal(t, []crawl.NodeRef{
		{Source: crawl.SourceJira, ID: "DW-2"},
		{Source: crawl.SourceJira, ID: "DW-3"},
		{Source: crawl.SourceJira, ID: "DW-4"},
		{Source: crawl.SourceConfluence, ID: "123456"},
		{Source: crawl.SourceDrive, ID: "1AbCdEfGh"},
	}, record.Children, "unresolvable remote links are dropped")
}

func TestFetchNode_NotFound(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessages":["Issue does not exist"]}`, http.StatusNotFound)
	})

	c, _ := newTestClient(t, mux)
	_, err := c.FetchNode(context.Background(), "DW-404")
	require.Error(t, err)
	var fe *crawl.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, crawl.KindNotFound, fe.Kind)
	require.False(t, fe.Retryable())
}

func TestListChildren_NonEpicSkipsSearch(t *testing.T) {
	t.Parallel()
	searches := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/issue/DW-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"key":"DW-1","fields":{"summary":"s","issuetype":{"name":"Task"}}}`)
	})
	mux.HandleFunc("/rest/api/3/search", func(w http.ResponseWriter, r *http.Request) {
		searches++
		fmt.Fprint(w, `{"issues":[],"total":0}`)
	})

	c, _ := newTestClient(t, mux)
	_, err := c.FetchNode(context.Background(), "DW-1")
	require.NoError(t, err)

	refs, err := c.ListChildren(context.Background(), "DW-1")
	require.NoError(t, err)
	require.Empty(t, refs)
	require.Zero(t, searches, "non-epics must not trigger a JQL search")
}

func TestListChildren_EpicPaginates(t *testing.T) {
	t.Parallel()
	all := []string{"DW-10", "DW-11", "DW-12"}
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/issue/EPIC-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"key":"EPIC-1","fields":{"summary":"epic","issuetype":{"name":"Epic"}}}`)
	})
	mux.HandleFunc("/rest/api/3/search", func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Query().Get("jql"), "EPIC-1")
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		maxResults, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))

		var issues []map[string]string
		for i := startAt; i < len(all) && i < startAt+maxResults; i++ {
			issues = append(issues, map[string]string{"key": all[i]})
		}
		resp := map[string]any{"startAt": startAt, "maxResults": maxResults, "total": len(all), "issues": issues}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	c, _ := newTestClient(t, mux)
	_, err := c.FetchNode(context.Background(), "EPIC-1")
	require.NoError(t, err)

	refs, err := c.ListChildren(context.Background(), "EPIC-1")
	require.NoError(t, err)
	require.Equal(t, []crawl.NodeRef{
		{Source: crawl.SourceJira, ID: "DW-10"},
		{Source: crawl.SourceJira, ID: "DW-11"},
		{Source: crawl.SourceJira, ID: "DW-12"},
	}, refs)
}

func TestSearchKeys(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/search", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "project = DW", r.URL.Query().Get("jql"))
		fmt.Fprint(w, `{"total":2,"issues":[{"key":"DW-1"},{"key":"DW-2"}]}`)
	})

	c, _ := newTestClient(t, mux)
	keys, err := c.SearchKeys(context.Background(), "project = DW")
	require.NoError(t, err)
	require.Equal(t, []string{"DW-1", "DW-2"}, keys)
}

func TestRenderDescription_FallsBackOnUnknownShape(t *testing.T) {
	t.Parallel()
	raw := json.RawMessage(`"plain string description"`)
	require.Equal(t, `"plain string description"`, renderDescription(raw))

	broken := json.RawMessage(`{{`)
	require.Equal(t, `{{`, renderDescription(broken))
}
