package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cakehq/cake/internal/crawl"
)

func sampleResult() crawl.AggregatedResult {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := crawl.NodeRef{Source: crawl.SourceJira, ID: "DW-1"}
	b := crawl.NodeRef{Source: crawl.SourceConfluence, ID: "100"}
	return crawl.AggregatedResult{
		JobID:    "job-123",
		Status:   crawl.JobCompleted,
		Started:  now.Add(-time.Minute),
		Finished: now,
		Nodes: map[string]crawl.SourceRecord{
			a.String(): {Ref: a, Title: "Issue", Content: "body", FetchedAt: now},
			b.String(): {Ref: b, Title: "Page", Labels: []string{"design"}, FetchedAt: now},
		},
		Edges:    []crawl.Edge{{Parent: a, Child: b}},
		Counters: crawl.JobCounters{Succeeded: 2},
	}
}

func TestFileSystemSink_WritesAggregateAndLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewFileSystemSink(dir, zap.NewNop())
	require.NoError(t, err)

	result := sampleResult()
	require.NoError(t, s.Write(context.Background(), result))

	raw, err := os.ReadFile(filepath.Join(dir, "job-123.json"))
	require.NoError(t, err)
	var roundTrip crawl.AggregatedResult
	require.NoError(t, json.Unmarshal(raw, &roundTrip))
	require.Equal(t, result.JobID, roundTrip.JobID)
	require.Equal(t, result.Status, roundTrip.Status)
	require.Len(t, roundTrip.Nodes, 2)
	require.Equal(t, result.Edges, roundTrip.Edges)

	lines, err := os.ReadFile(filepath.Join(dir, "job-123.jsonl"))
	require.NoError(t, err)
	records := strings.Split(strings.TrimSpace(string(lines)), "\n")
	require.Len(t, records, 2)

	// Records come out in id order regardless of map iteration.
	var first, second jsonlRecord
	require.NoError(t, json.Unmarshal([]byte(records[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(records[1]), &second))
	require.Equal(t, "confluence:100", first.ID)
	require.Equal(t, "jira:DW-1", second.ID)
	require.Equal(t, []string{"design"}, first.Labels)
	require.Equal(t, "body", second.Text)
}

func TestFileSystemSink_RejectsCancelledContext(t *testing.T) {
	t.Parallel()
	s, err := NewFileSystemSink(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.Write(ctx, sampleResult()))
}

func TestFileSystemSink_CreatesRoot(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "nested", "export")
	_, err := NewFileSystemSink(root, zap.NewNop())
	require.NoError(t, err)
	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
