// Package sink provides OutputSink implementations for finalized exports.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/cakehq/cake/internal/crawl"
)

// FileSystemSink writes the aggregate as one JSON document plus a JSONL
// file with one record per node, ready for RAG ingestion.
type FileSystemSink struct {
	root   string
	logger *zap.Logger
}

// NewFileSystemSink returns a sink rooted at dir.
func NewFileSystemSink(root string, logger *zap.Logger) (*FileSystemSink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir %s: %w", root, err)
	}
	return &FileSystemSink{root: root, logger: logger}, nil
}

// jsonlRecord is the per-node line format.
type jsonlRecord struct {
	ID       string            `json:"id"`
	Source   string            `json:"source"`
	Title    string            `json:"title,omitempty"`
	URL      string            `json:"url,omitempty"`
	Text     string            `json:"text,omitempty"`
	Labels   []string          `json:"labels,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Write persists result under <root>/<job-id>.json and <root>/<job-id>.jsonl.
// Records are emitted in id order so identical results produce identical
// files.
func (s *FileSystemSink) Write(ctx context.Context, result crawl.AggregatedResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}

	aggregatePath := filepath.Join(s.root, result.JobID+".json")
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(aggregatePath, payload, 0o600); err != nil {
		return fmt.Errorf("write aggregate %s: %w", aggregatePath, err)
	}

	keys := make([]string, 0, len(result.Nodes))
	for k := range result.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	linesPath := filepath.Join(s.root, result.JobID+".jsonl")
	f, err := os.OpenFile(linesPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open jsonl %s: %w", linesPath, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, k := range keys {
		rec := result.Nodes[k]
		line := jsonlRecord{
			ID:       rec.Ref.String(),
			Source:   string(rec.Ref.Source),
			Title:    rec.Title,
			URL:      rec.URL,
			Text:     rec.Content,
			Labels:   rec.Labels,
			Metadata: rec.Metadata,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encode jsonl record %s: %w", k, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync jsonl %s: %w", linesPath, err)
	}

	s.logger.Info("export written",
		zap.String("job_id", result.JobID),
		zap.String("aggregate", aggregatePath),
		zap.String("jsonl", linesPath),
		zap.Int("records", len(keys)),
	)
	return nil
}
