package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/cakehq/cake/internal/crawl"
)

// GCSSink uploads the finalized export to a Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewGCSSink builds a sink writing to bucket under prefix.
func NewGCSSink(client *storage.Client, bucket, prefix string, logger *zap.Logger) (*GCSSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

// Write uploads the result as a single JSON object named by job id.
func (s *GCSSink) Write(ctx context.Context, result crawl.AggregatedResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	object := path.Join(s.prefix, result.JobID+".json")
	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(payload); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	s.logger.Info("export uploaded",
		zap.String("job_id", result.JobID),
		zap.String("uri", fmt.Sprintf("gs://%s/%s", s.bucket, object)),
	)
	return nil
}
