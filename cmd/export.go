package cmd

import (
	"context"
	"errors"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cakehq/cake/internal/config"
	"github.com/cakehq/cake/internal/crawl"
	"github.com/cakehq/cake/internal/publisher/pubsub"
	"github.com/cakehq/cake/internal/queue/memory"
	"github.com/cakehq/cake/internal/sink"
	"github.com/cakehq/cake/internal/source"
	"github.com/cakehq/cake/internal/source/confluence"
	"github.com/cakehq/cake/internal/source/drive"
	"github.com/cakehq/cake/internal/source/jira"
	"github.com/cakehq/cake/internal/transform"
)

type exportFlags struct {
	mode              string
	query             string
	workers           int
	maxDepth          int
	skipRemoteContent bool
	output            string
}

// newExportCmd creates and configures the 'export' subcommand.
func newExportCmd() *cobra.Command {
	flags := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Runs one export job",
		Long: `Resolves the root reference set from --mode and --query, crawls every
reachable node once, and writes the aggregated result to the configured
sinks. One invocation is one job.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.mode, "mode", "issue", "root mode: issue|jql|project|page|space|folder")
	cmd.Flags().StringVar(&flags.query, "query", "", "issue key, JQL, project key, page id, space key, or folder id")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "max concurrent workers (overrides config)")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", -1, "max crawl depth, 0 = unbounded (overrides config)")
	cmd.Flags().BoolVar(&flags.skipRemoteContent, "skip-remote-content", false, "do not follow links into other sources")
	cmd.Flags().StringVar(&flags.output, "output", "", "output directory (overrides config)")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func runExport(ctx context.Context, flags *exportFlags) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	applyOverrides(&cfg, flags)

	clients, jiraClient, confluenceClient, driveClient, err := buildClients(cfg, logger)
	if err != nil {
		return err
	}

	roots, err := resolveRoots(ctx, flags, jiraClient, confluenceClient, driveClient)
	if err != nil {
		return fmt.Errorf("resolve roots: %w", err)
	}
	if len(roots) == 0 {
		return errors.New("no root references resolved for query")
	}
	logger.Info("starting export",
		zap.String("mode", flags.mode),
		zap.Int("roots", len(roots)),
		zap.Int("workers", cfg.Crawl.Workers),
	)

	governor := crawl.NewGovernor(cfg.GovernorConfig(), cfg.RetryPolicy(), logger)
	scheduler := crawl.NewScheduler(
		clients,
		governor,
		memory.NewQueue(),
		transform.Clean,
		crawl.SchedulerConfig{
			Workers:           cfg.Crawl.Workers,
			MaxDepth:          cfg.Crawl.MaxDepth,
			SkipRemoteContent: cfg.Crawl.SkipRemoteContent,
		},
		logger,
	)

	result, err := scheduler.Run(ctx, roots)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}

	if err := writeSinks(ctx, cfg, logger, result); err != nil {
		return err
	}
	if err := publishCompletion(ctx, cfg, logger, result); err != nil {
		return err
	}

	if result.Status == crawl.JobCancelled {
		logger.Warn("export cancelled; result is partial", zap.String("job_id", result.JobID))
	}
	return nil
}

func applyOverrides(cfg *config.Config, flags *exportFlags) {
	if flags.workers > 0 {
		cfg.Crawl.Workers = flags.workers
	}
	if flags.maxDepth >= 0 {
		cfg.Crawl.MaxDepth = flags.maxDepth
	}
	if flags.skipRemoteContent {
		cfg.Crawl.SkipRemoteContent = true
	}
	if flags.output != "" {
		cfg.Output.Dir = flags.output
	}
}

func buildClients(cfg config.Config, logger *zap.Logger) (
	map[crawl.SourceType]crawl.SourceClient,
	*jira.Client,
	*confluence.Client,
	*drive.Client,
	error,
) {
	clients := make(map[crawl.SourceType]crawl.SourceClient)

	var jiraClient *jira.Client
	if cfg.Jira.BaseURL != "" {
		var err error
		jiraClient, err = jira.New(jira.Config{
			BaseURL:  cfg.Jira.BaseURL,
			Username: cfg.Jira.Username,
			APIToken: cfg.Jira.APIToken,
			PageSize: cfg.Jira.PageSize,
			Timeout:  cfg.Jira.Timeout(),
		}, logger)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("init jira: %w", err)
		}
		clients[crawl.SourceJira] = jiraClient
	}

	var confluenceClient *confluence.Client
	if cfg.Confluence.BaseURL != "" {
		var err error
		confluenceClient, err = confluence.New(confluence.Config{
			BaseURL:  cfg.Confluence.BaseURL,
			Username: cfg.Confluence.Username,
			APIToken: cfg.Confluence.APIToken,
			PageSize: cfg.Confluence.PageSize,
			Timeout:  cfg.Confluence.Timeout(),
		}, logger)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("init confluence: %w", err)
		}
		clients[crawl.SourceConfluence] = confluenceClient
	}

	var driveClient *drive.Client
	if cfg.Drive.AccessToken != "" {
		var err error
		driveClient, err = drive.New(drive.Config{
			BaseURL:     cfg.Drive.BaseURL,
			AccessToken: cfg.Drive.AccessToken,
			PageSize:    cfg.Drive.PageSize,
			Timeout:     cfg.Drive.Timeout(),
		}, logger)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("init drive: %w", err)
		}
		clients[crawl.SourceDrive] = driveClient
	}

	if len(clients) == 0 {
		return nil, nil, nil, nil, errors.New("no sources configured")
	}
	return clients, jiraClient, confluenceClient, driveClient, nil
}

func resolveRoots(
	ctx context.Context,
	flags *exportFlags,
	jiraClient *jira.Client,
	confluenceClient *confluence.Client,
	driveClient *drive.Client,
) ([]crawl.NodeRef, error) {
	switch flags.mode {
	case "issue":
		if jiraClient == nil {
			return nil, errors.New("issue mode requires jira configuration")
		}
		return []crawl.NodeRef{{Source: crawl.SourceJira, ID: flags.query}}, nil
	case "jql":
		if jiraClient == nil {
			return nil, errors.New("jql mode requires jira configuration")
		}
		keys, err := jiraClient.SearchKeys(ctx, flags.query)
		if err != nil {
			return nil, err
		}
		return source.RefsOf(crawl.SourceJira, keys), nil
	case "project":
		if jiraClient == nil {
			return nil, errors.New("project mode requires jira configuration")
		}
		keys, err := jiraClient.ProjectKeys(ctx, flags.query)
		if err != nil {
			return nil, err
		}
		return source.RefsOf(crawl.SourceJira, keys), nil
	case "page":
		if confluenceClient == nil {
			return nil, errors.New("page mode requires confluence configuration")
		}
		return []crawl.NodeRef{{Source: crawl.SourceConfluence, ID: flags.query}}, nil
	case "space":
		if confluenceClient == nil {
			return nil, errors.New("space mode requires confluence configuration")
		}
		ids, err := confluenceClient.SpaceRootIDs(ctx, flags.query)
		if err != nil {
			return nil, err
		}
		return source.RefsOf(crawl.SourceConfluence, ids), nil
	case "folder":
		if driveClient == nil {
			return nil, errors.New("folder mode requires drive configuration")
		}
		return []crawl.NodeRef{{Source: crawl.SourceDrive, ID: flags.query}}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", flags.mode)
	}
}

// writeSinks persists the result even when the job was cancelled: a partial
// export plus its error list beats no export.
func writeSinks(ctx context.Context, cfg config.Config, logger *zap.Logger, result crawl.AggregatedResult) error {
	// Sinks run against a fresh context so a cancelled job can still flush.
	sinkCtx := context.WithoutCancel(ctx)

	if cfg.Output.Dir != "" {
		fsSink, err := sink.NewFileSystemSink(cfg.Output.Dir, logger)
		if err != nil {
			return fmt.Errorf("init fs sink: %w", err)
		}
		if err := fsSink.Write(sinkCtx, result); err != nil {
			return fmt.Errorf("write fs sink: %w", err)
		}
	}

	if cfg.Output.GCSBucket != "" {
		client, err := gcstorage.NewClient(sinkCtx)
		if err != nil {
			return fmt.Errorf("init storage client: %w", err)
		}
		defer client.Close()
		gcsSink, err := sink.NewGCSSink(client, cfg.Output.GCSBucket, cfg.Output.GCSPrefix, logger)
		if err != nil {
			return fmt.Errorf("init gcs sink: %w", err)
		}
		if err := gcsSink.Write(sinkCtx, result); err != nil {
			return fmt.Errorf("write gcs sink: %w", err)
		}
	}
	return nil
}

func publishCompletion(ctx context.Context, cfg config.Config, logger *zap.Logger, result crawl.AggregatedResult) error {
	if cfg.PubSub.TopicName == "" {
		return nil
	}
	pubCtx := context.WithoutCancel(ctx)
	client, err := gpubsub.NewClient(pubCtx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	defer client.Close()

	topic := client.Topic(cfg.PubSub.TopicName)
	defer topic.Stop()

	id, err := pubsub.New(topic).PublishCompletion(pubCtx, result)
	if err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	logger.Info("completion published", zap.String("message_id", id))
	return nil
}
