package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vanshika/kgcommit/internal/config"
	"github.com/vanshika/kgcommit/internal/domain"
	"github.com/vanshika/kgcommit/internal/graph"
	"github.com/vanshika/kgcommit/internal/logging"
	"github.com/vanshika/kgcommit/internal/repository"
	"github.com/vanshika/kgcommit/internal/service"
)

func main() {
	var (
		inputs     = flag.String("input", "", "Comma separated graph data files (JSON or YAML)")
		schemaPath = flag.String("schema", "", "Schema file applied to every input (overrides embedded schemas)")
		outputPath = flag.String("output", "", "Where to write the annotated result (default stdout)")
		dryRun     = flag.Bool("dry-run", false, "Commit into an in-memory store instead of the graph")
		batchSize  = flag.Int("batch-size", -1, "Entities per batch call; 0 submits one by one (default COMMIT_BATCH_SIZE)")
		workers    = flag.Int("workers", 1, "Number of documents committed concurrently")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "ingest")

	paths := splitPaths(*inputs)
	if len(paths) == 0 {
		logger.Error("no input files given, use -input")
		os.Exit(2)
	}

	var schema *domain.Schema
	if *schemaPath != "" {
		if schema, err = loadSchema(*schemaPath); err != nil {
			logger.Error("failed to load schema", "error", err, "path", *schemaPath)
			os.Exit(1)
		}
	}

	docs := make([]domain.GraphData, 0, len(paths))
	for _, path := range paths {
		doc, err := loadGraphData(path)
		if err != nil {
			logger.Error("failed to load graph data", "error", err, "path", path)
			os.Exit(1)
		}
		if schema != nil {
			doc.Schema = schema
		}
		docs = append(docs, doc)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := buildStore(ctx, logger, cfg, *dryRun)
	if err != nil {
		logger.Error("failed to create graph store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	size := cfg.Commit.BatchSize
	if *batchSize >= 0 {
		size = *batchSize
	}
	committer := service.NewCommitter(store, logger, service.WithBatchSize(size))
	bulk := service.NewBulkCommitter(committer, *workers)

	start := time.Now()
	logger.Info("committing graph data", "documents", len(docs), "workers", *workers, "batch_size", size, "dry_run", *dryRun)
	results, commitErr := bulk.CommitAll(ctx, docs)
	if commitErr != nil {
		logger.Error("commit failed", "error", commitErr)
	}

	if err := writeResults(*outputPath, results); err != nil {
		logger.Error("failed to write result", "error", err)
		os.Exit(1)
	}
	if commitErr != nil {
		os.Exit(1)
	}
	logger.Info("commit complete", "duration", time.Since(start).String(), "documents", len(docs))
}

func splitPaths(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func buildStore(ctx context.Context, logger *slog.Logger, cfg config.Config, dryRun bool) (service.GraphStore, func(), error) {
	if dryRun {
		logger.Info("dry run, committing into memory")
		return repository.NewMemoryStore(), func() {}, nil
	}

	client, err := buildGraphClient(ctx, logger, cfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}
	store := repository.NewNeo4jStore(client)
	if err := store.EnsureMetadataConstraints(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}

func buildGraphClient(ctx context.Context, logger *slog.Logger, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		return nil, fmt.Errorf("%w: set GRAPH_URI or use -dry-run", graph.ErrMissingURI)
	}
	opts := graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	}
	client, err := graph.NewNeo4jClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	logger.Info("connected to graph", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)
	return client, nil
}
