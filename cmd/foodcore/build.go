package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"foodcore/internal/blob"
	"foodcore/internal/compiler"
	"foodcore/internal/config"
	"foodcore/internal/metrics"
	"foodcore/internal/pack"
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

type buildFlags struct {
	sources       string
	out           string
	driver        string
	strict        bool
	archive       bool
	metricsListen string
}

// applyTo folds the command-line overrides into the loaded configuration.
func (f buildFlags) applyTo(cfg *config.Config) {
	if f.sources != "" {
		cfg.Sources.Root = f.sources
	}
	if f.out != "" {
		cfg.Pack.Out = f.out
	}
	if f.driver != "" {
		cfg.Pack.Driver = f.driver
	}
	if f.strict {
		cfg.Build.Strict = true
	}
	if f.metricsListen != "" {
		cfg.Metrics.Listen = f.metricsListen
	}
}

func newBuildCmd(opts *rootOptions) *cobra.Command {
	flags := buildFlags{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile sources into a packed knowledge graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, flags)
		},
	}

	cmd.Flags().StringVar(&flags.sources, "sources", "", "Source tree root (overrides config)")
	cmd.Flags().StringVar(&flags.out, "out", "", "Output database path (overrides config)")
	cmd.Flags().StringVar(&flags.driver, "driver", "", "Output dialect: sqlite or postgres")
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "Escalate validation warnings to blocking")
	cmd.Flags().BoolVar(&flags.archive, "archive", false, "Push the packed database and manifest to the blob store")
	cmd.Flags().StringVar(&flags.metricsListen, "metrics-listen", "", "Serve Prometheus metrics at this address during the build")

	return cmd
}

func runBuild(opts *rootOptions, flags buildFlags) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	flags.applyTo(cfg)

	registry, err := bundledAdapters()
	if err != nil {
		return err
	}

	m := metrics.New()
	stopMetrics := startMetricsServer(cfg.Metrics.Listen, m, logger)
	defer stopMetrics()

	build, err := buildOnce(cfg, registry, m, logger, flags.archive)
	if err != nil {
		var blocked ontology.BuildError
		if errors.As(err, &blocked) {
			printViolations(os.Stderr, blocked.Result)
			return exitError{code: 1, msg: blocked.Error()}
		}
		return err
	}

	if warn := build.Diagnostics.Count(ontology.SeverityWarn); warn > 0 {
		printViolations(os.Stderr, build.Diagnostics)
	}

	c := build.Manifest.Counters
	fmt.Printf("build %s: %d nodes, %d profiles, %d/%d entries mapped\n",
		build.Manifest.Fingerprint, c.TPNodes+c.TPTNodes, c.Profiles, c.Mapped, c.FoodEntries)
	return nil
}

// runPipeline executes every compiler stage for the configured source tree.
func runPipeline(cfg *config.Config, registry *sourceapi.Registry, logger *slog.Logger, m *metrics.Metrics) (*compiler.Build, error) {
	pipe, err := compiler.New(compiler.Params{
		Root:          cfg.Sources.Root,
		Adapters:      registry,
		Strict:        cfg.Build.Strict,
		Lenient:       cfg.Build.Lenient,
		MinConfidence: cfg.Build.MinConfidence,
		Rollup:        cfg.Rollup.ToRollup(),
		Workers:       cfg.Build.Workers,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}
	return pipe.Run()
}

// buildOnce runs the full pipeline, packs the result, writes the manifest
// beside a SQLite output, and optionally archives the artifacts. It is
// shared by build and watch.
func buildOnce(cfg *config.Config, registry *sourceapi.Registry, m *metrics.Metrics, logger *slog.Logger, archive bool) (*compiler.Build, error) {
	build, err := runPipeline(cfg, registry, logger, m)
	if err != nil {
		return nil, err
	}

	dialect := pack.Dialect(cfg.Pack.Driver)
	if err := pack.Write(pack.Params{
		Snapshot:    build.Snapshot,
		Resolved:    build.Resolved,
		Nodes:       build.Nodes,
		Mappings:    build.Mapping.Mappings,
		Profiles:    build.Rollup.Profiles,
		Fingerprint: build.Manifest.Fingerprint,
		Dialect:     dialect,
		Path:        cfg.Pack.Out,
		DSN:         cfg.Pack.DSN,
		Logger:      logger,
	}); err != nil {
		return nil, err
	}

	manifest, err := json.MarshalIndent(build.Manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	manifest = append(manifest, '\n')
	if dialect != pack.DialectPostgres {
		manifestPath := cfg.Pack.Out + ".manifest.json"
		if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
			return nil, fmt.Errorf("write manifest: %w", err)
		}
		logger.Info("manifest written", "path", manifestPath)
	}

	if archive {
		if err := archiveBuild(context.Background(), cfg, build, manifest, dialect, logger); err != nil {
			return nil, err
		}
	}

	return build, nil
}

// archiveBuild pushes the packed database and manifest under the build's
// fingerprint. A fingerprint already archived is left untouched.
func archiveBuild(ctx context.Context, cfg *config.Config, build *compiler.Build, manifest []byte, dialect pack.Dialect, logger *slog.Logger) error {
	store, err := cfg.Blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	fingerprint := build.Manifest.Fingerprint

	if dialect != pack.DialectPostgres {
		db, err := os.Open(cfg.Pack.Out)
		if err != nil {
			return fmt.Errorf("archive database: %w", err)
		}
		info, err := store.Put(ctx, blob.DatabaseKey(fingerprint), db, blob.PutOptions{
			ContentType: "application/vnd.sqlite3",
			Metadata:    map[string]string{"fingerprint": fingerprint},
		})
		_ = db.Close()
		switch {
		case errors.Is(err, blob.ErrExists):
			logger.Info("build already archived", "fingerprint", fingerprint)
			return nil
		case err != nil:
			return fmt.Errorf("archive database: %w", err)
		default:
			logger.Info("database archived", "key", info.Key, "bytes", info.Size)
		}
	}

	info, err := store.Put(ctx, blob.ManifestKey(fingerprint), bytes.NewReader(manifest), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"fingerprint": fingerprint},
	})
	switch {
	case errors.Is(err, blob.ErrExists):
		logger.Info("manifest already archived", "fingerprint", fingerprint)
	case err != nil:
		return fmt.Errorf("archive manifest: %w", err)
	default:
		logger.Info("manifest archived", "key", info.Key, "bytes", info.Size)
	}
	return nil
}

// startMetricsServer serves /metrics at listen until the returned stop
// function runs. An empty listen address is a no-op.
func startMetricsServer(listen string, m *metrics.Metrics, logger *slog.Logger) (stop func()) {
	if listen == "" {
		return func() {}
	}
	server := metrics.NewServer(listen, m)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "listen", listen, "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", listen)
	return func() {
		if err := server.Close(); err != nil {
			logger.Warn("metrics server close", "error", err)
		}
	}
}
