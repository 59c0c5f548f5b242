package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"foodcore/internal/config"
	"foodcore/internal/metrics"
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	flags := buildFlags{}
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild whenever the source tree changes",
		Long: `Watch runs an initial build, then watches the sources root and rebuilds
after changes settle. Build failures are logged and watching continues.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, flags, debounce)
		},
	}

	cmd.Flags().StringVar(&flags.sources, "sources", "", "Source tree root (overrides config)")
	cmd.Flags().StringVar(&flags.out, "out", "", "Output database path (overrides config)")
	cmd.Flags().StringVar(&flags.driver, "driver", "", "Output dialect: sqlite or postgres")
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "Escalate validation warnings to blocking")
	cmd.Flags().BoolVar(&flags.archive, "archive", false, "Archive every successful build")
	cmd.Flags().StringVar(&flags.metricsListen, "metrics-listen", "", "Serve Prometheus metrics at this address")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "Quiet period before a rebuild")

	return cmd
}

func runWatch(opts *rootOptions, flags buildFlags, debounce time.Duration) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rebuild(cfg, registry, m, logger, flags.archive)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addWatchesRecursive(watcher, cfg.Sources.Root, logger); err != nil {
		return err
	}
	logger.Info("watching sources", "root", cfg.Sources.Root, "debounce", debounce)

	// Writes to the build outputs must not retrigger the loop when the
	// output lives inside the watched tree.
	ignore := map[string]struct{}{
		filepath.Clean(cfg.Pack.Out):                    {},
		filepath.Clean(cfg.Pack.Out + ".manifest.json"): {},
	}

	ticker := time.NewTicker(debounce)
	defer ticker.Stop()
	dirty := false

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					watchNewDirectory(watcher, event.Name, logger)
					continue
				}
			}
			if _, skip := ignore[filepath.Clean(event.Name)]; skip {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			logger.Debug("source change", "path", event.Name, "op", event.Op.String())
			dirty = true

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch error", "error", err)

		case <-ticker.C:
			if dirty {
				dirty = false
				rebuild(cfg, registry, m, logger, flags.archive)
			}
		}
	}
}

// rebuild runs one build and reports the outcome without ever failing the
// watch loop.
func rebuild(cfg *config.Config, registry *sourceapi.Registry, m *metrics.Metrics, logger *slog.Logger, archive bool) {
	started := time.Now()
	build, err := buildOnce(cfg, registry, m, logger, archive)
	if err != nil {
		var blocked ontology.BuildError
		if errors.As(err, &blocked) {
			printViolations(os.Stderr, blocked.Result)
		}
		logger.Error("build failed", "error", err)
		return
	}
	c := build.Manifest.Counters
	logger.Info("build complete",
		"fingerprint", build.Manifest.Fingerprint,
		"nodes", c.TPNodes+c.TPTNodes,
		"profiles", c.Profiles,
		"duration", time.Since(started).Round(time.Millisecond),
	)
}

// addWatchesRecursive watches every directory under root, skipping hidden
// directories.
func addWatchesRecursive(watcher *fsnotify.Watcher, root string, logger *slog.Logger) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if path != root && strings.HasPrefix(base, ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			logger.Warn("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// watchNewDirectory extends the watch set when a directory appears under
// the sources root.
func watchNewDirectory(watcher *fsnotify.Watcher, path string, logger *slog.Logger) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	if err := watcher.Add(path); err != nil {
		logger.Warn("cannot watch new directory", "path", path, "error", err)
	} else {
		logger.Debug("watching new directory", "path", path)
	}
}
