// Command foodcore compiles authored taxonomy sources into a packed food
// knowledge graph: canonical nodes, evidence mappings, and nutrient
// profiles with full provenance.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"foodcore/internal/config"
	"foodcore/internal/pack"
	"foodcore/pkg/sourceapi"
	"foodcore/plugins/fdc"
	"foodcore/plugins/labelfeed"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "foodcore"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code := 1
		var exit exitError
		if errors.As(err, &exit) {
			code = exit.code
		}
		os.Exit(code)
	}
}

// exitError carries a specific process exit code through cobra's error
// return. Plain errors exit 1.
type exitError struct {
	code int
	msg  string
}

func (e exitError) Error() string { return e.msg }

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Food knowledge graph compiler",
		Long: `Foodcore compiles an authored biological taxonomy, part and transform
catalog, and per-source nutrition evidence into a packed knowledge graph.

It provides:
- Source loading and ontology validation with blocking/warning diagnostics
- Canonical node identity over (taxon, part, transform chain)
- Evidence resolution with per-source adapter hints
- Nutrient rollup with provenance, and SQLite/Postgres packing`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Emit JSON logs")

	cmd.AddCommand(
		newBuildCmd(opts),
		newCheckCmd(opts),
		newInspectCmd(opts),
		newExportCmd(opts),
		newWatchCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s (build: %s, pack schema: %d)\n", appName, Version, BuildTime, pack.SchemaVersion)
			},
		},
	)

	return cmd
}

// load reads the config file, applies the logging flags, and installs the
// process logger. Flags win over file settings.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg := config.DefaultConfig()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	level := cfg.Log.SlogLevel()
	if o.logLevel != "" {
		switch strings.ToLower(o.logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			return nil, nil, fmt.Errorf("unknown log level %q", o.logLevel)
		}
	}

	var handler slog.Handler
	if o.logJSON || cfg.Log.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// bundledAdapters registers the source adapters shipped with the binary.
func bundledAdapters() (*sourceapi.Registry, error) {
	registry := sourceapi.NewRegistry()
	if err := registry.Register(fdc.New()); err != nil {
		return nil, fmt.Errorf("register fdc adapter: %w", err)
	}
	if err := registry.Register(labelfeed.New()); err != nil {
		return nil, fmt.Errorf("register labelfeed adapter: %w", err)
	}
	return registry, nil
}
