package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"foodcore/internal/compiler"
	"foodcore/pkg/ontology"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		sources string
		strict  bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate sources and resolve the graph without packing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, sources, strict)
		},
	}

	cmd.Flags().StringVar(&sources, "sources", "", "Source tree root (overrides config)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit 2 when warnings are present")

	return cmd
}

// runCheck runs the pipeline through applicability resolution. Blocking
// violations exit 1; in strict mode surviving warnings exit 2. The loader
// runs non-strict here so warnings stay visible instead of aborting early.
func runCheck(opts *rootOptions, sources string, strict bool) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	if sources != "" {
		cfg.Sources.Root = sources
	}

	registry, err := bundledAdapters()
	if err != nil {
		return err
	}

	pipe, err := compiler.New(compiler.Params{
		Root:     cfg.Sources.Root,
		Adapters: registry,
		Lenient:  cfg.Build.Lenient,
		Workers:  cfg.Build.Workers,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	build, err := pipe.RunThrough(compiler.StageApplicability)
	if err != nil {
		var blocked ontology.BuildError
		if errors.As(err, &blocked) {
			printViolations(os.Stderr, blocked.Result)
			return exitError{code: 1, msg: blocked.Error()}
		}
		return err
	}

	printViolations(os.Stderr, build.Diagnostics)
	warnings := build.Diagnostics.Count(ontology.SeverityWarn)
	if strict && warnings > 0 {
		return exitError{code: 2, msg: fmt.Sprintf("%d validation warnings in strict mode", warnings)}
	}

	fmt.Printf("ok: %d taxa, %d parts, %d transforms, %d pairings, %d warnings\n",
		len(build.Snapshot.Taxa), len(build.Snapshot.Parts), len(build.Snapshot.Transforms),
		len(build.Resolved.Pairs()), warnings)
	return nil
}

// printViolations writes one line per violation, sorted by source location.
func printViolations(w io.Writer, result ontology.Result) {
	result.Sort()
	for _, v := range result.Violations {
		loc := v.Source.String()
		if loc == "" {
			loc = "-"
		}
		fmt.Fprintf(w, "%s: [%s] %s: %s", loc, v.Severity, v.Check, v.Message)
		if v.EntityID != "" {
			fmt.Fprintf(w, " (%s %s)", v.Entity, v.EntityID)
		}
		fmt.Fprintln(w)
	}
}
