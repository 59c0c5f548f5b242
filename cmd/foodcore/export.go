package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"foodcore/internal/report"
	"foodcore/pkg/ontology"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		sources   string
		rawParams []string
		formats   []string
	)

	cmd := &cobra.Command{
		Use:   "export [template]",
		Short: "Render one report template and archive the artifacts",
		Long: `Export runs a full build, renders the named report template, pushes the
artifacts to the blob store, and prints their keys. Without a template it
lists the available templates and their parameters.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				listTemplates()
				return nil
			}
			return runExport(opts, args[0], sources, rawParams, formats)
		},
	}

	cmd.Flags().StringVar(&sources, "sources", "", "Source tree root (overrides config)")
	cmd.Flags().StringArrayVar(&rawParams, "param", nil, "Template parameter as key=value (repeatable)")
	cmd.Flags().StringSliceVar(&formats, "format", []string{"json", "csv"}, "Output formats")

	return cmd
}

func listTemplates() {
	for _, name := range report.Names() {
		template, _ := report.Lookup(name)
		fmt.Printf("%s\n  %s\n", template.Name, template.Description)
		for _, param := range template.Params {
			line := fmt.Sprintf("  --param %s=...  %s", param.Name, param.Description)
			if len(param.Enum) > 0 {
				line += fmt.Sprintf(" (one of %s)", strings.Join(param.Enum, ", "))
			}
			if param.Required {
				line += " (required)"
			}
			fmt.Println(line)
		}
	}
}

func runExport(opts *rootOptions, name, sources string, rawParams, rawFormats []string) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	if sources != "" {
		cfg.Sources.Root = sources
	}

	template, ok := report.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown report template %q, have %s", name, strings.Join(report.Names(), ", "))
	}

	params := make(map[string]string, len(rawParams))
	for _, raw := range rawParams {
		key, value, found := strings.Cut(raw, "=")
		if !found || key == "" {
			return fmt.Errorf("malformed --param %q, want key=value", raw)
		}
		params[key] = value
	}

	formats := make([]report.Format, 0, len(rawFormats))
	for _, raw := range rawFormats {
		format := report.Format(strings.ToLower(strings.TrimSpace(raw)))
		if !format.Valid() {
			return fmt.Errorf("unsupported format %q, want json or csv", raw)
		}
		formats = append(formats, format)
	}

	registry, err := bundledAdapters()
	if err != nil {
		return err
	}

	build, err := runPipeline(cfg, registry, logger, nil)
	if err != nil {
		var blocked ontology.BuildError
		if errors.As(err, &blocked) {
			printViolations(os.Stderr, blocked.Result)
			return exitError{code: 1, msg: blocked.Error()}
		}
		return err
	}

	ctx := context.Background()
	store, err := cfg.Blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	artifacts, err := report.Run(ctx, store, report.FromBuild(build), uuid.New().String(), template, params, formats)
	if err != nil {
		return err
	}
	for _, artifact := range artifacts {
		fmt.Printf("%s\t%d rows\t%d bytes\n", artifact.Key, artifact.Rows, artifact.SizeBytes)
	}
	return nil
}
