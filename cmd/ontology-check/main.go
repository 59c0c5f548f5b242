// Command ontology-check validates an authored source tree: decode errors,
// referential breaks, rank ordering, applicability conflicts. It prints one
// diagnostic per line (or JSON with -json) and exits 0 on success, 1 when
// blocking violations are present, and 2 when -strict finds warnings.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"foodcore/internal/compiler"
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
	"foodcore/plugins/fdc"
	"foodcore/plugins/labelfeed"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ontology-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		dir    string
		strict bool
		asJSON bool
	)
	fs.StringVar(&dir, "dir", "./sources", "source tree to validate")
	fs.BoolVar(&strict, "strict", false, "exit 2 when warnings are present")
	fs.BoolVar(&asJSON, "json", false, "emit diagnostics as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// The loader tolerates absent files, so a mistyped dir would
	// otherwise validate an empty tree and pass.
	if info, err := os.Stat(dir); err != nil {
		fmt.Fprintf(stderr, "ontology-check: %v\n", err)
		return 1
	} else if !info.IsDir() {
		fmt.Fprintf(stderr, "ontology-check: %s is not a directory\n", dir)
		return 1
	}

	result, err := validateTree(dir)
	if err != nil {
		fmt.Fprintf(stderr, "ontology-check: %v\n", err)
		return 1
	}
	result.Sort()

	if asJSON {
		if err := writeJSON(stdout, result); err != nil {
			fmt.Fprintf(stderr, "ontology-check: %v\n", err)
			return 1
		}
	} else {
		writeText(stdout, result)
	}

	blocking := result.Count(ontology.SeverityBlock)
	warnings := result.Count(ontology.SeverityWarn)
	switch {
	case blocking > 0:
		fmt.Fprintf(stderr, "%d blocking violations\n", blocking)
		return 1
	case strict && warnings > 0:
		fmt.Fprintf(stderr, "%d warnings in strict mode\n", warnings)
		return 2
	default:
		if !asJSON {
			fmt.Fprintf(stdout, "ok: no blocking violations (%d warnings)\n", warnings)
		}
		return 0
	}
}

// validateTree loads the tree and resolves the applicability tables, which
// surfaces conflict and cycle diagnostics beyond the loader's own checks.
// A blocked build is a diagnostic outcome here, not an error.
func validateTree(dir string) (ontology.Result, error) {
	registry := sourceapi.NewRegistry()
	if err := registry.Register(fdc.New()); err != nil {
		return ontology.Result{}, err
	}
	if err := registry.Register(labelfeed.New()); err != nil {
		return ontology.Result{}, err
	}

	pipe, err := compiler.New(compiler.Params{
		Root:     dir,
		Adapters: registry,
		Logger:   slog.New(slog.DiscardHandler),
	})
	if err != nil {
		return ontology.Result{}, err
	}

	build, err := pipe.RunThrough(compiler.StageApplicability)
	if err != nil {
		var blocked ontology.BuildError
		if errors.As(err, &blocked) {
			return blocked.Result, nil
		}
		return ontology.Result{}, err
	}
	return build.Diagnostics, nil
}

func writeText(w io.Writer, result ontology.Result) {
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

func writeJSON(w io.Writer, result ontology.Result) error {
	doc := struct {
		OK         bool                 `json:"ok"`
		Blocking   int                  `json:"blocking"`
		Warnings   int                  `json:"warnings"`
		Violations []ontology.Violation `json:"violations"`
	}{
		OK:         result.Count(ontology.SeverityBlock) == 0,
		Blocking:   result.Count(ontology.SeverityBlock),
		Warnings:   result.Count(ontology.SeverityWarn),
		Violations: result.Violations,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
