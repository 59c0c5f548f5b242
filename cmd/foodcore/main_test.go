package main

import (
	"errors"
	"fmt"
	"testing"

	"foodcore/internal/config"
)

func TestBuildFlagsApplyTo(t *testing.T) {
	cfg := config.DefaultConfig()
	flags := buildFlags{
		sources:       "/srv/sources",
		out:           "/tmp/graph.db",
		driver:        "postgres",
		strict:        true,
		metricsListen: ":9402",
	}
	flags.applyTo(cfg)

	if cfg.Sources.Root != "/srv/sources" {
		t.Fatalf("sources = %q", cfg.Sources.Root)
	}
	if cfg.Pack.Out != "/tmp/graph.db" || cfg.Pack.Driver != "postgres" {
		t.Fatalf("pack = %+v", cfg.Pack)
	}
	if !cfg.Build.Strict {
		t.Fatalf("strict override lost")
	}
	if cfg.Metrics.Listen != ":9402" {
		t.Fatalf("metrics listen = %q", cfg.Metrics.Listen)
	}
}

func TestBuildFlagsEmptyKeepsConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sources.Root = "/etc/foodcore/sources"
	cfg.Build.Strict = true

	buildFlags{}.applyTo(cfg)

	if cfg.Sources.Root != "/etc/foodcore/sources" {
		t.Fatalf("sources clobbered: %q", cfg.Sources.Root)
	}
	if !cfg.Build.Strict {
		t.Fatalf("strict clobbered")
	}
	if cfg.Pack.Out != "./graph.db" {
		t.Fatalf("out clobbered: %q", cfg.Pack.Out)
	}
}

func TestExitErrorCodeSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("check: %w", exitError{code: 2, msg: "warnings in strict mode"})
	var exit exitError
	if !errors.As(err, &exit) {
		t.Fatalf("exitError not recovered from %v", err)
	}
	if exit.code != 2 {
		t.Fatalf("code = %d", exit.code)
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := rootCmd()

	want := map[string]bool{
		"build":   false,
		"check":   false,
		"inspect": false,
		"export":  false,
		"watch":   false,
		"version": false,
	}
	for _, sub := range root.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %s not registered", name)
		}
	}

	for _, flag := range []string{"config", "log-level", "log-json"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("persistent flag %s missing", flag)
		}
	}
}

func TestBundledAdapters(t *testing.T) {
	registry, err := bundledAdapters()
	if err != nil {
		t.Fatalf("bundled adapters: %v", err)
	}
	for _, id := range []string{"fdc", "labelfeed"} {
		if _, ok := registry.Adapter(id); !ok {
			t.Errorf("adapter %s not registered", id)
		}
	}
}
