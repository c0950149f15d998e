package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Slippage.CompletionRate != 0.6 || cfg.Slippage.MissedScheduled != 2 {
		t.Fatalf("unexpected slippage defaults: %+v", cfg.Slippage)
	}
	if cfg.Planner.MinSuggestedTasks != 3 || cfg.Planner.MaxSuggestedTasks != 5 {
		t.Fatalf("unexpected planner defaults: %+v", cfg.Planner)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("slippage:\n  completion_rate: 0.4\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Slippage.CompletionRate != 0.4 {
		t.Fatalf("override lost: %v", cfg.Slippage.CompletionRate)
	}
	// Untouched sections keep their defaults.
	if cfg.Planner.MinSuggestedTasks != 3 {
		t.Fatalf("defaults clobbered: %+v", cfg.Planner)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "sarthi init") {
		t.Fatalf("missing file should point at init, got %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".sarthi"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(Path(dir), []byte("slippage:\n  completion_rate: 0.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Slippage.CompletionRate != 0.5 {
		t.Fatalf("loaded completion_rate = %v, want 0.5", cfg.Slippage.CompletionRate)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := []struct {
		yaml string
		want string
	}{
		{"slippage:\n  completion_rate: 1.5\n", "completion_rate"},
		{"planner:\n  min_suggested_tasks: 0\n", "min_suggested_tasks"},
		{"planner:\n  max_suggested_tasks: 1\n", "max_suggested_tasks"},
		{"scheduler:\n  weekly_day: 9\n", "weekly_day"},
	}
	for _, c := range cases {
		_, err := FromYAML([]byte(c.yaml))
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("yaml %q: error %v, want mention of %s", c.yaml, err, c.want)
		}
	}
}
