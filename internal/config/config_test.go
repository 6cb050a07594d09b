package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"wiptrack/internal/config"
)

func TestFromYAMLDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("project:\n  id: proj-1\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Project.ID != "proj-1" {
		t.Fatalf("project id: %q", cfg.Project.ID)
	}
	if cfg.Recalc.InProgressFactor == nil || *cfg.Recalc.InProgressFactor != config.DefaultInProgressFactor {
		t.Fatalf("factor default: %v", cfg.Recalc.InProgressFactor)
	}
	if cfg.Recalc.Tolerance != config.DefaultTolerance {
		t.Fatalf("tolerance default: %v", cfg.Recalc.Tolerance)
	}
}

func TestFromYAMLFactorBounds(t *testing.T) {
	if _, err := config.FromYAML([]byte("recalc:\n  in_progress_factor: 1.5\n")); err == nil {
		t.Fatal("factor above 1 accepted")
	}
	if _, err := config.FromYAML([]byte("recalc:\n  in_progress_factor: -0.1\n")); err == nil {
		t.Fatal("negative factor accepted")
	}
	cfg, err := config.FromYAML([]byte("recalc:\n  in_progress_factor: 0.75\n"))
	if err != nil || *cfg.Recalc.InProgressFactor != 0.75 {
		t.Fatalf("valid factor rejected: %v %v", cfg, err)
	}
}

func TestFromYAMLZeroFactorHonored(t *testing.T) {
	// 0 is inside the valid range and means no credit for in-progress work;
	// it must not be mistaken for an absent key.
	cfg, err := config.FromYAML([]byte("recalc:\n  in_progress_factor: 0\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Recalc.InProgressFactor == nil || *cfg.Recalc.InProgressFactor != 0 {
		t.Fatalf("explicit zero factor: %v", cfg.Recalc.InProgressFactor)
	}
}

func TestFromYAMLInvalid(t *testing.T) {
	if _, err := config.FromYAML([]byte("project: [")); err == nil {
		t.Fatal("invalid yaml accepted")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("proj-1")))
	if err != nil {
		t.Fatalf("default template invalid: %v", err)
	}
	if cfg.Project.ID != "proj-1" {
		t.Fatalf("project id: %q", cfg.Project.ID)
	}
	if cfg.Recalc.InProgressFactor == nil || *cfg.Recalc.InProgressFactor != 0.5 {
		t.Fatalf("factor: %v", cfg.Recalc.InProgressFactor)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing config: %v %v", cfg, err)
	}
	path := filepath.Join(dir, "wiptrack.yml")
	if path != config.Path(dir) {
		t.Fatalf("config path: %q", config.Path(dir))
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault("proj-2")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Project.ID != "proj-2" {
		t.Fatalf("project id: %q", cfg.Project.ID)
	}
}

func TestLoadMissingErrors(t *testing.T) {
	if _, err := config.Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config")
	}
}
