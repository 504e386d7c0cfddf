package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("got %+v, want defaults", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulator.yaml")
	raw := `work_dir: /var/lib/dms/work
artifact_dir: /var/lib/dms/artifacts
remote_base_url: https://sims.example.com
model_command: [python3, run_model.py]
inference_timeout: 90s
object_store: true
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WorkDir != "/var/lib/dms/work" || cfg.ArtifactDir != "/var/lib/dms/artifacts" {
		t.Fatalf("paths not loaded: %+v", cfg)
	}
	if cfg.RemoteBaseURL != "https://sims.example.com" {
		t.Fatalf("remote base url %q", cfg.RemoteBaseURL)
	}
	if cfg.InferenceTimeout != 90*time.Second {
		t.Fatalf("timeout %s, want 90s", cfg.InferenceTimeout)
	}
	if !cfg.ObjectStore {
		t.Fatalf("object store not enabled")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulator.yaml")
	if err := os.WriteFile(path, []byte("work_dir: from-file\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Setenv("DMS_WORK_DIR", "from-env")
	t.Setenv("DMS_MODEL_COMMAND", "python3 -u run_model.py")
	t.Setenv("DMS_INFERENCE_TIMEOUT", "2m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WorkDir != "from-env" {
		t.Fatalf("work dir %q, want env override", cfg.WorkDir)
	}
	if !reflect.DeepEqual(cfg.ModelCommand, []string{"python3", "-u", "run_model.py"}) {
		t.Fatalf("model command %v", cfg.ModelCommand)
	}
	if cfg.InferenceTimeout != 2*time.Minute {
		t.Fatalf("timeout %s, want 2m", cfg.InferenceTimeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bad yaml", "work_dir: [unterminated"},
		{"bad timeout", "inference_timeout: ninety\n"},
		{"bad remote scheme", "remote_base_url: ftp://host\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "simulator.yaml")
			if err := os.WriteFile(path, []byte(tc.raw), 0o644); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
