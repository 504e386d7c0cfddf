// Package config loads the pipeline configuration from an optional YAML
// file with environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/darkmatter-labs/darkmatter-go/internal/platform/env"
)

// Config is the resolved pipeline configuration.
type Config struct {
	// WorkDir holds the canonical input/output artifact pair and is the
	// model process working directory.
	WorkDir string
	// ArtifactDir is where named artifacts ({name}.npy) are looked up first.
	ArtifactDir string
	// RemoteBaseURL enables the remote artifact source when set.
	RemoteBaseURL string
	// ModelCommand launches the inference process inside WorkDir.
	ModelCommand []string
	// InferenceTimeout of 0 disables the kill timer: a hung model process
	// then hangs the triggering call.
	InferenceTimeout time.Duration
	// ObjectStore enables the MinIO artifact mirror (configured separately
	// via the DMS_MINIO_* environment).
	ObjectStore bool
}

func Default() Config {
	return Config{
		WorkDir:      "work",
		ArtifactDir:  "artifacts",
		ModelCommand: []string{"python3", "run_model.py"},
	}
}

// fileConfig is the YAML shape; durations are strings so the file reads
// "30s", not nanosecond integers.
type fileConfig struct {
	WorkDir          string   `yaml:"work_dir"`
	ArtifactDir      string   `yaml:"artifact_dir"`
	RemoteBaseURL    string   `yaml:"remote_base_url"`
	ModelCommand     []string `yaml:"model_command"`
	InferenceTimeout string   `yaml:"inference_timeout"`
	ObjectStore      *bool    `yaml:"object_store"`
}

// Load reads path (a missing file just means defaults), applies environment
// overrides, and validates. Overrides: DMS_WORK_DIR, DMS_ARTIFACT_DIR,
// DMS_REMOTE_BASE_URL, DMS_MODEL_COMMAND (space-separated),
// DMS_INFERENCE_TIMEOUT, DMS_OBJECT_STORE.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults apply.
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if strings.TrimSpace(fc.WorkDir) != "" {
		cfg.WorkDir = fc.WorkDir
	}
	if strings.TrimSpace(fc.ArtifactDir) != "" {
		cfg.ArtifactDir = fc.ArtifactDir
	}
	if strings.TrimSpace(fc.RemoteBaseURL) != "" {
		cfg.RemoteBaseURL = fc.RemoteBaseURL
	}
	if len(fc.ModelCommand) > 0 {
		cfg.ModelCommand = fc.ModelCommand
	}
	if strings.TrimSpace(fc.InferenceTimeout) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(fc.InferenceTimeout))
		if err != nil {
			return fmt.Errorf("parse inference_timeout: %w", err)
		}
		cfg.InferenceTimeout = d
	}
	if fc.ObjectStore != nil {
		cfg.ObjectStore = *fc.ObjectStore
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.WorkDir = env.String("DMS_WORK_DIR", cfg.WorkDir)
	cfg.ArtifactDir = env.String("DMS_ARTIFACT_DIR", cfg.ArtifactDir)
	cfg.RemoteBaseURL = env.String("DMS_REMOTE_BASE_URL", cfg.RemoteBaseURL)
	cfg.ModelCommand = env.Strings("DMS_MODEL_COMMAND", cfg.ModelCommand)

	timeout, err := env.Duration("DMS_INFERENCE_TIMEOUT", cfg.InferenceTimeout)
	if err != nil {
		return err
	}
	cfg.InferenceTimeout = timeout

	objectStore, err := env.Bool("DMS_OBJECT_STORE", cfg.ObjectStore)
	if err != nil {
		return err
	}
	cfg.ObjectStore = objectStore
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.WorkDir) == "" {
		return errors.New("work_dir is required")
	}
	if strings.TrimSpace(c.ArtifactDir) == "" {
		return errors.New("artifact_dir is required")
	}
	if len(c.ModelCommand) == 0 {
		return errors.New("model_command is required")
	}
	if c.InferenceTimeout < 0 {
		return errors.New("inference_timeout must be >= 0")
	}
	if c.RemoteBaseURL != "" {
		u, err := url.Parse(c.RemoteBaseURL)
		if err != nil {
			return fmt.Errorf("parse remote_base_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("remote_base_url must be http or https: %q", c.RemoteBaseURL)
		}
	}
	return nil
}
