// Package config loads speakerscribe settings from an optional YAML or TOML
// file and the process environment. Credentials are read exactly once here
// and handed to collaborators through the returned Config value.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/fmueller/speakerscribe/internal/platform"
)

// ErrConfiguration marks problems that must stop a run before any work starts.
var ErrConfiguration = errors.New("configuration error")

const (
	BackendOpenAI = "openai"
	BackendLocal  = "local"

	PolicyAbort = "abort"
	PolicySkip  = "skip"

	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvHuggingFaceToken = "HUGGINGFACE_TOKEN"
)

type Diarization struct {
	MinDurationOff float64 `yaml:"min_duration_off" toml:"min_duration_off"`
	Threshold      float64 `yaml:"threshold" toml:"threshold"`
	Pipeline       string  `yaml:"pipeline" toml:"pipeline"`
	CUDA           bool    `yaml:"cuda" toml:"cuda"`
	UVXPath        string  `yaml:"uvx_path" toml:"uvx_path"`
}

type Segments struct {
	MinDuration float64 `yaml:"min_duration" toml:"min_duration"`
}

type Chunking struct {
	// MaxSize accepts humanized sizes such as "25MiB" or a plain byte count.
	MaxSize  string `yaml:"max_size" toml:"max_size"`
	MaxBytes int64  `yaml:"-" toml:"-"`
}

type Transcription struct {
	Backend        string `yaml:"backend" toml:"backend"`
	Model          string `yaml:"model" toml:"model"`
	Language       string `yaml:"language" toml:"language"`
	BaseURL        string `yaml:"base_url" toml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
	Workers        int    `yaml:"workers" toml:"workers"`
	OnError        string `yaml:"on_error" toml:"on_error"`
}

type Local struct {
	Model        string `yaml:"model" toml:"model"`
	ModelDir     string `yaml:"model_dir" toml:"model_dir"`
	AutoDownload bool   `yaml:"auto_download" toml:"auto_download"`
}

type Tools struct {
	FFmpeg  string `yaml:"ffmpeg" toml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe" toml:"ffprobe"`
	WorkDir string `yaml:"work_dir" toml:"work_dir"`
}

type Logging struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// Credentials never come from a config file.
type Credentials struct {
	OpenAIAPIKey     string
	HuggingFaceToken string
}

type Config struct {
	Diarization   Diarization   `yaml:"diarization" toml:"diarization"`
	Segments      Segments      `yaml:"segments" toml:"segments"`
	Chunking      Chunking      `yaml:"chunking" toml:"chunking"`
	Transcription Transcription `yaml:"transcription" toml:"transcription"`
	Local         Local         `yaml:"local" toml:"local"`
	Tools         Tools         `yaml:"tools" toml:"tools"`
	Logging       Logging       `yaml:"logging" toml:"logging"`

	Credentials Credentials `yaml:"-" toml:"-"`
}

// Load reads the file at path (or the first default location that exists),
// overlays credentials from getenv and validates the result. A nil getenv
// means os.Getenv. The returned string is the file that was read, if any.
func Load(path string, getenv func(string) string) (*Config, string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := Default()

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, "", err
	}

	if resolved != "" {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", err
		}
	}

	cfg.Credentials = Credentials{
		OpenAIAPIKey:     strings.TrimSpace(getenv(EnvOpenAIAPIKey)),
		HuggingFaceToken: strings.TrimSpace(getenv(EnvHuggingFaceToken)),
	}

	if err := cfg.Finalize(); err != nil {
		return nil, "", err
	}

	return &cfg, resolved, nil
}

// Finalize normalizes and validates the config. Call it again after applying
// command-line overrides.
func (c *Config) Finalize() error {
	if err := c.normalize(); err != nil {
		return err
	}
	return c.Validate()
}

// RequireCredentials checks the secrets needed by the selected collaborators.
func (c *Config) RequireCredentials(needDiarizer bool) error {
	if needDiarizer && c.Credentials.HuggingFaceToken == "" {
		return fmt.Errorf("%w: %s is not set; it is required to load the pyannote diarization pipeline", ErrConfiguration, EnvHuggingFaceToken)
	}
	if c.Transcription.Backend == BackendOpenAI && c.Credentials.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: %s is not set; it is required by the openai transcription backend", ErrConfiguration, EnvOpenAIAPIKey)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(expanded); err != nil {
			return "", fmt.Errorf("%w: config file %s: %w", ErrConfiguration, expanded, err)
		}
		return expanded, nil
	}

	dirs, err := platform.CurrentDirs()
	if err != nil {
		// No home directory means no default file; defaults still apply.
		return "", nil
	}

	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		candidate := filepath.Join(dirs.Config, name)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat config %s: %w", candidate, err)
		}
	}

	return "", nil
}

func decodeFile(path string, cfg *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read config: %w", ErrConfiguration, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(content))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(cfg); err != nil {
			return fmt.Errorf("%w: parse %s: %w", ErrConfiguration, path, err)
		}
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: parse %s: %w", ErrConfiguration, path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config format %q (use .yaml or .toml)", ErrConfiguration, filepath.Ext(path))
	}

	return nil
}

func expandPath(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return value, nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = filepath.Join(home, strings.TrimPrefix(value[1:], "/"))
	}
	return filepath.Clean(value), nil
}
