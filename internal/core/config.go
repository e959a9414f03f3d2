package core

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration, overlaid with environment values.
type Config struct {
	Java        string `yaml:"java"`
	Output      string `yaml:"output"`
	Concurrency int    `yaml:"concurrency"`
	ChunkSize   int    `yaml:"chunk_size"`
	UserAgent   string `yaml:"user_agent"`
	CacheDir    string `yaml:"cache_dir"`
	Sources     struct {
		GitHubBase    string `yaml:"github_base"`
		GitHubOwner   string `yaml:"github_owner"`
		GitHubToken   string `yaml:"github_token"`
		APKMirrorBase string `yaml:"apkmirror_base"`
		CatalogURL    string `yaml:"catalog_url"`
	} `yaml:"sources"`
	HTTP struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
		Retries        int `yaml:"retries"`
	} `yaml:"http"`
	History struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"history"`
	Publish struct {
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		User       string `yaml:"user"`
		KeyPath    string `yaml:"key_path"`
		KnownHosts string `yaml:"known_hosts"`
		RemoteDir  string `yaml:"remote_dir"`
	} `yaml:"publish"`
	Telemetry struct {
		Enabled      bool   `yaml:"enabled"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`
}

const (
	DefaultOutput    = "revanced.apk"
	DefaultChunkSize = 10 << 20
	DefaultCatalog   = "https://raw.githubusercontent.com/revanced/revanced-patches/main/README.md"
)

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() Config {
	var cfg Config
	cfg.Java = "java"
	cfg.Output = DefaultOutput
	cfg.Concurrency = 4
	cfg.ChunkSize = DefaultChunkSize
	cfg.UserAgent = "anything"
	cfg.CacheDir = "revanced-cache"
	cfg.Sources.GitHubBase = "https://github.com"
	cfg.Sources.GitHubOwner = "revanced"
	cfg.Sources.APKMirrorBase = "https://www.apkmirror.com"
	cfg.Sources.CatalogURL = DefaultCatalog
	cfg.History.Enabled = true
	cfg.History.Path = filepath.Join(configDir(), "history.db")
	cfg.Publish.Port = 22
	cfg.Publish.KeyPath = filepath.Join(configDir(), "ssh", "id_ed25519")
	cfg.Publish.KnownHosts = filepath.Join(configDir(), "ssh", "known_hosts")
	return cfg
}

// configDir resolves $XDG_CONFIG_HOME/pyrevanced or ~/.config/pyrevanced.
func configDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "pyrevanced")
}

// DefaultConfigPath is the config file read when no path is given.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// LoadConfig reads YAML configuration from a path. If path is empty, it resolves
// $XDG_CONFIG_HOME/pyrevanced/config.yaml and falls back to defaults when that
// file does not exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("open config: %w", err)
	}

	// Secrets and per-machine overrides stay out of the YAML file.
	env, _ := LoadEnvFiles(filepath.Join(configDir(), "secrets.env"), ".env")
	applyEnv(&cfg, env)
	return cfg, cfg.Validate()
}

// LoadEnvFiles merges KEY=VALUE files; missing files are skipped and later
// files win. Process environment takes precedence over all of them.
func LoadEnvFiles(paths ...string) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range paths {
		m, err := godotenv.Read(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return out, fmt.Errorf("read %s: %w", p, err)
		}
		for k, v := range m {
			out[k] = v
		}
	}
	for _, k := range []string{"PYREVANCED_USER_AGENT", "PYREVANCED_JAVA", "JAVA_HOME", "GITHUB_TOKEN"} {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	return out, nil
}

func applyEnv(cfg *Config, env map[string]string) {
	if v := env["JAVA_HOME"]; v != "" {
		cfg.Java = filepath.Join(v, "bin", "java")
	}
	if v := env["PYREVANCED_JAVA"]; v != "" {
		cfg.Java = v
	}
	if v := env["PYREVANCED_USER_AGENT"]; v != "" {
		cfg.UserAgent = v
	}
	if v := env["GITHUB_TOKEN"]; v != "" {
		cfg.Sources.GitHubToken = v
	}
}

// Validate rejects settings the run cannot work with.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.Output == "" {
		return errors.New("output must not be empty")
	}
	for name, raw := range map[string]string{
		"sources.github_base":    c.Sources.GitHubBase,
		"sources.apkmirror_base": c.Sources.APKMirrorBase,
		"sources.catalog_url":    c.Sources.CatalogURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: invalid url %q", name, raw)
		}
	}
	return nil
}

// HTTPTimeout is zero (unbounded) unless configured.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
