package core

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/aliharslan0/pyrevanced/internal/sources"
	"github.com/aliharslan0/pyrevanced/internal/telemetry"
)

// Session holds the per-run resources shared by every component: the HTTP
// client, the private working directory and the metrics collector.
// Close releases all of them and must run on every exit path.
type Session struct {
	Config  Config
	Client  *sources.Client
	WorkDir string
	Metrics *telemetry.Collector
}

// NewSession creates the working directory and the shared client.
func NewSession(cfg Config) (*Session, error) {
	dir, err := os.MkdirTemp("", "pyrevanced-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	tokens := map[string]string{}
	if cfg.Sources.GitHubToken != "" {
		if u, err := url.Parse(cfg.Sources.GitHubBase); err == nil {
			tokens[u.Hostname()] = cfg.Sources.GitHubToken
		}
	}
	s := &Session{
		Config: cfg,
		Client: sources.NewClient(sources.ClientOptions{
			Timeout:   cfg.HTTPTimeout(),
			UserAgent: cfg.UserAgent,
			Retries:   cfg.HTTP.Retries,
			Tokens:    tokens,
		}),
		WorkDir: dir,
		Metrics: telemetry.NewCollector(cfg.Telemetry.Enabled),
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		s.Metrics.SetExporter(telemetry.NewOTLPExporter(cfg.Telemetry.OTLPEndpoint, buildVersion()))
	}
	log.Debug().Str("work_dir", dir).Msg("session started")
	return s, nil
}

// Path resolves name inside the working directory.
func (s *Session) Path(name string) string {
	return filepath.Join(s.WorkDir, name)
}

// Close removes the working directory and the engine cache directory.
func (s *Session) Close() error {
	s.Metrics.Flush(context.Background())
	err := os.RemoveAll(s.WorkDir)
	if s.Config.CacheDir != "" {
		if info, statErr := os.Stat(s.Config.CacheDir); statErr == nil && info.IsDir() {
			if rmErr := os.RemoveAll(s.Config.CacheDir); rmErr != nil && err == nil {
				err = rmErr
			}
		}
	}
	if err != nil {
		return fmt.Errorf("cleanup session: %w", err)
	}
	return nil
}

func buildVersion() string {
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return "devel"
}
