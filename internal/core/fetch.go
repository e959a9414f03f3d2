package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aliharslan0/pyrevanced/internal/sources"
	"github.com/aliharslan0/pyrevanced/internal/telemetry"
	"github.com/aliharslan0/pyrevanced/pkg/api"
)

// Fetcher streams remote artifacts into a directory. It keeps no per-call
// state and is safe for concurrent use.
type Fetcher struct {
	Client    *sources.Client
	Dir       string
	ChunkSize int
	Metrics   *telemetry.Collector
}

// NewFetcher creates a fetcher writing into the session working directory.
func NewFetcher(s *Session) *Fetcher {
	return &Fetcher{Client: s.Client, Dir: s.WorkDir, ChunkSize: s.Config.ChunkSize, Metrics: s.Metrics}
}

// Fetch downloads task.URL to Dir/task.Name. The body is written to a
// ".part" file that only takes the final name once fully written and closed.
func (f *Fetcher) Fetch(ctx context.Context, task api.FetchTask) (api.FetchResult, error) {
	start := time.Now()
	n, err := f.fetch(ctx, task)
	elapsed := time.Since(start)
	f.Metrics.RecordFetch(task.Name, n, elapsed, err == nil)
	if err != nil {
		return api.FetchResult{}, fmt.Errorf("%w: %s: %w", ErrTransfer, task.Name, err)
	}
	log.Debug().Str("name", task.Name).Int64("bytes", n).Dur("elapsed", elapsed).Msg("artifact fetched")
	return api.FetchResult{Name: task.Name, Elapsed: elapsed, Bytes: n}, nil
}

func (f *Fetcher) fetch(ctx context.Context, task api.FetchTask) (int64, error) {
	if task.Name == "" || filepath.Base(task.Name) != task.Name {
		return 0, fmt.Errorf("invalid destination name %q", task.Name)
	}
	resp, err := f.Client.Get(ctx, task.URL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	final := filepath.Join(f.Dir, task.Name)
	part := final + ".part"
	out, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	chunk := f.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	// Hide ReadFrom/WriteTo so the copy goes through our buffer.
	n, err := io.CopyBuffer(struct{ io.Writer }{out}, struct{ io.Reader }{resp.Body}, make([]byte, chunk))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		return n, fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(part, final); err != nil {
		_ = os.Remove(part)
		return n, fmt.Errorf("finalize file: %w", err)
	}
	return n, nil
}
