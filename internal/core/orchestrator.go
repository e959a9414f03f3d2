package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/aliharslan0/pyrevanced/internal/sources"
	"github.com/aliharslan0/pyrevanced/pkg/api"
)

// State is a step of a patch run.
type State int

const (
	StateInit State = iota
	StateFetching
	StateAwaitingSelection
	StateInvoking
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateFetching:
		return "fetching"
	case StateAwaitingSelection:
		return "awaiting_selection"
	case StateInvoking:
		return "invoking"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Selector presents patches to the operator and returns the chosen indices.
type Selector interface {
	Select(ctx context.Context, patches []api.PatchDescriptor) ([]int, error)
}

// CatalogResolver yields the patches for an app and the version they target.
type CatalogResolver interface {
	Resolve(ctx context.Context, app api.App) ([]api.PatchDescriptor, string, error)
}

// ArtifactFetcher downloads one artifact.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, task api.FetchTask) (api.FetchResult, error)
}

// Builder runs the engine and places its output at dest.
type Builder interface {
	Build(ctx context.Context, spec api.InvocationSpec, dest string) error
}

// RunReport summarizes a finished run.
type RunReport struct {
	RunID     string
	App       api.App
	Version   string
	Patches   []api.PatchDescriptor
	Selection api.PatchSelection
	Fetches   []api.FetchResult
	Output    string
}

// Orchestrator is the entrypoint for a patch run. It fetches artifacts and
// the catalog concurrently, asks for a selection, and invokes the engine
// once every required artifact is on disk.
type Orchestrator struct {
	Session     *Session
	Catalog     CatalogResolver
	Fetcher     ArtifactFetcher
	Artifacts   []sources.Source
	AppSource   func(app api.App, version string) sources.Source
	Selector    Selector
	Builder     Builder
	Store       *Store
	// Out receives progress lines. Late completion lines can be written
	// while the engine runs, so Out and the engine relay share one lock.
	Out         io.Writer
	Concurrency int

	mu     sync.Mutex
	states []State
}

// NewOrchestrator wires the default sources, catalog and engine for a session.
func NewOrchestrator(s *Session, sel Selector, out io.Writer) *Orchestrator {
	cfg := s.Config
	if out == nil {
		out = io.Discard
	}
	out = &lockedWriter{w: out}
	repo := func(name string) sources.Source {
		return &sources.GitHubRelease{
			Client: s.Client,
			Base:   cfg.Sources.GitHubBase,
			Owner:  cfg.Sources.GitHubOwner,
			Repo:   name,
			Offset: 2,
		}
	}
	return &Orchestrator{
		Session:   s,
		Catalog:   NewCatalogClient(s.Client, cfg.Sources.CatalogURL),
		Fetcher:   NewFetcher(s),
		Artifacts: []sources.Source{repo("cli"), repo("integrations"), repo("patches")},
		AppSource: func(app api.App, version string) sources.Source {
			return &sources.APKMirror{Client: s.Client, Base: cfg.Sources.APKMirrorBase, App: app, Version: version}
		},
		Selector:    sel,
		Builder:     &Engine{Java: cfg.Java, Stdout: out, Stderr: os.Stderr, Metrics: s.Metrics},
		Out:         out,
		Concurrency: cfg.Concurrency,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.states) == 0 {
		return StateInit
	}
	return o.states[len(o.states)-1]
}

// States returns every state entered so far, in order.
func (o *Orchestrator) States() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
	log.Debug().Str("state", s.String()).Msg("run state")
}

// Run performs one patch run for app and writes the package to dest.
func (o *Orchestrator) Run(ctx context.Context, app api.App, dest string) (rep *RunReport, err error) {
	o.setState(StateInit)
	rep = &RunReport{App: app, Output: dest}
	out := o.Out
	if out == nil {
		out = io.Discard
	}
	defer func() {
		if err != nil {
			o.setState(StateFailed)
		}
	}()

	if o.Store != nil {
		if rep.RunID, err = o.Store.StartRun(ctx, app); err != nil {
			log.Warn().Err(err).Msg("run history unavailable")
			rep.RunID, err = "", nil
		} else {
			defer func() {
				if ferr := o.Store.FinishRun(context.WithoutCancel(ctx), rep.RunID, dest, rep.Selection, err); ferr != nil {
					log.Warn().Err(ferr).Msg("record run")
				}
			}()
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limit := o.Concurrency
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	results := make(chan api.FetchResult, len(o.Artifacts)+1)
	reporter := NewReporter(0)
	go reporter.Feed(results)

	var optional sync.WaitGroup
	required, gctx := errgroup.WithContext(ctx)

	launch := func(src sources.Source) {
		reporter.Expect(1)
		if !src.Required() {
			optional.Add(1)
			go func() {
				defer optional.Done()
				if err := o.fetch(ctx, sem, src, results); err != nil {
					reporter.Expect(-1)
					log.Warn().Err(err).Str("source", src.Name()).Msg("optional artifact skipped")
				}
			}()
			return
		}
		required.Go(func() error { return o.fetch(gctx, sem, src, results) })
	}

	o.setState(StateFetching)
	for _, src := range o.Artifacts {
		launch(src)
	}

	selected := make(chan struct{})
	required.Go(func() error {
		timer := o.Session.Metrics.StartTimer("pyrevanced_catalog_duration", map[string]string{"app": app.Token()})
		descs, version, err := o.Catalog.Resolve(gctx, app)
		timer.End()
		if err != nil {
			return err
		}
		rep.Patches, rep.Version = descs, version
		if o.Store != nil && rep.RunID != "" {
			if err := o.Store.SetVersion(gctx, rep.RunID, version); err != nil {
				log.Warn().Err(err).Msg("record version")
			}
		}
		launch(o.AppSource(app, version))

		o.setState(StateAwaitingSelection)
		indices, err := o.Selector.Select(gctx, descs)
		if err != nil {
			return fmt.Errorf("select patches: %w", err)
		}
		rep.Selection = api.NewPatchSelection(descs, indices)
		close(selected)
		return nil
	})

	// Completions are reported once the operator is done with the prompt.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		// gctx is also cancelled when the group finishes cleanly, so a
		// completed selection wins.
		select {
		case <-selected:
		case <-gctx.Done():
			select {
			case <-selected:
			default:
				return
			}
		}
		_ = reporter.Drain(ctx, func(res api.FetchResult) {
			fmt.Fprintln(out, FormatResult(res))
			rep.Fetches = append(rep.Fetches, res)
			if o.Store != nil && rep.RunID != "" {
				if err := o.Store.RecordFetch(ctx, rep.RunID, res); err != nil {
					log.Warn().Err(err).Msg("record fetch")
				}
			}
		})
	}()

	// settle waits for every worker and the drain; after it returns no
	// goroutine started by Run is left running.
	settle := func(abort bool) {
		if abort {
			cancel()
		}
		optional.Wait()
		close(results)
		<-drained
	}

	if err = required.Wait(); err != nil {
		settle(true)
		return rep, err
	}
	if optionalPending(o.Artifacts) == 0 {
		<-drained
	}
	fmt.Fprintln(out, "Download completed.")

	o.setState(StateInvoking)
	if err = o.Builder.Build(ctx, NewInvocationSpec(o.Session, rep.Selection), dest); err != nil {
		settle(true)
		return rep, err
	}
	settle(false)

	o.setState(StateDone)
	log.Info().Str("output", dest).Str("version", rep.Version).Int("included", len(rep.Selection.Included)).Msg("patched package written")
	return rep, nil
}

// fetch resolves src and downloads it, holding a pool slot for the duration.
func (o *Orchestrator) fetch(ctx context.Context, sem chan struct{}, src sources.Source, results chan<- api.FetchResult) error {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()

	task, err := src.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", ErrTransfer, src.Name(), err)
	}
	res, err := o.Fetcher.Fetch(ctx, task)
	if err != nil {
		return err
	}
	results <- res
	return nil
}

func optionalPending(srcs []sources.Source) int {
	n := 0
	for _, s := range srcs {
		if !s.Required() {
			n++
		}
	}
	return n
}

// lockedWriter serializes writes so lines from two goroutines never mix.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
