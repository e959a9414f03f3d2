package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliharslan0/pyrevanced/internal/sources"
	"github.com/aliharslan0/pyrevanced/pkg/api"
)

type fixedSelector struct {
	indices []int
	seen    []api.PatchDescriptor
}

func (s *fixedSelector) Select(_ context.Context, patches []api.PatchDescriptor) ([]int, error) {
	s.seen = patches
	return s.indices, nil
}

type countingBuilder struct{ calls int32 }

func (b *countingBuilder) Build(context.Context, api.InvocationSpec, string) error {
	atomic.AddInt32(&b.calls, 1)
	return nil
}

// fakeRemote serves release pages, the app download flow, the catalog and
// the artifact bodies. Paths listed in broken answer 404.
func fakeRemote(t *testing.T, broken ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for _, repo := range []string{"cli", "integrations", "patches"} {
		ext := ".jar"
		if repo == "integrations" {
			ext = ".apk"
		}
		page := fmt.Sprintf(`<ul>
<li class="Box-row"><div><span></span><a href="/dl/%s%s">asset</a></div></li>
<li class="Box-row"><div><span></span><a href="/archive/v1.zip">zip</a></div></li>
<li class="Box-row"><div><span></span><a href="/archive/v1.tar.gz">tar</a></div></li>
</ul>`, repo, ext)
		mux.HandleFunc("/revanced/revanced-"+repo+"/releases/latest", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, page)
		})
	}
	mux.HandleFunc("/README.md", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, readme)
	})
	mux.HandleFunc("/apk/google-inc/youtube/youtube-18-03-39-release/youtube-18-03-39-android-apk-download/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a class="accent_bg" href="/step2/">download</a>`)
	})
	mux.HandleFunc("/step2/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div><p class="notes">x</p><p class="notes">y</p><p class="notes"><span><a href="/dl/app.apk">here</a></span></p></div>`)
	})
	mux.HandleFunc("/dl/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "content-of-"+strings.TrimPrefix(r.URL.Path, "/dl/"))
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, b := range broken {
			if r.URL.Path == b {
				http.NotFound(w, r)
				return
			}
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSession(t *testing.T, base string) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Sources.GitHubBase = base
	cfg.Sources.APKMirrorBase = base
	cfg.Sources.CatalogURL = base + "/README.md"
	cfg.Concurrency = 2
	return &Session{
		Config:  cfg,
		Client:  sources.NewClient(sources.ClientOptions{UserAgent: cfg.UserAgent}),
		WorkDir: t.TempDir(),
	}
}

func TestOrchestratorRun(t *testing.T) {
	srv := fakeRemote(t)
	s := testSession(t, srv.URL)
	s.Config.Java = fakeJava(t, t.TempDir(), 0, false)

	out := &syncBuffer{}
	sel := &fixedSelector{indices: []int{0, 2, 7}}
	o := NewOrchestrator(s, sel, out)
	o.Store = newTestStore(t)

	dest := filepath.Join(t.TempDir(), DefaultOutput)
	rep, err := o.Run(context.Background(), api.YouTube, dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "content-of-app.apk", string(got))

	for _, name := range []string{EngineJarName, BundleName, IntegrationsName} {
		body, err := os.ReadFile(s.Path(name))
		require.NoError(t, err)
		assert.Equal(t, "content-of-"+name, string(body))
	}

	assert.Equal(t, "18.3.39", rep.Version)
	assert.Len(t, sel.seen, 3)
	assert.Equal(t, []string{"hide-ads", "hide-shorts-button"}, rep.Selection.Included)
	assert.Equal(t, []string{"sponsorblock"}, rep.Selection.Excluded)
	assert.Len(t, rep.Fetches, 4)
	assert.Equal(t, []State{StateInit, StateFetching, StateAwaitingSelection, StateInvoking, StateDone}, o.States())

	text := out.String()
	assert.Equal(t, 4, strings.Count(text, " downloaded in "))
	assert.Contains(t, text, "Download completed.\n")
	assert.Contains(t, text, "Patching completed in ")
	assert.Less(t, strings.Index(text, "Download completed."), strings.Index(text, "Patching completed"))

	runs, err := o.Store.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, api.RunSucceeded, runs[0].Status)
	assert.Equal(t, "18.3.39", runs[0].Version)
	assert.Len(t, runs[0].Fetches, 4)
}

func TestOrchestratorRequiredFetchFails(t *testing.T) {
	srv := fakeRemote(t, "/revanced/revanced-cli/releases/latest")
	s := testSession(t, srv.URL)
	b := &countingBuilder{}
	o := NewOrchestrator(s, &fixedSelector{}, &syncBuffer{})
	o.Builder = b
	o.Store = newTestStore(t)

	dest := filepath.Join(t.TempDir(), DefaultOutput)
	_, err := o.Run(context.Background(), api.YouTube, dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransfer))
	assert.Zero(t, atomic.LoadInt32(&b.calls))
	assert.Equal(t, StateFailed, o.State())
	assert.NoFileExists(t, dest)

	runs, err := o.Store.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, api.RunFailed, runs[0].Status)
}

func TestOrchestratorCatalogUnavailable(t *testing.T) {
	srv := fakeRemote(t, "/README.md")
	s := testSession(t, srv.URL)
	b := &countingBuilder{}
	o := NewOrchestrator(s, &fixedSelector{}, &syncBuffer{})
	o.Builder = b

	_, err := o.Run(context.Background(), api.YouTube, filepath.Join(t.TempDir(), DefaultOutput))
	assert.True(t, errors.Is(err, ErrCatalogUnavailable))
	assert.Zero(t, atomic.LoadInt32(&b.calls))
}

func TestOrchestratorOptionalFetchFails(t *testing.T) {
	srv := fakeRemote(t)
	s := testSession(t, srv.URL)
	b := &countingBuilder{}
	out := &syncBuffer{}
	o := NewOrchestrator(s, &fixedSelector{indices: []int{1}}, out)
	o.Builder = b
	o.Artifacts = append(o.Artifacts, &sources.GitHubRelease{
		Client:   s.Client,
		Base:     srv.URL,
		Owner:    "revanced",
		Repo:     "extras",
		Offset:   2,
		Optional: true,
	})

	rep, err := o.Run(context.Background(), api.YouTube, filepath.Join(t.TempDir(), DefaultOutput))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&b.calls))
	assert.Len(t, rep.Fetches, 4)
	assert.Equal(t, []string{"sponsorblock"}, rep.Selection.Included)
	assert.Equal(t, StateDone, o.State())
}

// overlapWriter fails the test when two writes overlap.
type overlapWriter struct {
	t    *testing.T
	busy atomic.Bool
	n    atomic.Int32
}

func (w *overlapWriter) Write(p []byte) (int, error) {
	if !w.busy.CompareAndSwap(false, true) {
		w.t.Error("concurrent write to run output")
		return len(p), nil
	}
	defer w.busy.Store(false)
	w.n.Add(1)
	return len(p), nil
}

func TestOrchestratorOutputShared(t *testing.T) {
	s := testSession(t, "http://127.0.0.1:1")
	w := &overlapWriter{t: t}
	o := NewOrchestrator(s, &fixedSelector{}, w)

	eng, ok := o.Builder.(*Engine)
	require.True(t, ok)
	assert.Same(t, o.Out, eng.Stdout, "engine relay and progress lines must share a writer")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				fmt.Fprintln(o.Out, "cli.jar downloaded in 0.10 seconds.")
				fmt.Fprintln(eng.Stdout, "INFO: Executing patch")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(8*200*2), w.n.Load())
}
