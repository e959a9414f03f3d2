package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliharslan0/pyrevanced/pkg/api"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.StartRun(ctx, api.YouTube)
	require.NoError(t, err)
	require.NoError(t, s.SetVersion(ctx, id, "18.3.39"))
	require.NoError(t, s.RecordFetch(ctx, id, api.FetchResult{Name: "patches.jar", Elapsed: 900 * time.Millisecond, Bytes: 10}))
	require.NoError(t, s.RecordFetch(ctx, id, api.FetchResult{Name: "cli.jar", Elapsed: 300 * time.Millisecond, Bytes: 20}))
	sel := api.PatchSelection{Included: []string{"a"}, Excluded: []string{"b", "c"}}
	require.NoError(t, s.FinishRun(ctx, id, "revanced.apk", sel, nil))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	r := runs[0]
	assert.Equal(t, id, r.ID)
	assert.Equal(t, "yt", r.App)
	assert.Equal(t, "18.3.39", r.Version)
	assert.Equal(t, api.RunSucceeded, r.Status)
	assert.Equal(t, 1, r.Included)
	assert.Equal(t, 2, r.Excluded)
	assert.False(t, r.FinishedAt.IsZero())
	require.Len(t, r.Fetches, 2)
	assert.Equal(t, "cli.jar", r.Fetches[0].Name)
	assert.Equal(t, 300*time.Millisecond, r.Fetches[0].Elapsed)
}

func TestStoreFailedRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.StartRun(ctx, api.YouTubeMusic)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, id, "", api.PatchSelection{}, errors.New("boom")))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, api.RunFailed, runs[0].Status)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Empty(t, runs[0].Fetches)
}

func TestStoreListLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	var last string
	for i := 0; i < 3; i++ {
		id, err := s.StartRun(ctx, api.YouTube)
		require.NoError(t, err)
		last = id
	}
	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, last, runs[0].ID)
	assert.Equal(t, api.RunRunning, runs[0].Status)
}
