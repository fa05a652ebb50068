package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SceneForge-server/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStitcher struct {
	mu      sync.Mutex
	calls   int
	result  StitchResult
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeStitcher) Stitch(ctx context.Context, _ string) (StitchResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	return f.result, f.err
}

func (f *fakeStitcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestIsReady(t *testing.T) {
	complete := models.Scene{Status: models.SceneComplete}
	cases := []struct {
		name   string
		scenes []models.Scene
		want   bool
	}{
		{"no scenes", nil, false},
		{"all complete", []models.Scene{complete, complete}, true},
		{"one generating", []models.Scene{complete, {Status: models.SceneGenerating}}, false},
		{"one failed", []models.Scene{{Status: models.SceneFailed}, complete}, false},
		{"one pending", []models.Scene{complete, {Status: models.ScenePendingAssets}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsReady(tc.scenes))
		})
	}
}

// readyProject returns a project whose only scene is complete.
func readyProject(t *testing.T, s *Store) models.Project {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreateProject(ctx, models.Project{Idea: "x"})
	require.NoError(t, err)
	scenes, err := s.AddScenes(ctx, p.ID, []models.Scene{{VideoPrompt: "v"}})
	require.NoError(t, err)
	_, err = s.ApplyPatch(ctx, scenes[0].ID, StatusPatch(models.SceneGenerating, ""))
	require.NoError(t, err)
	_, err = s.ApplyPatch(ctx, scenes[0].ID, AssetPatch(models.AssetVideo, "v.mp4"))
	require.NoError(t, err)
	return p
}

func TestStitchRejectedUntilReady(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	st := &fakeStitcher{result: StitchResult{Dispatched: true}}
	g := NewGate(s, st, nil, nil, zap.NewNop())
	ctx := context.Background()

	p, err := s.CreateProject(ctx, models.Project{Idea: "x"})
	require.NoError(t, err)
	_, err = g.Stitch(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = s.AddScenes(ctx, p.ID, []models.Scene{{VideoPrompt: "v"}})
	require.NoError(t, err)
	_, err = g.Stitch(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, st.callCount())

	_, err = g.Stitch(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestStitchSynchronousResult(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	events := &recorder{}
	st := &fakeStitcher{result: StitchResult{FinalAssetURL: "https://cdn.test/final.mp4"}}
	g := NewGate(s, st, events, nil, zap.NewNop())
	p := readyProject(t, s)

	out, err := g.Stitch(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusComplete, out.Status)
	require.NotNil(t, out.FinalOutputURL)
	assert.Equal(t, "https://cdn.test/final.mp4", *out.FinalOutputURL)
	assert.Equal(t, 1, events.count(EventStitchComplete))
}

func TestStitchDispatchedThenCompleted(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	st := &fakeStitcher{result: StitchResult{Dispatched: true}}
	g := NewGate(s, st, nil, nil, zap.NewNop())
	p := readyProject(t, s)
	ctx := context.Background()

	out, err := g.Stitch(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusAssembling, out.Status)

	_, err = g.Stitch(ctx, p.ID)
	assert.ErrorIs(t, err, ErrStitchInFlight)
	assert.Equal(t, 1, st.callCount())

	out, err = g.CompleteStitch(ctx, p.ID, "https://cdn.test/final.mp4", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusComplete, out.Status)
	require.NotNil(t, out.FinalOutputURL)

	_, err = g.CompleteStitch(ctx, p.ID, "https://cdn.test/again.mp4", "")
	assert.ErrorIs(t, err, ErrNotAssembling)
}

func TestCompleteStitchFailure(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	g := NewGate(s, &fakeStitcher{result: StitchResult{Dispatched: true}}, nil, nil, zap.NewNop())
	p := readyProject(t, s)
	ctx := context.Background()

	_, err := g.Stitch(ctx, p.ID)
	require.NoError(t, err)
	out, err := g.CompleteStitch(ctx, p.ID, "", "ffmpeg exited 1")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusFailed, out.Status)
	assert.Equal(t, "ffmpeg exited 1", out.LastError)
	assert.Nil(t, out.FinalOutputURL)
}

func TestStitchCollaboratorErrorFailsProject(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	events := &recorder{}
	st := &fakeStitcher{err: errors.New("redis unreachable")}
	g := NewGate(s, st, events, nil, zap.NewNop())
	p := readyProject(t, s)

	out, err := g.Stitch(context.Background(), p.ID)
	require.Error(t, err)
	assert.ErrorContains(t, err, "redis unreachable")
	assert.Equal(t, models.ProjectStatusFailed, out.Status)
	assert.Equal(t, "redis unreachable", out.LastError)
	assert.Equal(t, 1, events.count(EventStitchFailed))

	// A failed project whose scenes are still complete may be stitched again.
	st.err = nil
	st.result = StitchResult{FinalAssetURL: "https://cdn.test/final.mp4"}
	out, err = g.Stitch(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusComplete, out.Status)
	assert.Empty(t, out.LastError)
}

func TestConcurrentStitchCallsCollaboratorOnce(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	st := &fakeStitcher{
		result:  StitchResult{Dispatched: true},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	g := NewGate(s, st, nil, nil, zap.NewNop())
	p := readyProject(t, s)

	done := make(chan error, 1)
	go func() {
		_, err := g.Stitch(context.Background(), p.ID)
		done <- err
	}()

	select {
	case <-st.started:
	case <-time.After(time.Second):
		t.Fatal("stitcher was not called")
	}
	_, err := g.Stitch(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrStitchInFlight)

	close(st.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, st.callCount())
}
