package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"SceneForge-server/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memPersister struct {
	mu       sync.Mutex
	scenes   []models.Scene
	projects []models.Project
	err      error
}

func (m *memPersister) SaveProject(_ context.Context, p models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects = append(m.projects, p)
	return m.err
}

func (m *memPersister) SaveScene(_ context.Context, s models.Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenes = append(m.scenes, s)
	return m.err
}

func newGeneratingScene(t *testing.T, s *Store, sc models.Scene) models.Scene {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreateProject(ctx, models.Project{Idea: "test"})
	require.NoError(t, err)
	created, err := s.AddScenes(ctx, p.ID, []models.Scene{sc})
	require.NoError(t, err)
	out, err := s.ApplyPatch(ctx, created[0].ID, StatusPatch(models.SceneGenerating, ""))
	require.NoError(t, err)
	return out
}

func TestAddScenesAssignsSequenceAndStatus(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	ctx := context.Background()
	p, err := s.CreateProject(ctx, models.Project{Idea: "test"})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusDraft, p.Status)

	first, err := s.AddScenes(ctx, p.ID, []models.Scene{{Description: "no prompts"}, videoNarrationScene()})
	require.NoError(t, err)
	second, err := s.AddScenes(ctx, p.ID, []models.Scene{{MusicPrompt: "strings"}})
	require.NoError(t, err)

	assert.Equal(t, 1, first[0].Sequence)
	assert.Equal(t, 2, first[1].Sequence)
	assert.Equal(t, 3, second[0].Sequence)
	assert.Equal(t, models.ScenePendingPrompts, first[0].Status)
	assert.Equal(t, models.ScenePendingAssets, first[1].Status)
	assert.Equal(t, models.ModeTextToVideo, first[1].Mode)

	scenes, err := s.Scenes(p.ID)
	require.NoError(t, err)
	require.Len(t, scenes, 3)
	for i, sc := range scenes {
		assert.Equal(t, i+1, sc.Sequence)
	}

	_, err = s.AddScenes(ctx, "missing", []models.Scene{{}})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestApplyPatchMergesOnlySetFields(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	sc := newGeneratingScene(t, s, models.Scene{VideoPrompt: "v", NarrationScript: "n", MusicPrompt: "m"})

	_, err := s.ApplyPatch(context.Background(), sc.ID, AssetPatch(models.AssetVideo, "https://cdn.test/v.mp4"))
	require.NoError(t, err)
	out, err := s.ApplyPatch(context.Background(), sc.ID, AssetPatch(models.AssetMusic, "https://cdn.test/m.mp3"))
	require.NoError(t, err)

	require.NotNil(t, out.VideoURL)
	require.NotNil(t, out.MusicURL)
	assert.Nil(t, out.NarrationURL)
	assert.Equal(t, "https://cdn.test/v.mp4", *out.VideoURL)
	assert.Equal(t, "v", out.VideoPrompt)
	assert.Equal(t, models.SceneGenerating, out.Status)
}

func TestApplyPatchCompletesInEitherOrder(t *testing.T) {
	orders := [][]models.AssetType{
		{models.AssetVideo, models.AssetNarration},
		{models.AssetNarration, models.AssetVideo},
	}
	for _, order := range orders {
		s := NewStore(zap.NewNop(), nil, nil, nil)
		sc := newGeneratingScene(t, s, videoNarrationScene())

		mid, err := s.ApplyPatch(context.Background(), sc.ID, AssetPatch(order[0], "u0"))
		require.NoError(t, err)
		assert.Equal(t, models.SceneGenerating, mid.Status, "after %s", order[0])

		final, err := s.ApplyPatch(context.Background(), sc.ID, AssetPatch(order[1], "u1"))
		require.NoError(t, err)
		assert.Equal(t, models.SceneComplete, final.Status, "order %v", order)
	}
}

func TestConcurrentCompletionsAreNotLost(t *testing.T) {
	events := &recorder{}
	s := NewStore(zap.NewNop(), events, nil, nil)
	sc := newGeneratingScene(t, s, models.Scene{VideoPrompt: "v", NarrationScript: "n", MusicPrompt: "m"})

	var wg sync.WaitGroup
	for _, a := range models.AllAssetTypes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyPatch(context.Background(), sc.ID, AssetPatch(a, "https://cdn.test/"+string(a)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	out, err := s.Scene(sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SceneComplete, out.Status)
	assert.True(t, out.HasAllRequired())
	assert.Equal(t, 1, events.count(EventSceneComplete))
}

func TestApplyPatchRejectsIllegalTransitions(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	sc := newGeneratingScene(t, s, videoNarrationScene())

	_, err := s.ApplyPatch(context.Background(), sc.ID, StatusPatch(models.ScenePendingAssets, ""))
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = s.ApplyPatch(context.Background(), sc.ID, StatusPatch(models.SceneComplete, ""))
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "complete needs every required slot")

	out, err := s.Scene(sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SceneGenerating, out.Status)

	_, err = s.ApplyPatch(context.Background(), "missing", ScenePatch{})
	assert.ErrorIs(t, err, ErrSceneNotFound)
}

func TestFailedSceneStaysFailedWhenLateAssetArrives(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	sc := newGeneratingScene(t, s, videoNarrationScene())
	ctx := context.Background()

	_, err := s.ApplyPatch(ctx, sc.ID, StatusPatch(models.SceneFailed, "narration: boom"))
	require.NoError(t, err)
	_, err = s.ApplyPatch(ctx, sc.ID, AssetPatch(models.AssetNarration, "n"))
	require.NoError(t, err)
	out, err := s.ApplyPatch(ctx, sc.ID, AssetPatch(models.AssetVideo, "v"))
	require.NoError(t, err)

	assert.Equal(t, models.SceneFailed, out.Status)
	assert.Equal(t, "narration: boom", out.LastError)
}

func TestReadsReturnCopies(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	sc := newGeneratingScene(t, s, videoNarrationScene())
	_, err := s.ApplyPatch(context.Background(), sc.ID, AssetPatch(models.AssetVideo, "v"))
	require.NoError(t, err)

	got, err := s.Scene(sc.ID)
	require.NoError(t, err)
	*got.VideoURL = "tampered"

	again, err := s.Scene(sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", *again.VideoURL)
}

func TestStorePersistsEveryCommit(t *testing.T) {
	p := &memPersister{}
	s := NewStore(zap.NewNop(), nil, nil, p)
	sc := newGeneratingScene(t, s, videoNarrationScene())
	_, err := s.ApplyPatch(context.Background(), sc.ID, AssetPatch(models.AssetVideo, "v"))
	require.NoError(t, err)

	require.Len(t, p.projects, 1)
	require.Len(t, p.scenes, 3)
	assert.Equal(t, models.ScenePendingAssets, p.scenes[0].Status)
	assert.Equal(t, models.SceneGenerating, p.scenes[1].Status)
	require.NotNil(t, p.scenes[2].VideoURL)
}

func TestPersistFailureDoesNotRollBack(t *testing.T) {
	p := &memPersister{err: errors.New("db down")}
	s := NewStore(zap.NewNop(), nil, nil, p)
	sc := newGeneratingScene(t, s, models.Scene{VideoPrompt: "v"})
	out, err := s.ApplyPatch(context.Background(), sc.ID, AssetPatch(models.AssetVideo, "v"))
	require.NoError(t, err)
	assert.Equal(t, models.SceneComplete, out.Status)
}

func TestStoreAnnouncesStatusChanges(t *testing.T) {
	events := &recorder{}
	s := NewStore(zap.NewNop(), events, nil, nil)
	sc := newGeneratingScene(t, s, models.Scene{VideoPrompt: "v"})
	_, err := s.ApplyPatch(context.Background(), sc.ID, StatusPatch(models.SceneFailed, "video: timed out"))
	require.NoError(t, err)

	assert.Equal(t, 1, events.count(EventSceneStatusChanged))
	assert.Equal(t, 1, events.count(EventSceneFailed))
	got := events.forScene(sc.ID)
	require.NotEmpty(t, got)
	assert.Equal(t, "video: timed out", got[len(got)-1].Message)
}

func TestLoadRestoresState(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	url := "v"
	s.Load(
		[]models.Project{{ID: "p1", Status: models.ProjectStatusPlanningScenes}},
		[]models.Scene{
			{ID: "s2", ProjectID: "p1", Sequence: 2, Status: models.ScenePendingAssets},
			{ID: "s1", ProjectID: "p1", Sequence: 1, Status: models.SceneComplete, VideoPrompt: "x", VideoURL: &url},
		},
	)
	scenes, err := s.Scenes("p1")
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, "s1", scenes[0].ID)

	added, err := s.AddScenes(context.Background(), "p1", []models.Scene{{}})
	require.NoError(t, err)
	assert.Equal(t, 3, added[0].Sequence)
}

func TestPatchProject(t *testing.T) {
	s := NewStore(zap.NewNop(), nil, nil, nil)
	p, err := s.CreateProject(context.Background(), models.Project{Idea: "x"})
	require.NoError(t, err)

	final := "https://cdn.test/final.mp4"
	st := models.ProjectStatusComplete
	out, err := s.PatchProject(context.Background(), p.ID, ProjectPatch{Status: &st, FinalOutputURL: &final})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusComplete, out.Status)
	require.NotNil(t, out.FinalOutputURL)
	assert.Equal(t, final, *out.FinalOutputURL)
	assert.Equal(t, "x", out.Idea)

	_, err = s.PatchProject(context.Background(), "missing", ProjectPatch{})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}
