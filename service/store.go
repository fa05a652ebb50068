package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SceneForge-server/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Persister receives a copy of every committed project or scene.
type Persister interface {
	SaveProject(ctx context.Context, p models.Project) error
	SaveScene(ctx context.Context, s models.Scene) error
}

// ScenePatch is a merge-patch: nil fields are left untouched.
type ScenePatch struct {
	Description     *string
	VideoPrompt     *string
	NarrationScript *string
	MusicPrompt     *string
	Mode            *models.GenerationMode
	Params          *models.SceneParams
	Assets          map[models.AssetType]string
	ClearAssets     []models.AssetType
	Status          *models.SceneStatus
	LastError       *string
}

// AssetPatch fills one asset slot.
func AssetPatch(asset models.AssetType, url string) ScenePatch {
	return ScenePatch{Assets: map[models.AssetType]string{asset: url}}
}

// StatusPatch moves the scene to status, recording reason as the last error
// when it is non-empty.
func StatusPatch(status models.SceneStatus, reason string) ScenePatch {
	p := ScenePatch{Status: &status}
	if reason != "" {
		p.LastError = &reason
	}
	return p
}

// ProjectPatch is a merge-patch for project fields.
type ProjectPatch struct {
	Idea           *string
	SceneCount     *int
	Render         *models.RenderConfig
	Status         *models.ProjectStatus
	FinalOutputURL *string
	LastError      *string
}

// Store is the authoritative in-memory state of projects and scenes.
// ApplyPatch is the only way scenes change after creation.
type Store struct {
	mu        sync.Mutex
	projects  map[string]*models.Project
	scenes    map[string]*models.Scene
	byProject map[string][]string

	persister Persister
	notifier  Notifier
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewStore(logger *zap.Logger, notifier Notifier, metrics *Metrics, persister Persister) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Store{
		projects:  make(map[string]*models.Project),
		scenes:    make(map[string]*models.Scene),
		byProject: make(map[string][]string),
		persister: persister,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger.Named("store"),
		now:       time.Now,
	}
}

// Load replaces nothing; it adds previously persisted rows to the store.
func (s *Store) Load(projects []models.Project, scenes []models.Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range projects {
		p := projects[i].Clone()
		s.projects[p.ID] = &p
	}
	for i := range scenes {
		sc := scenes[i].Clone()
		if _, ok := s.scenes[sc.ID]; !ok {
			s.byProject[sc.ProjectID] = append(s.byProject[sc.ProjectID], sc.ID)
		}
		s.scenes[sc.ID] = &sc
	}
}

// CreateProject registers a new project in draft status.
func (s *Store) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := s.projects[p.ID]; exists {
		return models.Project{}, fmt.Errorf("project %s already exists", p.ID)
	}
	if p.Status == "" {
		p.Status = models.ProjectStatusDraft
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	stored := p.Clone()
	s.projects[p.ID] = &stored
	s.persistProject(ctx, stored)
	return stored.Clone(), nil
}

// AddScenes appends scenes to a project, assigning ids and sequence numbers
// after the current last scene. Scenes without prompts start in
// pending_prompts, the rest in pending_assets.
func (s *Store) AddScenes(ctx context.Context, projectID string, scenes []models.Scene) ([]models.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; !ok {
		return nil, ErrProjectNotFound
	}
	seq := len(s.byProject[projectID])
	now := s.now()
	out := make([]models.Scene, 0, len(scenes))
	for _, sc := range scenes {
		seq++
		sc.ID = uuid.NewString()
		sc.ProjectID = projectID
		sc.Sequence = seq
		if sc.Mode == "" {
			sc.Mode = models.ModeTextToVideo
		}
		sc.Status = models.ScenePendingPrompts
		sc.Status = models.DeriveStatus(&sc)
		sc.CreatedAt = now
		sc.UpdatedAt = now
		stored := sc.Clone()
		s.scenes[sc.ID] = &stored
		s.byProject[projectID] = append(s.byProject[projectID], sc.ID)
		s.persistScene(ctx, stored)
		out = append(out, stored.Clone())
	}
	return out, nil
}

func (s *Store) Project(id string) (models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return models.Project{}, ErrProjectNotFound
	}
	return p.Clone(), nil
}

func (s *Store) Scene(id string) (models.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[id]
	if !ok {
		return models.Scene{}, ErrSceneNotFound
	}
	return sc.Clone(), nil
}

// Scenes returns copies of a project's scenes ordered by sequence.
func (s *Store) Scenes(projectID string) ([]models.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return nil, ErrProjectNotFound
	}
	ids := s.byProject[projectID]
	out := make([]models.Scene, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.scenes[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// ApplyPatch merges patch into the scene and recomputes its derived status
// inside the same critical section.
func (s *Store) ApplyPatch(ctx context.Context, sceneID string, patch ScenePatch) (models.Scene, error) {
	s.mu.Lock()
	cur, ok := s.scenes[sceneID]
	if !ok {
		s.mu.Unlock()
		return models.Scene{}, ErrSceneNotFound
	}
	prev := cur.Status
	next := cur.Clone()

	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.VideoPrompt != nil {
		next.VideoPrompt = *patch.VideoPrompt
	}
	if patch.NarrationScript != nil {
		next.NarrationScript = *patch.NarrationScript
	}
	if patch.MusicPrompt != nil {
		next.MusicPrompt = *patch.MusicPrompt
	}
	if patch.Mode != nil {
		next.Mode = *patch.Mode
	}
	if patch.Params != nil {
		next.Params = *patch.Params
	}
	for _, a := range patch.ClearAssets {
		next.SetAssetURL(a, nil)
	}
	for a, url := range patch.Assets {
		u := url
		next.SetAssetURL(a, &u)
	}
	if patch.LastError != nil {
		next.LastError = *patch.LastError
	}
	if patch.Status != nil {
		to := *patch.Status
		if !models.CanTransition(prev, to) {
			s.mu.Unlock()
			return models.Scene{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, prev, to)
		}
		if to == models.SceneComplete && !next.HasAllRequired() {
			s.mu.Unlock()
			return models.Scene{}, fmt.Errorf("%w: required assets missing %v", models.ErrInvalidTransition, next.MissingAssets())
		}
		next.Status = to
	}
	next.Status = models.DeriveStatus(&next)
	next.UpdatedAt = s.now()

	*cur = next
	committed := next.Clone()
	s.persistScene(ctx, committed)
	s.mu.Unlock()

	if committed.Status != prev {
		s.announce(committed, prev)
	}
	return committed, nil
}

// PatchProject merges patch into the project.
func (s *Store) PatchProject(ctx context.Context, projectID string, patch ProjectPatch) (models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.projects[projectID]
	if !ok {
		return models.Project{}, ErrProjectNotFound
	}
	next := cur.Clone()
	if patch.Idea != nil {
		next.Idea = *patch.Idea
	}
	if patch.SceneCount != nil {
		next.SceneCount = *patch.SceneCount
	}
	if patch.Render != nil {
		next.Render = *patch.Render
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.FinalOutputURL != nil {
		v := *patch.FinalOutputURL
		next.FinalOutputURL = &v
	}
	if patch.LastError != nil {
		next.LastError = *patch.LastError
	}
	next.UpdatedAt = s.now()
	*cur = next
	s.persistProject(ctx, next)
	return next.Clone(), nil
}

func (s *Store) announce(sc models.Scene, prev models.SceneStatus) {
	s.metrics.SceneTransition(string(sc.Status))
	s.logger.Debug("scene status changed",
		zap.String("scene_id", sc.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(sc.Status)))

	e := Event{
		Type:      EventSceneStatusChanged,
		ProjectID: sc.ProjectID,
		SceneID:   sc.ID,
		Status:    sc.Status,
		Message:   fmt.Sprintf("%s -> %s", prev, sc.Status),
		At:        sc.UpdatedAt,
	}
	switch sc.Status {
	case models.SceneComplete:
		e.Type = EventSceneComplete
	case models.SceneFailed:
		e.Type = EventSceneFailed
		e.Message = sc.LastError
	}
	s.notifier.Notify(e)
}

// persist* run under s.mu so rows reach the database in commit order.
func (s *Store) persistScene(ctx context.Context, sc models.Scene) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveScene(ctx, sc); err != nil {
		s.logger.Error("persist scene failed", zap.String("scene_id", sc.ID), zap.Error(err))
	}
}

func (s *Store) persistProject(ctx context.Context, p models.Project) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveProject(ctx, p); err != nil {
		s.logger.Error("persist project failed", zap.String("project_id", p.ID), zap.Error(err))
	}
}
