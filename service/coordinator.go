package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SceneForge-server/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AssetDispatcher is the part of Dispatcher the coordinator depends on.
type AssetDispatcher interface {
	Dispatch(ctx context.Context, scene models.Scene, asset models.AssetType) (DispatchResult, error)
}

// AssetMirror copies a finished provider asset into our own storage.
type AssetMirror interface {
	Mirror(ctx context.Context, sceneID string, asset models.AssetType, sourceURL string) (string, error)
}

// SceneEdit carries operator edits to one scene. Nil fields are unchanged.
type SceneEdit struct {
	Description     *string
	VideoPrompt     *string
	NarrationScript *string
	MusicPrompt     *string
	Mode            *models.GenerationMode
	Params          *models.SceneParams
}

// Coordinator fans dispatches out per scene, hands deferred work to the
// poller and folds poll outcomes back into the store.
type Coordinator struct {
	store      *Store
	dispatcher AssetDispatcher
	poller     *Poller
	mirror     AssetMirror
	planner    Planner
	notifier   Notifier
	logger     *zap.Logger

	// admit serialises the read-check-reserve-patch step of GenerateAssets
	// and EditScene. Provider calls happen outside it.
	admit sync.Mutex

	DispatchConcurrency int
	// MirrorTimeout bounds one asset copy; on expiry the provider url is kept.
	MirrorTimeout time.Duration
}

func NewCoordinator(store *Store, dispatcher AssetDispatcher, poller *Poller, notifier Notifier, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	c := &Coordinator{
		store:               store,
		dispatcher:          dispatcher,
		poller:              poller,
		notifier:            notifier,
		logger:              logger.Named("coordinator"),
		DispatchConcurrency: 3,
		MirrorTimeout:       2 * time.Minute,
	}
	poller.SetSink(c)
	return c
}

// SetMirror enables copying completed assets before they are recorded.
func (c *Coordinator) SetMirror(m AssetMirror) { c.mirror = m }

// SetPlanner enables storyboard planning from a project idea.
func (c *Coordinator) SetPlanner(p Planner) { c.planner = p }

// GenerateAssets dispatches every missing required asset of the scene that
// has no active job. Calling it on a failed scene is the manual retry.
func (c *Coordinator) GenerateAssets(ctx context.Context, sceneID string) (models.Scene, error) {
	scene, toDispatch, err := c.admitGeneration(ctx, sceneID)
	if err != nil || len(toDispatch) == 0 {
		return scene, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.DispatchConcurrency)
	for _, asset := range toDispatch {
		g.Go(func() error {
			c.dispatchOne(gctx, scene, asset)
			return nil
		})
	}
	_ = g.Wait()

	return c.store.Scene(sceneID)
}

func (c *Coordinator) admitGeneration(ctx context.Context, sceneID string) (models.Scene, []models.AssetType, error) {
	c.admit.Lock()
	defer c.admit.Unlock()

	scene, err := c.store.Scene(sceneID)
	if err != nil {
		return models.Scene{}, nil, err
	}
	switch scene.Status {
	case models.SceneComplete:
		return scene, nil, nil
	case models.ScenePendingPrompts:
		if !scene.HasPrompts() {
			return scene, nil, ErrPromptsMissing
		}
	}

	var toDispatch []models.AssetType
	for _, asset := range scene.MissingAssets() {
		if c.poller.Reserve(models.JobKey{SceneID: sceneID, AssetType: asset}) {
			toDispatch = append(toDispatch, asset)
		}
	}

	if scene.Status != models.SceneGenerating {
		patch := StatusPatch(models.SceneGenerating, "")
		cleared := ""
		patch.LastError = &cleared
		scene, err = c.store.ApplyPatch(ctx, sceneID, patch)
		if err != nil {
			for _, asset := range toDispatch {
				c.poller.Release(models.JobKey{SceneID: sceneID, AssetType: asset})
			}
			return models.Scene{}, nil, err
		}
	}
	return scene, toDispatch, nil
}

func (c *Coordinator) dispatchOne(ctx context.Context, scene models.Scene, asset models.AssetType) {
	key := models.JobKey{SceneID: scene.ID, AssetType: asset}
	log := c.logger.With(zap.String("scene_id", scene.ID), zap.String("asset", string(asset)))

	c.notifier.Notify(Event{
		Type:      EventDispatchStarted,
		ProjectID: scene.ProjectID,
		SceneID:   scene.ID,
		AssetType: asset,
		At:        time.Now(),
	})

	res, err := c.dispatcher.Dispatch(ctx, scene, asset)
	if err != nil {
		c.poller.Release(key)
		log.Warn("dispatch failed", zap.Error(err))
		c.failAsset(ctx, scene.ID, asset, err.Error())
		return
	}
	if !res.IsDeferred() {
		c.poller.Release(key)
		c.completeAsset(ctx, scene.ProjectID, scene.ID, asset, "", res.AssetURL)
		return
	}

	job := models.Job{
		ID:          uuid.NewString(),
		ProjectID:   scene.ProjectID,
		SceneID:     scene.ID,
		AssetType:   asset,
		Handle:      *res.Handle,
		SubmittedAt: time.Now(),
	}
	if err := c.poller.Register(job); err != nil {
		c.poller.Release(key)
		log.Error("register job failed", zap.Error(err))
		return
	}
	log.Info("job registered", zap.String("job_id", job.ID), zap.String("task_id", job.Handle.TaskID))
}

// GenerateAll starts generation for every scene that is waiting for assets.
// Scenes already generating, complete or failed are left alone.
func (c *Coordinator) GenerateAll(ctx context.Context, projectID string) ([]string, error) {
	scenes, err := c.store.Scenes(projectID)
	if err != nil {
		return nil, err
	}
	var started []string
	var errs []error
	for _, sc := range scenes {
		eligible := sc.Status == models.ScenePendingAssets ||
			(sc.Status == models.ScenePendingPrompts && sc.HasPrompts())
		if !eligible {
			continue
		}
		if _, err := c.GenerateAssets(ctx, sc.ID); err != nil {
			errs = append(errs, fmt.Errorf("scene %d: %w", sc.Sequence, err))
			continue
		}
		started = append(started, sc.ID)
	}
	return started, errors.Join(errs...)
}

// ApplyOutcome folds one reconciled poll outcome into the store.
func (c *Coordinator) ApplyOutcome(ctx context.Context, o Outcome) {
	job := o.Job
	switch o.Kind {
	case OutcomeSucceeded:
		c.completeAsset(ctx, job.ProjectID, job.SceneID, job.AssetType, job.ID, o.AssetURL)
	case OutcomeFailed:
		c.failAsset(ctx, job.SceneID, job.AssetType, o.Reason)
	case OutcomeTimedOut:
		c.notifier.Notify(Event{
			Type:      EventJobTimedOut,
			ProjectID: job.ProjectID,
			SceneID:   job.SceneID,
			AssetType: job.AssetType,
			JobID:     job.ID,
			Message:   fmt.Sprintf("no result after %d polls", job.Attempts),
			At:        time.Now(),
		})
		c.failAsset(ctx, job.SceneID, job.AssetType, ReasonTimedOut)
	case OutcomeRateLimited:
		c.notifier.Notify(Event{
			Type:      EventRateLimitedRetry,
			ProjectID: job.ProjectID,
			SceneID:   job.SceneID,
			AssetType: job.AssetType,
			JobID:     job.ID,
			Message:   fmt.Sprintf("status check rate limited, attempt %d", job.Attempts),
			At:        time.Now(),
		})
	case OutcomeRunning:
		c.logger.Debug("job still running",
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts))
	}
}

func (c *Coordinator) completeAsset(ctx context.Context, projectID, sceneID string, asset models.AssetType, jobID, url string) {
	if c.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, c.MirrorTimeout)
		mirrored, err := c.mirror.Mirror(mctx, sceneID, asset, url)
		cancel()
		if err != nil {
			c.logger.Warn("asset mirror failed, keeping provider url",
				zap.String("scene_id", sceneID), zap.String("asset", string(asset)), zap.Error(err))
		} else {
			url = mirrored
		}
	}
	if _, err := c.store.ApplyPatch(ctx, sceneID, AssetPatch(asset, url)); err != nil {
		c.logger.Error("record asset failed", zap.String("scene_id", sceneID), zap.Error(err))
		return
	}
	c.notifier.Notify(Event{
		Type:      EventAssetReady,
		ProjectID: projectID,
		SceneID:   sceneID,
		AssetType: asset,
		JobID:     jobID,
		AssetURL:  url,
		At:        time.Now(),
	})
}

func (c *Coordinator) failAsset(ctx context.Context, sceneID string, asset models.AssetType, reason string) {
	msg := fmt.Sprintf("%s: %s", asset, reason)
	if _, err := c.store.ApplyPatch(ctx, sceneID, StatusPatch(models.SceneFailed, msg)); err != nil {
		c.logger.Warn("mark scene failed skipped",
			zap.String("scene_id", sceneID), zap.String("reason", msg), zap.Error(err))
	}
}

// EditScene applies operator edits. Changing the inputs of an asset clears
// that asset's slot; a complete or failed scene goes back to pending_assets.
func (c *Coordinator) EditScene(ctx context.Context, sceneID string, edit SceneEdit) (models.Scene, error) {
	c.admit.Lock()
	defer c.admit.Unlock()

	scene, err := c.store.Scene(sceneID)
	if err != nil {
		return models.Scene{}, err
	}
	if scene.Status == models.SceneGenerating {
		return scene, ErrSceneBusy
	}
	for _, asset := range models.AllAssetTypes {
		if c.poller.Has(models.JobKey{SceneID: sceneID, AssetType: asset}) {
			return scene, ErrSceneBusy
		}
	}
	if edit.Mode != nil && !edit.Mode.Valid() {
		return scene, &ValidationError{Mode: *edit.Mode, Field: "mode", Reason: "is unknown"}
	}

	patch := ScenePatch{
		Description:     edit.Description,
		VideoPrompt:     edit.VideoPrompt,
		NarrationScript: edit.NarrationScript,
		MusicPrompt:     edit.MusicPrompt,
		Mode:            edit.Mode,
		Params:          edit.Params,
	}

	var changed []models.AssetType
	if (edit.VideoPrompt != nil && *edit.VideoPrompt != scene.VideoPrompt) ||
		(edit.Mode != nil && *edit.Mode != scene.Mode) ||
		(edit.Params != nil && *edit.Params != scene.Params) {
		changed = append(changed, models.AssetVideo)
	}
	if edit.NarrationScript != nil && *edit.NarrationScript != scene.NarrationScript {
		changed = append(changed, models.AssetNarration)
	}
	if edit.MusicPrompt != nil && *edit.MusicPrompt != scene.MusicPrompt {
		changed = append(changed, models.AssetMusic)
	}
	if len(changed) > 0 {
		patch.ClearAssets = changed
		if scene.Status == models.SceneComplete || scene.Status == models.SceneFailed {
			reset := models.ScenePendingAssets
			cleared := ""
			patch.Status = &reset
			patch.LastError = &cleared
		}
	}
	return c.store.ApplyPatch(ctx, sceneID, patch)
}

// SeedScenes appends planned scenes to the project and marks it as planning.
func (c *Coordinator) SeedScenes(ctx context.Context, projectID string, planned []PlannedScene) ([]models.Scene, error) {
	project, err := c.store.Project(projectID)
	if err != nil {
		return nil, err
	}
	scenes := make([]models.Scene, 0, len(planned))
	for _, p := range planned {
		scenes = append(scenes, p.Scene())
	}
	created, err := c.store.AddScenes(ctx, projectID, scenes)
	if err != nil {
		return nil, err
	}
	patch := ProjectPatch{}
	if project.Status == models.ProjectStatusDraft {
		st := models.ProjectStatusPlanningScenes
		patch.Status = &st
	}
	all, err := c.store.Scenes(projectID)
	if err == nil {
		n := len(all)
		patch.SceneCount = &n
	}
	if _, err := c.store.PatchProject(ctx, projectID, patch); err != nil {
		return created, err
	}
	return created, nil
}

// PlanStoryboard asks the planner for the project's scenes and seeds them.
func (c *Coordinator) PlanStoryboard(ctx context.Context, projectID string) ([]models.Scene, error) {
	if c.planner == nil {
		return nil, ErrNoPlanner
	}
	project, err := c.store.Project(projectID)
	if err != nil {
		return nil, err
	}
	planned, err := c.planner.Plan(ctx, project.Idea, project.SceneCount)
	if err != nil {
		return nil, fmt.Errorf("plan storyboard: %w", err)
	}
	return c.SeedScenes(ctx, projectID, planned)
}
