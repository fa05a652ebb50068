package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SceneForge-server/models"

	"go.uber.org/zap"
)

var ErrNotAssembling = errors.New("project is not assembling")

// StitchResult is either synchronous (FinalAssetURL) or Dispatched.
type StitchResult struct {
	FinalAssetURL string
	Dispatched    bool
}

// Stitcher composes a project's scenes into the final video.
type Stitcher interface {
	Stitch(ctx context.Context, projectID string) (StitchResult, error)
}

// IsReady holds when there is at least one scene and every scene is complete.
func IsReady(scenes []models.Scene) bool {
	if len(scenes) == 0 {
		return false
	}
	for i := range scenes {
		if scenes[i].Status != models.SceneComplete {
			return false
		}
	}
	return true
}

// Gate guards the one irreversible stitch call per operator request.
type Gate struct {
	store    *Store
	stitcher Stitcher
	notifier Notifier
	metrics  *Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewGate(store *Store, stitcher Stitcher, notifier Notifier, metrics *Metrics, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Gate{
		store:    store,
		stitcher: stitcher,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.Named("gate"),
		inFlight: make(map[string]bool),
	}
}

// Ready evaluates IsReady over the project's current scenes.
func (g *Gate) Ready(projectID string) (bool, error) {
	scenes, err := g.store.Scenes(projectID)
	if err != nil {
		return false, err
	}
	return IsReady(scenes), nil
}

// Stitch calls the stitcher once when the project is ready and no stitch is
// in flight or assembling.
func (g *Gate) Stitch(ctx context.Context, projectID string) (models.Project, error) {
	g.mu.Lock()
	project, err := g.store.Project(projectID)
	if err != nil {
		g.mu.Unlock()
		return models.Project{}, err
	}
	if g.inFlight[projectID] || project.Status == models.ProjectStatusAssembling {
		g.mu.Unlock()
		g.metrics.Stitch("rejected")
		return project, ErrStitchInFlight
	}
	ready, err := g.Ready(projectID)
	if err != nil {
		g.mu.Unlock()
		return project, err
	}
	if !ready {
		g.mu.Unlock()
		g.metrics.Stitch("not_ready")
		return project, ErrNotReady
	}
	g.inFlight[projectID] = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inFlight, projectID)
		g.mu.Unlock()
	}()

	log := g.logger.With(zap.String("project_id", projectID))
	res, err := g.stitcher.Stitch(ctx, projectID)
	if err == nil && !res.Dispatched && res.FinalAssetURL == "" {
		err = errors.New("stitcher returned neither a final asset nor a dispatch")
	}
	if err != nil {
		log.Error("stitch dispatch failed", zap.Error(err))
		g.metrics.Stitch("failed")
		status := models.ProjectStatusFailed
		msg := err.Error()
		updated, perr := g.store.PatchProject(ctx, projectID, ProjectPatch{Status: &status, LastError: &msg})
		if perr != nil {
			log.Error("record stitch failure failed", zap.Error(perr))
			updated = project
		}
		g.notifier.Notify(Event{Type: EventStitchFailed, ProjectID: projectID, Message: msg, At: time.Now()})
		return updated, fmt.Errorf("stitch: %w", err)
	}

	cleared := ""
	patch := ProjectPatch{LastError: &cleared}
	event := Event{ProjectID: projectID, At: time.Now()}
	if res.Dispatched {
		status := models.ProjectStatusAssembling
		patch.Status = &status
		event.Type = EventStitchDispatched
		g.metrics.Stitch("dispatched")
	} else {
		status := models.ProjectStatusComplete
		patch.Status = &status
		patch.FinalOutputURL = &res.FinalAssetURL
		event.Type = EventStitchComplete
		event.AssetURL = res.FinalAssetURL
		g.metrics.Stitch("complete")
	}
	updated, err := g.store.PatchProject(ctx, projectID, patch)
	if err != nil {
		return project, err
	}
	log.Info("stitch accepted", zap.String("status", string(updated.Status)))
	g.notifier.Notify(event)
	return updated, nil
}

// CompleteStitch records the out-of-band result of an asynchronous stitch.
// A non-empty failure marks the project failed.
func (g *Gate) CompleteStitch(ctx context.Context, projectID, finalURL, failure string) (models.Project, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	project, err := g.store.Project(projectID)
	if err != nil {
		return models.Project{}, err
	}
	if project.Status != models.ProjectStatusAssembling {
		return project, ErrNotAssembling
	}
	if failure == "" && finalURL == "" {
		return project, errors.New("final asset url is required")
	}
	patch := ProjectPatch{}
	event := Event{ProjectID: projectID, At: time.Now()}
	if failure != "" {
		status := models.ProjectStatusFailed
		patch.Status = &status
		patch.LastError = &failure
		event.Type = EventStitchFailed
		event.Message = failure
	} else {
		status := models.ProjectStatusComplete
		patch.Status = &status
		patch.FinalOutputURL = &finalURL
		event.Type = EventStitchComplete
		event.AssetURL = finalURL
	}
	updated, err := g.store.PatchProject(ctx, projectID, patch)
	if err != nil {
		return project, err
	}
	g.notifier.Notify(event)
	return updated, nil
}
