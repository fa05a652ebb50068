package service

import (
	"context"
	"errors"
	"fmt"

	"SceneForge-server/config"
	"SceneForge-server/models"

	"go.uber.org/zap"
)

// Provider names used in task handles.
const (
	ProviderTTS                 = "tts"
	ProviderMusic               = "music"
	ProviderTextToVideo         = "text-to-video"
	ProviderImageToVideo        = "image-to-video"
	ProviderImageToVideoRealism = "image-to-video-realism"
)

var validAspectRatios = map[string]bool{
	"16:9": true, "9:16": true, "1:1": true, "4:3": true, "3:4": true, "21:9": true,
}

// DispatchResult is either Immediate (AssetURL set) or Deferred (Handle set).
type DispatchResult struct {
	AssetURL string
	Handle   *models.TaskHandle
}

func Immediate(url string) DispatchResult { return DispatchResult{AssetURL: url} }

func Deferred(h models.TaskHandle) DispatchResult { return DispatchResult{Handle: &h} }

func (r DispatchResult) IsDeferred() bool { return r.Handle != nil }

// Providers wires one adapter per (asset, mode) route.
type Providers struct {
	Narration           SyncProvider
	Music               AsyncProvider
	TextToVideo         AsyncProvider
	ImageToVideo        AsyncProvider
	ImageToVideoRealism AsyncProvider
}

// NewHTTPProviders builds the HTTP adapters from configuration.
func NewHTTPProviders(cfg *config.Config, logger *zap.Logger) Providers {
	return Providers{
		Narration:           NewHTTPSyncProvider(ProviderTTS, "/v1/tts", cfg.Providers.TTS, logger),
		Music:               NewHTTPAsyncProvider(ProviderMusic, cfg.Providers.Music, logger),
		TextToVideo:         NewHTTPAsyncProvider(ProviderTextToVideo, cfg.Providers.TextToVideo, logger),
		ImageToVideo:        NewHTTPAsyncProvider(ProviderImageToVideo, cfg.Providers.ImageToVideo, logger),
		ImageToVideoRealism: NewHTTPAsyncProvider(ProviderImageToVideoRealism, cfg.Providers.ImageToVideoRealism, logger),
	}
}

// Dispatcher issues exactly one outbound generation request per call. It
// keeps no state between calls.
type Dispatcher struct {
	providers Providers
	byName    map[string]AsyncProvider
	metrics   *Metrics
	logger    *zap.Logger
}

func NewDispatcher(p Providers, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]AsyncProvider)
	for _, ap := range []AsyncProvider{p.Music, p.TextToVideo, p.ImageToVideo, p.ImageToVideoRealism} {
		if ap != nil {
			byName[ap.Name()] = ap
		}
	}
	return &Dispatcher{providers: p, byName: byName, metrics: metrics, logger: logger.Named("dispatcher")}
}

// Dispatch validates the scene for the asset and submits it to the provider
// selected by (asset, scene.Mode). Validation and submission errors are
// final for this asset.
func (d *Dispatcher) Dispatch(ctx context.Context, scene models.Scene, asset models.AssetType) (DispatchResult, error) {
	if err := ValidateScene(scene, asset); err != nil {
		d.metrics.Dispatch(string(asset), "invalid")
		return DispatchResult{}, err
	}
	req := ProviderRequest{
		ProjectID: scene.ProjectID,
		SceneID:   scene.ID,
		Asset:     asset,
		Mode:      scene.Mode,
		Params:    scene.Params,
	}
	log := d.logger.With(zap.String("scene_id", scene.ID), zap.String("asset", string(asset)))

	if asset == models.AssetNarration {
		if d.providers.Narration == nil {
			return DispatchResult{}, fmt.Errorf("%w: narration", ErrUnknownProvider)
		}
		req.Prompt = scene.NarrationScript
		url, err := d.providers.Narration.Submit(ctx, req)
		if err != nil {
			d.metrics.Dispatch(string(asset), "rejected")
			log.Warn("narration submit failed", zap.Error(err))
			return DispatchResult{}, asProviderError(d.providers.Narration.Name(), err)
		}
		d.metrics.Dispatch(string(asset), "immediate")
		return Immediate(url), nil
	}

	provider, err := d.route(asset, scene.Mode)
	if err != nil {
		return DispatchResult{}, err
	}
	if asset == models.AssetMusic {
		req.Prompt = scene.MusicPrompt
	} else {
		req.Prompt = scene.VideoPrompt
	}
	taskID, err := provider.Submit(ctx, req)
	if err != nil {
		d.metrics.Dispatch(string(asset), "rejected")
		log.Warn("submit failed", zap.String("provider", provider.Name()), zap.Error(err))
		return DispatchResult{}, asProviderError(provider.Name(), err)
	}
	d.metrics.Dispatch(string(asset), "deferred")
	log.Info("task submitted", zap.String("provider", provider.Name()), zap.String("task_id", taskID))
	return Deferred(models.TaskHandle{Provider: provider.Name(), TaskID: taskID}), nil
}

// CheckStatus asks the provider named in the handle about its task.
func (d *Dispatcher) CheckStatus(ctx context.Context, h models.TaskHandle) (PollResult, error) {
	p, ok := d.byName[h.Provider]
	if !ok {
		return PollResult{}, fmt.Errorf("%w: %s", ErrUnknownProvider, h.Provider)
	}
	return p.Poll(ctx, h.TaskID)
}

func (d *Dispatcher) route(asset models.AssetType, mode models.GenerationMode) (AsyncProvider, error) {
	var p AsyncProvider
	switch asset {
	case models.AssetMusic:
		p = d.providers.Music
	case models.AssetVideo:
		switch mode {
		case models.ModeTextToVideo:
			p = d.providers.TextToVideo
		case models.ModeImageToVideo:
			p = d.providers.ImageToVideo
		case models.ModeImageToVideoRealism:
			p = d.providers.ImageToVideoRealism
		}
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownProvider, asset, mode)
	}
	return p, nil
}

func asProviderError(name string, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Provider: name, Message: err.Error()}
}

// ValidateScene checks the scene's parameters for one asset dispatch.
func ValidateScene(s models.Scene, asset models.AssetType) error {
	invalid := func(field, reason string) error {
		return &ValidationError{Asset: asset, Mode: s.Mode, Field: field, Reason: reason}
	}
	if !asset.Valid() {
		return invalid("asset", "is unknown")
	}
	if !s.Mode.Valid() {
		return invalid("mode", "is unknown")
	}
	if s.Mode.NeedsSourceImage() && s.Params.SourceImageURL == "" {
		return invalid("source_image_url", "is required")
	}
	if s.Params.AspectRatio != "" && !validAspectRatios[s.Params.AspectRatio] {
		return invalid("aspect_ratio", "is not supported")
	}
	if s.Params.Duration < 0 || s.Params.Duration > 20 {
		return invalid("duration", "must be between 1 and 20 seconds")
	}
	if s.Params.Width < 0 || s.Params.Height < 0 {
		return invalid("dimensions", "must not be negative")
	}
	switch asset {
	case models.AssetVideo:
		if s.Mode == models.ModeTextToVideo && s.VideoPrompt == "" {
			return invalid("video_prompt", "is required")
		}
	case models.AssetNarration:
		if s.NarrationScript == "" {
			return invalid("narration_script", "is required")
		}
	case models.AssetMusic:
		if s.MusicPrompt == "" {
			return invalid("music_prompt", "is required")
		}
	}
	return nil
}
