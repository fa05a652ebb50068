package service

import (
	"errors"
	"fmt"
	"time"

	"SceneForge-server/models"
)

var (
	ErrSceneNotFound   = errors.New("scene not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrSceneBusy       = errors.New("scene is generating")
	ErrNotReady        = errors.New("project is not ready to stitch")
	ErrStitchInFlight  = errors.New("stitch already in flight")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrPromptsMissing  = errors.New("scene has no prompts yet")
	ErrNoPlanner       = errors.New("storyboard planner is not configured")
)

// ValidationError is raised before any network call when a scene's
// parameters do not fit its generation mode. It is never retried.
type ValidationError struct {
	Asset  models.AssetType
	Mode   models.GenerationMode
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s parameters for %s: %s %s", e.Asset, e.Mode, e.Field, e.Reason)
}

// ProviderError is a rejection returned by a provider at submission time.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s rejected request (%d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s rejected request: %s", e.Provider, e.Message)
}

// RateLimitError marks a status query that was refused by the provider's
// rate limiter. errors.Is(err, ErrRateLimited) holds for it.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider %s: rate limited (retry after %s)", e.Provider, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
