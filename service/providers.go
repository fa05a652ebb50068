package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"SceneForge-server/config"
	"SceneForge-server/models"

	"go.uber.org/zap"
)

// ProviderRequest is what a provider needs to generate one asset.
type ProviderRequest struct {
	ProjectID string                `json:"project_id"`
	SceneID   string                `json:"scene_id"`
	Asset     models.AssetType      `json:"type"`
	Mode      models.GenerationMode `json:"mode"`
	Prompt    string                `json:"prompt"`
	Params    models.SceneParams    `json:"parameters"`
}

type PollState string

const (
	PollRunning   PollState = "RUNNING"
	PollSucceeded PollState = "SUCCEEDED"
	PollFailed    PollState = "FAILED"
)

// PollResult is an asynchronous provider's answer about one task.
type PollResult struct {
	State    PollState
	AssetURL string
	Error    string
}

// SyncProvider returns the finished asset from Submit.
type SyncProvider interface {
	Name() string
	Submit(ctx context.Context, req ProviderRequest) (assetURL string, err error)
}

// AsyncProvider returns a task id from Submit that must be polled.
// Poll returns an error wrapping ErrRateLimited when the status query itself
// was refused by the provider's rate limiter.
type AsyncProvider interface {
	Name() string
	Submit(ctx context.Context, req ProviderRequest) (taskID string, err error)
	Poll(ctx context.Context, taskID string) (PollResult, error)
}

type httpProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func newHTTPProvider(name string, cfg config.ProviderConfig, logger *zap.Logger) httpProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return httpProvider{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout()},
		logger:  logger.With(zap.String("provider", name)),
	}
}

func (p httpProvider) Name() string { return p.name }

func (p httpProvider) do(ctx context.Context, method, path string, body interface{}) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("create request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	p.logger.Debug("provider request", zap.String("method", method), zap.String("path", path))
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("read response failed: %w", err)
	}
	return resp, data, nil
}

func (p httpProvider) rejection(status int, body []byte) *ProviderError {
	msg := strings.TrimSpace(string(body))
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return &ProviderError{Provider: p.name, StatusCode: status, Message: msg}
}

func accepted(status int) bool {
	return status == http.StatusOK || status == http.StatusCreated || status == http.StatusAccepted
}

// HTTPAsyncProvider talks to a generation worker that accepts
// POST /v1/generate and reports progress on GET /v1/jobs/{id}.
type HTTPAsyncProvider struct {
	httpProvider
}

func NewHTTPAsyncProvider(name string, cfg config.ProviderConfig, logger *zap.Logger) *HTTPAsyncProvider {
	return &HTTPAsyncProvider{httpProvider: newHTTPProvider(name, cfg, logger)}
}

func (p *HTTPAsyncProvider) Submit(ctx context.Context, req ProviderRequest) (string, error) {
	resp, body, err := p.do(ctx, http.MethodPost, "/v1/generate", req)
	if err != nil {
		return "", &ProviderError{Provider: p.name, Message: err.Error()}
	}
	if !accepted(resp.StatusCode) {
		return "", p.rejection(resp.StatusCode, body)
	}
	var respData struct {
		ID    string `json:"id"`
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &respData); err != nil {
		return "", &ProviderError{Provider: p.name, StatusCode: resp.StatusCode, Message: "decode response failed: " + err.Error()}
	}
	if respData.ID != "" {
		return respData.ID, nil
	}
	if respData.JobID != "" {
		return respData.JobID, nil
	}
	return "", &ProviderError{Provider: p.name, StatusCode: resp.StatusCode, Message: "response missing 'id'"}
}

func (p *HTTPAsyncProvider) Poll(ctx context.Context, taskID string) (PollResult, error) {
	resp, body, err := p.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(taskID), nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("poll %s: %w", taskID, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return PollResult{}, &RateLimitError{Provider: p.name, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK {
		return PollResult{}, fmt.Errorf("poll %s: status %d", taskID, resp.StatusCode)
	}
	var raw struct {
		Status string `json:"status"`
		Result struct {
			ResourceURL string `json:"resource_url"`
		} `json:"result"`
		URL   string `json:"url"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return PollResult{}, fmt.Errorf("poll %s: decode response failed: %w", taskID, err)
	}
	assetURL := raw.Result.ResourceURL
	if assetURL == "" {
		assetURL = raw.URL
	}
	return PollResult{State: pollState(raw.Status), AssetURL: assetURL, Error: raw.Error}, nil
}

func pollState(status string) PollState {
	switch strings.ToLower(status) {
	case "finished", "success", "succeeded", "completed":
		return PollSucceeded
	case "failed", "error":
		return PollFailed
	}
	return PollRunning
}

func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		return time.Until(t)
	}
	return 0
}

// HTTPSyncProvider returns the asset URL straight from POST {path}.
type HTTPSyncProvider struct {
	httpProvider
	path string
}

func NewHTTPSyncProvider(name, path string, cfg config.ProviderConfig, logger *zap.Logger) *HTTPSyncProvider {
	return &HTTPSyncProvider{httpProvider: newHTTPProvider(name, cfg, logger), path: path}
}

func (p *HTTPSyncProvider) Submit(ctx context.Context, req ProviderRequest) (string, error) {
	resp, body, err := p.do(ctx, http.MethodPost, p.path, req)
	if err != nil {
		return "", &ProviderError{Provider: p.name, Message: err.Error()}
	}
	if !accepted(resp.StatusCode) {
		return "", p.rejection(resp.StatusCode, body)
	}
	var respData struct {
		URL         string `json:"url"`
		ResourceURL string `json:"resource_url"`
	}
	if err := json.Unmarshal(body, &respData); err != nil {
		return "", &ProviderError{Provider: p.name, StatusCode: resp.StatusCode, Message: "decode response failed: " + err.Error()}
	}
	if respData.URL != "" {
		return respData.URL, nil
	}
	if respData.ResourceURL != "" {
		return respData.ResourceURL, nil
	}
	return "", &ProviderError{Provider: p.name, StatusCode: resp.StatusCode, Message: "response missing 'url'"}
}
