package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"SceneForge-server/models"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// PlannedScene is one storyboard beat produced by the planner.
type PlannedScene struct {
	Description     string                `json:"description"`
	VideoPrompt     string                `json:"videoPrompt"`
	NarrationScript string                `json:"narrationScript"`
	MusicPrompt     string                `json:"musicPrompt"`
	Mode            models.GenerationMode `json:"mode,omitempty"`
	Params          models.SceneParams    `json:"params,omitempty"`
}

func (p PlannedScene) Scene() models.Scene {
	return models.Scene{
		Description:     p.Description,
		VideoPrompt:     p.VideoPrompt,
		NarrationScript: p.NarrationScript,
		MusicPrompt:     p.MusicPrompt,
		Mode:            p.Mode,
		Params:          p.Params,
	}
}

// Planner turns an idea into N scene descriptions and prompts.
type Planner interface {
	Plan(ctx context.Context, idea string, sceneCount int) ([]PlannedScene, error)
}

const plannerSystemPrompt = `You are a storyboard writer for short videos.
Split the user's idea into exactly %d scenes. Reply with JSON only, in the form
{"scenes":[{"description":"...","videoPrompt":"...","narrationScript":"...","musicPrompt":"..."}]}.
videoPrompt describes the shot for a video model, narrationScript is the voice-over
read aloud for that scene, musicPrompt describes background music (may be empty).`

type OpenAIPlannerConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// OpenAIPlanner plans storyboards with a chat completion model.
type OpenAIPlanner struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	logger     *zap.Logger
}

func NewOpenAIPlanner(cfg OpenAIPlannerConfig, logger *zap.Logger) (*OpenAIPlanner, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("planner api key is not configured")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIPlanner{
		client:     openai.NewClientWithConfig(config),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		logger:     logger.Named("planner"),
	}, nil
}

func (p *OpenAIPlanner) Plan(ctx context.Context, idea string, sceneCount int) ([]PlannedScene, error) {
	if strings.TrimSpace(idea) == "" {
		return nil, errors.New("idea is empty")
	}
	if sceneCount <= 0 {
		sceneCount = 5
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(plannerSystemPrompt, sceneCount)},
			{Role: openai.ChatMessageRoleUser, Content: idea},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.7,
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			p.logger.Warn("planner request failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("empty response from model")
			continue
		}
		scenes, err := ParsePlan(resp.Choices[0].Message.Content)
		if err != nil {
			lastErr = err
			p.logger.Warn("planner returned unusable plan", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		return scenes, nil
	}
	return nil, fmt.Errorf("planner gave up after %d attempts: %w", p.maxRetries, lastErr)
}

// ParsePlan accepts either {"scenes":[...]} or a bare JSON array, optionally
// wrapped in a markdown code fence.
func ParsePlan(content string) ([]PlannedScene, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var scenes []PlannedScene
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &scenes); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
	} else {
		var wrapped struct {
			Scenes []PlannedScene `json:"scenes"`
		}
		if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		scenes = wrapped.Scenes
	}
	if len(scenes) == 0 {
		return nil, errors.New("plan contains no scenes")
	}
	return scenes, nil
}
