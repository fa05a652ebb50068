package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeStitchProject = "project:stitch"
)

type StitchPayload struct {
	ProjectID string `json:"project_id"`
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	Queue         string
	Timeout       time.Duration
}

// QueueStitcher hands stitching to a worker over asynq. The worker reports
// back through Gate.CompleteStitch.
type QueueStitcher struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewQueueStitcher(cfg QueueConfig, logger *zap.Logger) *QueueStitcher {
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueStitcher{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}),
		queue:   cfg.Queue,
		timeout: cfg.Timeout,
		logger:  logger.Named("stitch-queue"),
	}
}

// NewStitchTask builds the task enqueued for one project.
func NewStitchTask(projectID string, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(StitchPayload{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeStitchProject, payload, opts...), nil
}

// ParseStitchPayload decodes a task built by NewStitchTask. It is the payload
// contract for the stitch worker consuming TypeStitchProject, which lives
// outside this server and reports back through Gate.CompleteStitch.
func ParseStitchPayload(t *asynq.Task) (StitchPayload, error) {
	var p StitchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode stitch payload: %w", err)
	}
	if p.ProjectID == "" {
		return p, fmt.Errorf("stitch payload has no project id")
	}
	return p, nil
}

func (q *QueueStitcher) Stitch(ctx context.Context, projectID string) (StitchResult, error) {
	task, err := NewStitchTask(projectID,
		asynq.Queue(q.queue),
		asynq.MaxRetry(3),
		asynq.Timeout(q.timeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return StitchResult{}, err
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return StitchResult{}, fmt.Errorf("enqueue failed: %w", err)
	}
	q.logger.Info("stitch task enqueued",
		zap.String("project_id", projectID),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue))
	return StitchResult{Dispatched: true}, nil
}

func (q *QueueStitcher) Close() error {
	return q.client.Close()
}
