package models

import "time"

// 任务轮询状态
type JobStatus string

const (
	JobPolling   JobStatus = "polling"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// TaskHandle identifies an asynchronous provider task.
type TaskHandle struct {
	Provider string `json:"provider"`
	TaskID   string `json:"taskId"`
}

// Job tracks one outstanding (scene, asset) generation. Jobs are held in
// memory only and dropped on terminal resolution.
type Job struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"projectId"`
	SceneID          string     `json:"sceneId"`
	AssetType        AssetType  `json:"assetType"`
	Handle           TaskHandle `json:"handle"`
	Status           JobStatus  `json:"status"`
	Attempts         int        `json:"attempts"`
	RateLimitedPolls int        `json:"rateLimitedPolls"`
	LastError        string     `json:"lastError,omitempty"`
	SubmittedAt      time.Time  `json:"submittedAt"`
}

// JobKey is the (scene, asset) identity used to keep at most one active job.
type JobKey struct {
	SceneID   string
	AssetType AssetType
}

func (j *Job) Key() JobKey {
	return JobKey{SceneID: j.SceneID, AssetType: j.AssetType}
}
