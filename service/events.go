package service

import (
	"sync"
	"time"

	"SceneForge-server/models"

	"go.uber.org/zap"
)

type EventType string

const (
	EventDispatchStarted    EventType = "dispatch_started"
	EventAssetReady         EventType = "asset_ready"
	EventRateLimitedRetry   EventType = "rate_limited_retry_pending"
	EventJobTimedOut        EventType = "job_timed_out"
	EventSceneFailed        EventType = "scene_failed"
	EventSceneComplete      EventType = "scene_complete"
	EventSceneStatusChanged EventType = "scene_status_changed"
	EventStitchDispatched   EventType = "stitch_dispatched"
	EventStitchComplete     EventType = "stitch_complete"
	EventStitchFailed       EventType = "stitch_failed"
)

// Event is one observable orchestration step.
type Event struct {
	Type      EventType          `json:"type"`
	ProjectID string             `json:"projectId"`
	SceneID   string             `json:"sceneId,omitempty"`
	AssetType models.AssetType   `json:"assetType,omitempty"`
	JobID     string             `json:"jobId,omitempty"`
	Status    models.SceneStatus `json:"status,omitempty"`
	AssetURL  string             `json:"assetUrl,omitempty"`
	Message   string             `json:"message,omitempty"`
	At        time.Time          `json:"at"`
}

type Notifier interface {
	Notify(Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

// MultiNotifier forwards to each notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// LogNotifier writes events as structured log lines.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l LogNotifier) Notify(e Event) {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("project_id", e.ProjectID),
	}
	if e.SceneID != "" {
		fields = append(fields, zap.String("scene_id", e.SceneID))
	}
	if e.AssetType != "" {
		fields = append(fields, zap.String("asset", string(e.AssetType)))
	}
	if e.JobID != "" {
		fields = append(fields, zap.String("job_id", e.JobID))
	}
	if e.Status != "" {
		fields = append(fields, zap.String("status", string(e.Status)))
	}
	if e.Message != "" {
		fields = append(fields, zap.String("message", e.Message))
	}
	switch e.Type {
	case EventSceneFailed, EventJobTimedOut, EventStitchFailed:
		l.Logger.Warn("orchestration event", fields...)
	default:
		l.Logger.Info("orchestration event", fields...)
	}
}

// Hub fans events out to subscribers, typically websocket connections.
// A subscriber that cannot keep up loses events rather than blocking.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	projectID string
	ch        chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscription)}
}

// Subscribe returns a channel of events for one project (all projects when
// projectID is empty) and a function that unsubscribes and closes it.
func (h *Hub) Subscribe(projectID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	sub := &subscription{projectID: projectID, ch: make(chan Event, buffer)}
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

func (h *Hub) Notify(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.projectID != "" && sub.projectID != e.ProjectID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}
