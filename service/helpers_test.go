package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"SceneForge-server/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) forScene(sceneID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.SceneID == sceneID {
			out = append(out, e)
		}
	}
	return out
}

type fakeSync struct {
	name string
	mu   sync.Mutex
	reqs []ProviderRequest
	err  error
}

func (f *fakeSync) Name() string { return f.name }

func (f *fakeSync) Submit(_ context.Context, req ProviderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("https://cdn.test/%s/%s.mp3", req.SceneID, req.Asset), nil
}

func (f *fakeSync) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

// fakeAsync hands out task ids <name>-<n> and answers polls through poll,
// which sees the original request and the 1-based poll count for the task.
type fakeAsync struct {
	name      string
	mu        sync.Mutex
	submitted []ProviderRequest
	tasks     map[string]ProviderRequest
	polls     map[string]int
	submitErr error
	poll      func(req ProviderRequest, n int) (PollResult, error)
}

func newFakeAsync(name string) *fakeAsync {
	return &fakeAsync{name: name, tasks: make(map[string]ProviderRequest), polls: make(map[string]int)}
}

func (f *fakeAsync) Name() string { return f.name }

func (f *fakeAsync) Submit(_ context.Context, req ProviderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	id := fmt.Sprintf("%s-%d", f.name, len(f.submitted))
	f.tasks[id] = req
	return id, nil
}

func (f *fakeAsync) Poll(_ context.Context, taskID string) (PollResult, error) {
	f.mu.Lock()
	req := f.tasks[taskID]
	f.polls[taskID]++
	n := f.polls[taskID]
	fn := f.poll
	f.mu.Unlock()
	if fn == nil {
		return PollResult{State: PollRunning}, nil
	}
	return fn(req, n)
}

func (f *fakeAsync) setPoll(fn func(req ProviderRequest, n int) (PollResult, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poll = fn
}

func (f *fakeAsync) submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func succeedWith(url string) func(ProviderRequest, int) (PollResult, error) {
	return func(req ProviderRequest, _ int) (PollResult, error) {
		return PollResult{State: PollSucceeded, AssetURL: url + "/" + req.SceneID}, nil
	}
}

type harness struct {
	store   *Store
	poller  *Poller
	coord   *Coordinator
	events  *recorder
	tts     *fakeSync
	music   *fakeAsync
	t2v     *fakeAsync
	i2v     *fakeAsync
	realism *fakeAsync
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()
	h := &harness{
		events:  &recorder{},
		tts:     &fakeSync{name: ProviderTTS},
		music:   newFakeAsync(ProviderMusic),
		t2v:     newFakeAsync(ProviderTextToVideo),
		i2v:     newFakeAsync(ProviderImageToVideo),
		realism: newFakeAsync(ProviderImageToVideoRealism),
	}
	log := zap.NewNop()
	h.store = NewStore(log, h.events, nil, nil)
	d := NewDispatcher(Providers{
		Narration:           h.tts,
		Music:               h.music,
		TextToVideo:         h.t2v,
		ImageToVideo:        h.i2v,
		ImageToVideoRealism: h.realism,
	}, nil, log)
	h.poller = NewPoller(d, PollerConfig{MaxAttempts: maxAttempts, Concurrency: 4}, nil, log)
	h.coord = NewCoordinator(h.store, d, h.poller, h.events, log)
	return h
}

func (h *harness) project(t *testing.T, scenes ...models.Scene) (models.Project, []models.Scene) {
	t.Helper()
	ctx := context.Background()
	p, err := h.store.CreateProject(ctx, models.Project{Idea: "a lighthouse at dawn", SceneCount: len(scenes)})
	require.NoError(t, err)
	created, err := h.store.AddScenes(ctx, p.ID, scenes)
	require.NoError(t, err)
	return p, created
}

// cycle runs one poll cycle and waits for its outcomes to be applied.
func (h *harness) cycle(ctx context.Context) []Outcome {
	out := h.poller.RunCycle(ctx)
	h.poller.Wait()
	return out
}

func (h *harness) scene(t *testing.T, id string) models.Scene {
	t.Helper()
	sc, err := h.store.Scene(id)
	require.NoError(t, err)
	return sc
}

func videoNarrationScene() models.Scene {
	return models.Scene{
		Description:     "waves",
		VideoPrompt:     "slow pan over waves",
		NarrationScript: "The sea never sleeps.",
	}
}
