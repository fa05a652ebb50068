package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"SceneForge-server/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReasonTimedOut is the failure reason of a job that ran out of attempts.
const ReasonTimedOut = "timed out"

type OutcomeKind string

const (
	OutcomeSucceeded   OutcomeKind = "succeeded"
	OutcomeFailed      OutcomeKind = "failed"
	OutcomeRateLimited OutcomeKind = "rate_limited"
	OutcomeRunning     OutcomeKind = "running"
	OutcomeTimedOut    OutcomeKind = "timed_out"
)

// Terminal reports whether the job leaves the active set.
func (k OutcomeKind) Terminal() bool {
	return k == OutcomeSucceeded || k == OutcomeFailed || k == OutcomeTimedOut
}

// Outcome is the reconciled result of one status check. Job is a snapshot
// taken after the attempt counter was updated.
type Outcome struct {
	Job      models.Job
	Kind     OutcomeKind
	AssetURL string
	Reason   string
}

type StatusChecker interface {
	CheckStatus(ctx context.Context, h models.TaskHandle) (PollResult, error)
}

type OutcomeSink interface {
	ApplyOutcome(ctx context.Context, o Outcome)
}

type PollerConfig struct {
	Interval time.Duration
	// MaxAttempts is the most polls a job gets. A job still running after
	// its last poll times out; a success or failure on that poll stands.
	MaxAttempts int
	Concurrency int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = 8 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 120
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 16
	}
	return c
}

// Poller owns the active jobs. Each cycle checks a snapshot of them in
// parallel and reconciles every result before the next cycle starts.
// Terminal outcomes are delivered in the background; their (scene, asset)
// pair stays reserved until the sink returns.
type Poller struct {
	mu       sync.Mutex
	active   map[models.JobKey]*models.Job
	reserved map[models.JobKey]struct{}

	deliveries sync.WaitGroup

	checker StatusChecker
	sink    OutcomeSink
	cfg     PollerConfig
	metrics *Metrics
	logger  *zap.Logger
}

func NewPoller(checker StatusChecker, cfg PollerConfig, metrics *Metrics, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		active:   make(map[models.JobKey]*models.Job),
		reserved: make(map[models.JobKey]struct{}),
		checker:  checker,
		cfg:      cfg.withDefaults(),
		metrics:  metrics,
		logger:   logger.Named("poller"),
	}
}

// SetSink sets where reconciled outcomes are delivered. Call before Run.
func (p *Poller) SetSink(sink OutcomeSink) {
	p.sink = sink
}

// Reserve claims the (scene, asset) pair for a dispatch about to happen.
// It fails when a job or another reservation already holds the pair.
func (p *Poller) Reserve(key models.JobKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[key]; ok {
		return false
	}
	if _, ok := p.reserved[key]; ok {
		return false
	}
	p.reserved[key] = struct{}{}
	return true
}

// Release drops a reservation that did not turn into a job.
func (p *Poller) Release(key models.JobKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, key)
}

// Register adds a job in polling state, consuming the pair's reservation.
func (p *Poller) Register(job models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := job.Key()
	if _, ok := p.active[key]; ok {
		return fmt.Errorf("job already active for scene %s asset %s", job.SceneID, job.AssetType)
	}
	delete(p.reserved, key)
	job.Status = models.JobPolling
	job.Attempts = 0
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	p.active[key] = &job
	p.metrics.SetActiveJobs(len(p.active))
	return nil
}

// Has reports whether the pair has an active job.
func (p *Poller) Has(key models.JobKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[key]
	return ok
}

// Active returns copies of the active jobs, oldest first.
func (p *Poller) Active() []models.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Job, 0, len(p.active))
	for _, j := range p.active {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Run drives poll cycles on a fixed interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	p.logger.Info("poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("max_attempts", p.cfg.MaxAttempts))
	for {
		select {
		case <-ctx.Done():
			p.Wait()
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

type checkResult struct {
	kind     OutcomeKind
	assetURL string
	reason   string
}

// Wait blocks until every terminal outcome handed to the sink has been applied.
func (p *Poller) Wait() {
	p.deliveries.Wait()
}

// RunCycle performs one poll cycle and returns the reconciled outcomes.
// Non-terminal outcomes are delivered before it returns; terminal ones are
// delivered asynchronously, see Wait.
func (p *Poller) RunCycle(ctx context.Context) []Outcome {
	snapshot := p.Active()
	if len(snapshot) == 0 {
		return nil
	}

	results := make([]checkResult, len(snapshot))
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i := range snapshot {
		g.Go(func() error {
			results[i] = p.check(ctx, snapshot[i])
			return nil
		})
	}
	_ = g.Wait()

	outcomes := p.reconcile(snapshot, results)
	for _, o := range outcomes {
		p.metrics.PollOutcome(string(o.Job.AssetType), string(o.Kind))
		if !o.Kind.Terminal() {
			if p.sink != nil {
				p.sink.ApplyOutcome(ctx, o)
			}
			continue
		}
		p.deliveries.Add(1)
		go p.deliver(ctx, o)
	}
	return outcomes
}

// deliver applies a terminal outcome and then frees its pair for dispatch.
func (p *Poller) deliver(ctx context.Context, o Outcome) {
	defer p.deliveries.Done()
	defer p.Release(o.Job.Key())
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("apply outcome panicked", zap.String("job_id", o.Job.ID), zap.Any("panic", r))
		}
	}()
	if p.sink != nil {
		p.sink.ApplyOutcome(ctx, o)
	}
}

func (p *Poller) check(ctx context.Context, job models.Job) (res checkResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("status check panicked", zap.String("job_id", job.ID), zap.Any("panic", r))
			res = checkResult{kind: OutcomeRunning, reason: fmt.Sprint("status check panicked: ", r)}
		}
	}()
	pr, err := p.checker.CheckStatus(ctx, job.Handle)
	return classify(pr, err)
}

// classify turns a provider answer into exactly one outcome kind. A refused
// status query is never the job's own failure.
func classify(pr PollResult, err error) checkResult {
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return checkResult{kind: OutcomeRateLimited, reason: err.Error()}
		}
		return checkResult{kind: OutcomeRunning, reason: err.Error()}
	}
	switch pr.State {
	case PollSucceeded:
		if pr.AssetURL == "" {
			return checkResult{kind: OutcomeFailed, reason: "provider reported success without an asset url"}
		}
		return checkResult{kind: OutcomeSucceeded, assetURL: pr.AssetURL}
	case PollFailed:
		reason := pr.Error
		if reason == "" {
			reason = "generation failed"
		}
		return checkResult{kind: OutcomeFailed, reason: reason}
	}
	return checkResult{kind: OutcomeRunning}
}

func (p *Poller) reconcile(snapshot []models.Job, results []checkResult) []Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	outcomes := make([]Outcome, 0, len(snapshot))
	for i, snap := range snapshot {
		job, ok := p.active[snap.Key()]
		if !ok || job.ID != snap.ID {
			continue
		}
		r := results[i]
		job.Attempts++
		switch r.kind {
		case OutcomeRateLimited:
			job.RateLimitedPolls++
			job.LastError = r.reason
		case OutcomeRunning:
			if r.reason != "" {
				job.LastError = r.reason
				p.logger.Warn("status check error, retrying next cycle",
					zap.String("job_id", job.ID), zap.String("error", r.reason))
			}
		}
		if !r.kind.Terminal() && job.Attempts >= p.cfg.MaxAttempts {
			r = checkResult{kind: OutcomeTimedOut, reason: ReasonTimedOut}
		}
		switch r.kind {
		case OutcomeSucceeded:
			job.Status = models.JobCompleted
			job.LastError = ""
		case OutcomeFailed, OutcomeTimedOut:
			job.Status = models.JobFailed
			job.LastError = r.reason
		}
		outcomes = append(outcomes, Outcome{Job: *job, Kind: r.kind, AssetURL: r.assetURL, Reason: r.reason})
		if r.kind.Terminal() {
			delete(p.active, snap.Key())
			p.reserved[snap.Key()] = struct{}{}
		}
	}
	p.metrics.SetActiveJobs(len(p.active))
	return outcomes
}
