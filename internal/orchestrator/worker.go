package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-auditor/internal/aggregate"
	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/browser"
	"github.com/JakeFAU/site-auditor/internal/modules"
	"github.com/JakeFAU/site-auditor/internal/progress"
)

// Fetcher captures a page with a pooled browser session.
type Fetcher interface {
	Fetch(ctx context.Context, session *browser.Session, req audit.Request) (*audit.Artifact, error)
}

// SessionPool hands out browser sessions. *browser.Pool satisfies it.
type SessionPool interface {
	Acquire(ctx context.Context) (*browser.Session, error)
	Release(s *browser.Session)
	Invalidate(s *browser.Session)
}

// QuotaCommitter records usage after a finished scan.
type QuotaCommitter interface {
	Commit(ctx context.Context, req audit.Request, report audit.Report) error
}

// Config controls worker behavior.
type Config struct {
	// ModuleTimeout bounds each analyzer (default 20s).
	ModuleTimeout time.Duration
	// AnalysisTimeout bounds the whole analyzing phase (default 60s).
	AnalysisTimeout time.Duration
	// ModuleConcurrency bounds parallel analyzers per request (default 4).
	ModuleConcurrency int
	// Backoff paces requeues after retryable fetch failures.
	Backoff audit.Backoff
}

func (c Config) withDefaults() Config {
	if c.ModuleTimeout <= 0 {
		c.ModuleTimeout = 20 * time.Second
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 60 * time.Second
	}
	if c.ModuleConcurrency <= 0 {
		c.ModuleConcurrency = 4
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = audit.DefaultBackoff()
	}
	return c
}

// Worker consumes audit jobs and executes the pipeline: acquire a
// browser session, fetch, fan out the analyzers, aggregate, persist.
type Worker struct {
	queue    audit.Queue
	store    audit.AuditStore
	pool     SessionPool
	fetcher  Fetcher
	registry *modules.Registry
	quota    QuotaCommitter
	weights  aggregate.Weights
	emitter  progress.Emitter
	clock    audit.Clock
	cancels  *cancelRegistry
	cfg      Config
	logger   *zap.Logger

	// runCtx is the consume-loop context; delayed requeues outlive the
	// request that spawned them but not the worker.
	runCtx context.Context
}

// NewWorker constructs a Worker. The cancel registry is shared with
// the Service so user cancellation reaches in-flight requests.
func NewWorker(
	queue audit.Queue,
	store audit.AuditStore,
	pool SessionPool,
	fetcher Fetcher,
	registry *modules.Registry,
	quota QuotaCommitter,
	weights aggregate.Weights,
	emitter progress.Emitter,
	clock audit.Clock,
	cancels *cancelRegistry,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cancels == nil {
		cancels = newCancelRegistry()
	}
	return &Worker{
		queue:    queue,
		store:    store,
		pool:     pool,
		fetcher:  fetcher,
		registry: registry,
		quota:    quota,
		weights:  weights,
		emitter:  emitter,
		clock:    clock,
		cancels:  cancels,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Run blocks, consuming jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	w.runCtx = ctx
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued audit job",
			zap.String("request_id", job.RequestID),
			zap.Int("attempt", job.Attempt),
		)
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job audit.Job) {
	// A cancel that raced the queue still wins.
	if status, _, err := w.store.GetRequestStatus(ctx, job.RequestID); err == nil && status.Terminal() {
		w.logger.Debug("skipping terminal request", zap.String("request_id", job.RequestID))
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.cancels.register(job.RequestID, cancel)
	defer w.cancels.unregister(job.RequestID)

	state := State{Status: audit.StatusQueued, Attempt: job.Attempt}
	started := w.clock.Now()

	state = w.apply(ctx, job, state, Event{Kind: EventStart})
	if state.Status.Terminal() {
		return
	}

	artifact, session, state := w.fetchStage(reqCtx, job, state)
	if state.Status != audit.StatusAnalyzing {
		// Requeued, failed, or canceled; nothing more to do here.
		w.finish(ctx, job, state, nil, started)
		return
	}

	results, state := w.analyzeStage(reqCtx, job, state, artifact, session)
	w.finish(ctx, job, state, results, started)
}

// fetchStage acquires a session and captures the page, translating
// failures into state machine events. The returned session is non-nil
// only when a live-capable module still needs it.
func (w *Worker) fetchStage(ctx context.Context, job audit.Job, state State) (*audit.Artifact, *browser.Session, State) {
	session, err := w.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, w.apply(ctx, job, state, Event{Kind: EventCanceled})
		}
		w.emit(progress.Event{
			RequestID: job.RequestID, TS: w.clock.Now(),
			Stage: progress.StageFetchError, Note: err.Error(),
		})
		if errors.Is(err, audit.ErrPoolExhausted) {
			return nil, nil, w.apply(ctx, job, state, Event{Kind: EventFetchRetryable, ErrText: err.Error()})
		}
		return nil, nil, w.apply(ctx, job, state, Event{Kind: EventFetchFailed, ErrText: err.Error()})
	}

	w.emit(progress.Event{
		RequestID: job.RequestID, TS: w.clock.Now(),
		Stage: progress.StageFetchStart, URL: job.Request.URL,
	})
	fetchStart := w.clock.Now()
	artifact, err := w.fetcher.Fetch(ctx, session, job.Request)
	if err != nil {
		w.pool.Invalidate(session)
		w.emit(progress.Event{
			RequestID: job.RequestID, TS: w.clock.Now(),
			Stage: progress.StageFetchError, URL: job.Request.URL, Note: err.Error(),
		})
		if ctx.Err() != nil {
			return nil, nil, w.apply(ctx, job, state, Event{Kind: EventCanceled})
		}
		if audit.RetryableFetch(err) {
			return nil, nil, w.apply(ctx, job, state, Event{Kind: EventFetchRetryable, ErrText: err.Error()})
		}
		return nil, nil, w.apply(ctx, job, state, Event{Kind: EventFetchFailed, ErrText: err.Error()})
	}

	w.emit(progress.Event{
		RequestID: job.RequestID, TS: w.clock.Now(),
		Stage: progress.StageFetchDone, URL: job.Request.URL,
		Bytes: artifact.Timing.TransferBytes, Dur: w.clock.Now().Sub(fetchStart),
	})

	state = w.apply(ctx, job, state, Event{Kind: EventFetchSucceeded})

	// Hold the session through analysis only when a requested module
	// needs the page alive.
	if w.registry.AnyRequiresLive(w.requestedKinds(job.Request)) {
		return artifact, session, state
	}
	w.pool.Release(session)
	return artifact, nil, state
}

// analyzeStage fans the requested modules out over a bounded group.
// The session, when held, is released as soon as the phase ends.
func (w *Worker) analyzeStage(ctx context.Context, job audit.Job, state State, artifact *audit.Artifact, session *browser.Session) ([]audit.ModuleResult, State) {
	if session != nil {
		defer w.pool.Release(session)
	}

	phaseCtx, cancel := context.WithTimeout(ctx, w.cfg.AnalysisTimeout)
	defer cancel()

	kinds := w.requestedKinds(job.Request)
	results := make([]audit.ModuleResult, 0, len(kinds))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(phaseCtx)
	g.SetLimit(w.cfg.ModuleConcurrency)
	for _, kind := range kinds {
		analyzer, ok := w.registry.Get(kind)
		if !ok {
			continue
		}
		g.Go(func() error {
			w.emit(progress.Event{
				RequestID: job.RequestID, TS: w.clock.Now(),
				Stage: progress.StageModuleStart, Module: kind,
			})
			in := modules.Input{Artifact: artifact}
			if analyzer.RequiresLiveSession() {
				in.Session = session
			}
			res := modules.Run(gctx, analyzer, in, w.cfg.ModuleTimeout)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			w.emit(progress.Event{
				RequestID: job.RequestID, TS: w.clock.Now(),
				Stage: progress.StageModuleDone, Module: kind,
				ModuleStatus: res.Status, Score: res.SubScore, Dur: res.Duration,
				Note: res.Error,
			})
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, w.apply(ctx, job, state, Event{Kind: EventCanceled})
	}
	return results, w.apply(ctx, job, state, Event{Kind: EventAnalysisDone})
}

// finish aggregates, persists, and reports the terminal state. It runs
// on the outer context so a canceled request can still be recorded.
func (w *Worker) finish(ctx context.Context, job audit.Job, state State, results []audit.ModuleResult, started time.Time) {
	if state.Status != audit.StatusAggregating {
		w.reportTerminal(job, state, started)
		return
	}

	report, err := aggregate.Build(job.Request, results, w.weights, w.clock.Now())
	if err != nil {
		state = w.apply(ctx, job, state, Event{Kind: EventAggregationFailed, ErrText: err.Error()})
		w.reportTerminal(job, state, started)
		return
	}

	if err := w.store.SaveReport(ctx, report); err != nil {
		w.logger.Error("save report failed",
			zap.String("request_id", job.RequestID), zap.Error(err))
		state = w.apply(ctx, job, state, Event{Kind: EventAggregationFailed, ErrText: err.Error()})
		w.reportTerminal(job, state, started)
		return
	}

	state = w.apply(ctx, job, state, Event{Kind: EventAggregated, Final: report.Status})

	if w.quota != nil {
		if err := w.quota.Commit(ctx, job.Request, report); err != nil {
			// Usage accounting must not undo a finished audit.
			w.logger.Warn("quota commit failed",
				zap.String("request_id", job.RequestID), zap.Error(err))
		}
	}

	w.emit(progress.Event{
		RequestID: job.RequestID, TS: w.clock.Now(),
		Stage: progress.StageRequestDone, RequestStatus: report.Status,
		Score: report.OverallScore, Dur: w.clock.Now().Sub(started),
	})
}

func (w *Worker) reportTerminal(job audit.Job, state State, started time.Time) {
	if !state.Status.Terminal() {
		return
	}
	evt := progress.Event{
		RequestID: job.RequestID, TS: w.clock.Now(),
		Stage: progress.StageRequestDone, RequestStatus: state.Status,
		Dur: w.clock.Now().Sub(started), Note: state.ErrText,
	}
	if state.Status == audit.StatusFailed {
		evt.Stage = progress.StageRequestError
		evt.RequestStatus = ""
	}
	w.emit(evt)
}

// apply runs Transition and executes its commands. Status writes use
// a detached context so a canceled request still records its state.
func (w *Worker) apply(ctx context.Context, job audit.Job, state State, ev Event) State {
	statusCtx := context.WithoutCancel(ctx)
	next, commands := Transition(state, ev)
	for _, cmd := range commands {
		switch cmd.Kind {
		case CommandSetStatus:
			if err := w.store.UpdateRequestStatus(statusCtx, job.RequestID, cmd.Status, cmd.ErrText); err != nil {
				w.logger.Error("status update failed",
					zap.String("request_id", job.RequestID),
					zap.String("status", string(cmd.Status)),
					zap.Error(err),
				)
			}
		case CommandRequeue:
			w.requeue(job, next.Attempt)
		case CommandDiscard:
			// Results never leave the worker for canceled requests;
			// nothing to unwind.
		}
	}
	return next
}

// requeue schedules the retry without blocking the worker; the backoff
// sleep happens in its own goroutine so other queued jobs keep flowing.
func (w *Worker) requeue(job audit.Job, attempt int) {
	delay := w.cfg.Backoff.Delay(attempt)
	w.logger.Info("requeueing request",
		zap.String("request_id", job.RequestID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)
	ctx := w.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	next := job
	next.Attempt = attempt
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		if err := w.queue.Enqueue(ctx, next); err != nil {
			w.logger.Error("requeue failed",
				zap.String("request_id", next.RequestID), zap.Error(err))
		}
	}()
}

func (w *Worker) requestedKinds(req audit.Request) []audit.ModuleKind {
	if len(req.Modules) > 0 {
		return req.Modules
	}
	return w.registry.Kinds()
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter != nil {
		w.emitter.Emit(evt)
	}
}

// cancelRegistry tracks in-flight requests so Cancel can reach them.
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *cancelRegistry) register(requestID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[requestID] = cancel
}

func (r *cancelRegistry) unregister(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, requestID)
}

// cancel fires the request's cancel func if it is in flight.
func (r *cancelRegistry) cancel(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[requestID]
	if ok {
		cancel()
	}
	return ok
}
