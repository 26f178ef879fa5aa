package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/progress"
	"github.com/JakeFAU/site-auditor/internal/quota"
)

// QuotaChecker decides whether a request may proceed. *quota.Service
// satisfies it.
type QuotaChecker interface {
	CheckAndReserve(ctx context.Context, req audit.Request) (quota.Decision, error)
}

// Service is the submission-side API: validate, check quota, persist,
// enqueue. Workers pick the job up from there.
type Service struct {
	queue   audit.Queue
	store   audit.AuditStore
	quota   QuotaChecker
	ids     audit.IDGenerator
	clock   audit.Clock
	emitter progress.Emitter
	cancels *cancelRegistry
	logger  *zap.Logger
}

// NewService constructs the Service. Pass the same cancel registry to
// NewWorker so Cancel reaches in-flight requests.
func NewService(
	queue audit.Queue,
	store audit.AuditStore,
	quotaSvc QuotaChecker,
	ids audit.IDGenerator,
	clock audit.Clock,
	emitter progress.Emitter,
	cancels *cancelRegistry,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cancels == nil {
		cancels = newCancelRegistry()
	}
	return &Service{
		queue:   queue,
		store:   store,
		quota:   quotaSvc,
		ids:     ids,
		clock:   clock,
		emitter: emitter,
		cancels: cancels,
		logger:  logger,
	}
}

// Cancels exposes the shared registry for wiring workers.
func (s *Service) Cancels() *cancelRegistry { return s.cancels }

// Submission is the outcome of Submit.
type Submission struct {
	// RequestID identifies the new request, or the prior one when the
	// result was served from cache.
	RequestID string
	// Cached is non-nil when a recent report satisfied the request
	// without a new scan.
	Cached *audit.Report
	// Remaining scans in the user's window; -1 means unlimited.
	Remaining int
}

// Submit validates and enqueues an audit request. A recent report for
// the same user and normalized URL short-circuits the scan. Over-limit
// users get ErrLimitReached.
func (s *Service) Submit(ctx context.Context, rawURL string, kinds []audit.ModuleKind, userID string) (Submission, error) {
	if err := audit.ValidateTarget(rawURL); err != nil {
		return Submission{}, err
	}
	normalized, err := audit.NormalizeURL(rawURL)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %v", audit.ErrInvalidURL, err)
	}
	for _, kind := range kinds {
		if !audit.ValidModuleKind(kind) {
			return Submission{}, fmt.Errorf("%w: %q", audit.ErrUnknownModule, kind)
		}
	}
	if len(kinds) == 0 {
		kinds = audit.AllModuleKinds()
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Submission{}, fmt.Errorf("generate request id: %w", err)
	}
	req := audit.Request{
		ID:            id,
		URL:           rawURL,
		NormalizedURL: normalized,
		Modules:       kinds,
		UserID:        userID,
		CreatedAt:     s.clock.Now(),
	}

	decision, err := s.quota.CheckAndReserve(ctx, req)
	if err != nil {
		return Submission{}, err
	}
	if decision.Cached != nil {
		s.logger.Debug("served from report cache",
			zap.String("user_id", userID),
			zap.String("url", normalized),
		)
		return Submission{
			RequestID: decision.Cached.RequestID,
			Cached:    decision.Cached,
			Remaining: decision.Remaining,
		}, nil
	}

	if err := s.store.CreateRequest(ctx, req); err != nil {
		return Submission{}, fmt.Errorf("persist request: %w", err)
	}
	if err := s.queue.Enqueue(ctx, audit.Job{
		RequestID: req.ID,
		Request:   req,
		Submitted: req.CreatedAt.Unix(),
	}); err != nil {
		return Submission{}, fmt.Errorf("enqueue request: %w", err)
	}

	s.emitter.Emit(progress.Event{
		RequestID: req.ID,
		TS:        s.clock.Now(),
		Stage:     progress.StageRequestQueued,
		URL:       req.URL,
	})
	return Submission{RequestID: req.ID, Remaining: decision.Remaining}, nil
}

// Cancel marks a request canceled and interrupts it if in flight. The
// transition is idempotent: canceling a terminal request is an error,
// canceling twice is not possible past the first terminal write.
func (s *Service) Cancel(ctx context.Context, requestID string) error {
	status, _, err := s.store.GetRequestStatus(ctx, requestID)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return fmt.Errorf("%w: request %s is %s", audit.ErrAlreadyFinished, requestID, status)
	}

	if err := s.store.UpdateRequestStatus(ctx, requestID, audit.StatusCanceled, "canceled by user"); err != nil {
		return fmt.Errorf("mark canceled: %w", err)
	}
	interrupted := s.cancels.cancel(requestID)
	s.logger.Info("request canceled",
		zap.String("request_id", requestID),
		zap.Bool("in_flight", interrupted),
	)
	return nil
}

// Status returns the request's lifecycle state and any error text.
func (s *Service) Status(ctx context.Context, requestID string) (audit.RequestStatus, string, error) {
	return s.store.GetRequestStatus(ctx, requestID)
}

// List returns the user's recent audit requests, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]audit.Request, error) {
	reqs, err := s.store.ListRequests(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests for %q: %w", userID, err)
	}
	return reqs, nil
}

// Report returns the finished report for a request. ErrReportNotFound
// surfaces while the request is still running.
func (s *Service) Report(ctx context.Context, requestID string) (audit.Report, error) {
	report, err := s.store.GetReport(ctx, requestID)
	if err != nil {
		if errors.Is(err, audit.ErrReportNotFound) {
			return audit.Report{}, err
		}
		return audit.Report{}, fmt.Errorf("load report %s: %w", requestID, err)
	}
	return report, nil
}

// RunWorkers starts n workers against the shared queue and blocks
// until the context ends and every worker returns.
func RunWorkers(ctx context.Context, n int, build func() *Worker) error {
	if n <= 0 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		w := build()
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}
