// Package browser owns the pool of long-lived headless Chrome
// processes. Sessions are checked out by exactly one consumer at a
// time; a session that misbehaves is invalidated instead of returned.
package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// SessionState tracks a pooled session's lifecycle.
type SessionState string

// Session states.
const (
	SessionIdle    SessionState = "idle"
	SessionInUse   SessionState = "in_use"
	SessionCrashed SessionState = "crashed"
)

// Process is one live browser process. The chromedp-backed
// implementation wraps an exec allocator; tests substitute fakes.
type Process interface {
	// Context is the browser-level chromedp context; callers derive
	// short-lived tab contexts from it.
	Context() context.Context
	// Done closes when the process exits for any reason.
	Done() <-chan struct{}
	Close() error
}

// Launcher spawns browser processes.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// Session is a checked-out handle to one pooled browser process.
type Session struct {
	id         string
	proc       Process
	createdAt  time.Time
	lastUsedAt time.Time
	state      SessionState
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Context returns the browser context for deriving tab contexts.
func (s *Session) Context() context.Context { return s.proc.Context() }

// Crashed reports whether the underlying process has exited.
func (s *Session) Crashed() bool {
	select {
	case <-s.proc.Done():
		return true
	default:
		return false
	}
}

// Config controls pool behavior.
type Config struct {
	MaxSessions     int
	AcquireTimeout  time.Duration
	LaunchRetries   int
	LaunchBackoff   audit.Backoff
	MaxIdle         time.Duration
	JanitorInterval time.Duration
	UserAgent       string
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 2
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.LaunchRetries < 0 {
		c.LaunchRetries = 0
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 5 * time.Minute
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
	return c
}

// Pool hands out browser sessions under a hard cap. Each in-use
// session holds one slot; idle sessions hold none, so the number of
// live processes never exceeds MaxSessions.
type Pool struct {
	cfg      Config
	launcher Launcher
	clock    audit.Clock
	logger   *zap.Logger

	slots chan struct{}

	mu   sync.Mutex
	idle []*Session

	stopCh chan struct{}
	doneCh chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// New constructs a Pool around the given launcher. Call Start before
// Acquire and Shutdown when finished.
func New(cfg Config, launcher Launcher, clock audit.Clock, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:      cfg,
		launcher: launcher,
		clock:    clock,
		logger:   logger,
		slots:    make(chan struct{}, cfg.MaxSessions),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// NewChromedp builds a Pool backed by headless Chrome, selecting launch
// arguments for the detected host platform.
func NewChromedp(cfg Config, clock audit.Clock, logger *zap.Logger) *Pool {
	platform := detectPlatform()
	if logger != nil {
		logger.Info("browser platform detected",
			zap.String("os", platform.os),
			zap.Bool("containerized", platform.containerized),
		)
	}
	launcher := &chromedpLauncher{opts: launchOptions(platform, cfg.UserAgent)}
	return New(cfg, launcher, clock, logger)
}

// Start launches the idle-session janitor.
func (p *Pool) Start() {
	go p.janitor()
}

// Acquire blocks until an idle session exists or a new process can be
// spawned under the cap. The wait is bounded by AcquireTimeout (or the
// caller's earlier deadline); on timeout it returns ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("%w: pool is shut down", audit.ErrPoolExhausted)
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	select {
	case p.slots <- struct{}{}:
	case <-waitCtx.Done():
		return nil, fmt.Errorf("%w: waited %s", audit.ErrPoolExhausted, p.cfg.AcquireTimeout)
	}

	if s := p.checkoutIdle(); s != nil {
		return s, nil
	}

	s, err := p.launch(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return s, nil
}

// checkoutIdle pops idle sessions until it finds a live one, tearing
// down any that crashed while parked.
func (p *Pool) checkoutIdle() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.idle) > 0 {
		s := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if s.Crashed() {
			p.teardown(s)
			continue
		}
		s.state = SessionInUse
		s.lastUsedAt = p.clock.Now()
		return s
	}
	return nil
}

func (p *Pool) launch(ctx context.Context) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.LaunchRetries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.LaunchBackoff.Delay(attempt - 1)
			p.logger.Warn("browser launch retry",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", audit.ErrLaunchFailed, ctx.Err())
			}
		}
		proc, err := p.launcher.Launch(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		now := p.clock.Now()
		s := &Session{
			id:         uuid.NewString(),
			proc:       proc,
			createdAt:  now,
			lastUsedAt: now,
			state:      SessionInUse,
		}
		p.logger.Debug("browser session launched", zap.String("session_id", s.id))
		return s, nil
	}
	return nil, fmt.Errorf("%w: %v", audit.ErrLaunchFailed, lastErr)
}

// Release returns a healthy session to the idle set. Sessions released
// after shutdown, or that crashed while in use, are torn down instead.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	if p.closed.Load() || s.Crashed() {
		p.Invalidate(s)
		return
	}
	p.mu.Lock()
	s.state = SessionIdle
	s.lastUsedAt = p.clock.Now()
	p.idle = append(p.idle, s)
	p.mu.Unlock()
	<-p.slots
}

// Invalidate tears a session down and removes it from the pool; use it
// instead of Release after a fatal error during use.
func (p *Pool) Invalidate(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	p.teardown(s)
	p.mu.Unlock()
	<-p.slots
}

// teardown closes the process; callers hold p.mu or own the session.
func (p *Pool) teardown(s *Session) {
	s.state = SessionCrashed
	if err := s.proc.Close(); err != nil {
		p.logger.Warn("browser session close failed",
			zap.String("session_id", s.id),
			zap.Error(err),
		)
	}
}

// Shutdown closes idle sessions and stops the janitor. In-use sessions
// are torn down as their holders release them.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closed.Store(true)
	p.once.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, s := range idle {
		p.teardown(s)
	}

	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool shutdown wait: %w", ctx.Err())
	}
}

// janitor recycles idle sessions that exceeded MaxIdle, bounding memory
// growth from long-lived Chrome processes. Replacements are spawned
// lazily on the next Acquire.
func (p *Pool) janitor() {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.recycleIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) recycleIdle() {
	now := p.clock.Now()
	p.mu.Lock()
	kept := p.idle[:0]
	var expired []*Session
	for _, s := range p.idle {
		if s.Crashed() || now.Sub(s.lastUsedAt) > p.cfg.MaxIdle {
			expired = append(expired, s)
			continue
		}
		kept = append(kept, s)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, s := range expired {
		p.logger.Debug("recycling idle browser session",
			zap.String("session_id", s.id),
			zap.Time("last_used", s.lastUsedAt),
		)
		p.mu.Lock()
		p.teardown(s)
		p.mu.Unlock()
	}
}
