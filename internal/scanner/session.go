package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sungwoon-dev/mealpass/internal/civil"
	"github.com/sungwoon-dev/mealpass/pkg/logger"
)

const (
	defaultMaxAttempts = 3
	defaultInitTimeout = 10 * time.Second
	defaultCooldown    = time.Second
)

// ErrSessionStopped is returned by Start when the session was stopped before
// or during acquisition.
var ErrSessionStopped = errors.New("scanner: session stopped")

// ErrDateRollover marks a session aborted because the civil date changed
// while scanning.
var ErrDateRollover = errors.New("scanner: civil date rolled over")

// Session drives one scan session through
// Idle -> Initializing -> Scanning -> Processing -> Scanning, ending in
// Stopped on manual stop, fatal source error, or date rollover.
type Session struct {
	source  Source
	process ProcessFunc
	logger  *zap.Logger

	maxAttempts int
	initTimeout time.Duration
	cooldown    time.Duration
	now         func() time.Time
	rollover    <-chan string
	watcher     *civil.Watcher

	mu        sync.Mutex
	state     State
	err       error
	startDate string
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithMaxAttempts bounds camera-acquisition retries across facing fallbacks.
func WithMaxAttempts(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithInitTimeout bounds each acquisition attempt.
func WithInitTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.initTimeout = d
		}
	}
}

// WithCooldown sets the pause after each processed frame before the next one
// is taken, so the same physical ticket is not immediately rescanned.
func WithCooldown(d time.Duration) SessionOption {
	return func(s *Session) {
		if d >= 0 {
			s.cooldown = d
		}
	}
}

// WithSessionClock injects a clock, used by tests.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRolloverSignal aborts the session when a new civil date arrives on the
// channel. Without this option the session runs its own civil.Watcher.
func WithRolloverSignal(ch <-chan string) SessionOption {
	return func(s *Session) {
		s.rollover = ch
	}
}

// NewSession constructs an idle session.
func NewSession(source Source, process ProcessFunc, opts ...SessionOption) (*Session, error) {
	if source == nil {
		return nil, errors.New("scanner: source is required")
	}
	if process == nil {
		return nil, errors.New("scanner: process func is required")
	}

	session := &Session{
		source:      source,
		process:     process,
		logger:      logger.WithModule("scanner"),
		maxAttempts: defaultMaxAttempts,
		initTimeout: defaultInitTimeout,
		cooldown:    defaultCooldown,
		now:         time.Now,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(session)
	}
	return session, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err reports why the session stopped, nil for a manual stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.err, context.Canceled) {
		return nil
	}
	return s.err
}

// Done closes when the session reaches Stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start acquires a stream and begins the scan loop in a new goroutine. It
// returns once the session is Scanning, or with the acquisition error. A
// session starts at most once.
func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scanner: session already started")
	}
	if s.state == StateStopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	s.started = true
	s.state = StateInitializing
	s.startDate = civil.Date(s.now())

	if s.rollover == nil {
		s.watcher = civil.NewWatcher(civil.WithClock(s.now))
		s.rollover = s.watcher.Rollover()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	stream, err := s.acquire(runCtx)
	if err != nil {
		s.finish(err)
		cancel()
		return err
	}

	s.setState(StateScanning)
	go s.run(runCtx, stream)
	return nil
}

// Stop ends the session manually. Safe to call repeatedly and before Start.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		return
	}
	if !started {
		// Never started: move straight to Stopped.
		s.finish(nil)
	}
}

// acquire tries the facing-mode fallback chain with bounded attempts and a
// per-attempt timeout.
func (s *Session) acquire(ctx context.Context) (Stream, error) {
	var lastErr error

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ErrSessionStopped
		}

		facing := facingFallback[attempt%len(facingFallback)]

		attemptCtx, cancel := context.WithTimeout(ctx, s.initTimeout)
		stream, err := s.source.Acquire(attemptCtx, facing)
		cancel()

		if err == nil {
			return stream, nil
		}
		lastErr = err
		s.logger.Warn("camera acquisition failed",
			zap.Int("attempt", attempt+1),
			zap.String("facing", string(facing)),
			zap.Error(err),
		)
	}

	return nil, fmt.Errorf("scanner: camera acquisition failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Session) run(ctx context.Context, stream Stream) {
	defer stream.Release()

	for {
		select {
		case <-ctx.Done():
			s.finish(ctx.Err())
			return

		case date := <-s.rolloverCh():
			s.logger.Info("aborting scan session on date rollover", zap.String("date", date))
			s.finish(ErrDateRollover)
			return

		case frame, ok := <-stream.Frames():
			if !ok {
				s.finish(errors.New("scanner: frame source closed"))
				return
			}

			// Validating against a stale session date is never acceptable.
			if civil.Date(s.now()) != s.startDate {
				s.finish(ErrDateRollover)
				return
			}

			s.setState(StateProcessing)
			s.process(ctx, frame)
			s.drain(stream)

			if !s.sleep(ctx) {
				s.finish(ctx.Err())
				return
			}
			s.setState(StateScanning)
		}
	}
}

// drain drops frames that piled up while processing, keeping redemption
// single-flight per session.
func (s *Session) drain(stream Stream) {
	for {
		select {
		case _, ok := <-stream.Frames():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) sleep(ctx context.Context) bool {
	if s.cooldown == 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(s.cooldown)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) rolloverCh() <-chan string {
	return s.rollover
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state != StateStopped {
		s.state = state
	}
	s.mu.Unlock()
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.err = err
	watcher := s.watcher
	s.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
	close(s.done)
}
