package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/medforge/portal/internal/apiclient"
	"github.com/medforge/portal/pkg/models"
)

const (
	DefaultInterval    = 3 * time.Second
	DefaultMaxFailures = 5
)

// ErrClosed is returned by operations on a tracker that has been torn down
var ErrClosed = errors.New("session tracker closed")

// SessionAPI is the part of the API client the tracker needs
type SessionAPI interface {
	CurrentSession(ctx context.Context) (*models.Session, error)
	CreateSession(ctx context.Context) (*models.SessionCreateResponse, error)
	StopSession(ctx context.Context, id string) (*models.SessionActionResponse, error)
}

// State is the tracker's local view of "my current session". Session is
// replaced wholesale on every applied fetch and must be treated as read-only.
type State struct {
	Session   *models.Session `json:"session"`
	Loading   bool            `json:"loading"`
	Err       string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AfterFunc runs f once after d and returns a function that cancels it
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Tracker mirrors the caller's remote session and polls it while the
// orchestrator is moving it between states. One Tracker belongs to one
// view and must be closed when that view goes away.
//
// Polling through failed fetches is bounded: after MaxFailures consecutive
// failures nothing stays scheduled, even though the last observed status
// was transitioning. The tracker then waits for Refresh, Create or Stop.
type Tracker struct {
	api         SessionAPI
	interval    time.Duration
	maxFailures int
	afterFunc   AfterFunc
	now         func() time.Time
	log         zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	lastStatus models.SessionStatus
	failures   int
	issued     uint64
	applied    uint64
	timerGen   uint64
	stopTimer  func() bool
	closed     bool
	listeners  map[int]func(State)
	nextID     int
}

// Option configures a Tracker
type Option func(*Tracker)

// WithInterval sets the delay before a follow-up fetch
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithMaxFailures sets how many consecutive failed fetches are retried
// during a transition before polling gives up until the next Refresh.
func WithMaxFailures(n int) Option {
	return func(t *Tracker) {
		if n >= 0 {
			t.maxFailures = n
		}
	}
}

// WithAfterFunc replaces the timer implementation
func WithAfterFunc(fn AfterFunc) Option {
	return func(t *Tracker) {
		t.afterFunc = fn
	}
}

// WithLogger sets the tracker's logger
func WithLogger(log zerolog.Logger) Option {
	return func(t *Tracker) {
		t.log = log
	}
}

// WithClock sets the source of UpdatedAt timestamps
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker. Nothing is fetched until Start or FetchCurrent.
func NewTracker(api SessionAPI, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		api:         api,
		interval:    DefaultInterval,
		maxFailures: DefaultMaxFailures,
		afterFunc:   realAfterFunc,
		now:         time.Now,
		log:         zerolog.Nop(),
		ctx:         ctx,
		cancel:      cancel,
		state:       State{Loading: true},
		listeners:   make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start performs the unconditional first fetch in the background
func (t *Tracker) Start() {
	go func() {
		_, _ = t.FetchCurrent(t.ctx)
	}()
}

// Refresh re-fetches in the background and gives polling a fresh failure budget
func (t *Tracker) Refresh() {
	t.mu.Lock()
	t.failures = 0
	t.mu.Unlock()
	t.Start()
}

// FetchCurrent fetches the session once. On success the snapshot is
// replaced; on failure the session is cleared and the error recorded. The
// result of a fetch issued before one that was already applied is returned
// to the caller but never applied.
func (t *Tracker) FetchCurrent(ctx context.Context) (*models.Session, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.issued++
	seq := t.issued
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.ctx, cancel)
	session, err := t.api.CurrentSession(ctx)
	stop()
	cancel()

	t.mu.Lock()
	if t.closed || seq <= t.applied {
		t.mu.Unlock()
		return session, err
	}
	t.applied = seq

	if err != nil {
		t.failures++
		t.state = State{Err: apiclient.Message(err, "Failed to fetch session."), UpdatedAt: t.now()}
		t.log.Warn().Err(err).Int("failures", t.failures).Str("last_status", string(t.lastStatus)).Msg("session fetch failed")
	} else {
		t.failures = 0
		t.lastStatus = ""
		if session != nil {
			t.lastStatus = session.Status
			if !session.Status.Valid() {
				t.log.Warn().Str("session_id", session.ID).Str("status", string(session.Status)).Msg("unknown session status")
			}
		}
		t.state = State{Session: session, UpdatedAt: t.now()}
	}
	t.rescheduleLocked()

	snapshot := t.state
	listeners := make([]func(State), 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return session, err
}

// rescheduleLocked replaces any pending follow-up with at most one new one
func (t *Tracker) rescheduleLocked() {
	t.timerGen++
	if t.stopTimer != nil {
		t.stopTimer()
		t.stopTimer = nil
	}

	if !t.lastStatus.IsTransitioning() {
		return
	}
	if t.failures > 0 && t.failures >= t.maxFailures {
		t.log.Warn().Int("failures", t.failures).Msg("session polling paused after repeated failures")
		return
	}

	gen := t.timerGen
	t.stopTimer = t.afterFunc(t.interval, func() {
		t.tick(gen)
	})
}

func (t *Tracker) tick(gen uint64) {
	t.mu.Lock()
	if t.closed || gen != t.timerGen {
		t.mu.Unlock()
		return
	}
	t.stopTimer = nil
	t.mu.Unlock()

	_, _ = t.FetchCurrent(t.ctx)
}

// Create requests a new session. Overlapping calls are not deduplicated.
func (t *Tracker) Create(ctx context.Context) (*models.SessionCreateResponse, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	resp, err := t.api.CreateSession(ctx)
	if err != nil {
		t.log.Info().Err(err).Msg("session create rejected")
		return nil, err
	}

	t.log.Info().Str("session_id", resp.Session.ID).Str("status", string(resp.Session.Status)).Msg("session created")
	t.Refresh()
	return resp, nil
}

// Stop requests termination of session id. The terminal state is observed
// through polling, not through the response.
func (t *Tracker) Stop(ctx context.Context, id string) (*models.SessionActionResponse, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	if t.isClosed() {
		return nil, ErrClosed
	}

	resp, err := t.api.StopSession(ctx, id)
	if err != nil {
		t.log.Info().Err(err).Str("session_id", id).Msg("session stop rejected")
		return nil, err
	}

	t.log.Info().Str("session_id", id).Msg("session stop accepted")
	t.Refresh()
	return resp, nil
}

// Snapshot returns the current local state
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Polling reports whether a follow-up fetch is scheduled
func (t *Tracker) Polling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopTimer != nil
}

// Subscribe registers fn for every applied state change. fn runs on the
// fetching goroutine and must not call Close.
func (t *Tracker) Subscribe(fn func(State)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return func() {}
	}

	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Close stops the timer, cancels in-flight fetches and waits for them.
// No state change or notification happens after Close returns.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.timerGen++
	if t.stopTimer != nil {
		t.stopTimer()
		t.stopTimer = nil
	}
	t.listeners = nil
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
