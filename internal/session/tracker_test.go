package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medforge/portal/internal/apiclient"
	"github.com/medforge/portal/internal/apitest"
	"github.com/medforge/portal/pkg/models"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

// fakeClock records scheduled callbacks so tests fire them explicitly
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ft := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, ft)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.stopped || ft.fired {
			return false
		}
		ft.stopped = true
		return true
	}
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ft := range c.timers {
		if !ft.stopped && !ft.fired {
			n++
		}
	}
	return n
}

// FireNext runs the oldest pending callback on the calling goroutine
func (c *fakeClock) FireNext() bool {
	c.mu.Lock()
	var next *fakeTimer
	for _, ft := range c.timers {
		if !ft.stopped && !ft.fired {
			next = ft
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	c.mu.Unlock()

	if next == nil {
		return false
	}
	next.f()
	return true
}

type result struct {
	session *models.Session
	err     error
}

// scriptedAPI answers CurrentSession from a queue, repeating the last entry
type scriptedAPI struct {
	mu        sync.Mutex
	results   []result
	calls     int
	creates   int
	stops     []string
	createErr error
	stopErr   error
}

func (a *scriptedAPI) CurrentSession(ctx context.Context) (*models.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.results) == 0 {
		return nil, nil
	}
	r := a.results[0]
	if len(a.results) > 1 {
		a.results = a.results[1:]
	}
	return r.session, r.err
}

func (a *scriptedAPI) CreateSession(ctx context.Context) (*models.SessionCreateResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creates++
	if a.createErr != nil {
		return nil, a.createErr
	}
	return &models.SessionCreateResponse{Message: "Session started.", Session: apitest.Session("new", models.StatusStarting)}, nil
}

func (a *scriptedAPI) StopSession(ctx context.Context, id string) (*models.SessionActionResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops = append(a.stops, id)
	if a.stopErr != nil {
		return nil, a.stopErr
	}
	return &models.SessionActionResponse{Message: "Session stop requested."}, nil
}

func (a *scriptedAPI) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func withStatus(status models.SessionStatus) result {
	s := apitest.Session("s1", status)
	return result{session: &s}
}

func newTestTracker(api SessionAPI, clock *fakeClock, opts ...Option) *Tracker {
	opts = append([]Option{WithAfterFunc(clock.AfterFunc)}, opts...)
	return NewTracker(api, opts...)
}

func TestTransitionPollsUntilSettled(t *testing.T) {
	api := &scriptedAPI{results: []result{withStatus(models.StatusStarting), withStatus(models.StatusRunning)}}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock)
	defer tr.Close()

	session, err := tr.FetchCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarting, session.Status)
	assert.Equal(t, 1, clock.Pending())
	assert.Equal(t, DefaultInterval, clock.timers[0].d)

	require.True(t, clock.FireNext())
	assert.Equal(t, 2, api.Calls())
	assert.Equal(t, models.StatusRunning, tr.Snapshot().Session.Status)
	assert.Equal(t, 0, clock.Pending())
	assert.False(t, tr.Polling())
	assert.False(t, clock.FireNext())
	assert.Equal(t, 2, api.Calls())
}

func TestNonTransitioningStatusesDoNotPoll(t *testing.T) {
	tests := []struct {
		name   string
		result result
	}{
		{"running", withStatus(models.StatusRunning)},
		{"stopped", withStatus(models.StatusStopped)},
		{"error", withStatus(models.StatusError)},
		{"absent", result{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &scriptedAPI{results: []result{tt.result}}
			clock := &fakeClock{}
			tr := newTestTracker(api, clock)
			defer tr.Close()

			_, err := tr.FetchCurrent(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, clock.Pending())
			assert.False(t, tr.Polling())
			assert.False(t, tr.Snapshot().Loading)
		})
	}
}

func TestStoppingKeepsExactlyOneTimer(t *testing.T) {
	api := &scriptedAPI{results: []result{withStatus(models.StatusStopping)}}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock, WithInterval(time.Second))
	defer tr.Close()

	for i := 0; i < 4; i++ {
		_, err := tr.FetchCurrent(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, clock.Pending())
	}

	for i := 0; i < 3; i++ {
		require.True(t, clock.FireNext())
		assert.Equal(t, 1, clock.Pending())
	}
	assert.Equal(t, 7, api.Calls())
	assert.True(t, tr.Polling())
}

func TestFailureClearsSessionButKeepsTransitionAlive(t *testing.T) {
	api := &scriptedAPI{results: []result{
		withStatus(models.StatusStarting),
		{err: &apiclient.TransportError{Method: "GET", Path: "/x", Err: errors.New("connection reset")}},
		withStatus(models.StatusRunning),
	}}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock)
	defer tr.Close()

	_, err := tr.FetchCurrent(context.Background())
	require.NoError(t, err)

	require.True(t, clock.FireNext())
	state := tr.Snapshot()
	assert.Nil(t, state.Session)
	assert.Contains(t, state.Err, "connection reset")
	assert.Equal(t, 1, clock.Pending())

	require.True(t, clock.FireNext())
	state = tr.Snapshot()
	require.NotNil(t, state.Session)
	assert.Equal(t, models.StatusRunning, state.Session.Status)
	assert.Empty(t, state.Err)
	assert.Equal(t, 0, clock.Pending())
}

func TestFailureWithoutTransitionDoesNotPoll(t *testing.T) {
	api := &scriptedAPI{results: []result{
		withStatus(models.StatusRunning),
		{err: &apiclient.RequestError{Message: "Session service unavailable.", Status: 503}},
	}}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock)
	defer tr.Close()

	_, _ = tr.FetchCurrent(context.Background())
	_, err := tr.FetchCurrent(context.Background())
	require.Error(t, err)

	state := tr.Snapshot()
	assert.Nil(t, state.Session)
	assert.Equal(t, "Session service unavailable.", state.Err)
	assert.Equal(t, 0, clock.Pending())
}

func TestRepeatedFailuresPausePolling(t *testing.T) {
	failure := result{err: errors.New("timeout")}
	api := &scriptedAPI{results: []result{withStatus(models.StatusStarting), failure}}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock, WithMaxFailures(3))
	defer tr.Close()

	_, _ = tr.FetchCurrent(context.Background())
	fired := 0
	for clock.FireNext() {
		fired++
		require.Less(t, fired, 10)
	}
	assert.Equal(t, 3, fired)
	assert.Equal(t, 4, api.Calls())
	assert.False(t, tr.Polling())

	api.mu.Lock()
	api.results = []result{withStatus(models.StatusStarting)}
	api.mu.Unlock()

	tr.Refresh()
	require.Eventually(t, func() bool { return tr.Polling() }, time.Second, 5*time.Millisecond)
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	api := &orderedAPI{release: release}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock)
	defer tr.Close()

	slowDone := make(chan *models.Session, 1)
	go func() {
		s, _ := tr.FetchCurrent(context.Background())
		slowDone <- s
	}()
	require.Eventually(t, func() bool { return api.Started() == 1 }, time.Second, time.Millisecond)

	fresh, err := tr.FetchCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, fresh.Status)

	close(release)
	stale := <-slowDone
	assert.Equal(t, models.StatusStarting, stale.Status)

	state := tr.Snapshot()
	assert.Equal(t, models.StatusRunning, state.Session.Status)
	assert.Equal(t, 0, clock.Pending())
}

// orderedAPI blocks its first call until release is closed; later calls
// return running immediately.
type orderedAPI struct {
	scriptedAPI
	release chan struct{}
	started int
}

func (a *orderedAPI) CurrentSession(ctx context.Context) (*models.Session, error) {
	a.mu.Lock()
	a.started++
	first := a.started == 1
	a.mu.Unlock()

	if first {
		<-a.release
		s := apitest.Session("s1", models.StatusStarting)
		return &s, nil
	}
	s := apitest.Session("s1", models.StatusRunning)
	return &s, nil
}

func (a *orderedAPI) Started() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

func TestCloseReleasesTimer(t *testing.T) {
	api := &scriptedAPI{results: []result{withStatus(models.StatusStarting)}}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock)

	_, _ = tr.FetchCurrent(context.Background())
	require.Equal(t, 1, clock.Pending())

	tr.Close()
	assert.Equal(t, 0, clock.Pending())
	assert.False(t, tr.Polling())

	// a callback that already escaped the timer must still be inert
	clock.timers[0].f()
	assert.Equal(t, 1, api.Calls())

	_, err := tr.FetchCurrent(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseDuringFetchIsInert(t *testing.T) {
	api := &blockingAPI{entered: make(chan struct{})}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock)

	var notified int
	var mu sync.Mutex
	tr.Subscribe(func(State) {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() {
		_, err := tr.FetchCurrent(context.Background())
		done <- err
	}()
	<-api.entered

	before := tr.Snapshot()
	tr.Close()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, tr.Snapshot())
	assert.True(t, tr.Snapshot().Loading)
	assert.Equal(t, 0, clock.Pending())

	mu.Lock()
	assert.Equal(t, 0, notified)
	mu.Unlock()
}

// blockingAPI waits for its context to be cancelled
type blockingAPI struct {
	scriptedAPI
	entered chan struct{}
}

func (a *blockingAPI) CurrentSession(ctx context.Context) (*models.Session, error) {
	close(a.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCreateTriggersRefresh(t *testing.T) {
	api := &scriptedAPI{results: []result{withStatus(models.StatusStarting)}}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock)
	defer tr.Close()

	resp, err := tr.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Session started.", resp.Message)
	assert.Equal(t, models.StatusStarting, resp.Session.Status)

	require.Eventually(t, func() bool { return api.Calls() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return tr.Polling() }, time.Second, time.Millisecond)
}

func TestCreateRejectedLeavesStateUntouched(t *testing.T) {
	api := &scriptedAPI{createErr: &apiclient.RequestError{Message: "Quota exceeded.", Status: 409, Code: "session_quota_exceeded"}}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock)
	defer tr.Close()

	before := tr.Snapshot()
	_, err := tr.Create(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Quota exceeded.", apiclient.Message(err, ""))
	assert.Equal(t, before, tr.Snapshot())
	assert.Equal(t, 0, api.Calls())
}

func TestStop(t *testing.T) {
	api := &scriptedAPI{results: []result{withStatus(models.StatusStopping)}}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock)
	defer tr.Close()

	_, err := tr.Stop(context.Background(), "")
	require.Error(t, err)

	resp, err := tr.Stop(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Session stop requested.", resp.Message)
	assert.Equal(t, []string{"s1"}, api.stops)

	require.Eventually(t, func() bool { return tr.Polling() }, time.Second, time.Millisecond)
}

func TestSubscribe(t *testing.T) {
	api := &scriptedAPI{results: []result{withStatus(models.StatusRunning), {}}}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock)
	defer tr.Close()

	var got []State
	unsubscribe := tr.Subscribe(func(s State) { got = append(got, s) })

	_, _ = tr.FetchCurrent(context.Background())
	unsubscribe()
	_, _ = tr.FetchCurrent(context.Background())

	require.Len(t, got, 1)
	assert.Equal(t, models.StatusRunning, got[0].Session.Status)
}

func TestStartWithRealTimer(t *testing.T) {
	api := &scriptedAPI{results: []result{withStatus(models.StatusStarting), withStatus(models.StatusStarting), withStatus(models.StatusRunning)}}
	tr := NewTracker(api, WithInterval(10*time.Millisecond))
	defer tr.Close()

	tr.Start()
	require.Eventually(t, func() bool {
		s := tr.Snapshot().Session
		return s != nil && s.Status == models.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, api.Calls())
	assert.False(t, tr.Polling())
}

func TestUnknownStatusDoesNotPoll(t *testing.T) {
	api := &scriptedAPI{results: []result{withStatus(models.SessionStatus("paused"))}}
	clock := &fakeClock{}
	tr := newTestTracker(api, clock)
	defer tr.Close()

	session, err := tr.FetchCurrent(context.Background())
	require.NoError(t, err)
	assert.False(t, session.Status.Valid())
	assert.Equal(t, 0, clock.Pending())
	assert.False(t, tr.Polling())
}
