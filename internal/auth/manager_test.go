package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeTimer records a scheduled callback without running it.
type fakeTimer struct {
	delay   time.Duration
	fire    func()
	stopped bool
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) func() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	timer := &fakeTimer{delay: d, fire: f}
	ft.timers = append(ft.timers, timer)
	return func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		wasPending := !timer.stopped
		timer.stopped = true
		return wasPending
	}
}

func (ft *fakeTimers) count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.timers)
}

func (ft *fakeTimers) get(i int) *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.timers[i]
}

func (ft *fakeTimers) pending() []*fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var out []*fakeTimer
	for _, t := range ft.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fireLast runs the most recently scheduled callback as if its timer expired.
func (ft *fakeTimers) fireLast() {
	ft.mu.Lock()
	timer := ft.timers[len(ft.timers)-1]
	timer.stopped = true
	ft.mu.Unlock()
	timer.fire()
}

// scriptedExchanger replays results in order, repeating the last one.
type scriptedExchanger struct {
	mu      sync.Mutex
	results []exchangeResult
	calls   int
}

type exchangeResult struct {
	grant Grant
	err   error
}

func (s *scriptedExchanger) Exchange(context.Context) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := min(s.calls, len(s.results)-1)
	s.calls++
	return s.results[i].grant, s.results[i].err
}

func (s *scriptedExchanger) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func ok(token string, lifetime time.Duration) exchangeResult {
	return exchangeResult{grant: Grant{AccessToken: token, Lifetime: lifetime}}
}

func fail(msg string) exchangeResult {
	return exchangeResult{err: errors.New(msg)}
}

func newTestManager(ex Exchanger, opts ...Option) (*Manager, *fakeClock, *fakeTimers) {
	clock := newFakeClock()
	timers := &fakeTimers{}
	base := []Option{
		WithLogger(zerolog.Nop()),
		WithClock(clock.Now),
		WithAfterFunc(timers.AfterFunc),
	}
	return NewManager(ex, append(base, opts...)...), clock, timers
}

func TestManager_NotReadyBeforeRenewal(t *testing.T) {
	m, _, _ := newTestManager(&scriptedExchanger{results: []exchangeResult{ok("abc", time.Hour)}})

	_, err := m.CurrentToken()
	assert.ErrorIs(t, err, ErrNotReady)

	deferred := false
	token, ready := m.TokenOrDefer(func() { deferred = true })
	assert.False(t, ready)
	assert.Empty(t, token)
	assert.True(t, deferred, "not-ready callback should run")
}

func TestManager_RenewStoresTokenAndArmsTimer(t *testing.T) {
	m, clock, timers := newTestManager(&scriptedExchanger{results: []exchangeResult{ok("abc", 3600 * time.Second)}})
	issued := clock.Now()

	tok, err := m.Renew(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "abc", tok.Value)
	assert.Equal(t, issued, tok.IssuedAt)
	assert.Equal(t, issued.Add(3595*time.Second), tok.ExpiresAt)

	current, err := m.CurrentToken()
	require.NoError(t, err)
	assert.Equal(t, "abc", current)

	require.Equal(t, 1, timers.count())
	assert.Equal(t, 3595*time.Second, timers.get(0).delay)

	deferred := false
	token, ready := m.TokenOrDefer(func() { deferred = true })
	assert.True(t, ready)
	assert.Equal(t, "abc", token)
	assert.False(t, deferred)
}

func TestManager_SecondRenewCancelsPendingTimer(t *testing.T) {
	ex := &scriptedExchanger{results: []exchangeResult{ok("first", time.Hour), ok("second", time.Hour)}}
	m, _, timers := newTestManager(ex)

	_, err := m.Renew(context.Background())
	require.NoError(t, err)
	_, err = m.Renew(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, timers.count())
	assert.True(t, timers.get(0).stopped, "first timer should be cancelled")
	assert.False(t, timers.get(1).stopped)
	assert.Len(t, timers.pending(), 1, "exactly one renewal may be pending")

	current, err := m.CurrentToken()
	require.NoError(t, err)
	assert.Equal(t, "second", current)
}

func TestManager_ScheduledRenewalReplacesToken(t *testing.T) {
	ex := &scriptedExchanger{results: []exchangeResult{ok("first", time.Hour), ok("second", 30 * time.Minute)}}
	m, clock, timers := newTestManager(ex)

	_, err := m.Renew(context.Background())
	require.NoError(t, err)

	clock.Advance(3595 * time.Second)
	timers.fireLast()

	current, err := m.CurrentToken()
	require.NoError(t, err)
	assert.Equal(t, "second", current)
	assert.Equal(t, 2, ex.callCount())

	pending := timers.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 30*time.Minute-SafetyMargin, pending[0].delay)
}

func TestManager_RenewFailureKeepsTokenAndTimer(t *testing.T) {
	ex := &scriptedExchanger{results: []exchangeResult{ok("abc", time.Hour), fail("network down")}}
	m, _, timers := newTestManager(ex)

	_, err := m.Renew(context.Background())
	require.NoError(t, err)

	_, err = m.Renew(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")

	current, err := m.CurrentToken()
	require.NoError(t, err)
	assert.Equal(t, "abc", current)

	require.Equal(t, 1, timers.count(), "a failed explicit renewal must not re-arm")
	assert.False(t, timers.get(0).stopped)
}

func TestManager_ScheduledFailureRetriesThenGivesUp(t *testing.T) {
	ex := &scriptedExchanger{results: []exchangeResult{ok("abc", time.Hour), fail("unavailable")}}
	m, clock, timers := newTestManager(ex, WithRetryDelays([]time.Duration{time.Second, 2 * time.Second}))

	_, err := m.Renew(context.Background())
	require.NoError(t, err)

	clock.Advance(3595 * time.Second)
	timers.fireLast()
	pending := timers.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, time.Second, pending[0].delay)

	timers.fireLast()
	pending = timers.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 2*time.Second, pending[0].delay)

	timers.fireLast()
	assert.Empty(t, timers.pending(), "retries exhausted")
	assert.Equal(t, 4, ex.callCount())

	_, err = m.CurrentToken()
	assert.ErrorIs(t, err, ErrNotReady, "token past its expiry is not served")

	held, found := m.Token()
	assert.True(t, found)
	assert.Equal(t, "abc", held.Value)
}

func TestManager_RetrySuccessResetsBackoff(t *testing.T) {
	ex := &scriptedExchanger{results: []exchangeResult{
		ok("abc", time.Hour),
		fail("blip"),
		ok("def", time.Hour),
		fail("blip again"),
	}}
	m, _, timers := newTestManager(ex, WithRetryDelays([]time.Duration{time.Second, 2 * time.Second}))

	_, err := m.Renew(context.Background())
	require.NoError(t, err)

	timers.fireLast() // fails, retry in 1s
	timers.fireLast() // succeeds
	current, err := m.CurrentToken()
	require.NoError(t, err)
	assert.Equal(t, "def", current)

	timers.fireLast() // fails again, backoff starts over
	pending := timers.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, time.Second, pending[0].delay)
}

func TestManager_StartFailureSchedulesRetry(t *testing.T) {
	ex := &scriptedExchanger{results: []exchangeResult{fail("no route"), ok("late", time.Hour)}}
	m, _, timers := newTestManager(ex, WithRetryDelays([]time.Duration{time.Second}))

	m.Start(context.Background())

	_, err := m.CurrentToken()
	assert.ErrorIs(t, err, ErrNotReady)

	pending := timers.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, time.Second, pending[0].delay)

	timers.fireLast()
	current, err := m.CurrentToken()
	require.NoError(t, err)
	assert.Equal(t, "late", current)
}

func TestManager_StartSuccess(t *testing.T) {
	m, _, timers := newTestManager(&scriptedExchanger{results: []exchangeResult{ok("abc", time.Hour)}})

	m.Start(context.Background())

	current, err := m.CurrentToken()
	require.NoError(t, err)
	assert.Equal(t, "abc", current)
	assert.Len(t, timers.pending(), 1)
}

func TestManager_ExpiredTokenIsNotReady(t *testing.T) {
	m, clock, _ := newTestManager(&scriptedExchanger{results: []exchangeResult{ok("abc", time.Minute)}})

	_, err := m.Renew(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Minute - SafetyMargin - time.Millisecond)
	_, err = m.CurrentToken()
	assert.NoError(t, err)

	clock.Advance(time.Millisecond)
	_, err = m.CurrentToken()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestManager_ShortLifetimeUsesMinimumDelay(t *testing.T) {
	m, _, timers := newTestManager(&scriptedExchanger{results: []exchangeResult{ok("abc", 3 * time.Second)}})

	_, err := m.Renew(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, timers.count())
	assert.Equal(t, minRenewDelay, timers.get(0).delay)
}

func TestManager_StopCancelsPendingTimer(t *testing.T) {
	ex := &scriptedExchanger{results: []exchangeResult{ok("abc", time.Hour)}}
	m, _, timers := newTestManager(ex)

	_, err := m.Renew(context.Background())
	require.NoError(t, err)

	m.Stop()
	assert.Empty(t, timers.pending())

	// A callback that was already in flight becomes a no-op.
	timers.get(0).fire()
	assert.Equal(t, 1, ex.callCount())

	// Explicit renewals still update the token but never re-arm.
	_, err = m.Renew(context.Background())
	require.NoError(t, err)
	assert.Empty(t, timers.pending())
}

// hookExchanger runs onExchange inside every exchange, while renewMu is held.
type hookExchanger struct {
	scriptedExchanger
	onExchange func(call int)
}

func (h *hookExchanger) Exchange(ctx context.Context) (Grant, error) {
	call := h.callCount()
	if h.onExchange != nil {
		h.onExchange(call)
	}
	return h.scriptedExchanger.Exchange(ctx)
}

func TestManager_FiredTimerYieldsToExplicitRenew(t *testing.T) {
	ex := &hookExchanger{scriptedExchanger: scriptedExchanger{results: []exchangeResult{
		ok("first", time.Hour),
		ok("manual", time.Hour),
		ok("redundant", time.Hour),
	}}}
	m, _, timers := newTestManager(ex)

	_, err := m.Renew(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, timers.count())

	// The first timer expires while the manual renewal is exchanging.
	var wg sync.WaitGroup
	ex.onExchange = func(call int) {
		if call != 1 {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			timers.get(0).fire()
		}()
		time.Sleep(10 * time.Millisecond)
	}

	_, err = m.Renew(context.Background())
	require.NoError(t, err)
	wg.Wait()

	assert.Equal(t, 2, ex.callCount(), "the stale timer must not exchange again")
	current, err := m.CurrentToken()
	require.NoError(t, err)
	assert.Equal(t, "manual", current)
	assert.Len(t, timers.pending(), 1)
}

// blockingExchanger records the maximum number of overlapping exchanges.
type blockingExchanger struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (b *blockingExchanger) Exchange(context.Context) (Grant, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		seen := b.maxSeen.Load()
		if n <= seen || b.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	b.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return Grant{AccessToken: "tok", Lifetime: time.Hour}, nil
}

func TestManager_ConcurrentRenewalsAreSerialized(t *testing.T) {
	ex := &blockingExchanger{}
	m, _, timers := newTestManager(ex)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Renew(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ex.maxSeen.Load(), "renewals must not overlap")
	assert.Equal(t, int32(callers), ex.calls.Load())
	assert.Equal(t, callers, timers.count())
	assert.Len(t, timers.pending(), 1, "no timer may leak")
}
