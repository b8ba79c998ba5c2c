package auth

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

const (
	defaultRenewTimeout = 30 * time.Second

	// minRenewDelay keeps a token with a tiny lifetime from spinning the timer.
	minRenewDelay = time.Second
)

// AfterFunc schedules f to run after d and returns a function that cancels it.
// The cancel function reports whether the call was stopped before firing.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Manager holds the current service token and renews it before it expires.
//
// At most one renewal timer is pending at any time, and renewals never overlap:
// the startup call, the scheduled timer and explicit Renew calls are serialized.
type Manager struct {
	exchanger    Exchanger
	logger       zerolog.Logger
	now          func() time.Time
	afterFunc    AfterFunc
	retryDelays  []time.Duration
	renewTimeout time.Duration

	// renewMu serializes credential exchanges.
	renewMu sync.Mutex

	mu       sync.RWMutex
	token    *ServiceToken
	stop     func() bool
	gen      uint64 // bumped on every arm and on Stop
	failures int
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for renewal events.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l.With().Str("component", "token").Logger()
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithAfterFunc overrides the timer used to schedule renewals.
func WithAfterFunc(f AfterFunc) Option {
	return func(m *Manager) {
		if f != nil {
			m.afterFunc = f
		}
	}
}

// WithRetryDelays sets the backoff applied after a failed background renewal.
// An empty slice disables retries.
func WithRetryDelays(delays []time.Duration) Option {
	return func(m *Manager) {
		m.retryDelays = append([]time.Duration(nil), delays...)
	}
}

// WithRenewTimeout bounds a single background exchange.
func WithRenewTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.renewTimeout = d
		}
	}
}

// NewManager creates a Manager in the not-ready state. Call Start to fetch the
// first token.
func NewManager(exchanger Exchanger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		exchanger:    exchanger,
		logger:       zlog.Logger.With().Str("component", "token").Logger(),
		now:          time.Now,
		afterFunc:    timeAfterFunc,
		retryDelays:  []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second, 2 * time.Minute, 5 * time.Minute},
		renewTimeout: defaultRenewTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start fetches the first token. A failure is logged rather than returned so
// the server can still come up; the retry schedule takes over from there.
func (m *Manager) Start(ctx context.Context) {
	if _, err := m.Renew(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Error fetching token at startup")
		m.scheduleRetry()
		return
	}
	m.logger.Info().Msg("Token fetched successfully at startup")
}

// Renew exchanges the credentials for a new token, replaces the current one and
// re-arms the renewal timer. On failure the current token and timer are left
// untouched and the error is returned to the caller.
func (m *Manager) Renew(ctx context.Context) (ServiceToken, error) {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()
	return m.renewLocked(ctx)
}

// renewLocked must be called with renewMu held.
func (m *Manager) renewLocked(ctx context.Context) (ServiceToken, error) {
	grant, err := m.exchanger.Exchange(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Token renewal failed")
		return ServiceToken{}, errors.Wrap(err, "renewing service token")
	}

	token := newServiceToken(grant.AccessToken, m.now(), grant.Lifetime)
	delay := max(grant.Lifetime-SafetyMargin, minRenewDelay)

	m.mu.Lock()
	m.token = &token
	m.failures = 0
	m.armLocked(delay)
	m.mu.Unlock()

	m.logger.Info().
		Time("expires_at", token.ExpiresAt).
		Dur("renew_in", delay).
		Msg("Service token renewed")

	return token, nil
}

// armLocked cancels any pending renewal and schedules the next one.
// Must be called with mu held.
func (m *Manager) armLocked(delay time.Duration) {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	m.gen++
	if m.closed {
		return
	}
	gen := m.gen
	m.stop = m.afterFunc(delay, func() { m.scheduledRenew(gen) })
}

// scheduledRenew is the timer callback. A callback that fired but lost the
// race against an explicit Renew finds a newer generation and does nothing.
func (m *Manager) scheduledRenew(gen uint64) {
	if !m.current(gen) {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.renewTimeout)
	defer cancel()

	m.renewMu.Lock()
	if !m.current(gen) {
		m.renewMu.Unlock()
		return
	}
	m.logger.Info().Msg("Refreshing token automatically")
	_, err := m.renewLocked(ctx)
	m.renewMu.Unlock()

	if err != nil {
		m.scheduleRetry()
	}
}

// current reports whether gen is still the armed timer of an open manager.
func (m *Manager) current(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed && m.gen == gen
}

// scheduleRetry arms the next backoff step, or gives up once the delays are
// exhausted. The held token keeps being served until it expires.
func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures >= len(m.retryDelays) {
		if m.stop != nil {
			m.stop()
			m.stop = nil
		}
		m.logger.Error().
			Int("attempts", m.failures).
			Msg("Giving up on token renewal; reads degrade to not ready at expiry")
		return
	}

	delay := m.retryDelays[m.failures]
	m.failures++
	m.logger.Warn().
		Int("attempt", m.failures).
		Dur("retry_in", delay).
		Msg("Scheduling token renewal retry")
	m.armLocked(delay)
}

// CurrentToken returns the held token value, or ErrNotReady.
func (m *Manager) CurrentToken() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == nil || !m.token.ValidAt(m.now()) {
		return "", ErrNotReady
	}
	return m.token.Value, nil
}

// Token returns a copy of the held token, if any.
func (m *Manager) Token() (ServiceToken, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == nil {
		return ServiceToken{}, false
	}
	return *m.token, true
}

// TokenOrDefer returns the current token, or invokes onNotReady and returns
// false so the caller can stop processing the request.
func (m *Manager) TokenOrDefer(onNotReady func()) (string, bool) {
	token, err := m.CurrentToken()
	if err != nil {
		if onNotReady != nil {
			onNotReady()
		}
		return "", false
	}
	return token, true
}

// Stop cancels the pending renewal. The manager keeps serving the held token
// until it expires but never renews again.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.closed = true
	m.gen++
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	m.mu.Unlock()

	m.cancel()
}
