package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Snapshot is an immutable view of the current session credentials.
type Snapshot struct {
	AccessToken     string
	AccessExpiresAt time.Time
	State           State
}

// Reader is the capability handed to transports that need the current bearer
// token. It exposes snapshots only: readers never hold a live reference to
// mutable session state.
type Reader interface {
	Snapshot() Snapshot
}

// PromptFunc asks the user whether to extend the session. It may block; the
// Manager calls it from its own goroutine. Returning true forces rotation.
type PromptFunc func(ctx context.Context) bool

// LogoutFunc tears down the client session (clear UI state, detach
// transports). It is invoked at most once.
type LogoutFunc func()

// Manager owns the mutable session and drives the state machine.
//
// It is the single writer: the poller tick, rotation completions, and prompt
// outcomes all funnel through its lock. Everything user-visible happens via
// the injected PromptFunc/LogoutFunc so the Manager stays UI-free.
type Manager struct {
	log     *slog.Logger
	cfg     Config
	rotator Rotator
	prompt  PromptFunc
	logout  LogoutFunc

	mu      sync.Mutex
	machine *Machine

	access    string
	accessExp time.Time

	// Refresh lifetime bookkeeping: the server reports remaining seconds on
	// rotation responses; between reports the value decays with wall time.
	refreshRemaining time.Duration
	refreshKnown     bool
	refreshObserved  time.Time

	closed bool

	poller *Poller
}

// NewManager constructs a Manager. A nil prompt declines renewals (fail
// safe); a nil logout is a no-op.
func NewManager(log *slog.Logger, cfg Config, rotator Rotator, prompt PromptFunc, logout LogoutFunc) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if prompt == nil {
		prompt = func(context.Context) bool { return false }
	}
	if logout == nil {
		logout = func() {}
	}

	m := &Manager{
		log:     log,
		cfg:     cfg,
		rotator: rotator,
		prompt:  prompt,
		logout:  logout,
		machine: NewMachine(cfg),
	}
	m.poller = NewPoller(log, cfg.PollInterval, m.Tick)
	return m
}

// Start installs the access token issued at login and launches the poller.
// A structurally undecodable token is refused up front.
func (m *Manager) Start(ctx context.Context, accessToken string) error {
	exp, ok := DecodeExpiry(accessToken)
	if !ok {
		return ErrMalformedToken
	}

	m.mu.Lock()
	m.access = accessToken
	m.accessExp = exp
	m.mu.Unlock()

	m.poller.Start(ctx)
	m.log.Info("session.start", "access_exp", exp)
	return nil
}

// SetRefreshRemaining installs a server-reported refresh lifetime observed
// outside a rotation response (e.g. the login response).
func (m *Manager) SetRefreshRemaining(remaining time.Duration, observed time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshRemaining = remaining
	m.refreshKnown = true
	m.refreshObserved = observed
}

// Snapshot implements Reader.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		AccessToken:     m.access,
		AccessExpiresAt: m.accessExp,
		State:           m.machine.State(),
	}
}

// State returns the machine's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.State()
}

// Tick is one poll-tick: observe, step the machine, execute its action.
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	_, ok := DecodeExpiry(m.access)
	in := Input{
		TokenMalformed:  !ok,
		AccessRemaining: TimeRemaining(m.access, now),
	}
	if m.refreshKnown {
		in.RefreshKnown = true
		in.RefreshRemaining = m.refreshRemaining - now.Sub(m.refreshObserved)
	}

	act := m.machine.Step(in)
	m.mu.Unlock()

	m.execute(ctx, act)
}

// ReportAuthRejected lets API call sites report an auth-rejected response,
// which expires the session from any state.
func (m *Manager) ReportAuthRejected() {
	m.mu.Lock()
	act := m.machine.Step(Input{AuthRejected: true})
	m.mu.Unlock()

	if act == ActionForceLogout {
		m.forceLogout("auth_rejected")
	}
}

// Close tears the session down deterministically: the poller timer is
// unregistered and no further rotations are attempted. Idempotent. Must not
// be called from inside a tick; ticks use the forced-logout path instead.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.poller.Close()
}

func (m *Manager) execute(ctx context.Context, act Action) {
	switch act {
	case ActionNoop:
	case ActionRotate:
		go m.rotate(ctx, false)
	case ActionRotateForced:
		go m.rotate(ctx, true)
	case ActionPromptUser:
		go m.runPrompt(ctx)
	case ActionForceLogout:
		m.forceLogout("machine")
	}
}

// rotate performs one rotation call and feeds the outcome back into the
// machine. The machine is already in StateRotating, so concurrent ticks are
// no-ops for the duration of the call.
func (m *Manager) rotate(ctx context.Context, forced bool) {
	res, err := m.rotator.Rotate(ctx, forced)

	now := time.Now().UTC()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	if err == nil && !res.AccessExpiresAt.After(m.accessExp) {
		// Invariant: rotation must produce a strictly later expiry. A
		// non-advancing token is refused like a transport failure.
		err = ErrRotationTransport
		m.log.Warn("session.rotate.stale_expiry", "got", res.AccessExpiresAt, "have", m.accessExp)
	}

	if err != nil {
		terminal := isRotationTerminal(err)
		act := m.machine.RotationFailed(terminal)
		rotationsTotal.WithLabelValues(outcomeLabel(terminal)).Inc()
		m.log.Warn("session.rotate.fail", "forced", forced, "terminal", terminal, "state", m.machine.State().String(), "err", err)
		m.mu.Unlock()

		if act == ActionForceLogout {
			m.forceLogout("rotation_failed")
		}
		return
	}

	m.access = res.AccessToken
	m.accessExp = res.AccessExpiresAt
	if res.RefreshKnown {
		m.refreshRemaining = res.RefreshRemaining
		m.refreshKnown = true
		m.refreshObserved = now
	}
	m.machine.RotationSucceeded()
	rotationsTotal.WithLabelValues("ok").Inc()
	m.log.Info("session.rotate.ok", "forced", forced, "access_exp", m.accessExp)
	m.mu.Unlock()
}

// runPrompt shows the renew-session dialog and applies the user's choice.
func (m *Manager) runPrompt(ctx context.Context) {
	m.log.Info("session.prompt.show")
	extend := m.prompt(ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	var act Action
	if extend {
		act = m.machine.UserAccepted()
	} else {
		act = m.machine.UserDeclined()
	}
	m.mu.Unlock()

	switch act {
	case ActionRotateForced:
		m.rotate(ctx, true)
	case ActionForceLogout:
		m.forceLogout("renewal_declined")
	}
}

// forceLogout tears the session down from inside the lifecycle: it only
// signals the poller (never waits, so it is safe on the tick goroutine) and
// fires the logout callback exactly once.
func (m *Manager) forceLogout(reason string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.poller.Stop()
	m.log.Info("session.logout.forced", "reason", reason)
	m.logout()
}

func isRotationTerminal(err error) bool {
	return errors.Is(err, ErrRotationRejected)
}

func outcomeLabel(terminal bool) string {
	if terminal {
		return "rejected"
	}
	return "transport_error"
}
