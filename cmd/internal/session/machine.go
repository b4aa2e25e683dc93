package session

import "time"

// State enumerates the session lifecycle states.
type State int

const (
	// StateFresh means the access token is valid and far from expiry.
	StateFresh State = iota
	// StateNearExpiry means the access token is within the rotate window.
	StateNearExpiry
	// StateRotating means a rotation call is in flight.
	StateRotating
	// StateAwaitingUserChoice means silent rotation stopped at the cutoff and
	// the renew-session prompt is showing.
	StateAwaitingUserChoice
	// StateDegraded means the last rotation failed on transport; one retry is
	// permitted on the next tick.
	StateDegraded
	// StateExpired is terminal. A new login creates a new session.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateNearExpiry:
		return "near_expiry"
	case StateRotating:
		return "rotating"
	case StateAwaitingUserChoice:
		return "awaiting_user_choice"
	case StateDegraded:
		return "degraded"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Action is the machine's intended side effect. The machine decides, the
// Manager executes.
type Action int

const (
	// ActionNoop requires nothing from the driver.
	ActionNoop Action = iota
	// ActionRotate requests a silent rotation call.
	ActionRotate
	// ActionRotateForced requests a rotation bypassing the cutoff check,
	// carrying the user's explicit consent.
	ActionRotateForced
	// ActionPromptUser requests the renew-session dialog.
	ActionPromptUser
	// ActionForceLogout requests immediate session teardown.
	ActionForceLogout
)

func (a Action) String() string {
	switch a {
	case ActionNoop:
		return "noop"
	case ActionRotate:
		return "rotate"
	case ActionRotateForced:
		return "rotate_forced"
	case ActionPromptUser:
		return "prompt_user"
	case ActionForceLogout:
		return "force_logout"
	default:
		return "unknown"
	}
}

// Input is one observation fed to the machine on a poll tick.
type Input struct {
	// TokenMalformed is set when the access token fails structural decode.
	TokenMalformed bool

	// AuthRejected is set when an authenticated call came back auth-rejected.
	AuthRejected bool

	// AccessRemaining is the access token's remaining lifetime (floor 0).
	AccessRemaining time.Duration

	// RefreshRemaining is the refresh credential's remaining lifetime as last
	// reported by the server, adjusted for elapsed time. Only meaningful when
	// RefreshKnown is set; when the server never reports it, the cutoff check
	// is the server's responsibility and silent rotation proceeds.
	RefreshRemaining time.Duration
	RefreshKnown     bool
}

// Machine is the pure session state machine.
//
// Every Step returns an intended action and never performs side effects
// itself. It is not safe for concurrent use; the Manager is its single
// caller and holds the lock.
type Machine struct {
	cfg     Config
	state   State
	retried bool
}

// NewMachine constructs a Machine in StateFresh.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg, state: StateFresh}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Step advances the machine by one poll-tick observation.
func (m *Machine) Step(in Input) Action {
	if m.state == StateExpired {
		return ActionNoop
	}

	// Structural decode failure or an auth-rejected API call expires the
	// session from any state.
	if in.TokenMalformed || in.AuthRejected {
		m.state = StateExpired
		return ActionForceLogout
	}

	switch m.state {
	case StateFresh:
		// An access token that already lapsed is still recoverable while the
		// refresh credential holds, so it takes the same path as near-expiry.
		if in.AccessRemaining <= m.cfg.RotateWindow {
			m.state = StateNearExpiry
		}
		return ActionNoop

	case StateNearExpiry:
		if in.RefreshKnown {
			if in.RefreshRemaining <= 0 {
				m.state = StateExpired
				return ActionForceLogout
			}
			if in.RefreshRemaining <= m.cfg.RotationCutoff() {
				// Not enough refresh lifetime left for another silent cycle;
				// the dialog needs room to appear before it runs out.
				m.state = StateAwaitingUserChoice
				return ActionPromptUser
			}
		}
		m.state = StateRotating
		return ActionRotate

	case StateRotating:
		// Single-flight: ticks during an outstanding rotation are no-ops.
		return ActionNoop

	case StateAwaitingUserChoice:
		if in.RefreshKnown && in.RefreshRemaining <= 0 {
			// No response before the refresh credential expired.
			m.state = StateExpired
			return ActionForceLogout
		}
		return ActionNoop

	case StateDegraded:
		m.state = StateRotating
		return ActionRotate
	}

	return ActionNoop
}

// RotationSucceeded records a successful rotation: back to Fresh, retry
// budget restored.
func (m *Machine) RotationSucceeded() {
	if m.state == StateExpired {
		return
	}
	m.state = StateFresh
	m.retried = false
}

// RotationFailed records a failed rotation call.
//
// Terminal failures (the server rejected the refresh credential) expire the
// session immediately. Transport failures get exactly one retry via
// StateDegraded; a second failure escalates to StateExpired.
func (m *Machine) RotationFailed(terminal bool) Action {
	if m.state == StateExpired {
		return ActionNoop
	}
	if terminal || m.retried {
		m.state = StateExpired
		return ActionForceLogout
	}
	m.retried = true
	m.state = StateDegraded
	return ActionNoop
}

// UserAccepted handles the "extend session" confirmation. Rotation is forced
// past the cutoff check because the user explicitly consented.
func (m *Machine) UserAccepted() Action {
	if m.state != StateAwaitingUserChoice {
		return ActionNoop
	}
	m.state = StateRotating
	return ActionRotateForced
}

// UserDeclined handles the user dismissing the renew-session prompt.
func (m *Machine) UserDeclined() Action {
	if m.state != StateAwaitingUserChoice {
		return ActionNoop
	}
	m.state = StateExpired
	return ActionForceLogout
}
