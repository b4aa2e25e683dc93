package session

import (
	"testing"
	"time"
)

func machineConfig() Config {
	return Config{
		AccessTokenLifetime: 15 * time.Minute,
		DialogThreshold:     60 * time.Second,
		SafetyMargin:        10 * time.Second,
		RotateWindow:        30 * time.Second,
		PollInterval:        5 * time.Second,
	}
}

func TestMachine_FreshStaysFreshOutsideWindow(t *testing.T) {
	t.Parallel()

	m := NewMachine(machineConfig())
	act := m.Step(Input{AccessRemaining: 10 * time.Minute})
	if act != ActionNoop || m.State() != StateFresh {
		t.Fatalf("got act=%v state=%v, want noop/fresh", act, m.State())
	}
}

func TestMachine_SilentRotationPath(t *testing.T) {
	t.Parallel()

	m := NewMachine(machineConfig())

	// Inside the rotate window: Fresh -> NearExpiry, still no side effect.
	act := m.Step(Input{AccessRemaining: 20 * time.Second})
	if act != ActionNoop || m.State() != StateNearExpiry {
		t.Fatalf("got act=%v state=%v, want noop/near_expiry", act, m.State())
	}

	// Next tick requests the rotation.
	act = m.Step(Input{AccessRemaining: 18 * time.Second})
	if act != ActionRotate || m.State() != StateRotating {
		t.Fatalf("got act=%v state=%v, want rotate/rotating", act, m.State())
	}

	// Ticks during an outstanding rotation are no-ops (single flight).
	for i := 0; i < 3; i++ {
		if act := m.Step(Input{AccessRemaining: 15 * time.Second}); act != ActionNoop {
			t.Fatalf("tick %d during rotation: got %v, want noop", i, act)
		}
	}

	m.RotationSucceeded()
	if m.State() != StateFresh {
		t.Fatalf("after success state=%v, want fresh", m.State())
	}
}

func TestMachine_LapsedAccessTokenStillRotates(t *testing.T) {
	t.Parallel()

	m := NewMachine(machineConfig())

	// AccessRemaining 0 (token already lapsed) is recoverable while the
	// refresh credential holds.
	m.Step(Input{AccessRemaining: 0})
	act := m.Step(Input{AccessRemaining: 0})
	if act != ActionRotate || m.State() != StateRotating {
		t.Fatalf("got act=%v state=%v, want rotate/rotating", act, m.State())
	}
}

func TestMachine_CutoffPromptsUser(t *testing.T) {
	t.Parallel()

	cfg := machineConfig()
	m := NewMachine(cfg)

	m.Step(Input{AccessRemaining: 20 * time.Second})

	// Refresh lifetime at the cutoff: silent rotation must stop.
	act := m.Step(Input{
		AccessRemaining:  18 * time.Second,
		RefreshKnown:     true,
		RefreshRemaining: cfg.RotationCutoff(),
	})
	if act != ActionPromptUser || m.State() != StateAwaitingUserChoice {
		t.Fatalf("got act=%v state=%v, want prompt_user/awaiting_user_choice", act, m.State())
	}
}

func TestMachine_AboveCutoffRotatesSilently(t *testing.T) {
	t.Parallel()

	cfg := machineConfig()
	m := NewMachine(cfg)

	m.Step(Input{AccessRemaining: 20 * time.Second})
	act := m.Step(Input{
		AccessRemaining:  18 * time.Second,
		RefreshKnown:     true,
		RefreshRemaining: cfg.RotationCutoff() + time.Second,
	})
	if act != ActionRotate || m.State() != StateRotating {
		t.Fatalf("got act=%v state=%v, want rotate/rotating", act, m.State())
	}
}

func TestMachine_RefreshExpiredForcesLogout(t *testing.T) {
	t.Parallel()

	m := NewMachine(machineConfig())

	m.Step(Input{AccessRemaining: 20 * time.Second})
	act := m.Step(Input{
		AccessRemaining: 18 * time.Second,
		RefreshKnown:    true,
	})
	if act != ActionForceLogout || m.State() != StateExpired {
		t.Fatalf("got act=%v state=%v, want force_logout/expired", act, m.State())
	}
}

func TestMachine_UserAcceptedForcesRotation(t *testing.T) {
	t.Parallel()

	cfg := machineConfig()
	m := NewMachine(cfg)

	m.Step(Input{AccessRemaining: 20 * time.Second})
	m.Step(Input{AccessRemaining: 18 * time.Second, RefreshKnown: true, RefreshRemaining: cfg.RotationCutoff()})

	act := m.UserAccepted()
	if act != ActionRotateForced || m.State() != StateRotating {
		t.Fatalf("got act=%v state=%v, want rotate_forced/rotating", act, m.State())
	}
}

func TestMachine_UserDeclinedExpires(t *testing.T) {
	t.Parallel()

	cfg := machineConfig()
	m := NewMachine(cfg)

	m.Step(Input{AccessRemaining: 20 * time.Second})
	m.Step(Input{AccessRemaining: 18 * time.Second, RefreshKnown: true, RefreshRemaining: cfg.RotationCutoff()})

	act := m.UserDeclined()
	if act != ActionForceLogout || m.State() != StateExpired {
		t.Fatalf("got act=%v state=%v, want force_logout/expired", act, m.State())
	}
}

func TestMachine_PromptIgnoredOutsideAwaitingChoice(t *testing.T) {
	t.Parallel()

	m := NewMachine(machineConfig())
	if act := m.UserAccepted(); act != ActionNoop {
		t.Fatalf("UserAccepted in fresh: got %v, want noop", act)
	}
	if act := m.UserDeclined(); act != ActionNoop {
		t.Fatalf("UserDeclined in fresh: got %v, want noop", act)
	}
	if m.State() != StateFresh {
		t.Fatalf("state=%v, want fresh", m.State())
	}
}

func TestMachine_AwaitingChoiceTimesOut(t *testing.T) {
	t.Parallel()

	cfg := machineConfig()
	m := NewMachine(cfg)

	m.Step(Input{AccessRemaining: 20 * time.Second})
	m.Step(Input{AccessRemaining: 18 * time.Second, RefreshKnown: true, RefreshRemaining: cfg.RotationCutoff()})

	// Dialog showing, refresh still alive: hold.
	act := m.Step(Input{AccessRemaining: 15 * time.Second, RefreshKnown: true, RefreshRemaining: 30 * time.Second})
	if act != ActionNoop || m.State() != StateAwaitingUserChoice {
		t.Fatalf("got act=%v state=%v, want noop/awaiting_user_choice", act, m.State())
	}

	// Refresh ran out before the user answered.
	act = m.Step(Input{AccessRemaining: 10 * time.Second, RefreshKnown: true})
	if act != ActionForceLogout || m.State() != StateExpired {
		t.Fatalf("got act=%v state=%v, want force_logout/expired", act, m.State())
	}
}

func TestMachine_TransportFailureRetriesOnce(t *testing.T) {
	t.Parallel()

	m := NewMachine(machineConfig())

	m.Step(Input{AccessRemaining: 20 * time.Second})
	m.Step(Input{AccessRemaining: 18 * time.Second})

	if act := m.RotationFailed(false); act != ActionNoop || m.State() != StateDegraded {
		t.Fatalf("first failure: got act=%v state=%v, want noop/degraded", act, m.State())
	}

	// The next tick retries.
	if act := m.Step(Input{AccessRemaining: 10 * time.Second}); act != ActionRotate || m.State() != StateRotating {
		t.Fatalf("retry tick: got act=%v state=%v, want rotate/rotating", act, m.State())
	}

	// Second transport failure escalates.
	if act := m.RotationFailed(false); act != ActionForceLogout || m.State() != StateExpired {
		t.Fatalf("second failure: got act=%v state=%v, want force_logout/expired", act, m.State())
	}
}

func TestMachine_TerminalFailureExpiresImmediately(t *testing.T) {
	t.Parallel()

	m := NewMachine(machineConfig())

	m.Step(Input{AccessRemaining: 20 * time.Second})
	m.Step(Input{AccessRemaining: 18 * time.Second})

	if act := m.RotationFailed(true); act != ActionForceLogout || m.State() != StateExpired {
		t.Fatalf("got act=%v state=%v, want force_logout/expired", act, m.State())
	}
}

func TestMachine_SuccessRestoresRetryBudget(t *testing.T) {
	t.Parallel()

	m := NewMachine(machineConfig())

	m.Step(Input{AccessRemaining: 20 * time.Second})
	m.Step(Input{AccessRemaining: 18 * time.Second})
	m.RotationFailed(false)
	m.Step(Input{AccessRemaining: 10 * time.Second})
	m.RotationSucceeded()

	// A fresh cycle gets its retry again.
	m.Step(Input{AccessRemaining: 20 * time.Second})
	m.Step(Input{AccessRemaining: 18 * time.Second})
	if act := m.RotationFailed(false); act != ActionNoop || m.State() != StateDegraded {
		t.Fatalf("got act=%v state=%v, want noop/degraded", act, m.State())
	}
}

func TestMachine_MalformedTokenExpiresFromAnyState(t *testing.T) {
	t.Parallel()

	for _, prep := range []func(m *Machine){
		func(_ *Machine) {},
		func(m *Machine) { m.Step(Input{AccessRemaining: 20 * time.Second}) },
		func(m *Machine) {
			m.Step(Input{AccessRemaining: 20 * time.Second})
			m.Step(Input{AccessRemaining: 18 * time.Second})
		},
	} {
		m := NewMachine(machineConfig())
		prep(m)

		if act := m.Step(Input{TokenMalformed: true}); act != ActionForceLogout || m.State() != StateExpired {
			t.Fatalf("got act=%v state=%v, want force_logout/expired", act, m.State())
		}
	}
}

func TestMachine_ExpiredIsTerminal(t *testing.T) {
	t.Parallel()

	m := NewMachine(machineConfig())
	m.Step(Input{AuthRejected: true})
	if m.State() != StateExpired {
		t.Fatalf("state=%v, want expired", m.State())
	}

	if act := m.Step(Input{AccessRemaining: time.Hour}); act != ActionNoop {
		t.Fatalf("step after expired: got %v, want noop", act)
	}
	m.RotationSucceeded()
	if m.State() != StateExpired {
		t.Fatalf("RotationSucceeded revived an expired session")
	}
	if act := m.RotationFailed(false); act != ActionNoop {
		t.Fatalf("RotationFailed after expired: got %v, want noop", act)
	}
}
