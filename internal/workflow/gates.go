package workflow

import (
	"strings"
	"time"

	"conductor/internal/config"
)

// GateOutcome is the terminal resolution of an approval gate.
type GateOutcome string

const (
	GateApproved GateOutcome = "approved"
	GateRejected GateOutcome = "rejected"
	GateTimedOut GateOutcome = "timed-out"
)

// configurationGatesKey names the workflow configuration entry listing
// additional phases that require approval before advancing.
const configurationGatesKey = "gates"

// gatePolicy resolves which phases are gated and how long each gate waits.
// Gates are named after the phase they guard. A phase is gated when it has a
// per-gate timeout configured or is listed in the workflow's configuration.
type gatePolicy struct {
	cfg config.Gates
}

func (g gatePolicy) gateFor(state *State) string {
	if _, ok := g.cfg.TimeoutsMinutes[state.CurrentPhase]; ok {
		return state.CurrentPhase
	}
	for _, phase := range strings.Split(state.Configuration[configurationGatesKey], ",") {
		if strings.TrimSpace(phase) == state.CurrentPhase {
			return state.CurrentPhase
		}
	}
	return ""
}

func (g gatePolicy) timeoutFor(name string) time.Duration {
	if minutes, ok := g.cfg.TimeoutsMinutes[name]; ok && minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return time.Duration(g.cfg.DefaultTimeoutMinutes) * time.Minute
}

func (g gatePolicy) expired(state *State, now time.Time) bool {
	if state.AwaitingApproval == "" || state.GateOpenedAt.IsZero() {
		return false
	}
	timeout := g.timeoutFor(state.AwaitingApproval)
	return timeout > 0 && now.Sub(state.GateOpenedAt) >= timeout
}
