package harness

import "llmobs-harness/internal/check"

// Phase is a step in the session and per-test lifecycle.
type Phase uint8

const (
	PhaseCreated Phase = iota + 1
	PhaseNetworkAttached
	PhaseAgentReady
	PhaseServerBuilding
	PhaseServerRunning
	PhaseServerReady
	PhaseInGate
	PhaseTestRunning
	PhaseTornDown
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseNetworkAttached:
		return "network_attached"
	case PhaseAgentReady:
		return "agent_ready"
	case PhaseServerBuilding:
		return "server_building"
	case PhaseServerRunning:
		return "server_running"
	case PhaseServerReady:
		return "server_ready"
	case PhaseInGate:
		return "in_gate"
	case PhaseTestRunning:
		return "test_running"
	case PhaseTornDown:
		return "torn_down"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is expected.
func (p Phase) Terminal() bool {
	return p == PhaseTornDown || p == PhaseFailed
}

// CanTransition reports whether p -> to is a legal lifecycle step.
func (p Phase) CanTransition(to Phase) bool {
	if to == PhaseFailed {
		return !p.Terminal()
	}
	switch p {
	case PhaseCreated:
		return to == PhaseNetworkAttached
	case PhaseNetworkAttached:
		return to == PhaseAgentReady
	case PhaseAgentReady:
		// The session stays AgentReady while per-test servers come and go.
		return to == PhaseServerBuilding || to == PhaseTornDown
	case PhaseServerBuilding:
		return to == PhaseServerRunning
	case PhaseServerRunning:
		return to == PhaseServerReady
	case PhaseServerReady:
		// Servers closed without a gate decision go straight to teardown.
		return to == PhaseInGate || to == PhaseTornDown
	case PhaseInGate:
		return to == PhaseTestRunning || to == PhaseTornDown
	case PhaseTestRunning:
		return to == PhaseTornDown
	default:
		return false
	}
}

// Transition returns to when the step is legal and p otherwise. Illegal
// steps panic in debug builds.
func (p Phase) Transition(to Phase) Phase {
	ok := p.CanTransition(to)
	check.Assertf(ok, "harness phase transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}
