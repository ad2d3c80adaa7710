/*
Package statemachine implements the node role state machine (C6): the
INIT/DISCOVER/CANDIDATE/CH/MEMBER/SLEEP transitions driving which role a
node presents to its cluster, plus a debounced LED-visible role that
dampens brief flicker without affecting the underlying transitions.

The single mutex guarding Machine, with a private xxxLocked() helper doing
the actual work, mirrors the non-recursive locking discipline used
throughout this module (see metrics.Engine and neighbor.Table).
*/
package statemachine

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// State is one of the six roles a node can occupy.
type State int

const (
	StateInit State = iota
	StateDiscover
	StateCandidate
	StateCH
	StateMember
	StateSleep
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateDiscover:
		return "DISCOVER"
	case StateCandidate:
		return "CANDIDATE"
	case StateCH:
		return "CH"
	case StateMember:
		return "MEMBER"
	case StateSleep:
		return "SLEEP"
	default:
		return "UNKNOWN"
	}
}

// Config bundles the state machine's timing constants, all in milliseconds
// against the node's monotonic timebase.
type Config struct {
	SettlingDelayMs     int64 // INIT -> DISCOVER
	DiscoveryMinMs      int64 // earliest a valid CH can fast-path DISCOVER -> MEMBER
	DiscoveryDeadlineMs int64 // DISCOVER -> MEMBER or CANDIDATE
	ElectionWindowMs    int64 // CANDIDATE phase duration
	CriticalRecheckMs   int64 // SLEEP -> INIT recheck interval
	LEDHysteresisMs     int64 // debounce window for the visual role
}

// DefaultConfig returns the standard timing constants.
func DefaultConfig() Config {
	return Config{
		SettlingDelayMs:     2000,
		DiscoveryMinMs:      2000,
		DiscoveryDeadlineMs: 5000,
		ElectionWindowMs:    10000,
		CriticalRecheckMs:   5000,
		LEDHysteresisMs:     60000,
	}
}

// Collaborators is everything the state machine needs from the rest of the
// engine to decide a transition. Implementations must not block.
type Collaborators interface {
	// SelfNodeID returns this node's own id, used to interpret RunElection's
	// result.
	SelfNodeID() uint32
	// HasValidCH reports whether the neighbor table currently holds a valid
	// cluster head.
	HasValidCH(nowMs int64) bool
	// RunElection runs one election and returns the winning node_id, or 0 if
	// no candidate qualifies.
	RunElection() uint32
	// CheckYield reports whether, as CH, this node must immediately yield to
	// a conflicting neighbor CH (the score/node_id conflict-resolution rule).
	CheckYield(nowMs int64) bool
	// CheckReelectionNeeded reports whether a re-election should be
	// triggered, evaluated differently depending on whether self is
	// currently CH or MEMBER.
	CheckReelectionNeeded(isCH bool) bool
	// BatteryCritical reports whether the power-management collaborator has
	// signalled a critical battery level.
	BatteryCritical() bool
}

// Machine is the node's role state machine. The zero value is not usable;
// construct with New.
type Machine struct {
	mu   sync.Mutex
	cfg  Config
	deps Collaborators

	state       State
	enteredAtMs int64

	visualState      State
	visualEnteredAtMs int64
	searchingSinceMs  int64 // 0 when not currently suppressing a searching visual
}

// New creates a Machine starting in StateInit at nowMs.
func New(deps Collaborators, cfg Config, nowMs int64) *Machine {
	return &Machine{
		cfg:              cfg,
		deps:             deps,
		state:            StateInit,
		enteredAtMs:      nowMs,
		visualState:      StateInit,
		visualEnteredAtMs: nowMs,
	}
}

// State returns the current underlying (non-debounced) state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// VisualState returns the debounced state suitable for driving an LED or
// other user-facing indicator.
func (m *Machine) VisualState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visualState
}

// Tick evaluates one state-machine step at nowMs and returns the resulting
// (possibly unchanged) state. Intended to be driven by the ~100ms T1 task.
func (m *Machine) Tick(nowMs int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSleep && m.deps.BatteryCritical() {
		m.transitionLocked(StateSleep, nowMs)
		m.updateVisualLocked(nowMs)
		return m.state
	}

	switch m.state {
	case StateInit:
		if nowMs-m.enteredAtMs >= m.cfg.SettlingDelayMs {
			m.transitionLocked(StateDiscover, nowMs)
		}
	case StateDiscover:
		m.tickDiscoverLocked(nowMs)
	case StateCandidate:
		m.tickCandidateLocked(nowMs)
	case StateCH:
		m.tickCHLocked(nowMs)
	case StateMember:
		if m.deps.CheckReelectionNeeded(false) {
			m.transitionLocked(StateCandidate, nowMs)
		}
	case StateSleep:
		if nowMs-m.enteredAtMs >= m.cfg.CriticalRecheckMs && !m.deps.BatteryCritical() {
			m.transitionLocked(StateInit, nowMs)
		}
	}
	// Re-evaluated every tick, not just on a state transition, so the
	// hysteresis catch-up fires while sitting in one state for a long
	// DISCOVER/CANDIDATE spell rather than only at the instant of change.
	m.updateVisualLocked(nowMs)
	return m.state
}

func (m *Machine) tickDiscoverLocked(nowMs int64) {
	elapsed := nowMs - m.enteredAtMs
	validCH := m.deps.HasValidCH(nowMs)
	if validCH && elapsed >= m.cfg.DiscoveryMinMs {
		m.transitionLocked(StateMember, nowMs)
		return
	}
	if elapsed < m.cfg.DiscoveryDeadlineMs {
		return
	}
	if validCH {
		m.transitionLocked(StateMember, nowMs)
	} else {
		m.transitionLocked(StateCandidate, nowMs)
	}
}

func (m *Machine) tickCandidateLocked(nowMs int64) {
	if nowMs-m.enteredAtMs < m.cfg.ElectionWindowMs {
		return
	}
	winner := m.deps.RunElection()
	switch {
	case winner == 0:
		m.transitionLocked(StateDiscover, nowMs)
	case winner == m.deps.SelfNodeID():
		m.transitionLocked(StateCH, nowMs)
	default:
		m.transitionLocked(StateMember, nowMs)
	}
}

func (m *Machine) tickCHLocked(nowMs int64) {
	if m.deps.CheckYield(nowMs) {
		m.transitionLocked(StateMember, nowMs)
		return
	}
	if m.deps.CheckReelectionNeeded(true) {
		m.transitionLocked(StateCandidate, nowMs)
	}
}

func (m *Machine) transitionLocked(next State, nowMs int64) {
	if next == m.state {
		return
	}
	log.Debugf("statemachine: %s -> %s", m.state, next)
	m.state = next
	m.enteredAtMs = nowMs
}

// updateVisualLocked applies the LED hysteresis rule: once the visual state
// is MEMBER, a swing to a "searching" underlying state (DISCOVER or
// CANDIDATE) is suppressed until it has persisted continuously for
// LEDHysteresisMs. Any other transition (including CH, or MEMBER itself)
// propagates to the visual state immediately. Called on every Tick (not
// only when transitionLocked fires) so the catch-up check is re-evaluated
// while the machine sits in one state.
func (m *Machine) updateVisualLocked(nowMs int64) {
	searching := m.state == StateDiscover || m.state == StateCandidate
	if m.visualState == StateMember && searching {
		if m.searchingSinceMs == 0 {
			m.searchingSinceMs = nowMs
		}
		if nowMs-m.searchingSinceMs >= m.cfg.LEDHysteresisMs {
			m.visualState = m.state
			m.visualEnteredAtMs = nowMs
			m.searchingSinceMs = 0
		}
		return
	}
	m.searchingSinceMs = 0
	if m.visualState != m.state {
		m.visualState = m.state
		m.visualEnteredAtMs = nowMs
	}
}
