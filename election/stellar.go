package election

import (
	"math"

	"github.com/wsncoord/clusterengine/metrics"
)

type utilityVec [4]float64 // battery, uptime, trust, linkq

func utilitiesOf(c Candidate, cfg metrics.StellarConfig) utilityVec {
	b, u, t, l := c.Snapshot.Utilities(cfg)
	return utilityVec{b, u, t, l}
}

// dominates reports whether a Pareto-dominates b: a is >= b in every
// dimension and strictly greater in at least one.
func dominates(a, b utilityVec) bool {
	strictlyGreaterSomewhere := false
	for i := range a {
		if a[i] < b[i] {
			return false
		}
		if a[i] > b[i] {
			strictlyGreaterSomewhere = true
		}
	}
	return strictlyGreaterSomewhere
}

type rankedCandidate struct {
	candidate  Candidate
	utilities  utilityVec
	dominates  int  // how many other candidates this one dominates
	onFrontier bool // true iff no one dominates this candidate
}

// rankParetoFrontier computes, for every candidate, how many others it
// dominates and whether it sits on the non-dominated frontier.
func rankParetoFrontier(candidates []Candidate, cfg metrics.StellarConfig) []rankedCandidate {
	ranked := make([]rankedCandidate, len(candidates))
	utils := make([]utilityVec, len(candidates))
	for i, c := range candidates {
		utils[i] = utilitiesOf(c, cfg)
	}
	for i := range candidates {
		ranked[i] = rankedCandidate{candidate: candidates[i], utilities: utils[i], onFrontier: true}
		for j := range candidates {
			if i == j {
				continue
			}
			if dominates(utils[i], utils[j]) {
				ranked[i].dominates++
			}
			if dominates(utils[j], utils[i]) {
				ranked[i].onFrontier = false
			}
		}
	}
	return ranked
}

// nashObjective computes Σ w_i·ln(φ_i − d_i) for one candidate using its own
// adaptive weight vector. ok=false if any φ_i <= d_i (ineligible under the
// disagreement point).
func nashObjective(rc rankedCandidate, cfg metrics.StellarConfig) (value float64, ok bool) {
	d := utilityVec{cfg.DisagreeBattery, cfg.DisagreeUptime, cfg.DisagreeTrust, cfg.DisagreeLinkQ}
	w := rc.candidate.Snapshot.Weights
	weights := utilityVec{w.Battery, w.Uptime, w.Trust, w.LinkQuality}

	var sum float64
	for i := range d {
		surplus := rc.utilities[i] - d[i]
		if surplus <= 0 {
			return 0, false
		}
		sum += weights[i] * math.Log(surplus)
	}
	return sum, true
}

// RunStellar implements the STELLAR cluster-head selection: Pareto-frontier
// filtering, Nash bargaining over the frontier, and a deterministic
// fallback cascade (highest Ψ on frontier, then highest Ψ overall, then
// lowest node_id).
func RunStellar(candidates []Candidate, cfg metrics.StellarConfig) uint32 {
	if len(candidates) == 0 {
		return 0
	}
	if len(candidates) == 1 {
		return candidates[0].NodeID
	}

	ranked := rankParetoFrontier(candidates, cfg)

	var bestNash uint32
	var bestNashValue float64
	haveNash := false
	for _, rc := range ranked {
		if !rc.onFrontier {
			continue
		}
		value, ok := nashObjective(rc, cfg)
		if !ok {
			continue
		}
		if !haveNash || value > bestNashValue || (value == bestNashValue && rc.candidate.NodeID < bestNash) {
			haveNash = true
			bestNashValue = value
			bestNash = rc.candidate.NodeID
		}
	}
	if haveNash {
		return bestNash
	}

	// Fallback (a): highest Ψ on the frontier.
	if winner, ok := highestPsiAmong(ranked, true); ok {
		return winner
	}
	// Fallback (b): highest Ψ overall.
	if winner, ok := highestPsiAmong(ranked, false); ok {
		return winner
	}
	// Fallback (c): lowest node_id among remaining candidates.
	lowest := candidates[0].NodeID
	for _, c := range candidates[1:] {
		if c.NodeID < lowest {
			lowest = c.NodeID
		}
	}
	return lowest
}

// SelfParetoRank runs Pareto-frontier ranking over candidates and returns
// selfNodeID's dominance count (how many other candidates it dominates),
// the value fed into Ψ's Pareto bonus term. Returns 0 if selfNodeID is not
// present in candidates.
func SelfParetoRank(candidates []Candidate, cfg metrics.StellarConfig, selfNodeID uint32) int {
	ranked := rankParetoFrontier(candidates, cfg)
	for _, rc := range ranked {
		if rc.candidate.NodeID == selfNodeID {
			return rc.dominates
		}
	}
	return 0
}

func highestPsiAmong(ranked []rankedCandidate, frontierOnly bool) (uint32, bool) {
	var winner uint32
	var best float64
	found := false
	for _, rc := range ranked {
		if frontierOnly && !rc.onFrontier {
			continue
		}
		psi := rc.candidate.Snapshot.CompositeScore
		if !found || psi > best || (psi == best && rc.candidate.NodeID < winner) {
			found = true
			best = psi
			winner = rc.candidate.NodeID
		}
	}
	return winner, found
}
