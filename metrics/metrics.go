/*
Package metrics implements the metrics engine (C2): EWMA-smoothed battery,
trust, and link-quality signals fused into either a legacy linear weighted
score or the STELLAR non-linear score (see stellar.go), with Lyapunov-stable
adaptive weights.

Recorders and the derive-and-score pipeline share state, so recomputation is
factored into unexported helpers that assume the lock is already held — a
single, ordinary sync.Mutex suffices and public recorders never re-lock.
*/
package metrics

import (
	"sync"

	"github.com/eclesh/welford"
)

// uptimeFixedVariance stands in for σ²_uptime: uptime is monotonic and
// externally supplied (not itself noisy), so its differential entropy is
// computed against a small fixed variance rather than an observed one.
const uptimeFixedVariance = 1e-6

const secondsPerDay = 86400.0

// Snapshot is the value-type metrics record handed to callers. It owns no
// shared state; mutating a Snapshot never affects the engine that produced
// it.
type Snapshot struct {
	Battery        float64
	UptimeSeconds  float64
	Trust          float64
	LinkQuality    float64
	CompositeScore float64

	VarBattery float64
	VarTrust   float64
	VarLinkQ   float64
	Confidence [4]float64 // battery, uptime, trust, link-quality
	ParetoRank int

	Weights LinearWeights // the weight vector actually used to produce CompositeScore
}

// Utilities returns (φ_b, φ_u, φ_t, φ_l) for this snapshot using cfg's
// utility-curve constants — exposed so election can evaluate Pareto
// dominance and Nash bargaining without re-deriving the curves.
func (s Snapshot) Utilities(cfg StellarConfig) (battery, uptime, trust, linkq float64) {
	return utilityBattery(s.Battery, cfg.LambdaBattery),
		utilityUptime(s.UptimeSeconds, cfg.UptimeMaxDays, cfg.LambdaUptime),
		utilityTrust(s.Trust),
		utilityLinkQuality(s.LinkQuality, cfg.GammaLinkQ)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Engine owns all smoothing state for one node's self-metrics. It is the
// sole writer of its own fields; GetCurrent returns copies.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	// EWMA state.
	rssiEWMA       float64
	perEWMA        float64
	hsrEWMA        float64
	reputationEWMA float64

	battery       float64
	uptimeSeconds float64

	prevBattery     float64
	prevTrust       float64
	prevLinkQuality float64

	varBattery float64
	varTrust   float64
	varLinkQ   float64

	// lifetime diagnostics, not used for scoring, exposed for monitoring.
	lifetimeBattery *welford.Stats
	lifetimeTrust   *welford.Stats
	lifetimeLinkQ   *welford.Stats

	stellarWeights LinearWeights // adaptive w_i, STELLAR mode only
	centralityFrac float64       // verified_neighbors / MAX_NEIGHBORS, in [0,1]
	paretoRank     int

	current Snapshot
}

// NewEngine creates a metrics engine with standard initial values:
// RSSI EWMA = -70 dBm, PER = 0.1 (so PDR = 0.9), HSR = REPUTATION = 0.5.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		cfg:             cfg,
		rssiEWMA:        -70,
		perEWMA:         0.1,
		hsrEWMA:         0.5,
		reputationEWMA:  0.5,
		battery:         0,
		stellarWeights:  LinearWeights{Battery: 0.25, Uptime: 0.25, Trust: 0.25, LinkQuality: 0.25},
		lifetimeBattery: welford.New(),
		lifetimeTrust:   welford.New(),
		lifetimeLinkQ:   welford.New(),
	}
	e.recomputeLocked()
	return e
}

// UpdateRSSI folds a per-beacon RSSI reading (dBm) into the RSSI EWMA and
// recomputes the derived snapshot.
func (e *Engine) UpdateRSSI(rssiDBm float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rssiEWMA = ewma(e.cfg.EWMA.RSSI, rssiDBm, e.rssiEWMA)
	e.recomputeLocked()
}

// RecordBLEReception folds a reception event into the PER EWMA. received is
// normally 1 (one beacon arrived); missed is the number of inferred gaps
// computed from the sequence-number delta.
func (e *Engine) RecordBLEReception(received, missed int) {
	if received < 0 {
		received = 0
	}
	if missed < 0 {
		missed = 0
	}
	total := received + missed
	if total == 0 {
		return
	}
	lossFraction := float64(missed) / float64(total)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.perEWMA = ewma(e.cfg.EWMA.PER, lossFraction, e.perEWMA)
	e.recomputeLocked()
}

// RecordHMACSuccess folds one beacon's authentication outcome into the HSR
// EWMA; a failed authentication depresses HSR the same way a dropped
// beacon would.
func (e *Engine) RecordHMACSuccess(success bool) {
	v := 0.0
	if success {
		v = 1.0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hsrEWMA = ewma(e.cfg.EWMA.HSR, v, e.hsrEWMA)
	e.recomputeLocked()
}

// UpdateReputation folds an external reputation sample (e.g. from an
// operator-facing reputation collaborator) into the REPUTATION EWMA.
func (e *Engine) UpdateReputation(reputation float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reputationEWMA = ewma(e.cfg.EWMA.Reputation, clamp01(reputation), e.reputationEWMA)
	e.recomputeLocked()
}

// SetBattery sets the current battery fraction. externalPower, when true,
// overrides frac to 1.0, the convention for a node running on external
// power rather than a battery.
func (e *Engine) SetBattery(frac float64, externalPower bool) {
	if externalPower {
		frac = 1.0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.battery = clamp01(frac)
	e.recomputeLocked()
}

// SetUptimeSeconds sets the node's monotonic, deep-sleep-persisted uptime.
func (e *Engine) SetUptimeSeconds(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uptimeSeconds = seconds
	e.recomputeLocked()
}

// SetCentralityInputs feeds the verified-neighbor count and table capacity
// used to approximate centrality κ's input.
func (e *Engine) SetCentralityInputs(verifiedNeighbors, maxNeighbors int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if maxNeighbors <= 0 {
		e.centralityFrac = 0
	} else {
		e.centralityFrac = clamp01(float64(verifiedNeighbors) / float64(maxNeighbors))
	}
	e.recomputeLocked()
}

// SetParetoRank records this candidate's Pareto dominance count, as computed
// externally by the election package, for inclusion in the next snapshot and
// in Ψ's Pareto bonus term.
func (e *Engine) SetParetoRank(rank int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paretoRank = rank
	e.recomputeLocked()
}

// SetStellarEnabled toggles linear vs STELLAR scoring mode.
func (e *Engine) SetStellarEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.StellarEnabled = enabled
	e.recomputeLocked()
}

// SetLinearWeights overrides the linear-mode weight vector, renormalized
// onto the simplex.
func (e *Engine) SetLinearWeights(w LinearWeights) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Linear = w.Normalize(e.cfg.Stellar.WMin)
	e.recomputeLocked()
}

// AdaptWeights runs one Lyapunov gradient step of STELLAR's weight
// adaptation using the current entropy-derived target weights, and
// returns the Lyapunov potential V after the step.
func (e *Engine) AdaptWeights() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.adaptWeightsLocked()
	e.recomputeLocked()
	return v
}

// GetCurrent returns a value copy of the current snapshot.
func (e *Engine) GetCurrent() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// LifetimeStats exposes welford-backed lifetime mean/variance/stddev for
// battery, trust, and link quality — a diagnostic distinct from the
// short-horizon EWMA variances that feed STELLAR's entropy term, intended
// for export on the Prometheus /metrics surface.
type LifetimeStats struct {
	BatteryMean, BatteryStddev float64
	TrustMean, TrustStddev     float64
	LinkQMean, LinkQStddev     float64
}

// LifetimeStatsSnapshot returns the running lifetime statistics.
func (e *Engine) LifetimeStatsSnapshot() LifetimeStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return LifetimeStats{
		BatteryMean:   e.lifetimeBattery.Mean(),
		BatteryStddev: e.lifetimeBattery.Stddev(),
		TrustMean:     e.lifetimeTrust.Mean(),
		TrustStddev:   e.lifetimeTrust.Stddev(),
		LinkQMean:     e.lifetimeLinkQ.Mean(),
		LinkQStddev:   e.lifetimeLinkQ.Stddev(),
	}
}

// ewma applies x <- alpha*new + (1-alpha)*x.
func ewma(alpha, newVal, x float64) float64 {
	return alpha*newVal + (1-alpha)*x
}

// recomputeLocked derives trust, link quality, the variance EWMAs, and the
// composite score from current EWMA state. Caller must hold e.mu.
func (e *Engine) recomputeLocked() {
	pdr := 1 - e.perEWMA
	trust := clamp01(e.cfg.EWMA.HSR*e.hsrEWMA + (1-e.cfg.EWMA.HSR-e.cfg.EWMA.Reputation)*pdr + e.cfg.EWMA.Reputation*e.reputationEWMA)
	// HSR and Reputation alphas weight their own terms directly; the
	// remainder goes to PDR, keeping the three-term sum on [0,1] whenever
	// the inputs are already in [0,1] without inventing a fourth tunable.
	rssiQ := clamp01((e.rssiEWMA + 100) / 50)
	perQ := 1 - e.perEWMA
	linkQuality := clamp01(0.7*rssiQ + 0.3*perQ)

	deltaBattery := e.battery - e.prevBattery
	deltaTrust := trust - e.prevTrust
	deltaLinkQ := linkQuality - e.prevLinkQuality
	e.varBattery = ewma(e.cfg.EWMA.Variance, deltaBattery*deltaBattery, e.varBattery)
	e.varTrust = ewma(e.cfg.EWMA.Variance, deltaTrust*deltaTrust, e.varTrust)
	e.varLinkQ = ewma(e.cfg.EWMA.Variance, deltaLinkQ*deltaLinkQ, e.varLinkQ)
	e.prevBattery = e.battery
	e.prevTrust = trust
	e.prevLinkQuality = linkQuality

	e.lifetimeBattery.Add(e.battery)
	e.lifetimeTrust.Add(trust)
	e.lifetimeLinkQ.Add(linkQuality)

	var composite float64
	var weightsUsed LinearWeights
	var confidence [4]float64
	if e.cfg.StellarEnabled {
		confidence = e.confidenceLocked()
		composite = e.stellarScoreLocked()
		weightsUsed = e.stellarWeights
	} else {
		weightsUsed = e.cfg.Linear
		composite = weightsUsed.Battery*e.battery +
			weightsUsed.Uptime*(e.uptimeSeconds/secondsPerDay) +
			weightsUsed.Trust*trust +
			weightsUsed.LinkQuality*linkQuality
	}

	e.current = Snapshot{
		Battery:        e.battery,
		UptimeSeconds:  e.uptimeSeconds,
		Trust:          trust,
		LinkQuality:    linkQuality,
		CompositeScore: composite,
		VarBattery:     e.varBattery,
		VarTrust:       e.varTrust,
		VarLinkQ:       e.varLinkQ,
		Confidence:     confidence,
		ParetoRank:     e.paretoRank,
		Weights:        weightsUsed,
	}
}
