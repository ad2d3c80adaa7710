package metrics

import "math"

// utilityBattery is the concave battery utility φ_b(b) = (1-e^{-λb})/(1-e^{-λ}).
func utilityBattery(battery, lambdaB float64) float64 {
	battery = clamp01(battery)
	denom := 1 - math.Exp(-lambdaB)
	if denom == 0 {
		return battery
	}
	return (1 - math.Exp(-lambdaB*battery)) / denom
}

// utilityUptime is φ_u(u) = tanh(λ_u * u_norm), u_norm clamped to 1.
func utilityUptime(uptimeSeconds, uptimeMaxDays, lambdaU float64) float64 {
	if uptimeMaxDays <= 0 {
		uptimeMaxDays = 1
	}
	norm := uptimeSeconds / (uptimeMaxDays * secondsPerDay)
	if norm > 1 {
		norm = 1
	}
	if norm < 0 {
		norm = 0
	}
	return math.Tanh(lambdaU * norm)
}

// utilityTrust is the smooth-step φ_t(t) = t²(3-2t).
func utilityTrust(trust float64) float64 {
	t := clamp01(trust)
	return t * t * (3 - 2*t)
}

// utilityLinkQuality is φ_l(l) = l^(1/γ_L).
func utilityLinkQuality(linkQuality, gammaL float64) float64 {
	l := clamp01(linkQuality)
	if gammaL == 0 {
		return l
	}
	return math.Pow(l, 1/gammaL)
}

// differentialEntropy computes H = 0.5*ln(2*pi*e*variance) for a Gaussian
// with the given variance. A non-positive variance is floored to avoid -Inf.
func differentialEntropy(variance float64) float64 {
	const minVariance = 1e-9
	if variance < minVariance {
		variance = minVariance
	}
	return 0.5 * math.Log(2*math.Pi*math.E*variance)
}

// confidenceLocked computes the entropy-derived confidence vector
// c = (c_battery, c_uptime, c_trust, c_linkq), softmaxed over -γH_i.
// Caller must hold e.mu.
func (e *Engine) confidenceLocked() [4]float64 {
	hs := [4]float64{
		differentialEntropy(e.varBattery),
		differentialEntropy(uptimeFixedVariance),
		differentialEntropy(e.varTrust),
		differentialEntropy(e.varLinkQ),
	}
	gamma := e.cfg.Stellar.Gamma
	var exps [4]float64
	var sum float64
	for i, h := range hs {
		exps[i] = math.Exp(-gamma * h)
		sum += exps[i]
	}
	var c [4]float64
	if sum <= 0 {
		for i := range c {
			c[i] = 0.25
		}
		return c
	}
	for i := range c {
		c[i] = exps[i] / sum
	}
	return c
}

// targetWeightsLocked computes w*_i from the current confidence vector:
// base_i scaled by (1 + 0.5*(c_i - 0.25)), floored at WMin and renormalized
// onto the simplex. base is the linear weight vector, since STELLAR is an
// adaptive refinement of the same four base priorities. Caller must hold
// e.mu.
func (e *Engine) targetWeightsLocked() LinearWeights {
	c := e.confidenceLocked()
	base := e.cfg.Linear
	wMin := e.cfg.Stellar.WMin

	raw := [4]float64{
		base.Battery * (1 + 0.5*(c[0]-0.25)),
		base.Uptime * (1 + 0.5*(c[1]-0.25)),
		base.Trust * (1 + 0.5*(c[2]-0.25)),
		base.LinkQuality * (1 + 0.5*(c[3]-0.25)),
	}
	return projectSimplex(raw, wMin)
}

func projectSimplex(raw [4]float64, wMin float64) LinearWeights {
	for i := range raw {
		if raw[i] < wMin {
			raw[i] = wMin
		}
	}
	sum := raw[0] + raw[1] + raw[2] + raw[3]
	if sum <= 0 {
		return LinearWeights{Battery: 0.25, Uptime: 0.25, Trust: 0.25, LinkQuality: 0.25}
	}
	return LinearWeights{
		Battery:     raw[0] / sum,
		Uptime:      raw[1] / sum,
		Trust:       raw[2] / sum,
		LinkQuality: raw[3] / sum,
	}
}

// adaptWeightsLocked performs one Lyapunov gradient step and returns the
// resulting potential V. Caller must hold e.mu.
func (e *Engine) adaptWeightsLocked() float64 {
	target := e.targetWeightsLocked()
	cfg := e.cfg.Stellar

	w := [4]float64{e.stellarWeights.Battery, e.stellarWeights.Uptime, e.stellarWeights.Trust, e.stellarWeights.LinkQuality}
	wStar := [4]float64{target.Battery, target.Uptime, target.Trust, target.LinkQuality}

	var grad [4]float64
	var v float64
	for i := range w {
		grad[i] = (1 + cfg.Beta) * (w[i] - wStar[i])
		w[i] -= cfg.Eta * grad[i]
		v += 0.5*(w[i]-wStar[i])*(w[i]-wStar[i]) + cfg.Lambda*grad[i]*grad[i]
	}

	e.stellarWeights = projectSimplex(w, cfg.WMin)
	return v
}

// Converged reports whether the last AdaptWeights() potential was below the
// configured convergence threshold ε.
func (e *Engine) Converged(v float64) bool {
	return v < e.cfg.Stellar.ConvergenceEpsilon
}

// stellarScoreLocked computes Ψ: a weighted sum of utility curves, scaled
// by centrality κ and boosted by the Pareto bonus ρ. Caller must hold e.mu.
func (e *Engine) stellarScoreLocked() float64 {
	cfg := e.cfg.Stellar
	phiB := utilityBattery(e.battery, cfg.LambdaBattery)
	phiU := utilityUptime(e.uptimeSeconds, cfg.UptimeMaxDays, cfg.LambdaUptime)
	phiT := utilityTrust(e.prevTrust)
	phiL := utilityLinkQuality(e.prevLinkQuality, cfg.GammaLinkQ)

	w := e.stellarWeights
	weighted := w.Battery*phiB + w.Uptime*phiU + w.Trust*phiT + w.LinkQuality*phiL

	kappa := 1 / (1 + cfg.EpsilonCentrality*(1-e.centralityFrac))
	rho := cfg.Delta * (float64(e.paretoRank) / 10.0)
	return weighted*kappa + rho
}
