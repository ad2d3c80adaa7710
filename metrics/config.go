package metrics

// EWMACoefficients holds the smoothing coefficients for every exponentially
// weighted moving average tracked by the engine.
type EWMACoefficients struct {
	RSSI       float64
	PER        float64
	HSR        float64
	Reputation float64
	Variance   float64
}

// DefaultEWMACoefficients returns the standard smoothing constants.
func DefaultEWMACoefficients() EWMACoefficients {
	return EWMACoefficients{
		RSSI:       0.2,
		PER:        0.1,
		HSR:        0.4,
		Reputation: 0.3,
		Variance:   0.1,
	}
}

// LinearWeights is the legacy weighted-sum score's weight vector
// (battery, uptime, trust, link quality), always kept on the probability
// simplex with a floor of WMin per entry.
type LinearWeights struct {
	Battery     float64
	Uptime      float64
	Trust       float64
	LinkQuality float64
}

// DefaultLinearWeights returns the standard linear weights.
func DefaultLinearWeights() LinearWeights {
	return LinearWeights{Battery: 0.25, Uptime: 0.25, Trust: 0.30, LinkQuality: 0.20}
}

// Normalize clamps every component to at least wMin and rescales the vector
// back onto the simplex (sum == 1).
func (w LinearWeights) Normalize(wMin float64) LinearWeights {
	if w.Battery < wMin {
		w.Battery = wMin
	}
	if w.Uptime < wMin {
		w.Uptime = wMin
	}
	if w.Trust < wMin {
		w.Trust = wMin
	}
	if w.LinkQuality < wMin {
		w.LinkQuality = wMin
	}
	sum := w.Battery + w.Uptime + w.Trust + w.LinkQuality
	if sum <= 0 {
		return DefaultLinearWeights()
	}
	v := [4]float64{w.Battery / sum, w.Uptime / sum, w.Trust / sum, w.LinkQuality / sum}
	// Dividing by sum can push a floored entry back under wMin: pin such
	// entries to wMin and spread the remaining mass over the others.
	for pass := 0; pass < len(v); pass++ {
		free, rest := 1.0, 0.0
		for _, x := range v {
			if x <= wMin {
				free -= wMin
			} else {
				rest += x
			}
		}
		for i, x := range v {
			if x <= wMin {
				v[i] = wMin
			} else if rest > 0 {
				v[i] = x * free / rest
			}
		}
	}
	return LinearWeights{Battery: v[0], Uptime: v[1], Trust: v[2], LinkQuality: v[3]}
}

// StellarConfig bundles the STELLAR tuning constants. These are
// configuration, not code, so they live behind a struct rather than
// compile-time constants and are overridable from the persisted
// configuration surface.
type StellarConfig struct {
	// Lyapunov gradient-step constants.
	Eta   float64 // step size
	Beta  float64 // gradient scale
	Lambda float64 // Lyapunov V's gradient-penalty weight
	// Entropy-confidence temperature.
	Gamma float64
	// Simplex floor, shared with linear weights.
	WMin float64
	// Uptime utility normalization horizon.
	UptimeMaxDays float64
	// Utility-curve shape constants.
	LambdaBattery float64
	LambdaUptime  float64
	GammaLinkQ    float64
	// Nash bargaining disagreement point.
	DisagreeBattery float64
	DisagreeUptime  float64
	DisagreeTrust   float64
	DisagreeLinkQ   float64
	// Centrality / Pareto bonus constants.
	EpsilonCentrality float64
	Delta             float64
	// Lyapunov convergence threshold.
	ConvergenceEpsilon float64
}

// DefaultStellarConfig returns the standard tuning constants.
func DefaultStellarConfig() StellarConfig {
	return StellarConfig{
		Eta:                0.3,
		Beta:               0.2,
		Lambda:             0.1,
		Gamma:              1.5,
		WMin:               0.05,
		UptimeMaxDays:      7,
		LambdaBattery:      2.5,
		LambdaUptime:       2.0,
		GammaLinkQ:         0.85,
		DisagreeBattery:    0.05,
		DisagreeUptime:     0.0,
		DisagreeTrust:      0.05,
		DisagreeLinkQ:      0.05,
		EpsilonCentrality:  1.0,
		Delta:              0.05,
		ConvergenceEpsilon: 1e-4,
	}
}

// Config bundles every tunable the metrics engine needs; all fields map to
// the persisted configuration surface.
type Config struct {
	EWMA           EWMACoefficients
	Linear         LinearWeights
	Stellar        StellarConfig
	StellarEnabled bool
}

// DefaultConfig returns the standard configuration (linear mode).
func DefaultConfig() Config {
	return Config{
		EWMA:           DefaultEWMACoefficients(),
		Linear:         DefaultLinearWeights(),
		Stellar:        DefaultStellarConfig(),
		StellarEnabled: false,
	}
}
