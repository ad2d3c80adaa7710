/*
Package engine wires the per-component packages (auth, beacon, metrics,
neighbor, election, statemachine, scheduler, persist, timebase, radio) into
one running node, mirroring the Engine{clock, persistence, radio,
authenticator, metrics, neighbors, election, scheduler, state_machine}
struct: a single value owning every collaborator, instantiated once at
startup, with no package-level global state.
*/
package engine

import (
	"strconv"

	"github.com/wsncoord/clusterengine/metrics"
	"github.com/wsncoord/clusterengine/neighbor"
	"github.com/wsncoord/clusterengine/persist"
	"github.com/wsncoord/clusterengine/statemachine"
)

// Config bundles every tunable the engine needs at construction, before any
// persisted override is applied.
type Config struct {
	NodeID     uint32
	Addr       [6]byte
	ClusterKey []byte

	Metrics      metrics.Config
	Neighbor     neighbor.Config
	StateMachine statemachine.Config

	ClusterRadiusRSSI     float64
	TrustFloor            float64
	LinkQualityFloor      float64
	BatteryLowThreshold   float64
	CriticalBatteryFloor  float64
	SlotDurationSec       uint8
	BeaconIntervalMs      int64
	BeaconOffsetMs        int64

	// ReelectIfExpr, if non-empty, is a govaluate boolean expression over
	// battery/trust/link_quality evaluated in addition to the fixed floor
	// checks below when this node is CH.
	ReelectIfExpr string
}

// DefaultConfig returns standard tunables; BeaconOffsetMs is left 0 so New
// derives it from addr[5] per the configuration surface's documented
// default ("offset auto-derived from addr[5]*10 mod 1000 when 0").
func DefaultConfig() Config {
	return Config{
		Metrics:              metrics.DefaultConfig(),
		Neighbor:             neighbor.DefaultConfig(),
		StateMachine:         statemachine.DefaultConfig(),
		ClusterRadiusRSSI:    -85,
		TrustFloor:           0.3,
		LinkQualityFloor:     0.2,
		BatteryLowThreshold:  0.15,
		CriticalBatteryFloor: 0.03,
		SlotDurationSec:      1,
		BeaconIntervalMs:     1000,
		BeaconOffsetMs:       0,
	}
}

// configSurfaceKeys are exactly the recognized persisted configuration keys;
// CONFIG/reconfiguration requests for any other key are rejected.
var configSurfaceKeys = map[string]bool{
	persist.KeyWeightBattery:        true,
	persist.KeyWeightUptime:         true,
	persist.KeyWeightTrust:          true,
	persist.KeyWeightLinkQuality:    true,
	persist.KeyStellarEnabled:       true,
	persist.KeyElectionWindowMs:     true,
	persist.KeyCHBeaconTimeoutMs:    true,
	persist.KeyNeighborTimeoutMs:    true,
	persist.KeyTrustFloor:           true,
	persist.KeyLinkQualityFloor:     true,
	persist.KeyBatteryLowThreshold:  true,
	persist.KeyClusterRadiusRSSIdBm: true,
	persist.KeyBeaconIntervalMs:     true,
	persist.KeyBeaconOffsetMs:       true,
}

// loadPersistedConfig overlays any previously persisted configuration-surface
// values onto cfg, preserving cfg's defaults for anything never written.
func loadPersistedConfig(cfg Config, a *persist.Adaptor) Config {
	w := metrics.LinearWeights{
		Battery:     a.GetFloat64(persist.KeyWeightBattery, cfg.Metrics.Linear.Battery),
		Uptime:      a.GetFloat64(persist.KeyWeightUptime, cfg.Metrics.Linear.Uptime),
		Trust:       a.GetFloat64(persist.KeyWeightTrust, cfg.Metrics.Linear.Trust),
		LinkQuality: a.GetFloat64(persist.KeyWeightLinkQuality, cfg.Metrics.Linear.LinkQuality),
	}
	cfg.Metrics.Linear = w.Normalize(cfg.Metrics.Stellar.WMin)
	cfg.Metrics.StellarEnabled = a.GetBool(persist.KeyStellarEnabled, cfg.Metrics.StellarEnabled)

	cfg.StateMachine.ElectionWindowMs = a.GetInt64(persist.KeyElectionWindowMs, cfg.StateMachine.ElectionWindowMs)
	cfg.Neighbor.CHBeaconTimeoutMs = a.GetInt64(persist.KeyCHBeaconTimeoutMs, cfg.Neighbor.CHBeaconTimeoutMs)
	cfg.Neighbor.TimeoutMs = a.GetInt64(persist.KeyNeighborTimeoutMs, cfg.Neighbor.TimeoutMs)

	cfg.TrustFloor = a.GetFloat64(persist.KeyTrustFloor, cfg.TrustFloor)
	cfg.Neighbor.TrustFloor = cfg.TrustFloor
	cfg.LinkQualityFloor = a.GetFloat64(persist.KeyLinkQualityFloor, cfg.LinkQualityFloor)
	cfg.BatteryLowThreshold = a.GetFloat64(persist.KeyBatteryLowThreshold, cfg.BatteryLowThreshold)
	cfg.ClusterRadiusRSSI = a.GetFloat64(persist.KeyClusterRadiusRSSIdBm, cfg.ClusterRadiusRSSI)
	cfg.BeaconIntervalMs = a.GetInt64(persist.KeyBeaconIntervalMs, cfg.BeaconIntervalMs)
	cfg.BeaconOffsetMs = a.GetInt64(persist.KeyBeaconOffsetMs, cfg.BeaconOffsetMs)
	return cfg
}

// applyConfigKey validates and applies a single CONFIG key=value pair
// against cfg/metrics, persisting it on success. Unknown keys are rejected
// without mutating anything, matching the "configuration-parse failure:
// ignored, previous value retained" policy.
func (e *Engine) applyConfigKey(key, value string) error {
	if !configSurfaceKeys[key] {
		return errUnknownConfigKey(key)
	}

	switch key {
	case persist.KeyStellarEnabled:
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		e.metricsEngine.SetStellarEnabled(enabled)
		e.persistence.PutBool(key, enabled)
		return nil
	case persist.KeyElectionWindowMs:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.cfg.StateMachine.ElectionWindowMs = v
		e.mu.Unlock()
		e.persistence.PutInt64(key, v)
		return nil
	case persist.KeyCHBeaconTimeoutMs, persist.KeyNeighborTimeoutMs:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		e.mu.Lock()
		if key == persist.KeyCHBeaconTimeoutMs {
			e.cfg.Neighbor.CHBeaconTimeoutMs = v
		} else {
			e.cfg.Neighbor.TimeoutMs = v
		}
		e.neighbors.UpdateConfig(e.cfg.Neighbor.TimeoutMs, e.cfg.Neighbor.CHBeaconTimeoutMs)
		e.mu.Unlock()
		e.persistence.PutInt64(key, v)
		return nil
	case persist.KeyTrustFloor, persist.KeyLinkQualityFloor, persist.KeyBatteryLowThreshold, persist.KeyClusterRadiusRSSIdBm:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		e.mu.Lock()
		switch key {
		case persist.KeyTrustFloor:
			e.cfg.TrustFloor = v
		case persist.KeyLinkQualityFloor:
			e.cfg.LinkQualityFloor = v
		case persist.KeyBatteryLowThreshold:
			e.cfg.BatteryLowThreshold = v
		case persist.KeyClusterRadiusRSSIdBm:
			e.cfg.ClusterRadiusRSSI = v
		}
		e.mu.Unlock()
		e.persistence.PutFloat64(key, v)
		return nil
	case persist.KeyBeaconIntervalMs, persist.KeyBeaconOffsetMs:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		e.mu.Lock()
		if key == persist.KeyBeaconIntervalMs {
			e.cfg.BeaconIntervalMs = v
		} else {
			e.cfg.BeaconOffsetMs = v
		}
		e.mu.Unlock()
		e.persistence.PutInt64(key, v)
		return nil
	case persist.KeyWeightBattery, persist.KeyWeightUptime, persist.KeyWeightTrust, persist.KeyWeightLinkQuality:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		// Route through SetLinearWeights, same as the SET_WEIGHTS console
		// verb (console.go), so CONFIG w_*=... takes effect on the live
		// score immediately instead of only after a restart, and the two
		// surfaces can never diverge.
		w := e.metricsEngine.GetCurrent().Weights
		switch key {
		case persist.KeyWeightBattery:
			w.Battery = v
		case persist.KeyWeightUptime:
			w.Uptime = v
		case persist.KeyWeightTrust:
			w.Trust = v
		case persist.KeyWeightLinkQuality:
			w.LinkQuality = v
		}
		e.metricsEngine.SetLinearWeights(w)
		norm := e.metricsEngine.GetCurrent().Weights
		e.persistence.PutFloat64(persist.KeyWeightBattery, norm.Battery)
		e.persistence.PutFloat64(persist.KeyWeightUptime, norm.Uptime)
		e.persistence.PutFloat64(persist.KeyWeightTrust, norm.Trust)
		e.persistence.PutFloat64(persist.KeyWeightLinkQuality, norm.LinkQuality)
		return nil
	}
	return errUnknownConfigKey(key)
}

// derivedBeaconOffsetMs implements "offset auto-derived from addr[5]*10 mod
// 1000 when 0".
func derivedBeaconOffsetMs(addr [6]byte, configured int64) int64 {
	if configured != 0 {
		return configured
	}
	return (int64(addr[5]) * 10) % 1000
}
