package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(DefaultConfig())
	snap := e.GetCurrent()
	assert.InDelta(t, 0.62, snap.Trust, 1e-9)
	assert.Equal(t, 0.0, snap.Battery)
}

func TestClampingInSnapshot(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.SetBattery(5.0, false)
	e.UpdateReputation(-3.0)
	snap := e.GetCurrent()
	assert.GreaterOrEqual(t, snap.Battery, 0.0)
	assert.LessOrEqual(t, snap.Battery, 1.0)
	assert.GreaterOrEqual(t, snap.Trust, 0.0)
	assert.LessOrEqual(t, snap.Trust, 1.0)
	assert.GreaterOrEqual(t, snap.LinkQuality, 0.0)
	assert.LessOrEqual(t, snap.LinkQuality, 1.0)
}

func TestExternalPowerForcesFullBattery(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.SetBattery(0.01, true)
	assert.Equal(t, 1.0, e.GetCurrent().Battery)
}

func TestLinearScoreWeighting(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.SetBattery(1.0, false)
	e.SetUptimeSeconds(86400)
	e.RecordHMACSuccess(true)
	e.UpdateReputation(1.0)
	e.UpdateRSSI(-50)
	snap := e.GetCurrent()
	assert.Greater(t, snap.CompositeScore, 0.0)
	assert.LessOrEqual(t, snap.CompositeScore, 1.01)
}

func TestLinearWeightsNormalizeToSimplex(t *testing.T) {
	w := LinearWeights{Battery: 1, Uptime: 1, Trust: 1, LinkQuality: 1}
	normalized := w.Normalize(0.05)
	sum := normalized.Battery + normalized.Uptime + normalized.Trust + normalized.LinkQuality
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestSetLinearWeightsRenormalizes(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.SetLinearWeights(LinearWeights{Battery: 2, Uptime: 0, Trust: 0, LinkQuality: 0})
	snap := e.GetCurrent()
	sum := snap.Weights.Battery + snap.Weights.Uptime + snap.Weights.Trust + snap.Weights.LinkQuality
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.GreaterOrEqual(t, snap.Weights.Uptime, 0.05)
}

func TestRecordBLEReceptionDrivesPERUp(t *testing.T) {
	e := NewEngine(DefaultConfig())
	before := e.perEWMA
	e.RecordBLEReception(1, 5)
	after := e.perEWMA
	require.Greater(t, after, before)
}

func TestWeightSimplexInvariantAfterStellarAdapt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StellarEnabled = true
	e := NewEngine(cfg)
	e.SetBattery(0.6, false)
	e.SetUptimeSeconds(3600)
	e.RecordHMACSuccess(true)
	for i := 0; i < 20; i++ {
		e.AdaptWeights()
	}
	snap := e.GetCurrent()
	sum := snap.Weights.Battery + snap.Weights.Uptime + snap.Weights.Trust + snap.Weights.LinkQuality
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.GreaterOrEqual(t, snap.Weights.Battery, cfg.Stellar.WMin-1e-9)
	assert.GreaterOrEqual(t, snap.Weights.Uptime, cfg.Stellar.WMin-1e-9)
	assert.GreaterOrEqual(t, snap.Weights.Trust, cfg.Stellar.WMin-1e-9)
	assert.GreaterOrEqual(t, snap.Weights.LinkQuality, cfg.Stellar.WMin-1e-9)
}
