package engine

import (
	"github.com/wsncoord/clusterengine/metrics"
	"github.com/wsncoord/clusterengine/persist"
	"github.com/wsncoord/clusterengine/statemachine"
)

// Status is the administrative console's snapshot of one node, backing the
// supplemented `status` verb.
type Status struct {
	NodeID        uint32
	Role          statemachine.State
	VisualRole    statemachine.State
	Snapshot      metrics.Snapshot
	NeighborCount int
}

// Status returns the current administrative snapshot.
func (e *Engine) Status() Status {
	return Status{
		NodeID:        e.SelfNodeID(),
		Role:          e.State(),
		VisualRole:    e.VisualState(),
		Snapshot:      e.metricsEngine.GetCurrent(),
		NeighborCount: e.neighbors.Len(),
	}
}

// SetWeights implements the `SET_WEIGHTS b u t l` console verb: it
// renormalizes (b, u, t, l) onto the simplex, applies them immediately to
// the linear-mode score, and persists the normalized values.
func (e *Engine) SetWeights(battery, uptime, trust, linkQuality float64) {
	e.metricsEngine.SetLinearWeights(metrics.LinearWeights{
		Battery:     battery,
		Uptime:      uptime,
		Trust:       trust,
		LinkQuality: linkQuality,
	})
	norm := e.metricsEngine.GetCurrent().Weights
	e.persistence.PutFloat64(persist.KeyWeightBattery, norm.Battery)
	e.persistence.PutFloat64(persist.KeyWeightUptime, norm.Uptime)
	e.persistence.PutFloat64(persist.KeyWeightTrust, norm.Trust)
	e.persistence.PutFloat64(persist.KeyWeightLinkQuality, norm.LinkQuality)
}

// SetConfigKey implements the `CONFIG key=value` console verb: it validates
// key against the recognized configuration surface, applies it, and
// persists it. An unrecognized key is rejected without mutating state,
// matching the "configuration-parse failure: ignored" policy.
func (e *Engine) SetConfigKey(key, value string) error {
	return e.applyConfigKey(key, value)
}
