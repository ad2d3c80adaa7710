package election

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wsncoord/clusterengine/metrics"
)

func snap(score, battery, trust, linkq float64) metrics.Snapshot {
	return metrics.Snapshot{
		Battery:        battery,
		UptimeSeconds:  3600,
		Trust:          trust,
		LinkQuality:    linkq,
		CompositeScore: score,
		Weights:        metrics.DefaultLinearWeights(),
	}
}

func TestRunLegacyTwoNodeElection(t *testing.T) {
	a := Candidate{NodeID: 1, Battery: 0.9, Trust: 0.9, LinkQuality: 0.9, Score: 0.85, Snapshot: snap(0.85, 0.9, 0.9, 0.9)}
	b := Candidate{NodeID: 2, Battery: 0.3, Trust: 0.5, LinkQuality: 0.5, Score: 0.45, Snapshot: snap(0.45, 0.3, 0.5, 0.5)}

	winner := RunLegacy([]Candidate{a, b})
	assert.Equal(t, uint32(1), winner)
}

func TestRunLegacyTieBreaksOnLowerNodeID(t *testing.T) {
	a := Candidate{NodeID: 5, Battery: 0.5, Trust: 0.5, LinkQuality: 0.5, Score: 0.5}
	b := Candidate{NodeID: 2, Battery: 0.5, Trust: 0.5, LinkQuality: 0.5, Score: 0.5}
	winner := RunLegacy([]Candidate{a, b})
	assert.Equal(t, uint32(2), winner)
}

func TestRunLegacyEmptyReturnsZero(t *testing.T) {
	assert.Equal(t, uint32(0), RunLegacy(nil))
}

func TestRunStellarSingleCandidateWinsTrivially(t *testing.T) {
	cfg := metrics.DefaultStellarConfig()
	a := Candidate{NodeID: 7, Snapshot: snap(0.5, 0.6, 0.6, 0.6)}
	assert.Equal(t, uint32(7), RunStellar([]Candidate{a}, cfg))
}

func TestRunStellarDeterministicTieBreak(t *testing.T) {
	cfg := metrics.DefaultStellarConfig()
	// identical metrics on both candidates: their Nash products tie and the
	// bargaining loop's own tie-break on lowest node_id must decide.
	a := Candidate{NodeID: 9, Snapshot: snap(0.5, 0.6, 0.6, 0.6)}
	b := Candidate{NodeID: 4, Snapshot: snap(0.5, 0.6, 0.6, 0.6)}
	winner := RunStellar([]Candidate{a, b}, cfg)
	assert.Equal(t, uint32(4), winner)
}

func TestRunStellarPrefersParetoDominant(t *testing.T) {
	cfg := metrics.DefaultStellarConfig()
	strong := Candidate{NodeID: 1, Snapshot: snap(0.7, 0.9, 0.9, 0.9)}
	weak := Candidate{NodeID: 2, Snapshot: snap(0.3, 0.2, 0.2, 0.2)}
	winner := RunStellar([]Candidate{strong, weak}, cfg)
	assert.Equal(t, uint32(1), winner)
}

func TestDominatesStrictlyRequiresOneGreater(t *testing.T) {
	assert.False(t, dominates(utilityVec{0.5, 0.5, 0.5, 0.5}, utilityVec{0.5, 0.5, 0.5, 0.5}))
	assert.True(t, dominates(utilityVec{0.6, 0.5, 0.5, 0.5}, utilityVec{0.5, 0.5, 0.5, 0.5}))
	assert.False(t, dominates(utilityVec{0.6, 0.4, 0.5, 0.5}, utilityVec{0.5, 0.5, 0.5, 0.5}))
}
