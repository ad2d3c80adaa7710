/*
Package election implements the election protocol (C5): candidate
aggregation, the legacy weighted-sort winner selection, the STELLAR
Pareto/Nash selection, and the re-election trigger checks.

The legacy comparison cascade and the general shape of "compare two
candidates, return a signed/ordered verdict" is grounded on
sptp/bmc/bmc.go's Dscmp/Dscmp2 best-master-clock comparison functions, which
solve the structurally identical problem of picking a single winner from a
set of announced candidates with a deterministic tie-break on identity.
*/
package election

import (
	"github.com/wsncoord/clusterengine/metrics"
	"github.com/wsncoord/clusterengine/neighbor"

	"golang.org/x/exp/slices"
)

// Candidate is one contender in an election run: either the local node
// (self) or a verified, in-cluster neighbor.
type Candidate struct {
	NodeID      uint32
	Battery     float64
	Uptime      float64
	Trust       float64
	LinkQuality float64
	Score       float64
	Snapshot    metrics.Snapshot // full snapshot, used by STELLAR mode
}

// BuildCandidates assembles the candidate set: self, plus every neighbor
// that is verified, within cluster radius (rssi_ewma >= clusterRadiusRSSI),
// and meets the trust floor.
func BuildCandidates(selfNodeID uint32, selfSnapshot metrics.Snapshot, neighbors []neighbor.Entry, clusterRadiusRSSI, trustFloor float64) []Candidate {
	candidates := make([]Candidate, 0, len(neighbors)+1)
	candidates = append(candidates, Candidate{
		NodeID:      selfNodeID,
		Battery:     selfSnapshot.Battery,
		Uptime:      selfSnapshot.UptimeSeconds,
		Trust:       selfSnapshot.Trust,
		LinkQuality: selfSnapshot.LinkQuality,
		Score:       selfSnapshot.CompositeScore,
		Snapshot:    selfSnapshot,
	})

	for _, n := range neighbors {
		if !n.Verified {
			continue
		}
		if n.RSSIEWMA < clusterRadiusRSSI {
			continue
		}
		if n.Trust < trustFloor {
			continue
		}
		candidates = append(candidates, Candidate{
			NodeID:      n.NodeID,
			Battery:     n.Battery,
			Uptime:      n.Uptime,
			Trust:       n.Trust,
			LinkQuality: n.LinkQuality,
			Score:       n.Score,
			Snapshot: metrics.Snapshot{
				Battery:        n.Battery,
				UptimeSeconds:  n.Uptime,
				Trust:          n.Trust,
				LinkQuality:    n.LinkQuality,
				CompositeScore: n.Score,
			},
		})
	}
	return candidates
}

// RunLegacy sorts candidates by (score, link_quality, battery, trust,
// -node_id) descending and returns the winner's node_id, or 0 if there are
// no candidates.
func RunLegacy(candidates []Candidate) uint32 {
	if len(candidates) == 0 {
		return 0
	}
	sorted := append([]Candidate(nil), candidates...)
	slices.SortFunc(sorted, func(a, b Candidate) bool {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.LinkQuality != b.LinkQuality {
			return a.LinkQuality > b.LinkQuality
		}
		if a.Battery != b.Battery {
			return a.Battery > b.Battery
		}
		if a.Trust != b.Trust {
			return a.Trust > b.Trust
		}
		return a.NodeID < b.NodeID
	})
	return sorted[0].NodeID
}

// Run dispatches to the legacy or STELLAR selection procedure. Returns 0
// if candidates is empty.
func Run(candidates []Candidate, stellarEnabled bool, cfg metrics.StellarConfig) uint32 {
	if stellarEnabled {
		return RunStellar(candidates, cfg)
	}
	return RunLegacy(candidates)
}
