/*
Package neighbor implements the neighbor table (C3): a fixed-capacity set of
peer entries keyed by node_id, with RSSI EWMA smoothing, sequence-gap packet
loss inference, liveness expiry, and authenticated CH recognition.

All operations serialize on a single mutex; external callers always
receive copies, never pointers into the table's storage, so a getter's
result stays valid after the lock is released.
*/
package neighbor

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Entry is one neighbor table record. Callers receive copies.
type Entry struct {
	NodeID    uint32
	Addr      [6]byte
	LastRSSI  float64
	RSSIEWMA  float64
	LastSeq   uint8
	Score     float64
	Battery   float64
	Uptime    float64
	Trust     float64
	LinkQuality        float64
	IsCH               bool
	CHAnnounceTimestampMs int64
	LastSeenMs         int64
	Verified           bool
}

// isValidCH reports whether e currently qualifies as the cluster's CH.
func isValidCH(e Entry, nowMs, chBeaconTimeoutMs int64, trustFloor float64) bool {
	return e.IsCH && e.Verified && e.Trust >= trustFloor && (nowMs-e.CHAnnounceTimestampMs) < chBeaconTimeoutMs
}

// Config bundles the table's tunables, all overridable from the persisted
// configuration surface.
type Config struct {
	Capacity          int
	TimeoutMs         int64
	CHBeaconTimeoutMs int64
	TrustFloor        float64
	RSSIAlpha         float64
}

// DefaultConfig returns the standard field defaults: 16-entry capacity, 25s
// liveness timeout, 10s CH beacon timeout.
func DefaultConfig() Config {
	return Config{
		Capacity:          16,
		TimeoutMs:         25_000,
		CHBeaconTimeoutMs: 10_000,
		TrustFloor:        0.3,
		RSSIAlpha:         0.2,
	}
}

// Table is the fixed-capacity neighbor set owned exclusively by this type.
type Table struct {
	mu        sync.Mutex
	cfg       Config
	ownNodeID uint32
	entries   map[uint32]*Entry
	// insertion order tracked so GetAll/iteration over stale entries is
	// deterministic in tests; not load-bearing for correctness.
	order []uint32

	fullWarnLimiter *rate.Limiter
}

// NewTable creates an empty table for ownNodeID, which is never inserted as
// a neighbor of itself.
func NewTable(ownNodeID uint32, cfg Config) *Table {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	return &Table{
		cfg:             cfg,
		ownNodeID:       ownNodeID,
		entries:         make(map[uint32]*Entry, cfg.Capacity),
		fullWarnLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// mod256Dec computes (a - b) mod 256 using Go's truncating % operator
// rewritten into the always-nonnegative residue.
func mod256Dec(a, b uint8) int {
	d := int(a) - int(b)
	d %= 256
	if d < 0 {
		d += 256
	}
	return d
}

// Update folds one beacon-derived observation into the table for nodeID.
// It returns the inferred number of missed packets since the last update
// (0 on a fresh insert) and whether the observation was accepted (false
// when nodeID is this node's own id, when seqNum repeats the entry's
// last-seen sequence number, or when the table is full and nodeID is new).
func (t *Table) Update(nodeID uint32, addr [6]byte, rssi float64, score, battery, uptime, trust, linkQuality float64, isCH bool, seqNum uint8, nowMs int64) (missed int, ok bool) {
	if nodeID == t.ownNodeID {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, exists := t.entries[nodeID]; exists {
		if seqNum == e.LastSeq {
			// Exact replay of the last-seen sequence number: a node's own
			// counter only ever advances, so this can only be a resent
			// frame. Reject without refreshing LastSeenMs or any metric,
			// so a replayed beacon cannot keep a dead neighbor alive.
			return 0, false
		}
		gap := mod256Dec(seqNum, e.LastSeq)
		missed = gap - 1
		if missed < 0 {
			missed = 0
		}
		if missed > 20 {
			// Large gap: treat as a peer reboot / sequence reset, not 20+
			// consecutive drops.
			missed = 0
		}

		e.RSSIEWMA = t.cfg.RSSIAlpha*rssi + (1-t.cfg.RSSIAlpha)*e.RSSIEWMA
		e.LastRSSI = rssi
		e.LastSeq = seqNum
		e.Score = score
		e.Battery = battery
		e.Uptime = uptime
		e.Trust = trust
		e.LinkQuality = linkQuality
		e.Addr = addr
		e.LastSeenMs = nowMs
		if isCH {
			e.IsCH = true
			e.CHAnnounceTimestampMs = nowMs
		} else {
			e.IsCH = false
		}
		e.Verified = true
		return missed, true
	}

	if len(t.entries) >= t.cfg.Capacity {
		if t.fullWarnLimiter.Allow() {
			log.Warningf("neighbor table full (capacity %d), dropping node_id=%d", t.cfg.Capacity, nodeID)
		}
		return 0, false
	}

	e := &Entry{
		NodeID:      nodeID,
		Addr:        addr,
		LastRSSI:    rssi,
		RSSIEWMA:    rssi,
		LastSeq:     seqNum,
		Score:       score,
		Battery:     battery,
		Uptime:      uptime,
		Trust:       trust,
		LinkQuality: linkQuality,
		IsCH:        isCH,
		LastSeenMs:  nowMs,
		Verified:    true,
	}
	if isCH {
		e.CHAnnounceTimestampMs = nowMs
	}
	t.entries[nodeID] = e
	t.order = append(t.order, nodeID)
	return 0, true
}

// GetCurrentCH returns the node_id of the highest-scoring valid CH, or 0 if
// none qualifies.
func (t *Table) GetCurrentCH(nowMs int64) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best uint32
	var bestScore float64
	for _, e := range t.entries {
		if !isValidCH(*e, nowMs, t.cfg.CHBeaconTimeoutMs, t.cfg.TrustFloor) {
			continue
		}
		if best == 0 || e.Score > bestScore {
			best = e.NodeID
			bestScore = e.Score
		}
	}
	return best
}

// GetCHMac returns the hardware address of any valid CH.
func (t *Table) GetCHMac(nowMs int64) ([6]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best *Entry
	for _, e := range t.entries {
		if !isValidCH(*e, nowMs, t.cfg.CHBeaconTimeoutMs, t.cfg.TrustFloor) {
			continue
		}
		if best == nil || e.Score > best.Score {
			best = e
		}
	}
	if best == nil {
		return [6]byte{}, false
	}
	return best.Addr, true
}

// CleanupStale evicts entries whose LastSeenMs predates the liveness
// timeout, returning the number evicted.
func (t *Table) CleanupStale(nowMs int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	newOrder := t.order[:0:0]
	for _, id := range t.order {
		e, ok := t.entries[id]
		if !ok {
			continue
		}
		if nowMs-e.LastSeenMs > t.cfg.TimeoutMs {
			delete(t.entries, id)
			evicted++
			continue
		}
		newOrder = append(newOrder, id)
	}
	t.order = newOrder
	return evicted
}

// GetAll returns up to max copies of the current entries (max<=0 means no
// limit).
func (t *Table) GetAll(max int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for _, id := range t.order {
		e, ok := t.entries[id]
		if !ok {
			continue
		}
		out = append(out, *e)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// UpdateTrust nudges a neighbor's trust towards 1 (success) or 0 (failure)
// with a 0.9/0.1 blend, marking it verified once trust clears 0.3.
func (t *Table) UpdateTrust(nodeID uint32, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[nodeID]
	if !ok {
		return
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	e.Trust = 0.9*e.Trust + 0.1*outcome
	if e.Trust > 0.3 {
		e.Verified = true
	}
}

// Len returns the current number of tracked neighbors.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// UpdateConfig applies a live override of the liveness/CH-staleness
// timeouts, letting the CONFIG administrative verb take effect immediately
// instead of only after the next restart's loadPersistedConfig.
func (t *Table) UpdateConfig(timeoutMs, chBeaconTimeoutMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.TimeoutMs = timeoutMs
	t.cfg.CHBeaconTimeoutMs = chBeaconTimeoutMs
}
