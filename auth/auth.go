/*
Package auth implements the authenticator (C1): HMAC-SHA256 tag generation
and truncated, constant-time verification over beacons and control messages,
plus a bounded anti-replay window.

The on-air tag is deliberately truncated to as little as a single byte to
fit the 20-byte BLE manufacturer-data beacon. That rejects random corruption
and casual replay, not a determined attacker — integrators must know this
before relying on it for anything stronger. Widening it requires
coordinating the change with every node's wire format.
*/
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
)

// TagSize is the full HMAC-SHA256 tag length.
const TagSize = sha256.Size

// BeaconTagLen is the truncation length used for beacons.
const BeaconTagLen = 1

// ControlTagLen is the truncation length used for longer control messages.
const ControlTagLen = 16

// HMAC computes the full 32-byte HMAC-SHA256 tag over msg under key.
func HMAC(msg, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// Verify recomputes the HMAC-SHA256 tag over msg under key and compares the
// first n bytes against receivedTag in constant time. Returns false if n is
// out of range or the primitive fails for any reason — never panics.
func Verify(msg, key, receivedTag []byte, n int) bool {
	if n <= 0 || n > TagSize {
		return false
	}
	if len(receivedTag) < n {
		return false
	}
	computed := HMAC(msg, key)
	return subtle.ConstantTimeCompare(computed[:n], receivedTag[:n]) == 1
}

// replayEntry is one tracked (node_id, last_ts) pair.
type replayEntry struct {
	nodeID   uint32
	lastTsMs int64
}

// ReplayWindowMs is the default tolerance between now and a message's
// declared timestamp before it is rejected as stale or from-the-future.
const ReplayWindowMs = 5000

// ReplayGuard maintains a bounded FIFO table of (node_id, last_ts) pairs used
// to reject replayed or out-of-order beacons.
type ReplayGuard struct {
	capacity   int
	windowMs   int64
	entries    []replayEntry  // FIFO order, oldest first
	indexByKey map[uint32]int // node_id -> index into entries
}

// NewReplayGuard creates a ReplayGuard bounded to capacity entries, evicting
// the oldest tracked node on overflow (FIFO).
func NewReplayGuard(capacity int) *ReplayGuard {
	if capacity < 1 {
		capacity = 1
	}
	return &ReplayGuard{
		capacity:   capacity,
		windowMs:   ReplayWindowMs,
		indexByKey: make(map[uint32]int, capacity),
	}
}

// WithWindow overrides the replay window in milliseconds.
func (r *ReplayGuard) WithWindow(windowMs int64) *ReplayGuard {
	r.windowMs = windowMs
	return r
}

// CheckReplay validates a received timestampMs for nodeID against the last
// seen timestamp for that node and the current time nowMs. It returns true
// (accept) when:
//   - the node has never been seen before, and |now - ts| <= window, or
//   - the node has been seen and ts is strictly newer than last seen, and
//     |now - ts| <= window.
//
// On acceptance, the node's last-seen timestamp is updated. On rejection,
// state is left untouched.
func (r *ReplayGuard) CheckReplay(nowMs, timestampMs int64, nodeID uint32) bool {
	delta := nowMs - timestampMs
	if delta < 0 {
		delta = -delta
	}
	if delta > r.windowMs {
		return false
	}

	if idx, ok := r.indexByKey[nodeID]; ok {
		if timestampMs <= r.entries[idx].lastTsMs {
			return false
		}
		r.entries[idx].lastTsMs = timestampMs
		return true
	}

	r.insert(nodeID, timestampMs)
	return true
}

func (r *ReplayGuard) insert(nodeID uint32, tsMs int64) {
	if len(r.entries) >= r.capacity {
		// evict oldest (FIFO head)
		oldest := r.entries[0]
		delete(r.indexByKey, oldest.nodeID)
		r.entries = r.entries[1:]
		// indices shifted by one; rebuild the index map cheaply since the
		// table is small and bounded (<= MAX_NEIGHBORS-ish capacity).
		for k, e := range r.entries {
			r.indexByKey[e.nodeID] = k
		}
	}
	r.entries = append(r.entries, replayEntry{nodeID: nodeID, lastTsMs: tsMs})
	r.indexByKey[nodeID] = len(r.entries) - 1
}

// Len returns the number of tracked nodes, for tests and diagnostics.
func (r *ReplayGuard) Len() int {
	return len(r.entries)
}
