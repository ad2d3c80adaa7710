/*
Package beacon implements the authenticated beacon codec (C4): a fixed
20-byte little-endian manufacturer-data payload plus a 1-byte HMAC tag
appended as a 21st wire byte.

Wire layout is packed by hand with encoding/binary.LittleEndian field writes
rather than via reflection-based encoding — every field here has a fixed
offset and a scaled/truncated representation that a generic encoder would
not know how to produce.
*/
package beacon

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wsncoord/clusterengine/auth"
)

// CompanyID is the fixed BLE manufacturer-data company identifier used by
// every node in the cluster.
const CompanyID uint16 = 0x02E5

// PayloadSize is the size, in bytes, of the signed region plus scalar
// fields (everything except the trailing HMAC tag byte).
const PayloadSize = 20

// WireSize is the total number of bytes placed on the air: PayloadSize plus
// the single trailing HMAC byte.
const WireSize = PayloadSize + 1

// scaleFactor converts a [0,1] fraction to/from its uint16 wire
// representation: round(value * scaleFactor).
const scaleFactor = 10000.0

// Sentinel node IDs that must never be treated as valid.
const (
	NodeIDInvalidZero = 0
	NodeIDInvalidMax  = 0xFFFFFFFF
)

// Beacon is the decoded, in-memory representation of an advertisement.
type Beacon struct {
	NodeID       uint32
	Score        float32
	Battery      float64
	Trust        float64
	LinkQuality  float64
	MACTail      uint16
	IsCH         bool
	SeqNum       uint8
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

func scaleUp(v float64) uint16 {
	v = clamp01(v)
	return uint16(math.Round(v * scaleFactor))
}

func scaleDown(v uint16) float64 {
	return float64(v) / scaleFactor
}

// Encode packs m into the wire layout, signs bytes [2,19] (node_id through
// seq_num) with HMAC-SHA256 under key, and appends the truncated tag as the
// 21st byte. addrTail is the last two bytes of the sender's hardware
// address; seq rolls mod 256 by the caller between calls.
func Encode(m Beacon, addrTail uint16, seq uint8, key []byte) []byte {
	buf := make([]byte, WireSize)
	binary.LittleEndian.PutUint16(buf[0:2], CompanyID)
	binary.LittleEndian.PutUint32(buf[2:6], m.NodeID)
	binary.LittleEndian.PutUint32(buf[6:10], math.Float32bits(m.Score))
	binary.LittleEndian.PutUint16(buf[10:12], scaleUp(m.Battery))
	binary.LittleEndian.PutUint16(buf[12:14], scaleUp(m.Trust))
	binary.LittleEndian.PutUint16(buf[14:16], scaleUp(m.LinkQuality))
	binary.LittleEndian.PutUint16(buf[16:18], addrTail)
	if m.IsCH {
		buf[18] = 1
	}
	buf[19] = seq

	tag := auth.HMAC(buf[2:20], key)
	buf[20] = tag[0]
	return buf
}

// DecodeAndValidate rejects a raw advertisement if its length is wrong, its
// company_id does not match, its node_id is a sentinel or equal to
// ownNodeID, or its HMAC byte fails to verify against clusterKey. On
// success it returns the decoded Beacon and ok=true.
func DecodeAndValidate(raw []byte, ownNodeID uint32, clusterKey []byte) (Beacon, bool) {
	var b Beacon
	if len(raw) != WireSize {
		return b, false
	}
	companyID := binary.LittleEndian.Uint16(raw[0:2])
	if companyID != CompanyID {
		return b, false
	}
	nodeID := binary.LittleEndian.Uint32(raw[2:6])
	if nodeID == NodeIDInvalidZero || nodeID == NodeIDInvalidMax || nodeID == ownNodeID {
		return b, false
	}

	if !auth.Verify(raw[2:20], clusterKey, raw[20:21], auth.BeaconTagLen) {
		return b, false
	}

	b.NodeID = nodeID
	b.Score = math.Float32frombits(binary.LittleEndian.Uint32(raw[6:10]))
	b.Battery = scaleDown(binary.LittleEndian.Uint16(raw[10:12]))
	b.Trust = scaleDown(binary.LittleEndian.Uint16(raw[12:14]))
	b.LinkQuality = scaleDown(binary.LittleEndian.Uint16(raw[14:16]))
	b.MACTail = binary.LittleEndian.Uint16(raw[16:18])
	b.IsCH = raw[18] != 0
	b.SeqNum = raw[19]
	return b, true
}

// ErrWrongSize describes an advertisement whose length is not WireSize. No
// function in this package returns it: DecodeAndValidate reports a wrong
// length only through ok == false.
var ErrWrongSize = fmt.Errorf("beacon: wrong wire size, want %d bytes", WireSize)
