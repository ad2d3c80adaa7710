/*
Package scheduler implements the CH time-division scheduler (C7): the
cluster head's priority-ordered slot assignment, the fixed-layout schedule
frame wire codec, and the member-side slot tracking that decides whether to
transmit, sleep, or fall back to once-per-second beaconing.

The frame codec reuses the beacon package's hand-packed
encoding/binary.LittleEndian style rather than a generic encoder, for the
same reason: every field has a fixed offset and there is no variable-length
data.
*/
package scheduler

import (
	"encoding/binary"
	"sort"
	"sync"
)

// ScheduleMagic is the fixed 4-byte marker identifying a schedule frame.
const ScheduleMagic uint32 = 0x57534E31 // "WSN1"

// FrameSize is the wire size of one schedule frame: epoch_us(8) +
// slot_index(1) + slot_duration_sec(1) + magic(4).
const FrameSize = 14

// microsPerSecond converts whole seconds to microseconds.
const microsPerSecond = 1_000_000

// ScheduleFrame is the decoded, in-memory representation of a unicast
// schedule assignment.
type ScheduleFrame struct {
	EpochUs         uint64
	SlotIndex       uint8
	SlotDurationSec uint8
	Magic           uint32
}

// Encode packs f into its fixed 14-byte wire layout.
func Encode(f ScheduleFrame) []byte {
	buf := make([]byte, FrameSize)
	binary.LittleEndian.PutUint64(buf[0:8], f.EpochUs)
	buf[8] = f.SlotIndex
	buf[9] = f.SlotDurationSec
	binary.LittleEndian.PutUint32(buf[10:14], f.Magic)
	return buf
}

// Decode parses raw into a ScheduleFrame, rejecting frames of the wrong
// size or with an unrecognized magic.
func Decode(raw []byte) (ScheduleFrame, bool) {
	var f ScheduleFrame
	if len(raw) != FrameSize {
		return f, false
	}
	f.EpochUs = binary.LittleEndian.Uint64(raw[0:8])
	f.SlotIndex = raw[8]
	f.SlotDurationSec = raw[9]
	f.Magic = binary.LittleEndian.Uint32(raw[10:14])
	if f.Magic != ScheduleMagic {
		return ScheduleFrame{}, false
	}
	return f, true
}

// NeighborPriority is the minimal neighbor view the CH-side slot assignment
// needs: identity, addressing, and the two inputs to the priority formula.
type NeighborPriority struct {
	NodeID      uint32
	Addr        [6]byte
	LinkQuality float64
	Battery     float64
}

// Priority computes P = 100*link_quality + (100 - 100*battery): higher for
// well-connected, low-battery neighbors, so a scarce early slot goes to the
// member that most needs to finish quickly.
func Priority(n NeighborPriority) float64 {
	return 100*n.LinkQuality + (100 - 100*n.Battery)
}

// Assignment pairs one neighbor with its assigned slot.
type Assignment struct {
	NodeID    uint32
	Addr      [6]byte
	SlotIndex uint8
	Frame     ScheduleFrame
}

// scheduleLookaheadUs gives members time to receive and cache the frame
// before their slot can begin.
const scheduleLookaheadUs = 5_000_000

// BuildSchedule sorts neighbors by descending Priority and assigns slot
// indices 0..N-1 in that order, with epoch_us set to nowUs plus the
// lookahead. It is the CH's ~10s scheduling-task computation.
func BuildSchedule(neighbors []NeighborPriority, nowUs int64, slotDurationSec uint8) []Assignment {
	sorted := append([]NeighborPriority(nil), neighbors...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Priority(sorted[i]) > Priority(sorted[j])
	})

	epochUs := uint64(nowUs + scheduleLookaheadUs)
	out := make([]Assignment, len(sorted))
	for i, n := range sorted {
		frame := ScheduleFrame{
			EpochUs:         epochUs,
			SlotIndex:       uint8(i),
			SlotDurationSec: slotDurationSec,
			Magic:           ScheduleMagic,
		}
		out[i] = Assignment{NodeID: n.NodeID, Addr: n.Addr, SlotIndex: uint8(i), Frame: frame}
	}
	return out
}

// DecisionKind classifies what a member should do right now.
type DecisionKind int

const (
	// DecisionNoSchedule means no usable schedule is cached; fall back to
	// transmitting once per second.
	DecisionNoSchedule DecisionKind = iota
	// DecisionInSlot means the member's slot is open now; it may burst
	// queued records for up to BurstBudgetUs.
	DecisionInSlot
	// DecisionSleepUntilSlot means the next slot is far enough away
	// (>2s) that the member should sleep until SleepUntilUs.
	DecisionSleepUntilSlot
	// DecisionIdle means out of slot, but the next slot starts too soon
	// to be worth sleeping for.
	DecisionIdle
)

// Decision is the member-side scheduler's output for one evaluation.
type Decision struct {
	Kind          DecisionKind
	SleepUntilUs  int64
	BurstBudgetUs int64
}

// slotHeadroomUs is the minimum time a member must leave unused at the end
// of its slot.
const slotHeadroomUs = 1_000_000

// sleepWorthwhileUs is the minimum gap to the next slot before a member
// bothers sleeping rather than idling.
const sleepWorthwhileUs = 2_000_000

// staleFactor: a schedule older than slotDurationSec*staleFactor seconds is
// considered stale and discarded.
const staleFactor = 10

// Member tracks the latest schedule frame a member node has received and
// answers what it should do at a given time.
type Member struct {
	mu           sync.Mutex
	schedule     *ScheduleFrame
	receivedAtUs int64
}

// NewMember creates an empty member-side schedule cache.
func NewMember() *Member {
	return &Member{}
}

// SetSchedule caches f as the latest received schedule, observed at nowUs.
func (m *Member) SetSchedule(f ScheduleFrame, nowUs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := f
	m.schedule = &cp
	m.receivedAtUs = nowUs
}

// ClearSchedule discards any cached schedule, e.g. on CH loss.
func (m *Member) ClearSchedule() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule = nil
}

func slotStartUs(f ScheduleFrame) int64 {
	return int64(f.EpochUs) + int64(f.SlotIndex)*int64(f.SlotDurationSec)*microsPerSecond
}

func slotEndUs(f ScheduleFrame) int64 {
	return slotStartUs(f) + int64(f.SlotDurationSec)*microsPerSecond
}

// Decide returns what the member should do at nowUs.
func (m *Member) Decide(nowUs int64) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.schedule == nil || m.staleLocked(nowUs) {
		return Decision{Kind: DecisionNoSchedule}
	}

	start := slotStartUs(*m.schedule)
	end := slotEndUs(*m.schedule)

	if nowUs >= start && nowUs < end {
		remaining := end - nowUs
		budget := remaining - slotHeadroomUs
		if budget < 0 {
			budget = 0
		}
		return Decision{Kind: DecisionInSlot, BurstBudgetUs: budget}
	}

	if start > nowUs && start-nowUs > sleepWorthwhileUs {
		return Decision{Kind: DecisionSleepUntilSlot, SleepUntilUs: start}
	}
	return Decision{Kind: DecisionIdle}
}

func (m *Member) staleLocked(nowUs int64) bool {
	staleAfterUs := int64(m.schedule.SlotDurationSec) * staleFactor * microsPerSecond
	return nowUs-m.receivedAtUs > staleAfterUs
}
