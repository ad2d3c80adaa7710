package neighbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable() *Table {
	return NewTable(1, DefaultConfig())
}

func TestUpdateNeverInsertsOwnID(t *testing.T) {
	tbl := newTestTable()
	_, ok := tbl.Update(1, [6]byte{}, -60, 0.5, 0.5, 100, 0.5, 0.5, false, 0, 1000)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
}

func TestPERScriptedSequence(t *testing.T) {
	tbl := newTestTable()
	seqs := []uint8{0, 1, 3, 4, 7}
	expectedMissed := []int{0, 0, 1, 0, 2}

	for i, seq := range seqs {
		missed, ok := tbl.Update(2, [6]byte{0xAA}, -60, 0.5, 0.5, 10, 0.5, 0.5, false, seq, int64(1000*i))
		require.True(t, ok)
		assert.Equal(t, expectedMissed[i], missed, "step %d (seq=%d)", i, seq)
	}
}

func TestLargeGapTreatedAsReboot(t *testing.T) {
	tbl := newTestTable()
	_, ok := tbl.Update(2, [6]byte{}, -60, 0.5, 0.5, 10, 0.5, 0.5, false, 0, 0)
	require.True(t, ok)
	missed, ok := tbl.Update(2, [6]byte{}, -60, 0.5, 0.5, 10, 0.5, 0.5, false, 250, 1000)
	require.True(t, ok)
	assert.Equal(t, 0, missed)
}

func TestTableFullDropsNewPeerSilently(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 2
	tbl := NewTable(1, cfg)

	_, ok := tbl.Update(2, [6]byte{}, -60, 0, 0, 0, 0, 0, false, 0, 0)
	require.True(t, ok)
	_, ok = tbl.Update(3, [6]byte{}, -60, 0, 0, 0, 0, 0, false, 0, 0)
	require.True(t, ok)
	_, ok = tbl.Update(4, [6]byte{}, -60, 0, 0, 0, 0, 0, false, 0, 0)
	assert.False(t, ok)
	assert.Equal(t, 2, tbl.Len())

	// existing peers are never evicted to admit a new one
	all := tbl.GetAll(0)
	assert.Len(t, all, 2)
}

func TestGetCurrentCHRequiresValidCH(t *testing.T) {
	tbl := newTestTable()
	tbl.Update(2, [6]byte{}, -60, 0.5, 0.9, 10, 0.9, 0.9, true, 0, 1000)
	assert.Equal(t, uint32(2), tbl.GetCurrentCH(1500))

	// trust below floor disqualifies
	tbl2 := newTestTable()
	tbl2.Update(3, [6]byte{}, -60, 0.9, 0.9, 10, 0.1, 0.9, true, 0, 1000)
	assert.Equal(t, uint32(0), tbl2.GetCurrentCH(1500))

	// stale ch announce disqualifies
	cfg := DefaultConfig()
	cfg.CHBeaconTimeoutMs = 500
	tbl3 := NewTable(1, cfg)
	tbl3.Update(4, [6]byte{}, -60, 0.9, 0.9, 10, 0.9, 0.9, true, 0, 0)
	assert.Equal(t, uint32(0), tbl3.GetCurrentCH(10000))
}

func TestGetCurrentCHPicksHighestScore(t *testing.T) {
	tbl := newTestTable()
	tbl.Update(2, [6]byte{}, -60, 0.5, 0.9, 10, 0.9, 0.9, true, 0, 1000)
	tbl.Update(3, [6]byte{}, -60, 0.9, 0.9, 10, 0.9, 0.9, true, 0, 1000)
	assert.Equal(t, uint32(3), tbl.GetCurrentCH(1500))
}

func TestCleanupStaleEvictsOldEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutMs = 1000
	tbl := NewTable(1, cfg)
	tbl.Update(2, [6]byte{}, -60, 0, 0, 0, 0, 0, false, 0, 0)
	evicted := tbl.CleanupStale(5000)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, tbl.Len())
}

func TestUpdateTrustBlendsAndVerifies(t *testing.T) {
	tbl := newTestTable()
	tbl.Update(2, [6]byte{}, -60, 0, 0, 0, 0.0, 0, false, 0, 0)
	for i := 0; i < 5; i++ {
		tbl.UpdateTrust(2, true)
	}
	all := tbl.GetAll(0)
	require.Len(t, all, 1)
	assert.Greater(t, all[0].Trust, 0.3)
	assert.True(t, all[0].Verified)
}

func TestReplayedSequenceNumberDoesNotRefreshLiveness(t *testing.T) {
	tbl := newTestTable()
	_, ok := tbl.Update(2, [6]byte{}, -60, 0.5, 0.5, 10, 0.5, 0.5, false, 5, 1000)
	require.True(t, ok)

	missed, ok := tbl.Update(2, [6]byte{}, -60, 0.5, 0.5, 10, 0.5, 0.5, false, 5, 5000)
	assert.False(t, ok)
	assert.Equal(t, 0, missed)

	all := tbl.GetAll(0)
	require.Len(t, all, 1)
	assert.Equal(t, int64(1000), all[0].LastSeenMs, "replayed frame must not refresh last-seen liveness")
}

func TestNeighborUniqueness(t *testing.T) {
	tbl := newTestTable()
	tbl.Update(2, [6]byte{}, -60, 0, 0, 0, 0, 0, false, 0, 0)
	tbl.Update(2, [6]byte{}, -60, 0, 0, 0, 0, 0, false, 1, 100)
	assert.Equal(t, 1, tbl.Len())
}
