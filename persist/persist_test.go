package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapKV is a hand-written in-memory KV test double.
type mapKV struct {
	data    map[string][]byte
	failPut bool
}

func newMapKV() *mapKV {
	return &mapKV{data: make(map[string][]byte)}
}

func (m *mapKV) Put(key string, value []byte) error {
	if m.failPut {
		return assert.AnError
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *mapKV) Get(key string) ([]byte, bool) {
	v, ok := m.data[key]
	return v, ok
}

func TestUptimeDefaultsToZeroWhenMissing(t *testing.T) {
	a := NewAdaptor(newMapKV())
	assert.Equal(t, uint64(0), a.UptimeSeconds())
}

func TestUptimeRoundTrips(t *testing.T) {
	a := NewAdaptor(newMapKV())
	a.PutUptimeSeconds(3661)
	assert.Equal(t, uint64(3661), a.UptimeSeconds())
}

func TestFloat64RoundTripsAndDefaults(t *testing.T) {
	a := NewAdaptor(newMapKV())
	assert.Equal(t, 0.25, a.GetFloat64(KeyWeightBattery, 0.25))
	a.PutFloat64(KeyWeightBattery, 0.42)
	assert.Equal(t, 0.42, a.GetFloat64(KeyWeightBattery, 0.25))
}

func TestInt64RoundTripsAndDefaults(t *testing.T) {
	a := NewAdaptor(newMapKV())
	assert.Equal(t, int64(10000), a.GetInt64(KeyElectionWindowMs, 10000))
	a.PutInt64(KeyElectionWindowMs, 12000)
	assert.Equal(t, int64(12000), a.GetInt64(KeyElectionWindowMs, 10000))
}

func TestBoolRoundTripsAndDefaults(t *testing.T) {
	a := NewAdaptor(newMapKV())
	assert.False(t, a.GetBool(KeyStellarEnabled, false))
	a.PutBool(KeyStellarEnabled, true)
	assert.True(t, a.GetBool(KeyStellarEnabled, false))
}

func TestWriteFailureIsSilentAndNonFatal(t *testing.T) {
	kv := newMapKV()
	kv.failPut = true
	a := NewAdaptor(kv)

	assert.NotPanics(t, func() {
		a.PutUptimeSeconds(99)
	})
	// write failed, so the read still returns the default
	assert.Equal(t, uint64(0), a.UptimeSeconds())
}

func TestMalformedStoredValueFallsBackToDefault(t *testing.T) {
	kv := newMapKV()
	kv.data[KeyTrustFloor] = []byte{0x01, 0x02} // wrong length
	a := NewAdaptor(kv)
	assert.Equal(t, 0.3, a.GetFloat64(KeyTrustFloor, 0.3))
}

func TestBoltStorePutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsncoord.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("k", []byte("v")))
	v, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsncoord.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(KeyUptimeSeconds, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, store.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok := reopened.Get(KeyUptimeSeconds)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, v)
}
