/*
Package persist implements the persistence adaptor (C8): a small key/value
contract used to carry uptime and the administrative configuration surface
across deep-sleep reboots, plus a go.etcd.io/bbolt-backed implementation for
real nodes.

Reads return a caller-supplied default on a missing key; writes are
best-effort and only logged on failure, never returned as a fatal error —
the engine must keep running even when its flash/disk backing store is
failing.
*/
package persist

import (
	"encoding/binary"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// KV is the minimal key/value contract the core depends on.
type KV interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, bool)
}

// Persisted configuration and runtime keys.
const (
	KeyUptimeSeconds        = "uptime"
	KeyWeightBattery        = "w_battery"
	KeyWeightUptime         = "w_uptime"
	KeyWeightTrust          = "w_trust"
	KeyWeightLinkQuality    = "w_linkq"
	KeyStellarEnabled       = "stellar_enabled"
	KeyElectionWindowMs     = "election_window_ms"
	KeyCHBeaconTimeoutMs    = "ch_beacon_timeout_ms"
	KeyNeighborTimeoutMs    = "neighbor_timeout_ms"
	KeyTrustFloor           = "trust_floor"
	KeyLinkQualityFloor     = "link_quality_floor"
	KeyBatteryLowThreshold  = "battery_low_threshold"
	KeyClusterRadiusRSSIdBm = "cluster_radius_rssi_dbm"
	KeyBeaconIntervalMs     = "beacon_interval_ms"
	KeyBeaconOffsetMs       = "beacon_offset_ms"
)

// BoltStore is a KV backed by a single go.etcd.io/bbolt database file and a
// single bucket; suitable for a node's local flash/disk persistence.
type BoltStore struct {
	db *bolt.DB
}

var bucketName = []byte("wsncoord")

// OpenBoltStore opens (creating if necessary) a bbolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Put writes value under key.
func (s *BoltStore) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
}

// Get reads the value stored under key, if any.
func (s *BoltStore) Get(key string) ([]byte, bool) {
	var out []byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Adaptor wraps a KV with typed accessors for the keys the core and the
// administrative console use, applying the read-default/write-best-effort
// contract uniformly.
type Adaptor struct {
	kv KV
}

// NewAdaptor wraps kv, which may be a *BoltStore or a test double.
func NewAdaptor(kv KV) *Adaptor {
	return &Adaptor{kv: kv}
}

// UptimeSeconds returns the last persisted uptime, or 0 if never set.
func (a *Adaptor) UptimeSeconds() uint64 {
	raw, ok := a.kv.Get(KeyUptimeSeconds)
	if !ok || len(raw) != 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(raw)
}

// PutUptimeSeconds persists the current uptime. Intended to be called every
// 60s while the engine runs.
func (a *Adaptor) PutUptimeSeconds(seconds uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, seconds)
	a.putBestEffort(KeyUptimeSeconds, buf)
}

// GetFloat64 returns the float64 stored under key, or def if missing or
// malformed.
func (a *Adaptor) GetFloat64(key string, def float64) float64 {
	raw, ok := a.kv.Get(key)
	if !ok || len(raw) != 8 {
		return def
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(raw))
}

// PutFloat64 persists v under key, best-effort.
func (a *Adaptor) PutFloat64(key string, v float64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	a.putBestEffort(key, buf)
}

// GetInt64 returns the int64 stored under key, or def if missing or
// malformed.
func (a *Adaptor) GetInt64(key string, def int64) int64 {
	raw, ok := a.kv.Get(key)
	if !ok || len(raw) != 8 {
		return def
	}
	return int64(binary.LittleEndian.Uint64(raw))
}

// PutInt64 persists v under key, best-effort.
func (a *Adaptor) PutInt64(key string, v int64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	a.putBestEffort(key, buf)
}

// GetBool returns the bool stored under key, or def if missing.
func (a *Adaptor) GetBool(key string, def bool) bool {
	raw, ok := a.kv.Get(key)
	if !ok || len(raw) != 1 {
		return def
	}
	return raw[0] != 0
}

// PutBool persists v under key, best-effort.
func (a *Adaptor) PutBool(key string, v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	a.putBestEffort(key, []byte{b})
}

func (a *Adaptor) putBestEffort(key string, value []byte) {
	if err := a.kv.Put(key, value); err != nil {
		log.Warningf("persist: write of key=%q failed, will retry on next flush: %v", key, err)
	}
}
