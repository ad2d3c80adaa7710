package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/wsncoord/clusterengine/engine"
)

// FileConfig is the on-disk, operator-editable node configuration. Binary
// fields the engine needs (node address, cluster key) are carried as
// strings here since they cross a YAML boundary.
type FileConfig struct {
	NodeID     uint32 `yaml:"node_id"`
	Addr       string `yaml:"addr"`        // 6-byte hardware address, e.g. "00:00:00:00:00:01"
	ClusterKey string `yaml:"cluster_key"` // hex-encoded HMAC key shared by the cluster

	ListenPort    int    `yaml:"listen_port"`
	BroadcastAddr string `yaml:"broadcast_addr"`

	// Peers maps a peer's Addr string to the UDP endpoint it is reachable
	// at, standing in for the BLE peer discovery a real radio performs on
	// its own.
	Peers map[string]string `yaml:"peers"`

	MonitoringPort   int     `yaml:"monitoring_port"`
	AdminAddr        string  `yaml:"admin_addr"`
	BoltPath         string  `yaml:"bolt_path"`
	BeaconIntervalMs int64   `yaml:"beacon_interval_ms"`
	BeaconOffsetMs   int64   `yaml:"beacon_offset_ms"`
	SimulatedRSSIdBm float64 `yaml:"simulated_rssi_dbm"`
}

// DefaultFileConfig matches engine.DefaultConfig where the two overlap.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		ListenPort:       7655,
		BroadcastAddr:    "255.255.255.255:7655",
		MonitoringPort:   4270,
		AdminAddr:        "127.0.0.1:4271",
		BoltPath:         "wsnnode.db",
		BeaconIntervalMs: 1000,
		SimulatedRSSIdBm: -55,
	}
}

// ReadFileConfig reads and parses a node config file.
func ReadFileConfig(path string) (FileConfig, error) {
	c := DefaultFileConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("reading config from %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing config from %q: %w", path, err)
	}
	return c, nil
}

func parseHardwareAddr(s string) ([6]byte, error) {
	var out [6]byte
	hw, err := net.ParseMAC(s)
	if err != nil {
		return out, fmt.Errorf("parsing addr %q: %w", s, err)
	}
	if len(hw) != 6 {
		return out, fmt.Errorf("addr %q is not 6 bytes", s)
	}
	copy(out[:], hw)
	return out, nil
}

func parseClusterKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parsing cluster_key: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("cluster_key must not be empty")
	}
	return key, nil
}

// peerResolver builds a radio.PeerResolver from the file config's static
// peer map, resolving addr strings to parsed hardware addresses once at
// startup.
func peerResolver(fc FileConfig) (func(addr [6]byte) (*net.UDPAddr, bool), error) {
	table := make(map[[6]byte]*net.UDPAddr, len(fc.Peers))
	for addrStr, endpoint := range fc.Peers {
		addr, err := parseHardwareAddr(addrStr)
		if err != nil {
			return nil, fmt.Errorf("peers entry %q: %w", addrStr, err)
		}
		udpAddr, err := net.ResolveUDPAddr("udp4", endpoint)
		if err != nil {
			return nil, fmt.Errorf("peers entry %q endpoint %q: %w", addrStr, endpoint, err)
		}
		table[addr] = udpAddr
	}
	return func(addr [6]byte) (*net.UDPAddr, bool) {
		udpAddr, ok := table[addr]
		return udpAddr, ok
	}, nil
}

// toEngineConfig builds an engine.Config from the parsed file config.
func toEngineConfig(fc FileConfig) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	cfg.NodeID = fc.NodeID

	addr, err := parseHardwareAddr(fc.Addr)
	if err != nil {
		return cfg, err
	}
	cfg.Addr = addr

	key, err := parseClusterKey(fc.ClusterKey)
	if err != nil {
		return cfg, err
	}
	cfg.ClusterKey = key

	if fc.BeaconIntervalMs > 0 {
		cfg.BeaconIntervalMs = fc.BeaconIntervalMs
	}
	cfg.BeaconOffsetMs = fc.BeaconOffsetMs
	return cfg, nil
}
