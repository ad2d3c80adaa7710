package radio

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// frame type bytes for the UDP wire format below.
const (
	frameKindBeacon  byte = 1
	frameKindUnicast byte = 2
)

// udpHeaderSize is 1 kind byte + 6 address bytes.
const udpHeaderSize = 7

// PeerResolver maps a node's hardware address to the UDP endpoint it is
// reachable at. UDPDriver has no MAC-layer addressing of its own, so unicast
// send requires the caller to supply this mapping (e.g. from a static test
// topology or a discovery side-channel).
type PeerResolver func(addr [6]byte) (*net.UDPAddr, bool)

// UDPDriverConfig configures UDPDriver.
type UDPDriverConfig struct {
	SelfAddr      [6]byte
	ListenPort    int
	BroadcastAddr string // e.g. "255.255.255.255:7655" or a subnet broadcast
	Resolver      PeerResolver

	// AdvertiseIntervalMs/AdvertiseOffsetMs mirror the engine's
	// beacon_interval_ms/beacon_offset_ms configuration surface: real BLE
	// hardware re-broadcasts its currently-set advertisement payload on its
	// own internal cadence, independent of when the engine last recomputed
	// it, and this driver does the same over UDP broadcast.
	AdvertiseIntervalMs int64
	AdvertiseOffsetMs   int64

	// SimulatedRSSIdBm stands in for a real radio's received signal
	// strength, which a UDP/IP transport has no equivalent of. Development
	// topologies that want to exercise RSSI-dependent behavior (cluster
	// radius, EWMA smoothing) should vary this per node.
	SimulatedRSSIdBm float64
}

// UDPDriver implements Driver over UDP broadcast/unicast, standing in for
// the real BLE radio on commodity hardware during development and
// multi-process integration testing. It is not a BLE driver: broadcast
// datagrams substitute for BLE advertising/scanning, and resolver-addressed
// unicast datagrams substitute for BLE peer-to-peer send.
type UDPDriver struct {
	cfg       UDPDriverConfig
	conn      *net.UDPConn
	broadcast *net.UDPAddr

	mu            sync.Mutex
	advertising   bool
	scanning      bool
	advPayload    []byte
	beaconHandler BeaconHandler
	recvHandler   RecvHandler
	stopAdvertise chan struct{}
}

// NewUDPDriver binds the listening socket and starts the receive loop.
func NewUDPDriver(cfg UDPDriverConfig) (*UDPDriver, error) {
	if cfg.AdvertiseIntervalMs <= 0 {
		cfg.AdvertiseIntervalMs = 1000
	}
	broadcast, err := net.ResolveUDPAddr("udp4", cfg.BroadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("radio: resolving broadcast address %q: %w", cfg.BroadcastAddr, err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.ListenPort})
	if err != nil {
		return nil, fmt.Errorf("radio: listening on UDP port %d: %w", cfg.ListenPort, err)
	}
	d := &UDPDriver{cfg: cfg, conn: conn, broadcast: broadcast}
	go d.receiveLoop()
	return d, nil
}

func (d *UDPDriver) receiveLoop() {
	buf := make([]byte, MaxAdvertisePayload+udpHeaderSize+64)
	for {
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			log.Warningf("radio: udp read failed, receive loop exiting: %v", err)
			return
		}
		if n < udpHeaderSize {
			continue
		}
		kind := buf[0]
		var srcAddr [6]byte
		copy(srcAddr[:], buf[1:7])
		payload := append([]byte(nil), buf[udpHeaderSize:n]...)

		d.mu.Lock()
		scanning, beaconHandler, recvHandler := d.scanning, d.beaconHandler, d.recvHandler
		d.mu.Unlock()

		switch kind {
		case frameKindBeacon:
			if scanning && beaconHandler != nil {
				beaconHandler(payload, d.cfg.SimulatedRSSIdBm, srcAddr)
			}
		case frameKindUnicast:
			if recvHandler != nil {
				recvHandler(srcAddr, payload)
			}
		}
	}
}

func (d *UDPDriver) send(addr *net.UDPAddr, kind byte, payload []byte) error {
	frame := make([]byte, udpHeaderSize+len(payload))
	frame[0] = kind
	copy(frame[1:7], d.cfg.SelfAddr[:])
	copy(frame[udpHeaderSize:], payload)
	_, err := d.conn.WriteToUDP(frame, addr)
	return err
}

// AdvertiseStart begins periodic broadcast of the payload set by
// AdvertiseSet, at AdvertiseIntervalMs cadence after an initial
// AdvertiseOffsetMs delay.
func (d *UDPDriver) AdvertiseStart() error {
	d.mu.Lock()
	if d.advertising {
		d.mu.Unlock()
		return nil
	}
	d.advertising = true
	stop := make(chan struct{})
	d.stopAdvertise = stop
	d.mu.Unlock()

	go func() {
		if d.cfg.AdvertiseOffsetMs > 0 {
			select {
			case <-time.After(time.Duration(d.cfg.AdvertiseOffsetMs) * time.Millisecond):
			case <-stop:
				return
			}
		}
		ticker := time.NewTicker(time.Duration(d.cfg.AdvertiseIntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.mu.Lock()
				payload := d.advPayload
				d.mu.Unlock()
				if len(payload) == 0 {
					continue
				}
				if err := d.send(d.broadcast, frameKindBeacon, payload); err != nil {
					log.Warningf("radio: broadcast advertisement failed: %v", err)
				}
			}
		}
	}()
	return nil
}

// AdvertiseStop halts periodic broadcast.
func (d *UDPDriver) AdvertiseStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.advertising {
		return nil
	}
	d.advertising = false
	close(d.stopAdvertise)
	return nil
}

// ScanStart enables delivery of received beacon broadcasts to the
// registered BeaconHandler.
func (d *UDPDriver) ScanStart() error {
	d.mu.Lock()
	d.scanning = true
	d.mu.Unlock()
	return nil
}

// ScanStop disables beacon delivery.
func (d *UDPDriver) ScanStop() error {
	d.mu.Lock()
	d.scanning = false
	d.mu.Unlock()
	return nil
}

// AdvertiseSet replaces the payload the advertising goroutine broadcasts.
func (d *UDPDriver) AdvertiseSet(payload []byte) error {
	if len(payload) > MaxAdvertisePayload {
		return fmt.Errorf("radio: advertisement payload of %d bytes exceeds %d byte limit", len(payload), MaxAdvertisePayload)
	}
	d.mu.Lock()
	d.advPayload = append([]byte(nil), payload...)
	d.mu.Unlock()
	return nil
}

// SendUnicast resolves addr to a UDP endpoint and sends payload directly.
func (d *UDPDriver) SendUnicast(addr [6]byte, payload []byte) error {
	udpAddr, ok := d.cfg.Resolver(addr)
	if !ok {
		return fmt.Errorf("radio: no known UDP endpoint for peer %v", addr)
	}
	return d.send(udpAddr, frameKindUnicast, payload)
}

// OnBeacon registers the beacon ingress callback.
func (d *UDPDriver) OnBeacon(handler BeaconHandler) {
	d.mu.Lock()
	d.beaconHandler = handler
	d.mu.Unlock()
}

// OnRecv registers the unicast ingress callback.
func (d *UDPDriver) OnRecv(handler RecvHandler) {
	d.mu.Lock()
	d.recvHandler = handler
	d.mu.Unlock()
}
