package radio

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackDriver(t *testing.T, port int, self [6]byte, resolver PeerResolver) *UDPDriver {
	t.Helper()
	d, err := NewUDPDriver(UDPDriverConfig{
		SelfAddr:            self,
		ListenPort:          port,
		BroadcastAddr:       "127.0.0.1:17099",
		Resolver:            resolver,
		AdvertiseIntervalMs: 20,
		SimulatedRSSIdBm:    -55,
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.conn.Close() })
	return d
}

func resolveLoopback(t *testing.T, port int) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	return addr
}

func TestUDPDriverSendUnicastDeliversToRegisteredHandler(t *testing.T) {
	addrA := [6]byte{0, 0, 0, 0, 0, 1}
	addrB := [6]byte{0, 0, 0, 0, 0, 2}

	dB := newLoopbackDriver(t, 17001, addrB, nil)
	dA := newLoopbackDriver(t, 17002, addrA, func(addr [6]byte) (*net.UDPAddr, bool) {
		if addr == addrB {
			return resolveLoopback(t, 17001), true
		}
		return nil, false
	})

	received := make(chan []byte, 1)
	dB.OnRecv(func(src [6]byte, payload []byte) {
		assert.Equal(t, addrA, src)
		received <- payload
	})

	require.NoError(t, dA.SendUnicast(addrB, []byte("hello")))

	select {
	case payload := <-received:
		assert.Equal(t, []byte("hello"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unicast delivery")
	}
}

func TestUDPDriverRejectsOversizedAdvertisement(t *testing.T) {
	d := newLoopbackDriver(t, 17003, [6]byte{0, 0, 0, 0, 0, 3}, nil)
	err := d.AdvertiseSet(make([]byte, MaxAdvertisePayload+1))
	assert.Error(t, err)
}

func TestUDPDriverSendUnicastUnknownPeerErrors(t *testing.T) {
	d := newLoopbackDriver(t, 17004, [6]byte{0, 0, 0, 0, 0, 4}, func(addr [6]byte) (*net.UDPAddr, bool) {
		return nil, false
	})
	err := d.SendUnicast([6]byte{9, 9, 9, 9, 9, 9}, []byte("x"))
	assert.Error(t, err)
}
