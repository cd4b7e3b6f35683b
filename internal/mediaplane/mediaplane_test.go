package mediaplane_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamroom/beamroomd/internal/mediaplane"
)

func TestActivePeerLatchesMostRecentSource(t *testing.T) {
	var mu sync.Mutex
	var changes []string

	host := mediaplane.NewHost(mediaplane.HostConfig{
		PeerTTL: 200 * time.Millisecond,
		OnPeerChange: func(addr *net.UDPAddr) {
			mu.Lock()
			defer mu.Unlock()
			if addr == nil {
				changes = append(changes, "nil")
			} else {
				changes = append(changes, addr.String())
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	go func() {
		host.Serve(ctx, func(src *net.UDPAddr, payload []byte) {})
	}()
	// Poll for the bound port rather than sleeping a fixed guess.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && host.Port() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	close(ready)
	require.NotZero(t, host.Port())

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: host.Port()}

	c1, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer c1.Close()
	_, err = c1.Write([]byte("hello1"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	first := host.ActivePeer()
	require.NotNil(t, first)

	c2, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer c2.Close()
	_, err = c2.Write([]byte("hello2"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	second := host.ActivePeer()
	require.NotNil(t, second)
	assert.NotEqual(t, first.String(), second.String())

	mu.Lock()
	n := len(changes)
	mu.Unlock()
	assert.GreaterOrEqual(t, n, 2)
}

func TestActivePeerExpiresAfterTTL(t *testing.T) {
	changed := make(chan *net.UDPAddr, 4)
	host := mediaplane.NewHost(mediaplane.HostConfig{
		PeerTTL: 100 * time.Millisecond,
		OnPeerChange: func(addr *net.UDPAddr) {
			changed <- addr
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go host.Serve(ctx, func(src *net.UDPAddr, payload []byte) {})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && host.Port() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotZero(t, host.Port())

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: host.Port()}
	c, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte("hi"))
	require.NoError(t, err)

	select {
	case a := <-changed:
		require.NotNil(t, a)
	case <-time.After(time.Second):
		t.Fatal("expected initial peer-changed")
	}

	select {
	case a := <-changed:
		assert.Nil(t, a)
	case <-time.After(2 * time.Second):
		t.Fatal("expected TTL expiry peer-changed(nil)")
	}

	assert.Nil(t, host.ActivePeer())
}

func TestViewerSendsHelloOnConnect(t *testing.T) {
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer pc.Close()

	v := mediaplane.NewViewer(mediaplane.ViewerConfig{KeepAliveInterval: time.Hour})
	defer v.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := pc.LocalAddr().(*net.UDPAddr)
	require.NoError(t, v.Connect(ctx, target, func(b []byte) {}))

	buf := make([]byte, 16)
	pc.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := pc.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, mediaplane.HelloMessage, buf[:n])
}
