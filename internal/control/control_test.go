package control_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamroom/beamroomd/internal/control"
	"github.com/beamroom/beamroomd/internal/model"
)

func startHost(t *testing.T, cfg control.HostConfig) (*control.Listener, func()) {
	t.Helper()
	cfg.Port = 0
	l := control.NewListener(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Serve(ctx)
	require.NoError(t, l.WaitReady(ctx))
	return l, func() { cancel(); l.Close() }
}

func waitStatus(t *testing.T, c *control.Client, want control.Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Status.Get() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, want, c.Status.Get())
}

func TestAutoAcceptPairsViewer(t *testing.T) {
	l, stop := startHost(t, control.HostConfig{AutoAccept: true})
	defer stop()

	tcpAddr := l.Addr().(*net.TCPAddr)
	ep := model.EndpointFromTCPAddr(tcpAddr)

	c := control.NewClient(control.DefaultViewerConfig())
	defer c.Disconnect()

	err := c.Connect(context.Background(), ep, "1234")
	require.NoError(t, err)

	waitStatus(t, c, control.StatusPaired, 2*time.Second)
}

func TestDeclineFailsViewer(t *testing.T) {
	l, stop := startHost(t, control.HostConfig{AutoAccept: false})
	defer stop()

	var pairingConnID int64
	gotPairing := make(chan struct{}, 1)
	l.OnPairingRequested(func(rec model.PairingRecord) {
		pairingConnID = rec.ConnectionID
		gotPairing <- struct{}{}
	})

	tcpAddr := l.Addr().(*net.TCPAddr)
	ep := model.EndpointFromTCPAddr(tcpAddr)

	c := control.NewClient(control.DefaultViewerConfig())
	defer c.Disconnect()
	require.NoError(t, c.Connect(context.Background(), ep, "0000"))

	waitStatus(t, c, control.StatusWaitingAcceptance, time.Second)

	select {
	case <-gotPairing:
	case <-time.After(time.Second):
		t.Fatal("pairing callback never fired")
	}

	require.NoError(t, l.Decline(pairingConnID, "No thanks"))
	waitStatus(t, c, control.StatusFailed, time.Second)
	assert.Equal(t, "No thanks", c.FailReason.Get())
}

func TestViewerSendsHeartbeats(t *testing.T) {
	l, stop := startHost(t, control.HostConfig{AutoAccept: true, LivenessGrace: 100 * time.Millisecond})
	defer stop()

	tcpAddr := l.Addr().(*net.TCPAddr)
	ep := model.EndpointFromTCPAddr(tcpAddr)

	cfg := control.DefaultViewerConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	c := control.NewClient(cfg)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), ep, "1234"))
	waitStatus(t, c, control.StatusPaired, 2*time.Second)

	// The host resets a session's liveness watchdog on every received
	// message, so as long as the viewer's own 20ms heartbeat loop is
	// running the session outlives the host's 100ms grace window. Without
	// heartbeats the host would close it and the viewer would record a
	// failure reason.
	time.Sleep(200 * time.Millisecond)
	waitStatus(t, c, control.StatusPaired, time.Second)
	assert.Equal(t, "", c.FailReason.Get())
}

func TestSessionLivenessExpiresOnSilence(t *testing.T) {
	cfg := control.HostConfig{AutoAccept: true, LivenessGrace: 50 * time.Millisecond}
	l, stop := startHost(t, cfg)
	defer stop()

	tcpAddr := l.Addr().(*net.TCPAddr)
	ep := model.EndpointFromTCPAddr(tcpAddr)

	// Dial manually instead of via control.Client, so nothing keeps the
	// session alive with heartbeats after the handshake.
	conn, err := net.Dial("tcp", tcpAddr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"app":"beamroom","ver":1,"role":"viewer","code":"1234"}` + "\n"))
	require.NoError(t, err)

	_ = ep // endpoint unused beyond documenting the dialed target

	// Drain the accept sequence (HandshakeResponse + BroadcastStatus).
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	_, err = conn.Read(buf)
	require.NoError(t, err)

	// No further traffic is sent: the host's first heartbeat only fires at
	// +2s, and nothing else keeps the session's liveness watchdog armed.
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, err = conn.Read(buf)
	require.Error(t, err, "host must close the session after the liveness grace elapses with no viewer traffic")
}

// TestHandshakeTimeoutFailsViewer exercises property 10: without a
// HandshakeResponse, the viewer transitions to FAILED within the
// configured handshake timeout, reporting "Timed out".
func TestHandshakeTimeoutFailsViewer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	cfg := control.DefaultViewerConfig()
	cfg.HandshakeTimeout = 100 * time.Millisecond
	c := control.NewClient(cfg)
	defer c.Disconnect()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	ep := model.EndpointFromTCPAddr(tcpAddr)
	require.NoError(t, c.Connect(context.Background(), ep, "1234"))

	select {
	case conn := <-accepted:
		defer conn.Close()
	case <-time.After(time.Second):
		t.Fatal("listener never accepted viewer connection")
	}

	// The bare listener never writes a HandshakeResponse back, so the
	// viewer's 100ms handshake timeout must fire.
	waitStatus(t, c, control.StatusFailed, time.Second)
	assert.Equal(t, "Timed out", c.FailReason.Get())
}

// TestViewerLostContactAfterLivenessGrace exercises property 11 and E5:
// a PAIRED connection that receives no bytes for the liveness grace
// transitions to FAILED("Lost contact with host"), the literal string
// spec.md's E5 scenario pins (client.go's touchLiveness watchdog).
func TestViewerLostContactAfterLivenessGrace(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 4096)
		conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := conn.Read(buf); err != nil {
			return
		}

		sessionID := uuid.New()
		resp := fmt.Sprintf(`{"ok":true,"sessionID":%q}`+"\n", sessionID.String())
		conn.Write([]byte(resp))

		// Deliberately send nothing else: the viewer's liveness watchdog
		// must fire on its own once LivenessGrace elapses.
		time.Sleep(2 * time.Second)
	}()

	cfg := control.DefaultViewerConfig()
	cfg.LivenessGrace = 100 * time.Millisecond
	c := control.NewClient(cfg)
	defer c.Disconnect()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	ep := model.EndpointFromTCPAddr(tcpAddr)
	require.NoError(t, c.Connect(context.Background(), ep, "1234"))

	waitStatus(t, c, control.StatusPaired, time.Second)
	waitStatus(t, c, control.StatusFailed, time.Second)
	assert.Equal(t, "Lost contact with host", c.FailReason.Get())
}

// TestAutoRetryFollowsDefaultSchedule exercises property 12: consecutive
// connection failures against an address nothing listens on advance
// through DefaultRetryDelays {1,2,3,...} in order.
func TestAutoRetryFollowsDefaultSchedule(t *testing.T) {
	// Bind then immediately close a port so dials to it fail fast with
	// "connection refused" instead of timing out.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	tcpAddr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	c := control.NewClient(control.DefaultViewerConfig())
	defer c.Disconnect()

	statusCh, cancel := c.Status.Subscribe()
	defer cancel()

	ep := model.EndpointFromTCPAddr(tcpAddr)
	c.Connect(context.Background(), ep, "1234") // first dial fails immediately

	var failedAt []time.Time
	deadline := time.Now().Add(9 * time.Second)
	for len(failedAt) < 4 && time.Now().Before(deadline) {
		select {
		case st := <-statusCh:
			if st == control.StatusFailed {
				failedAt = append(failedAt, time.Now())
			}
		case <-time.After(deadline.Sub(time.Now())):
		}
	}
	require.GreaterOrEqual(t, len(failedAt), 4, "expected at least 4 Failed transitions (initial + 3 retries)")

	// Gaps between successive Failed transitions should track
	// DefaultRetryDelays {1, 2, 3, ...} in order, within scheduling slack.
	wantGaps := control.DefaultRetryDelays
	for i := 1; i < 4; i++ {
		gap := failedAt[i].Sub(failedAt[i-1])
		want := wantGaps[i-1]
		assert.InDeltaf(t, want.Seconds(), gap.Seconds(), 0.6,
			"retry %d: gap %v, want ~%v", i, gap, want)
	}
}

func TestMediaPortAnnouncedToSession(t *testing.T) {
	l, stop := startHost(t, control.HostConfig{AutoAccept: true})
	defer stop()

	tcpAddr := l.Addr().(*net.TCPAddr)
	ep := model.EndpointFromTCPAddr(tcpAddr)

	c := control.NewClient(control.DefaultViewerConfig())
	defer c.Disconnect()
	require.NoError(t, c.Connect(context.Background(), ep, "1234"))
	waitStatus(t, c, control.StatusPaired, 2*time.Second)

	l.SetMediaPort(5555)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p := c.UDPPort.Get(); p != nil && *p == 5555 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("viewer never observed announced media port")
}
