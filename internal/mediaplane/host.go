// Package mediaplane implements the UDP media plane (spec.md §4.4): the
// host's active-peer-latching listener and the viewer's hello/keep-alive
// client. It generalizes the teacher's UDPConnection send/receive pair
// (sender/sender.go, fpv-sender/main.go's receiveLoop/keepaliveLoop) from a
// single punched peer-to-peer socket into a host that can be rediscovered
// by a new viewer at any time.
package mediaplane

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beamroom/beamroomd/internal/logging"
)

// Normative timings (spec.md §5).
const (
	DefaultHostPeerTTL     = 6 * time.Second
	DefaultViewerKeepAlive = 2500 * time.Millisecond
	DefaultViewerReconnect = 500 * time.Millisecond
)

// HelloMessage is the 5-byte viewer keep-alive payload (spec.md §4.4.2).
var HelloMessage = []byte("BRHI!")

// PeerChangedFunc is invoked whenever the host's active peer changes,
// with nil meaning the peer expired with no replacement.
type PeerChangedFunc func(addr *net.UDPAddr)

// HostConfig configures a Host media listener.
type HostConfig struct {
	Port         int
	PeerTTL      time.Duration
	OnPeerChange PeerChangedFunc
	Logger       zerolog.Logger
}

// DefaultHostConfig returns spec.md §5 defaults.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		PeerTTL: DefaultHostPeerTTL,
		Logger:  logging.For("mediaplane.host"),
	}
}

// Host is the host-side UDP listener: it latches exactly one active peer
// (the most recent datagram source) and is the destination for every
// outbound media datagram (spec.md §4.4.1).
type Host struct {
	cfg  HostConfig
	conn *net.UDPConn

	mu       sync.Mutex
	activeAt time.Time
	active   *net.UDPAddr
}

// NewHost constructs a Host. It does not bind a socket; call Serve.
func NewHost(cfg HostConfig) *Host {
	if cfg.PeerTTL <= 0 {
		cfg.PeerTTL = DefaultHostPeerTTL
	}
	return &Host{cfg: cfg}
}

// Serve binds the UDP socket, runs the 1Hz TTL sweep, and calls onDatagram
// for every inbound packet until ctx is cancelled. It does not report the
// bound port itself: callers poll Port(), which returns 0 until Serve has
// bound the socket.
func (h *Host) Serve(ctx context.Context, onDatagram func(src *net.UDPAddr, payload []byte)) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: h.cfg.Port})
	if err != nil {
		return err
	}
	h.conn = conn
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.sweep()
			}
		}
	}()

	buf := make([]byte, 65535)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		h.touchPeer(addr)
		if onDatagram != nil {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			onDatagram(addr, payload)
		}
	}
}

// Port returns the bound local UDP port; valid only once Serve has called
// net.ListenUDP.
func (h *Host) Port() int {
	if h.conn == nil {
		return 0
	}
	return h.conn.LocalAddr().(*net.UDPAddr).Port
}

func (h *Host) touchPeer(src *net.UDPAddr) {
	h.mu.Lock()
	now := time.Now()
	changed := h.active == nil || h.active.String() != src.String()
	h.active = src
	h.activeAt = now
	cb := h.cfg.OnPeerChange
	h.mu.Unlock()

	if changed && cb != nil {
		cb(src)
	}
}

func (h *Host) sweep() {
	h.mu.Lock()
	if h.active == nil {
		h.mu.Unlock()
		return
	}
	if time.Since(h.activeAt) <= h.cfg.PeerTTL {
		h.mu.Unlock()
		return
	}
	h.active = nil
	cb := h.cfg.OnPeerChange
	h.mu.Unlock()

	if cb != nil {
		cb(nil)
	}
}

// ActivePeer returns the current latched peer, or nil if none is active.
func (h *Host) ActivePeer() *net.UDPAddr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Send writes a media datagram to the currently latched active peer. It is
// a no-op (returning nil) if there is no active peer, since there is
// nowhere to send encoded frames produced by the external encoder.
func (h *Host) Send(datagram []byte) error {
	h.mu.Lock()
	dst := h.active
	h.mu.Unlock()
	if dst == nil || h.conn == nil {
		return nil
	}
	_, err := h.conn.WriteToUDP(datagram, dst)
	return err
}
