package mediaplane

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beamroom/beamroomd/internal/logging"
)

// ViewerConfig configures a Viewer media client.
type ViewerConfig struct {
	KeepAliveInterval time.Duration
	ReconnectDelay    time.Duration
	Logger            zerolog.Logger
}

// DefaultViewerConfig returns spec.md §5 defaults. The keep-alive interval
// must stay below half the host's peer TTL so the host never expires a
// live viewer (spec.md §4.4.2 invariant).
func DefaultViewerConfig() ViewerConfig {
	return ViewerConfig{
		KeepAliveInterval: DefaultViewerKeepAlive,
		ReconnectDelay:    DefaultViewerReconnect,
		Logger:            logging.For("mediaplane.viewer"),
	}
}

// Viewer is the viewer-side UDP client: it connects to the host's media
// port, sends an immediate hello followed by periodic keep-alives, and
// hands every received datagram to onDatagram until Close or ctx
// cancellation. Auto-reconnect (armed whenever a session is live) retries
// once after ReconnectDelay on any socket error.
type Viewer struct {
	cfg ViewerConfig

	mu         sync.Mutex
	conn       *net.UDPConn
	target     *net.UDPAddr
	armed      bool
	generation int64

	lastDatagram time.Time
}

// NewViewer constructs a Viewer.
func NewViewer(cfg ViewerConfig) *Viewer {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultViewerKeepAlive
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultViewerReconnect
	}
	return &Viewer{cfg: cfg}
}

// Connect opens the UDP socket to (host, port), arms auto-reconnect, sends
// the initial hello, and starts the receive/keep-alive loops. onDatagram is
// called from the receive goroutine for every datagram from the host.
func (v *Viewer) Connect(ctx context.Context, target *net.UDPAddr, onDatagram func([]byte)) error {
	v.mu.Lock()
	v.target = target
	v.armed = true
	v.generation++
	gen := v.generation
	v.mu.Unlock()

	return v.connectGen(ctx, gen, onDatagram)
}

func (v *Viewer) connectGen(ctx context.Context, gen int64, onDatagram func([]byte)) error {
	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		return nil
	}
	target := v.target
	v.mu.Unlock()

	conn, err := net.DialUDP("udp", nil, target)
	if err != nil {
		v.scheduleReconnect(ctx, gen, onDatagram)
		return err
	}

	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		conn.Close()
		return nil
	}
	v.conn = conn
	v.mu.Unlock()

	if _, err := conn.Write(HelloMessage); err != nil {
		v.handleError(ctx, gen, onDatagram)
		return err
	}

	go v.keepAliveLoop(ctx, gen)
	go v.receiveLoop(ctx, gen, conn, onDatagram)
	go v.silenceWarningLoop(ctx, gen)
	return nil
}

func (v *Viewer) keepAliveLoop(ctx context.Context, gen int64) {
	ticker := time.NewTicker(v.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.mu.Lock()
			if gen != v.generation || v.conn == nil {
				v.mu.Unlock()
				return
			}
			conn := v.conn
			v.mu.Unlock()
			if _, err := conn.Write(HelloMessage); err != nil {
				return
			}
		}
	}
}

func (v *Viewer) receiveLoop(ctx context.Context, gen int64, conn *net.UDPConn, onDatagram func([]byte)) {
	buf := make([]byte, 65535)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			v.handleError(ctx, gen, onDatagram)
			return
		}
		v.mu.Lock()
		v.lastDatagram = time.Now()
		v.mu.Unlock()
		if onDatagram != nil {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			onDatagram(payload)
		}
	}
}

// silenceWarningLoop logs at +2s and every 3s thereafter until the first
// datagram arrives (spec.md §4.4.2).
func (v *Viewer) silenceWarningLoop(ctx context.Context, gen int64) {
	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			v.mu.Lock()
			stale := v.lastDatagram.IsZero()
			alive := gen == v.generation
			v.mu.Unlock()
			if !alive || !stale {
				return
			}
			v.cfg.Logger.Warn().Msg("no media datagrams received yet")
			timer.Reset(3 * time.Second)
		}
	}
}

func (v *Viewer) handleError(ctx context.Context, gen int64, onDatagram func([]byte)) {
	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		return
	}
	if v.conn != nil {
		v.conn.Close()
		v.conn = nil
	}
	armed := v.armed
	v.mu.Unlock()

	if armed {
		v.scheduleReconnect(ctx, gen, onDatagram)
	}
}

func (v *Viewer) scheduleReconnect(ctx context.Context, gen int64, onDatagram func([]byte)) {
	time.AfterFunc(v.cfg.ReconnectDelay, func() {
		v.mu.Lock()
		if gen != v.generation {
			v.mu.Unlock()
			return
		}
		v.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		default:
		}
		v.connectGen(ctx, gen, onDatagram)
	})
}

// Close disarms auto-reconnect and closes the socket.
func (v *Viewer) Close() {
	v.mu.Lock()
	v.armed = false
	v.generation++
	conn := v.conn
	v.conn = nil
	v.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
