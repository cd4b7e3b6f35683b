package control

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beamroom/beamroomd/internal/model"
	"github.com/beamroom/beamroomd/internal/observable"
	"github.com/beamroom/beamroomd/internal/wire"
)

// Status is the viewer-side control connection state (spec.md §4.3.2).
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusWaitingAcceptance
	StatusPaired
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusConnecting:
		return "Connecting"
	case StatusWaitingAcceptance:
		return "WaitingAcceptance"
	case StatusPaired:
		return "Paired"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Client is the viewer side of the control plane: it dials a host, carries
// it through the handshake, and once PAIRED watches heartbeats for
// liveness and exposes the host's UDP port and live broadcast flag. On any
// failure it auto-retries against the last-known target/code using the
// configured backoff schedule, mirroring the teacher's keepaliveLoop +
// reconnect behavior from fpv-sender/main.go generalized to two peers.
type Client struct {
	cfg ViewerConfig

	Status      *observable.Value[Status]
	FailReason  *observable.Value[string]
	UDPPort     *observable.Value[*uint16]
	BroadcastOn *observable.Value[bool]

	mu           sync.Mutex
	conn         net.Conn
	writeMu      sync.Mutex
	sessionID    *uuid.UUID
	target       model.Endpoint
	code         string
	haveTarget   bool
	retryIndex   int
	autoRetry    bool
	handshakeTmr *time.Timer
	livenessTmr  *time.Timer
	hbTimer      *time.Timer
	hbCounter    int64
	generation   int64
	closed       bool
}

// NewClient constructs a Client.
func NewClient(cfg ViewerConfig) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.LivenessGrace <= 0 {
		cfg.LivenessGrace = DefaultLivenessGrace
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = append([]time.Duration(nil), DefaultRetryDelays...)
	}
	return &Client{
		cfg:         cfg,
		Status:      observable.New(StatusIdle),
		FailReason:  observable.New(""),
		UDPPort:     observable.New[*uint16](nil),
		BroadcastOn: observable.New(false),
		autoRetry:   true,
	}
}

// Connect dials target and begins the handshake as the given pairing code.
// It remembers (target, code) for auto-retry on subsequent failures.
func (c *Client) Connect(ctx context.Context, target model.Endpoint, code string) error {
	c.mu.Lock()
	c.target = target
	c.code = code
	c.haveTarget = true
	c.closed = false
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	return c.dial(ctx, gen)
}

func (c *Client) dial(ctx context.Context, gen int64) error {
	c.Status.Set(StatusConnecting)

	c.mu.Lock()
	target, code := c.target, c.code
	c.mu.Unlock()

	d := net.Dialer{Timeout: c.cfg.HandshakeTimeout}
	conn, err := d.DialContext(ctx, "tcp", target.TCPAddr().String())
	if err != nil {
		c.fail(gen, "Connection failed")
		return ConnectionFailedError{Op: "dial", Err: err}
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		conn.Close()
		return Cancelled
	}
	c.conn = conn
	c.mu.Unlock()

	c.Status.Set(StatusWaitingAcceptance)
	line, err := wire.EncodeLine(wire.HandshakeRequest{App: "beamroom", Ver: 1, Role: "viewer", Code: code})
	if err != nil {
		c.fail(gen, "Encode error")
		return EncodeError{Op: "control.Connect", Err: err}
	}
	if _, err := conn.Write(line); err != nil {
		c.fail(gen, "Connection failed")
		return ConnectionFailedError{Op: "write", Err: err}
	}

	c.armHandshakeTimeout(gen)
	go c.readLoop(conn, gen)
	return nil
}

func (c *Client) armHandshakeTimeout(gen int64) {
	c.mu.Lock()
	c.handshakeTmr = time.AfterFunc(c.cfg.HandshakeTimeout, func() {
		if c.Status.Get() == StatusWaitingAcceptance {
			c.fail(gen, "Timed out")
		}
	})
	c.mu.Unlock()
}

func (c *Client) readLoop(conn net.Conn, gen int64) {
	dec := wire.NewLineDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			// A conn already torn down by fail() keeps the reason given there.
			c.mu.Lock()
			current := c.conn == conn
			c.mu.Unlock()
			if current {
				c.fail(gen, "Disconnected")
			}
			return
		}
		lines, err := dec.Feed(buf[:n])
		if err != nil {
			c.fail(gen, "Disconnected")
			return
		}
		for _, line := range lines {
			msg, err := wire.DecodeControlLine(line)
			if err != nil {
				continue
			}
			c.handleMessage(gen, msg)
		}
	}
}

func (c *Client) handleMessage(gen int64, msg wire.ControlMessage) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.Status.Get() == StatusPaired {
		c.touchLiveness(gen)
	}
	switch m := msg.(type) {
	case wire.HandshakeResponse:
		if c.handshakeTmr != nil {
			c.handshakeTmr.Stop()
		}
		if m.OK && m.SessionID != nil {
			c.mu.Lock()
			c.sessionID = m.SessionID
			c.retryIndex = 0
			c.mu.Unlock()
			if m.UDPPort != nil {
				port := *m.UDPPort
				c.UDPPort.Set(&port)
			}
			c.Status.Set(StatusPaired)
			c.touchLiveness(gen)
			c.startHeartbeats(gen)
		} else {
			reason := "Rejected"
			if m.Message != nil {
				reason = *m.Message
			}
			c.fail(gen, reason)
		}
	case wire.MediaParams:
		if c.Status.Get() == StatusPaired {
			port := m.UDPPort
			c.UDPPort.Set(&port)
		}
	case wire.BroadcastStatus:
		c.BroadcastOn.Set(m.On)
	case wire.Heartbeat:
		// Liveness already reset above; nothing else to do.
	}
}

// startHeartbeats begins the viewer's own 5s heartbeat cadence once PAIRED
// (spec.md §4.3.2: "start heartbeats (5s) and liveness watch"), mirroring
// the host's independent heartbeat loop in host.go's sendHeartbeat.
func (c *Client) startHeartbeats(gen int64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.hbTimer = time.AfterFunc(c.cfg.HeartbeatInterval, func() { c.sendHeartbeat(gen) })
	c.mu.Unlock()
}

func (c *Client) sendHeartbeat(gen int64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.hbCounter++
	hb := c.hbCounter
	c.mu.Unlock()
	if conn == nil {
		return
	}

	line, err := wire.EncodeLine(wire.Heartbeat{HB: hb})
	if err != nil {
		return
	}
	c.writeMu.Lock()
	_, err = conn.Write(line)
	c.writeMu.Unlock()
	if err != nil {
		c.fail(gen, "Disconnected")
		return
	}

	c.mu.Lock()
	if gen == c.generation {
		c.hbTimer = time.AfterFunc(c.cfg.HeartbeatInterval, func() { c.sendHeartbeat(gen) })
	}
	c.mu.Unlock()
}

// touchLiveness resets the 15s silence watchdog (spec.md §4.3.2, property
// 11). Any message, not just a Heartbeat, counts as liveness.
func (c *Client) touchLiveness(gen int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	if c.livenessTmr != nil {
		c.livenessTmr.Stop()
	}
	c.livenessTmr = time.AfterFunc(c.cfg.LivenessGrace, func() {
		if c.Status.Get() == StatusPaired {
			c.fail(gen, "Lost contact with host")
		}
	})
}

func (c *Client) fail(gen int64, reason string) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.handshakeTmr != nil {
		c.handshakeTmr.Stop()
	}
	if c.livenessTmr != nil {
		c.livenessTmr.Stop()
	}
	if c.hbTimer != nil {
		c.hbTimer.Stop()
	}
	autoRetry := c.autoRetry && c.haveTarget && !c.closed
	attempt := c.retryIndex
	c.retryIndex++
	c.mu.Unlock()

	c.FailReason.Set(reason)
	c.Status.Set(StatusFailed)

	if autoRetry {
		delay := retryDelay(c.cfg.RetryDelays, attempt)
		time.AfterFunc(delay, func() {
			c.mu.Lock()
			if gen != c.generation || c.closed {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			c.dial(context.Background(), gen)
		})
	}
}

// Disconnect tears the connection down and disarms auto-retry.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.generation++
	conn := c.conn
	c.conn = nil
	if c.handshakeTmr != nil {
		c.handshakeTmr.Stop()
	}
	if c.livenessTmr != nil {
		c.livenessTmr.Stop()
	}
	if c.hbTimer != nil {
		c.hbTimer.Stop()
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.Status.Set(StatusIdle)
}
