package control

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beamroom/beamroomd/internal/model"
	"github.com/beamroom/beamroomd/internal/wire"
)

type connStage int

const (
	stageAccepted connStage = iota
	stagePending
	stageSession
	stageClosed
)

// connState is the per-connection record the Listener keeps for a single
// TCP client (spec.md §4.3.1). Its stage is only ever mutated while the
// owning Listener holds l.mu, which is what gives the ACCEPTED -> PENDING
// -> SESSION progression its serialized, single-writer semantics.
type connState struct {
	id    int64
	conn  net.Conn
	stage connStage

	writeMu sync.Mutex

	hbCounter int64
	hbTimer   *time.Timer
	liveTimer *time.Timer

	cancel context.CancelFunc
}

func (cs *connState) writeLine(v wire.ControlMessage) error {
	line, err := wire.EncodeLine(v)
	if err != nil {
		return EncodeError{Op: "control.writeLine", Err: err}
	}
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	_, err = cs.conn.Write(line)
	if err != nil {
		return ConnectionFailedError{Op: "write", Err: err}
	}
	return nil
}

// Listener is the host side of the control plane: it accepts viewer TCP
// connections, runs each through the pairing handshake, and keeps every
// paired session informed of the host's UDP media port and live broadcast
// status. It generalizes the teacher's single STUN/punch App loop into a
// multi-connection TCP accept server.
type Listener struct {
	cfg HostConfig

	ln net.Listener

	mu         sync.Mutex
	nextConnID int64
	conns      map[int64]*connState
	pending    map[int64]model.PairingRecord
	sessions   map[int64]model.SessionRecord
	udpPort    *uint16
	broadcast  bool

	onPairingRequested func(model.PairingRecord)

	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener constructs a Listener. It does not start listening; call Serve.
func NewListener(cfg HostConfig) *Listener {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.LivenessGrace <= 0 {
		cfg.LivenessGrace = DefaultLivenessGrace
	}
	if cfg.BroadcastPollRate <= 0 {
		cfg.BroadcastPollRate = DefaultBroadcastPollRate
	}
	return &Listener{
		cfg:      cfg,
		conns:    make(map[int64]*connState),
		pending:  make(map[int64]model.PairingRecord),
		sessions: make(map[int64]model.SessionRecord),
		ready:    make(chan struct{}),
	}
}

// WaitReady blocks until Serve has bound its listening socket, or ctx is
// done. Intended for tests that need the ephemeral port from Addr().
func (l *Listener) WaitReady(ctx context.Context) error {
	select {
	case <-l.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnPairingRequested registers a callback fired whenever a viewer requests
// pairing and AutoAccept is disabled, so an operator surface can prompt for
// Accept/Decline. Must be called before Serve.
func (l *Listener) OnPairingRequested(fn func(model.PairingRecord)) {
	l.onPairingRequested = fn
}

// Serve binds the configured TCP port and accepts connections until ctx is
// cancelled or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", l.cfg.Port))
	if err != nil {
		return ConnectionFailedError{Op: "listen", Err: err}
	}
	l.ln = ln
	close(l.ready)

	l.ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.broadcastPollLoop(l.ctx)
	}()

	go func() {
		<-l.ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.ctx.Done():
				l.wg.Wait()
				return nil
			default:
				return ConnectionFailedError{Op: "accept", Err: err}
			}
		}
		l.wg.Add(1)
		go l.handleConn(conn)
	}
}

// Addr returns the bound listener address; only valid after Serve has
// started listening.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Close tears down the listener and every live connection.
func (l *Listener) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	if l.ln != nil {
		l.ln.Close()
	}
	l.mu.Lock()
	conns := make([]*connState, 0, len(l.conns))
	for _, cs := range l.conns {
		conns = append(conns, cs)
	}
	l.mu.Unlock()
	for _, cs := range conns {
		cs.conn.Close()
	}
	return nil
}

func (l *Listener) handleConn(conn net.Conn) {
	defer l.wg.Done()

	l.mu.Lock()
	l.nextConnID++
	id := l.nextConnID
	cs := &connState{id: id, conn: conn, stage: stageAccepted}
	l.conns[id] = cs
	l.mu.Unlock()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	cs.hbTimer = time.AfterFunc(DefaultHeartbeatFirstFire, func() { l.sendHeartbeat(cs) })

	defer l.teardown(cs)

	dec := wire.NewLineDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		lines, err := dec.Feed(buf[:n])
		if err != nil {
			return
		}
		for _, line := range lines {
			msg, err := wire.DecodeControlLine(line)
			if err != nil {
				l.cfg.Logger.Warn().Err(err).Int64("conn", id).Msg("malformed control line")
				continue
			}
			l.handleMessage(cs, msg)
		}
	}
}

func (l *Listener) sendHeartbeat(cs *connState) {
	l.mu.Lock()
	_, alive := l.conns[cs.id]
	l.mu.Unlock()
	if !alive {
		return
	}
	cs.hbCounter++
	if err := cs.writeLine(wire.Heartbeat{HB: cs.hbCounter}); err != nil {
		cs.conn.Close()
		return
	}
	cs.hbTimer = time.AfterFunc(l.cfg.HeartbeatInterval, func() { l.sendHeartbeat(cs) })
}

func (l *Listener) handleMessage(cs *connState, msg wire.ControlMessage) {
	if cs.stage == stageSession {
		l.touchLiveness(cs)
	}
	switch m := msg.(type) {
	case wire.HandshakeRequest:
		l.handleHandshakeRequest(cs, m)
	case wire.Heartbeat:
		// Liveness already reset above; nothing else to do.
	default:
		l.cfg.Logger.Debug().Int64("conn", cs.id).Msg("unexpected message from viewer")
	}
}

// touchLiveness (re)arms the 15s silence watchdog for a SESSION connection
// (spec.md §4.3.1 "SESSION --recv Heartbeat--> stay; reset liveness",
// property 11). Any recognized message resets it, matching the viewer's
// own Client.touchLiveness symmetry.
func (l *Listener) touchLiveness(cs *connState) {
	if cs.liveTimer != nil {
		cs.liveTimer.Stop()
	}
	cs.liveTimer = time.AfterFunc(l.cfg.LivenessGrace, func() { l.expireSession(cs) })
}

func (l *Listener) expireSession(cs *connState) {
	l.mu.Lock()
	_, alive := l.sessions[cs.id]
	l.mu.Unlock()
	if !alive {
		return
	}
	l.cfg.Logger.Warn().Int64("conn", cs.id).Msg("session liveness expired")
	cs.conn.Close()
}

func (l *Listener) handleHandshakeRequest(cs *connState, req wire.HandshakeRequest) {
	if req.Role != "viewer" {
		reason := "unsupported role"
		cs.writeLine(wire.HandshakeResponse{OK: false, Message: &reason})
		cs.conn.Close()
		return
	}

	l.mu.Lock()
	if sess, ok := l.sessions[cs.id]; ok {
		port := l.udpPort
		on := l.broadcast
		l.mu.Unlock()
		l.sendAcceptSequence(cs, sess.ID, port, on)
		return
	}

	rec := model.PairingRecord{
		ID:           uuid.New(),
		ConnectionID: cs.id,
		Code:         req.Code,
		Remote:       cs.conn.RemoteAddr().String(),
		RequestedAt:  time.Now(),
	}
	l.pending[cs.id] = rec
	cs.stage = stagePending
	auto := l.cfg.AutoAccept
	l.mu.Unlock()

	if auto {
		l.Accept(cs.id)
		return
	}
	if l.onPairingRequested != nil {
		l.onPairingRequested(rec)
	}
}

// Accept promotes a pending pairing to an active session and sends the
// HandshakeResponse/MediaParams/BroadcastStatus sequence in that order
// (spec.md §4.3.1, §9).
func (l *Listener) Accept(connID int64) error {
	l.mu.Lock()
	rec, ok := l.pending[connID]
	if !ok {
		l.mu.Unlock()
		return NotRunningError{What: "pairing"}
	}
	delete(l.pending, connID)
	sess := model.SessionRecord{ID: rec.ID, Remote: rec.Remote, StartedAt: time.Now()}
	l.sessions[connID] = sess
	cs := l.conns[connID]
	if cs != nil {
		cs.stage = stageSession
	}
	port := l.udpPort
	on := l.broadcast
	l.mu.Unlock()

	if cs == nil {
		return NotRunningError{What: "connection"}
	}
	l.touchLiveness(cs)
	return l.sendAcceptSequence(cs, sess.ID, port, on)
}

// Decline rejects a pending pairing and closes the connection.
func (l *Listener) Decline(connID int64, reason string) error {
	l.mu.Lock()
	_, ok := l.pending[connID]
	if !ok {
		l.mu.Unlock()
		return NotRunningError{What: "pairing"}
	}
	delete(l.pending, connID)
	cs := l.conns[connID]
	l.mu.Unlock()

	if cs == nil {
		return NotRunningError{What: "connection"}
	}
	err := cs.writeLine(wire.HandshakeResponse{OK: false, Message: &reason})
	cs.conn.Close()
	return err
}

func (l *Listener) sendAcceptSequence(cs *connState, sessionID uuid.UUID, udpPort *uint16, broadcastOn bool) error {
	id := sessionID
	if err := cs.writeLine(wire.HandshakeResponse{OK: true, SessionID: &id, UDPPort: udpPort}); err != nil {
		return err
	}
	if udpPort != nil {
		if err := cs.writeLine(wire.MediaParams{UDPPort: *udpPort}); err != nil {
			return err
		}
	}
	return cs.writeLine(wire.BroadcastStatus{On: broadcastOn})
}

// SetMediaPort announces (or updates) the host's UDP media port to every
// paired session.
func (l *Listener) SetMediaPort(port uint16) {
	l.mu.Lock()
	if l.udpPort != nil && *l.udpPort == port {
		l.mu.Unlock()
		return
	}
	l.udpPort = &port
	targets := make([]*connState, 0, len(l.sessions))
	for connID := range l.sessions {
		if cs, ok := l.conns[connID]; ok {
			targets = append(targets, cs)
		}
	}
	l.mu.Unlock()

	for _, cs := range targets {
		cs.writeLine(wire.MediaParams{UDPPort: port})
	}
}

func (l *Listener) broadcastPollLoop(ctx context.Context) {
	if l.cfg.BroadcastSource == nil {
		return
	}
	ticker := time.NewTicker(l.cfg.BroadcastPollRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			on := l.cfg.BroadcastSource()
			l.mu.Lock()
			if on == l.broadcast {
				l.mu.Unlock()
				continue
			}
			l.broadcast = on
			sessions := make([]int64, 0, len(l.sessions))
			for connID := range l.sessions {
				sessions = append(sessions, connID)
			}
			l.mu.Unlock()
			for _, connID := range sessions {
				l.mu.Lock()
				cs := l.conns[connID]
				l.mu.Unlock()
				if cs != nil {
					cs.writeLine(wire.BroadcastStatus{On: on})
				}
			}
		}
	}
}

func (l *Listener) teardown(cs *connState) {
	if cs.hbTimer != nil {
		cs.hbTimer.Stop()
	}
	if cs.liveTimer != nil {
		cs.liveTimer.Stop()
	}
	l.mu.Lock()
	delete(l.conns, cs.id)
	delete(l.pending, cs.id)
	delete(l.sessions, cs.id)
	l.mu.Unlock()
	cs.conn.Close()
}
