// Package control implements the BeamRoom control plane (spec.md §4.3): the
// host's TCP listener with its pairing/session state machine, and the
// viewer's TCP client with its connect/pair/liveness/auto-retry state
// machine. It generalizes the teacher's single-process App state machine
// (main.go's StateIdle..StateFailed plus its receiveLoop/keepaliveLoop
// pair) into the two-sided TCP protocol this spec calls for.
package control

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/beamroom/beamroomd/internal/logging"
)

// Normative timeouts (spec.md §5).
const (
	DefaultControlPort        = 52345
	DefaultHeartbeatInterval  = 5 * time.Second
	DefaultHeartbeatFirstFire = 2 * time.Second
	DefaultHandshakeTimeout   = 8 * time.Second
	DefaultLivenessGrace      = 15 * time.Second
	DefaultBroadcastPollRate  = 1 * time.Second
)

// DefaultRetryDelays is the auto-retry schedule of spec.md §4.3.2 / §5,
// clamped to its last element once exhausted.
var DefaultRetryDelays = []time.Duration{
	1 * time.Second, 2 * time.Second, 3 * time.Second,
	5 * time.Second, 8 * time.Second, 10 * time.Second,
}

func retryDelay(schedule []time.Duration, attemptIndex int) time.Duration {
	if len(schedule) == 0 {
		return 10 * time.Second
	}
	if attemptIndex >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[attemptIndex]
}

// BroadcastSource is the external signal named in spec.md §4.3.1: a
// 1Hz-polled read of whether the screen is currently being broadcast.
type BroadcastSource func() bool

// HostConfig configures a Listener.
type HostConfig struct {
	Port              int
	AutoAccept        bool
	HeartbeatInterval time.Duration
	LivenessGrace     time.Duration
	BroadcastPollRate time.Duration
	BroadcastSource   BroadcastSource
	Logger            zerolog.Logger
}

// DefaultHostConfig returns the spec.md §6 configuration defaults.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		Port:              DefaultControlPort,
		AutoAccept:        false,
		HeartbeatInterval: DefaultHeartbeatInterval,
		LivenessGrace:     DefaultLivenessGrace,
		BroadcastPollRate: DefaultBroadcastPollRate,
		Logger:            logging.For("control.host"),
	}
}

// ViewerConfig configures a Client.
type ViewerConfig struct {
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	LivenessGrace     time.Duration
	RetryDelays       []time.Duration
	Logger            zerolog.Logger
}

// DefaultViewerConfig returns the spec.md §5 normative timeouts.
func DefaultViewerConfig() ViewerConfig {
	return ViewerConfig{
		HandshakeTimeout:  DefaultHandshakeTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		LivenessGrace:     DefaultLivenessGrace,
		RetryDelays:       append([]time.Duration(nil), DefaultRetryDelays...),
		Logger:            logging.For("control.viewer"),
	}
}
