package wire

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ControlMessage is implemented by every decodable control-plane variant
// (spec.md §3). The marker method seals the set to this package's types.
type ControlMessage interface {
	isControlMessage()
}

// HandshakeRequest is sent by the viewer on connect.
type HandshakeRequest struct {
	App  string `json:"app"`
	Ver  int    `json:"ver"`
	Role string `json:"role"`
	Code string `json:"code"`
}

func (HandshakeRequest) isControlMessage() {}

// HandshakeResponse is sent by the host in answer to a HandshakeRequest.
type HandshakeResponse struct {
	OK        bool       `json:"ok"`
	SessionID *uuid.UUID `json:"sessionID,omitempty"`
	UDPPort   *uint16    `json:"udpPort,omitempty"`
	Message   *string    `json:"message,omitempty"`
}

func (HandshakeResponse) isControlMessage() {}

// MediaParams announces (or updates) the media-plane UDP port.
type MediaParams struct {
	UDPPort uint16 `json:"udpPort"`
}

func (MediaParams) isControlMessage() {}

// BroadcastStatus announces the host's current broadcast-on-screen flag.
type BroadcastStatus struct {
	On bool `json:"on"`
}

func (BroadcastStatus) isControlMessage() {}

// Heartbeat is an application-level liveness ping. HB is required: its
// presence in the raw JSON (not its value) is what qualifies a line as a
// Heartbeat, so that arbitrary other objects can't be mis-decoded as one
// (spec.md §3, §9, regression-guarded by property 13).
type Heartbeat struct {
	HB int64 `json:"hb"`
}

func (Heartbeat) isControlMessage() {}

// ErrUnrecognizedVariant is returned by DecodeControlLine when a line
// parses as JSON but matches none of the known control message shapes.
var ErrUnrecognizedVariant = errors.New("wire: line matches no known control message variant")

// DecodeControlLine decodes a single line (without its '\n' terminator) as
// a control message. The wire carries no type tag: variants are tried in a
// fixed order and the first that both (a) has all of its required keys
// present in the raw object and (b) unmarshals without error is accepted.
// Any line that fails every variant is returned as ErrUnrecognizedVariant,
// wrapped in *InvalidMessageError, without being treated as fatal to the
// caller's connection (spec.md §7).
func DecodeControlLine(line []byte) (ControlMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, &InvalidMessageError{Op: "wire.DecodeControlLine", Err: err}
	}

	if hasKeys(fields, "app", "ver", "role", "code") {
		var v HandshakeRequest
		if err := json.Unmarshal(line, &v); err == nil {
			return v, nil
		}
	}
	if hasKeys(fields, "ok") {
		var v HandshakeResponse
		if err := json.Unmarshal(line, &v); err == nil {
			return v, nil
		}
	}
	if hasKeys(fields, "udpPort") && !hasKeys(fields, "ok") {
		var v MediaParams
		if err := json.Unmarshal(line, &v); err == nil {
			return v, nil
		}
	}
	if hasKeys(fields, "on") {
		var v BroadcastStatus
		if err := json.Unmarshal(line, &v); err == nil {
			return v, nil
		}
	}
	if hasKeys(fields, "hb") {
		var v Heartbeat
		if err := json.Unmarshal(line, &v); err == nil {
			return v, nil
		}
	}

	return nil, &InvalidMessageError{Op: "wire.DecodeControlLine", Err: ErrUnrecognizedVariant}
}

func hasKeys(fields map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			return false
		}
	}
	return true
}

// InvalidMessageError indicates a wire line failed to decode as any known
// control message variant. Defined here (rather than in internal/control)
// so that internal/wire has no dependency on internal/control.
type InvalidMessageError struct {
	Op  string
	Err error
}

func (e *InvalidMessageError) Error() string {
	if e.Err == nil {
		return "invalid message: " + e.Op
	}
	return "invalid message: " + e.Op + ": " + e.Err.Error()
}
func (e *InvalidMessageError) Unwrap() error { return e.Err }
