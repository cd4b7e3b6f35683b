// Package wire implements the BeamRoom wire codecs (spec.md §4.1): the
// newline-delimited JSON line framer, the control message envelope, the
// binary media header, and the parameter-set blob. It is pure: no I/O, no
// goroutines, safe to call from any context.
package wire

import (
	"encoding/json"
	"fmt"
)

// DefaultMaxUnterminated is the recommended cap (spec.md §4.1) on bytes of
// unterminated data held in a LineDecoder before the caller should fail the
// connection.
const DefaultMaxUnterminated = 64 * 1024

// ErrLineTooLong is returned by Feed when the unterminated buffer would
// exceed MaxUnterminated.
type ErrLineTooLong struct{ Limit int }

func (e *ErrLineTooLong) Error() string {
	return fmt.Sprintf("wire: unterminated line exceeds %d bytes", e.Limit)
}

// LineDecoder maintains a per-connection receive buffer and extracts
// complete newline-terminated lines as bytes arrive in arbitrary chunks.
// Empty lines are discarded. The framer imposes no maximum line length
// itself; MaxUnterminated (if non-zero) is enforced by Feed as the caller's
// chosen cap.
type LineDecoder struct {
	buf             []byte
	MaxUnterminated int
}

// NewLineDecoder creates a decoder with the default unterminated-data cap.
func NewLineDecoder() *LineDecoder {
	return &LineDecoder{MaxUnterminated: DefaultMaxUnterminated}
}

// Feed appends b to the receive buffer and returns every complete line
// extracted (without the trailing '\n'). Feeding the same bytes in one call
// or split across many calls produces the same sequence of lines
// (spec.md §8 property 4).
func (d *LineDecoder) Feed(b []byte) ([][]byte, error) {
	d.buf = append(d.buf, b...)

	var lines [][]byte
	for {
		i := indexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if len(line) > 0 {
			cp := make([]byte, len(line))
			copy(cp, line)
			lines = append(lines, cp)
		}
	}

	if d.MaxUnterminated > 0 && len(d.buf) > d.MaxUnterminated {
		return lines, &ErrLineTooLong{Limit: d.MaxUnterminated}
	}
	return lines, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// EncodeLine serializes v to JSON and appends a single '\n' terminator.
func EncodeLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
