package wire

import (
	"encoding/binary"
	"errors"
)

// MediaMagic is the fixed 4-byte header tag ("BMRV").
const MediaMagic uint32 = 0x424D5256

// HeaderSize is the fixed size of the binary media header in bytes.
const HeaderSize = 20

// Header flag bits.
const (
	FlagKeyframe    uint16 = 1 << 0
	FlagHasParamSet uint16 = 1 << 1
)

// ErrBadMagic is returned by ParseHeader when the magic tag doesn't match.
var ErrBadMagic = errors.New("wire: bad media header magic")

// ErrShortHeader is returned when the buffer is too small to hold a header.
var ErrShortHeader = errors.New("wire: buffer shorter than media header")

// Header is the 20-byte big-endian media datagram header (spec.md §3).
type Header struct {
	Seq         uint32
	PartIndex   uint16
	PartCount   uint16
	Flags       uint16
	Width       uint16
	Height      uint16
	ConfigBytes uint16
}

// IsKeyframe reports whether FlagKeyframe is set.
func (h Header) IsKeyframe() bool { return h.Flags&FlagKeyframe != 0 }

// HasParamSet reports whether FlagHasParamSet is set.
func (h Header) HasParamSet() bool { return h.Flags&FlagHasParamSet != 0 }

// WriteHeader writes the 20-byte header to buf, which must be at least
// HeaderSize bytes.
func WriteHeader(h Header, buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrShortHeader
	}
	binary.BigEndian.PutUint32(buf[0:4], MediaMagic)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint16(buf[8:10], h.PartIndex)
	binary.BigEndian.PutUint16(buf[10:12], h.PartCount)
	binary.BigEndian.PutUint16(buf[12:14], h.Flags)
	binary.BigEndian.PutUint16(buf[14:16], h.Width)
	binary.BigEndian.PutUint16(buf[16:18], h.Height)
	binary.BigEndian.PutUint16(buf[18:20], h.ConfigBytes)
	return nil
}

// ParseHeader parses the 20-byte header from the front of buf, returning
// the header and the payload offset (always HeaderSize on success).
func ParseHeader(buf []byte) (Header, int, error) {
	if len(buf) < HeaderSize {
		return Header{}, 0, ErrShortHeader
	}
	if binary.BigEndian.Uint32(buf[0:4]) != MediaMagic {
		return Header{}, 0, ErrBadMagic
	}
	h := Header{
		Seq:         binary.BigEndian.Uint32(buf[4:8]),
		PartIndex:   binary.BigEndian.Uint16(buf[8:10]),
		PartCount:   binary.BigEndian.Uint16(buf[10:12]),
		Flags:       binary.BigEndian.Uint16(buf[12:14]),
		Width:       binary.BigEndian.Uint16(buf[14:16]),
		Height:      binary.BigEndian.Uint16(buf[16:18]),
		ConfigBytes: binary.BigEndian.Uint16(buf[18:20]),
	}
	return h, HeaderSize, nil
}
