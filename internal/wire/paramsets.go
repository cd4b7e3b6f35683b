package wire

import (
	"encoding/binary"
	"errors"
)

// ErrTooManyParamSets is returned when encoding more than 255 SPS or PPS
// entries (the blob's count fields are one byte each).
var ErrTooManyParamSets = errors.New("wire: more than 255 SPS or PPS entries")

// ErrShortParamSets is returned when the buffer is truncated relative to
// what the blob's own length fields declare.
var ErrShortParamSets = errors.New("wire: truncated parameter-set blob")

// ParamSets holds the SPS/PPS NAL payloads carried on a keyframe's part 0
// (spec.md §3). Each entry excludes any start code; it is the raw NAL
// bytes.
type ParamSets struct {
	SPS [][]byte
	PPS [][]byte
}

// EncodeParamSets serializes p as: u8 spsCount, u8 ppsCount, then for each
// SPS and then each PPS a (u16 len, bytes) pair, all big-endian.
func EncodeParamSets(p ParamSets) ([]byte, error) {
	if len(p.SPS) > 255 || len(p.PPS) > 255 {
		return nil, ErrTooManyParamSets
	}
	size := 2
	for _, s := range p.SPS {
		size += 2 + len(s)
	}
	for _, s := range p.PPS {
		size += 2 + len(s)
	}

	buf := make([]byte, size)
	buf[0] = byte(len(p.SPS))
	buf[1] = byte(len(p.PPS))
	off := 2
	for _, s := range p.SPS {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(s)))
		off += 2
		copy(buf[off:], s)
		off += len(s)
	}
	for _, s := range p.PPS {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(s)))
		off += 2
		copy(buf[off:], s)
		off += len(s)
	}
	return buf, nil
}

// DecodeParamSets parses a blob produced by EncodeParamSets.
func DecodeParamSets(buf []byte) (ParamSets, error) {
	if len(buf) < 2 {
		return ParamSets{}, ErrShortParamSets
	}
	spsCount := int(buf[0])
	ppsCount := int(buf[1])
	off := 2

	readSet := func(n int) ([][]byte, error) {
		out := make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			if off+2 > len(buf) {
				return nil, ErrShortParamSets
			}
			l := int(binary.BigEndian.Uint16(buf[off : off+2]))
			off += 2
			if off+l > len(buf) {
				return nil, ErrShortParamSets
			}
			entry := make([]byte, l)
			copy(entry, buf[off:off+l])
			off += l
			out = append(out, entry)
		}
		return out, nil
	}

	sps, err := readSet(spsCount)
	if err != nil {
		return ParamSets{}, err
	}
	pps, err := readSet(ppsCount)
	if err != nil {
		return ParamSets{}, err
	}
	return ParamSets{SPS: sps, PPS: pps}, nil
}
