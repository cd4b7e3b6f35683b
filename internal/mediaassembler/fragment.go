// Package mediaassembler implements the media datagram engine (spec.md
// §4.2): sender-side fragmentation of access units into MTU-safe
// datagrams, and receiver-side reassembly with pruning and loss
// accounting. It generalizes the teacher's sender.Packetizer (fixed H.264
// fragment header) into the BeamRoom wire.Header framing, and adds the
// receiver half the teacher never needed (the Pi side only sends).
package mediaassembler

import (
	"fmt"

	"github.com/beamroom/beamroomd/internal/wire"
)

// DefaultMTU is the recommended safe UDP payload size (spec.md §4.2).
const DefaultMTU = 1200

// AccessUnit is a sender-side input: one complete encoded picture, AVCC
// payload (length-prefixed NAL units, not Annex-B), plus the metadata
// carried in every datagram's header.
type AccessUnit struct {
	Seq       uint32
	Keyframe  bool
	Width     uint16
	Height    uint16
	ParamSets *wire.ParamSets // non-nil only for keyframes carrying SPS/PPS
	Data      []byte
}

// Fragment splits au into one or more ready-to-send datagrams (header,
// optional parameter-set blob on part 0, and payload slice). mtu <= 0
// selects DefaultMTU.
func Fragment(mtu int, au AccessUnit) ([][]byte, error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}

	var paramBlob []byte
	if au.ParamSets != nil {
		blob, err := wire.EncodeParamSets(*au.ParamSets)
		if err != nil {
			return nil, err
		}
		paramBlob = blob
	}

	budget := mtu - wire.HeaderSize - len(paramBlob)
	if budget <= 0 {
		return nil, fmt.Errorf("mediaassembler: mtu %d too small for header+paramsets (%d bytes)", mtu, wire.HeaderSize+len(paramBlob))
	}

	partCount := (len(au.Data) + budget - 1) / budget
	if partCount == 0 {
		partCount = 1
	}
	if partCount > 0xFFFF {
		return nil, fmt.Errorf("mediaassembler: access unit too large: %d bytes would need %d parts", len(au.Data), partCount)
	}

	var flags uint16
	if au.Keyframe {
		flags |= wire.FlagKeyframe
	}
	if au.ParamSets != nil {
		flags |= wire.FlagHasParamSet
	}

	datagrams := make([][]byte, 0, partCount)
	for i := 0; i < partCount; i++ {
		start := i * budget
		end := start + budget
		if end > len(au.Data) {
			end = len(au.Data)
		}
		slice := au.Data[start:end]

		var configBytes uint16
		carriesParams := i == 0 && au.ParamSets != nil
		if carriesParams {
			configBytes = uint16(len(paramBlob))
		}

		h := wire.Header{
			Seq:         au.Seq,
			PartIndex:   uint16(i),
			PartCount:   uint16(partCount),
			Flags:       flags,
			Width:       au.Width,
			Height:      au.Height,
			ConfigBytes: configBytes,
		}

		total := wire.HeaderSize + len(slice)
		if carriesParams {
			total += len(paramBlob)
		}
		buf := make([]byte, total)
		if err := wire.WriteHeader(h, buf); err != nil {
			return nil, err
		}
		off := wire.HeaderSize
		if carriesParams {
			copy(buf[off:], paramBlob)
			off += len(paramBlob)
		}
		copy(buf[off:], slice)

		datagrams = append(datagrams, buf)
	}

	return datagrams, nil
}
