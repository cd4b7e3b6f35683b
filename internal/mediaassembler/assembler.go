package mediaassembler

import (
	"sync"
	"time"

	"github.com/beamroom/beamroomd/internal/wire"
)

// DefaultMaxAge is the reassembly partial lifetime (spec.md §4.2, §5).
const DefaultMaxAge = 1 * time.Second

// Unit is a receiver-side output: one fully reassembled access unit.
type Unit struct {
	Seq       uint32
	Keyframe  bool
	Width     uint16
	Height    uint16
	ParamSets *wire.ParamSets
	AVCCData  []byte
}

type partial struct {
	createdAt time.Time
	partCount uint16
	received  []bool
	chunks    [][]byte
	cfg       *wire.ParamSets
	keyframe  bool
	width     uint16
	height    uint16
}

func (p *partial) complete() bool {
	for _, got := range p.received {
		if !got {
			return false
		}
	}
	return true
}

// Assembler reassembles fragmented access units from datagrams arriving in
// any order, prunes partials older than maxAge, and tracks datagram
// loss via sequence gaps (spec.md §4.2 properties, §8 properties 5-8).
type Assembler struct {
	mu       sync.Mutex
	maxAge   time.Duration
	partials map[uint32]*partial

	haveLast bool
	lastSeq  uint32
	drops    uint64
}

// NewAssembler creates an Assembler. maxAge <= 0 selects DefaultMaxAge.
func NewAssembler(maxAge time.Duration) *Assembler {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Assembler{
		maxAge:   maxAge,
		partials: make(map[uint32]*partial),
	}
}

// Ingest parses and folds one datagram into the assembler's state. It
// returns a completed Unit the moment all of that unit's parts have
// arrived, or (nil, nil) if the datagram was accepted but the unit is
// still incomplete, or (nil, err) if the datagram was malformed and
// dropped. A malformed or out-of-range datagram is never fatal to the
// caller.
func (a *Assembler) Ingest(datagram []byte, now time.Time) (*Unit, error) {
	h, offset, err := wire.ParseHeader(datagram)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.pruneLocked(now)

	if h.PartCount == 0 || h.PartIndex >= h.PartCount {
		return nil, nil
	}

	p, ok := a.partials[h.Seq]
	if ok && p.partCount != h.PartCount {
		// A new access unit reused seq with a different shape; reset.
		p = nil
		ok = false
	}
	if !ok {
		p = &partial{
			createdAt: now,
			partCount: h.PartCount,
			received:  make([]bool, h.PartCount),
			chunks:    make([][]byte, h.PartCount),
			keyframe:  h.IsKeyframe(),
			width:     h.Width,
			height:    h.Height,
		}
		a.partials[h.Seq] = p
	}

	payload := datagram[offset:]
	if h.PartIndex == 0 && h.HasParamSet() {
		cfgLen := int(h.ConfigBytes)
		if cfgLen > len(payload) {
			return nil, wire.ErrShortParamSets
		}
		if ps, err := wire.DecodeParamSets(payload[:cfgLen]); err == nil {
			p.cfg = &ps
		}
		payload = payload[cfgLen:]
	}

	chunk := make([]byte, len(payload))
	copy(chunk, payload)
	p.chunks[h.PartIndex] = chunk
	p.received[h.PartIndex] = true

	if !p.complete() {
		return nil, nil
	}

	delete(a.partials, h.Seq)

	total := 0
	for _, c := range p.chunks {
		total += len(c)
	}
	data := make([]byte, 0, total)
	for _, c := range p.chunks {
		data = append(data, c...)
	}

	a.recordSeqLocked(h.Seq)

	return &Unit{
		Seq:       h.Seq,
		Keyframe:  p.keyframe,
		Width:     p.width,
		Height:    p.height,
		ParamSets: p.cfg,
		AVCCData:  data,
	}, nil
}

// pruneLocked removes every partial whose first datagram arrived more than
// maxAge ago. Caller must hold a.mu.
func (a *Assembler) pruneLocked(now time.Time) {
	for seq, p := range a.partials {
		if now.Sub(p.createdAt) > a.maxAge {
			delete(a.partials, seq)
		}
	}
}

// recordSeqLocked updates loss accounting for a just-completed unit. seq
// arithmetic wraps at 32 bits (spec.md §4.2); an out-of-order late arrival
// (seq not newer than lastSeq) does not move lastSeq backward.
func (a *Assembler) recordSeqLocked(seq uint32) {
	if !a.haveLast {
		a.lastSeq = seq
		a.haveLast = true
		return
	}
	diff := int32(seq - a.lastSeq)
	if diff > 1 {
		a.drops += uint64(diff - 1)
	}
	if diff > 0 {
		a.lastSeq = seq
	}
}

// Drops returns the running count of access units inferred lost due to
// sequence gaps between completed units.
func (a *Assembler) Drops() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drops
}

// PendingCount returns the number of in-flight (incomplete) partials, for
// tests and diagnostics.
func (a *Assembler) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.partials)
}

// Prune forces a pruning pass at the given time, useful for tests that
// want to assert property 6 without waiting on the next Ingest.
func (a *Assembler) Prune(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(now)
}
