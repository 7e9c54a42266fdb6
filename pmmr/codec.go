package pmmr

import (
	"fmt"

	"github.com/mw-node/txhashset/chain"
	"github.com/mw-node/txhashset/txhashseterr"
)

// LeafCodec fixes how a PMMR's leaf type is written to and read from its
// data file, matching the spec's "DataFile<N>" — a construction-time
// constant record width. OutputPMMR and RangeProofPMMR each fix T and
// supply a codec rather than hand-writing two near-identical MMR types.
type LeafCodec[T any] interface {
	Encode(leaf T) []byte
	Decode(raw []byte) (T, error)
	RecordSize() int
}

// outputCodec encodes chain.Output as features (1 byte) ‖ commitment (33
// bytes) — 34 bytes, per spec §GLOSSARY's commitment size and
// SPEC_FULL.md §4.G/4.H's fixed output record width.
type outputCodec struct{}

func (outputCodec) RecordSize() int { return 1 + chain.CommitmentSize }

func (outputCodec) Encode(o chain.Output) []byte {
	buf := make([]byte, outputCodec{}.RecordSize())
	buf[0] = byte(o.Features)
	copy(buf[1:], o.Commitment[:])
	return buf
}

func (outputCodec) Decode(raw []byte) (chain.Output, error) {
	var o chain.Output
	if len(raw) != (outputCodec{}).RecordSize() {
		return o, fmt.Errorf("%w: output record is %d bytes, want %d",
			txhashseterr.ErrIO, len(raw), (outputCodec{}).RecordSize())
	}
	o.Features = chain.OutputFeatures(raw[0])
	copy(o.Commitment[:], raw[1:])
	return o, nil
}

// rangeProofCodec encodes chain.RangeProof as its raw fixed-width bytes.
type rangeProofCodec struct{}

func (rangeProofCodec) RecordSize() int { return chain.RangeProofSize }

func (rangeProofCodec) Encode(p chain.RangeProof) []byte {
	buf := make([]byte, chain.RangeProofSize)
	copy(buf, p[:])
	return buf
}

func (rangeProofCodec) Decode(raw []byte) (chain.RangeProof, error) {
	var p chain.RangeProof
	if len(raw) != chain.RangeProofSize {
		return p, fmt.Errorf("%w: range proof record is %d bytes, want %d",
			txhashseterr.ErrIO, len(raw), chain.RangeProofSize)
	}
	copy(p[:], raw)
	return p, nil
}
