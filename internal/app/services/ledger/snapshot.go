package ledger

import (
	"sort"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
)

// A stream is one append-only sequence of (sequence, value) pairs. Sequence
// numbers are strictly increasing along the stream; a mutation at the same
// sequence as the tail overwrites the tail instead of appending, so at most
// one entry exists per sequence number.
type stream struct {
	seqs []uint64
	vals []uint64
}

func (st *stream) record(seq, val uint64) {
	n := len(st.seqs)
	if n > 0 && st.seqs[n-1] >= seq {
		// Coalesce same-step mutations. The source is non-decreasing, so
		// this branch is only ever the equal case.
		st.vals[n-1] = val
		return
	}
	st.seqs = append(st.seqs, seq)
	st.vals = append(st.vals, val)
}

// valueAt returns the value of the greatest recorded sequence <= seq. The
// second result is false when seq predates the first recorded entry: the
// historical value is defined as zero then ("did not exist yet").
func (st *stream) valueAt(seq uint64) (uint64, bool) {
	n := len(st.seqs)
	if n == 0 || seq < st.seqs[0] {
		return 0, false
	}
	if seq >= st.seqs[n-1] {
		return st.vals[n-1], true
	}
	// First index whose sequence exceeds seq; the answer sits just before.
	idx := sort.Search(n, func(i int) bool { return st.seqs[i] > seq })
	return st.vals[idx-1], true
}

// streamKey addresses one snapshot stream. A zero holder selects the supply
// stream of the partition; a fully zero key selects the global supply stream.
type streamKey struct {
	holder    token.Address
	partition token.Partition
}

type snapshotSet struct {
	streams map[streamKey]*stream
}

func newSnapshotSet() *snapshotSet {
	return &snapshotSet{streams: make(map[streamKey]*stream)}
}

func (s *snapshotSet) record(key streamKey, seq, val uint64) {
	st, ok := s.streams[key]
	if !ok {
		st = &stream{}
		s.streams[key] = st
	}
	st.record(seq, val)
}

func (s *snapshotSet) valueAt(key streamKey, seq uint64) uint64 {
	st, ok := s.streams[key]
	if !ok {
		return 0
	}
	val, _ := st.valueAt(seq)
	return val
}
