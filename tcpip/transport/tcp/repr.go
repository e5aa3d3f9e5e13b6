package tcp

import "github.com/brindlenet/ustack/seqnum"

// SackRange is an optional SACK edge pair, carried in a Repr but never
// populated or consumed by this implementation: SACK is negotiated via the
// SACK-Permitted option in SYN/SYN+ACK only (RFC 2018), actual SACK block
// processing is out of scope.
type SackRange struct {
	Start, End uint32
	Valid      bool
}

// Repr is the pre-parsed, wire-neutral representation of a TCP segment
// header. The core never touches wire bytes directly: encode/decode is the
// wire package's job (itself a thin adapter over a real header-parsing
// library), so Repr is what crosses the boundary in both directions.
type Repr struct {
	SrcPort, DstPort uint16
	SeqNumber        seqnum.Value
	AckNumber        seqnum.Value
	AckValid         bool
	Flags            Flags
	WindowLen        uint16

	// WindowScale is present only on SYN/SYN+ACK per RFC 7323.
	WindowScale      uint8
	WindowScaleValid bool

	// MaxSegSize is present only on SYN/SYN+ACK.
	MaxSegSize      uint16
	MaxSegSizeValid bool

	SackPermitted bool
	SackRanges    [3]SackRange

	PayloadLen uint32
}

// SequenceLen is the number of sequence numbers this segment consumes: the
// payload plus one for SYN and one for FIN (both count toward the sequence
// space per RFC 793).
func (r Repr) SequenceLen() uint32 {
	n := r.PayloadLen
	if r.Flags.Has(FlagSyn) {
		n++
	}
	if r.Flags.Has(FlagFin) {
		n++
	}
	return n
}

// SequenceEnd is the first sequence number past this segment.
func (r Repr) SequenceEnd() seqnum.Value {
	return r.SeqNumber.Add(seqnum.Size(r.SequenceLen()))
}
