package tcp

import (
	"github.com/brindlenet/ustack/clock"
	"github.com/brindlenet/ustack/seqnum"
	"github.com/brindlenet/ustack/tcpip"
)

// Range indexes into the caller's own send buffer, measured in bytes from
// send.unacked. The TCP core never copies or even sees user payload bytes;
// it only ever hands back [Begin, End) so the IP layer can slice the user's
// buffer itself. This is what keeps the core allocation-free and avoids
// aliasing the user's buffer through the core.
type Range struct {
	Begin, End uint32
}

// Len is the number of bytes in the range.
func (r Range) Len() uint32 { return r.End - r.Begin }

// Segment is an outbound segment: a header to emit plus the byte range (if
// any) of the caller's send buffer to attach as payload.
type Segment struct {
	Repr  Repr
	Range Range
}

// OutSignals is returned by NextSendSegment: at most one Segment, and a
// Delete flag indicating the slot should be reclaimed after this call.
type OutSignals struct {
	HasSegment bool
	Segment    Segment
	Delete     bool
}

// NoOutSignals is the zero-value "nothing happened" result.
func NoOutSignals() OutSignals { return OutSignals{} }

// AvailableBytes describes the user's retransmit-plus-new-data buffer as
// seen from send.unacked: Total bytes available (including unacknowledged
// bytes already "sent" once) and whether the user has asked for the stream
// to be closed (Fin) once all of Total has gone out.
type AvailableBytes struct {
	Fin   bool
	Total uint32
}

// InPacket is an inbound segment as delivered to Arrives: the parsed
// header, the peer address it arrived from (used only on a Listen slot to
// remap the FourTuple), and the Instant it was observed at.
type InPacket struct {
	Segment Repr
	From    tcpip.Address
	Time    clock.Instant
}

// ReceivedSegment describes a segment whose acceptability has already been
// checked and which carries user data to be committed to the caller's
// receive buffer before SetRecvAck is called.
type ReceivedSegment struct {
	Syn, Fin  bool
	DataLen   uint32
	Begin     seqnum.Value
	Timestamp clock.Instant
}

// SequenceLen is the number of sequence numbers this received segment
// consumes.
func (s ReceivedSegment) SequenceLen() uint32 {
	n := s.DataLen
	if s.Syn {
		n++
	}
	if s.Fin {
		n++
	}
	return n
}

// DataBegin/DataEnd bound the payload (excluding the SYN sequence number,
// if any) within the segment.
func (s ReceivedSegment) DataBegin() seqnum.Value {
	if s.Syn {
		return s.Begin.Add(1)
	}
	return s.Begin
}

func (s ReceivedSegment) DataEnd() seqnum.Value {
	return s.DataBegin().Add(seqnum.Size(s.DataLen))
}

// SequenceEnd is the first sequence number past this segment.
func (s ReceivedSegment) SequenceEnd() seqnum.Value {
	return s.Begin.Add(seqnum.Size(s.SequenceLen()))
}

// Signals is returned by Arrives: an answer segment to send immediately,
// data to be handed to the caller's receive buffer, and Reset/Delete flags.
type Signals struct {
	Delete  bool
	Reset   bool
	MaySend bool

	HasAnswer bool
	Answer    Repr

	HasReceive bool
	Receive    ReceivedSegment
}

// NoSignals is the zero-value "nothing happened" result.
func NoSignals() Signals { return Signals{} }
