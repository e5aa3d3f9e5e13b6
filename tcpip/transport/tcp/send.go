package tcp

import (
	"github.com/brindlenet/ustack/clock"
	"github.com/brindlenet/ustack/seqnum"
)

// Send is the per-connection send-side control block: SND.UNA, SND.NXT,
// ISS, the unsent-byte count, and the peer's advertised window.
type Send struct {
	// Unacked is SND.UNA, the oldest byte we've sent that hasn't been
	// acknowledged yet.
	Unacked seqnum.Value
	// Next is SND.NXT, the next sequence number we'll use for new data.
	Next seqnum.Value
	// InitialSeq is ISS, fixed at Open/accept time.
	InitialSeq seqnum.Value
	// Unsent is the number of bytes in the user's buffer not yet placed
	// on the wire.
	Unsent uint32
	// Window is SND.WND, in the peer's advertised (unscaled) units.
	Window seqnum.Size
	// WindowScale is the peer's advertised window scale, 0..14.
	WindowScale uint8
	// LastTime is the Instant data was last sent, used for the idle
	// restart check (RFC 5681 §4.1).
	LastTime clock.Instant
}

// WindowBytes returns the peer's send window in bytes (Window scaled up).
func (s *Send) WindowBytes() uint32 {
	return uint32(s.Window) << s.WindowScale
}

// InFlight is the number of bytes sent but not yet acknowledged.
func (s *Send) InFlight() uint32 {
	return uint32(s.Unacked.Size(s.Next))
}

// AckKind classifies an incoming ACK relative to the current send state.
type AckKind int

const (
	// AckTooLow: ack is older than what we've already had acknowledged;
	// stale, no action.
	AckTooLow AckKind = iota
	// AckDuplicate: ack repeats the current SND.UNA exactly.
	AckDuplicate
	// AckUpdated: ack genuinely advances SND.UNA.
	AckUpdated
	// AckUnsent: ack acknowledges data we haven't sent yet.
	AckUnsent
)

// AckUpdate is the result of classifying an incoming ACK number.
type AckUpdate struct {
	Kind     AckKind
	NewBytes uint32
}

// IncomingAck classifies ack against [Unacked, Next] using windowed
// ordering, and advances Unacked if it's a genuine update.
func (s *Send) IncomingAck(ack seqnum.Value) AckUpdate {
	switch {
	case ack.LessThan(s.Unacked):
		return AckUpdate{Kind: AckTooLow}
	case ack == s.Unacked:
		return AckUpdate{Kind: AckDuplicate}
	case ack.LessThanEq(s.Next):
		newBytes := uint32(s.Unacked.Size(ack))
		s.Unacked = ack
		return AckUpdate{Kind: AckUpdated, NewBytes: newBytes}
	default:
		return AckUpdate{Kind: AckUnsent}
	}
}
