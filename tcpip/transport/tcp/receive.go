package tcp

import (
	"github.com/brindlenet/ustack/clock"
	"github.com/brindlenet/ustack/seqnum"
)

// Receive is the per-connection receive-side control block. Next and Acked
// are deliberately kept apart (never merged): Next is the private truth,
// used for reassembly and for the Acceptable check; Acked is the last value
// we've publicly advertised, and a gap between the two is what tells the
// egress path that an ACK is owed.
type Receive struct {
	// Next is RCV.NXT, the next sequence number we expect.
	Next seqnum.Value
	// Acked is the highest sequence number we've publicly ACKed; may lag
	// Next while an ACK is delayed.
	Acked seqnum.Value
	// InitialSeq is IRS, fixed once the peer's SYN is accepted.
	InitialSeq seqnum.Value
	// Window is RCV.WND, in our own (unscaled) advertised units.
	Window seqnum.Size
	// WindowScale is our own advertised window scale, 0..14.
	WindowScale uint8
	// LastTime is the Instant a segment was last received, used for the
	// idle restart check.
	LastTime clock.Instant
}

// WindowBytes returns our receive window in bytes (Window scaled up).
func (r *Receive) WindowBytes() uint32 {
	return uint32(r.Window) << r.WindowScale
}

// Acceptable implements the RFC 793 pg. 40 four-case segment acceptability
// test against [Next, Next+Window), in our own unscaled advertised units,
// matching the reference source's in_window check.
func (r *Receive) Acceptable(seq seqnum.Value, payloadLen uint32) bool {
	window := r.Window

	if payloadLen == 0 {
		if window == 0 {
			return seq == r.Next
		}
		return seq.InWindow(r.Next, window)
	}

	if window == 0 {
		return false
	}

	if seq.InWindow(r.Next, window) {
		return true
	}
	last := seq.Add(seqnum.Size(payloadLen - 1))
	return last.InWindow(r.Next, window)
}

// UpdateWindow rounds bytes up to the smallest unscaled u16 window that
// covers it at the current WindowScale, capped at 0xffff<<scale, and stores
// the result in Window.
func (r *Receive) UpdateWindow(bytes uint32) {
	max := uint32(0xffff) << r.WindowScale
	if bytes > max {
		bytes = max
	}
	scaled := bytes >> r.WindowScale
	if bytes%(1<<r.WindowScale) != 0 {
		scaled++
	}
	if scaled > 0xffff {
		scaled = 0xffff
	}
	r.Window = seqnum.Size(scaled)
}
