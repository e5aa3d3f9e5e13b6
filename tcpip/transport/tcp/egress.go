package tcp

import (
	"github.com/brindlenet/ustack/clock"
	"github.com/brindlenet/ustack/seqnum"
)

// NextSendSegment is the egress selector: given what the user's send
// buffer currently looks like and the current time, decide what (if
// anything) to put on the wire next.
func (c *Connection) NextSendSegment(avail AvailableBytes, now clock.Instant) OutSignals {
	switch c.Current {
	case StateListen:
		return NoOutSignals()

	case StateClosed:
		if c.Recv.Acked != c.Recv.Next {
			return OutSignals{HasSegment: true, Segment: Segment{Repr: c.reprAckAll(0)}}
		}
		return NoOutSignals()

	case StateSynSent, StateSynReceived:
		if retransmitTimerDue(c.RetransmissionTimer, now) {
			c.rearmRetransmissionTimer(now)
			flags := Flags(FlagSyn)
			ackValid := false
			if c.Current == StateSynReceived {
				flags |= FlagAck
				ackValid = true
			}
			r := Repr{
				SeqNumber:        c.Send.InitialSeq,
				Flags:            flags,
				WindowLen:        uint16(c.Recv.Window),
				WindowScale:      c.Recv.WindowScale,
				WindowScaleValid: true,
				MaxSegSize:       c.ReceiverMSS,
				MaxSegSizeValid:  true,
				SackPermitted:    c.SackPermitted,
			}
			if ackValid {
				r.AckValid = true
				r.AckNumber = c.Recv.Next
			}
			return OutSignals{HasSegment: true, Segment: Segment{Repr: r}}
		}
		return NoOutSignals()

	case StateTimeWait:
		out := NoOutSignals()
		if c.Recv.Acked != c.Recv.Next {
			out = OutSignals{HasSegment: true, Segment: Segment{Repr: c.reprAckAll(0)}}
		}
		if retransmitTimerDue(c.RetransmissionTimer, now) {
			out.Delete = true
		}
		return out

	case StateEstablished, StateCloseWait:
		return c.mainSelector(avail, now)

	default: // FinWait, Closing, LastAck
		inFlight := c.Send.InFlight()
		if avail.Total > inFlight {
			avail.Total = inFlight
		}
		return c.mainSelector(avail, now)
	}
}

// retransmitTimerDue reports whether now has reached or passed t.
func retransmitTimerDue(t, now clock.Instant) bool {
	return !t.After(now)
}

// mainSelector implements §4.4's main selector: idle restart, fast
// retransmit, timeout retransmit, new data, then a pure ACK if nothing
// else applies.
func (c *Connection) mainSelector(avail AvailableBytes, now clock.Instant) OutSignals {
	restartDeadline := c.Recv.LastTime
	if c.Send.LastTime.After(restartDeadline) {
		restartDeadline = c.Send.LastTime
	}
	if now.After(restartDeadline.Add(c.RestartTimeout)) {
		c.Flow.RestartWindow(c.Send.WindowBytes())
	}

	if c.DuplicateAck >= 2 {
		if rng, ok := c.retransmitRange(avail); ok {
			return c.emitRetransmit(rng, now)
		}
		return c.pureAckOrNothing(now)
	}

	if now.After(c.RetransmissionTimer) {
		c.rearmRetransmissionTimer(now)
		if rng, ok := c.retransmitRange(avail); ok {
			return c.emitRetransmit(rng, now)
		}
		// Nothing to resend: fall through to new data.
	}

	sent := c.Send.InFlight()
	maxSent := c.Send.WindowBytes()
	if avail.Total < maxSent {
		maxSent = avail.Total
	}

	if sent < maxSent {
		end := sent + uint32(c.SenderMSS)
		if end > maxSent {
			end = maxSent
		}

		rng := Range{Begin: sent, End: end}
		fin := false
		if end == avail.Total && avail.Fin {
			fin = true
		}

		flags := Flags(0)
		if fin {
			flags |= FlagFin
			switch c.Current {
			case StateEstablished:
				c.changeState(StateFinWait)
			case StateCloseWait:
				c.changeState(StateLastAck)
			}
		}

		seq := c.Send.Next
		r := c.buildRepr(seq, flags, rng.Len())
		c.Send.Next = c.Send.Next.Add(seqnum.Size(rng.Len()))
		if fin {
			c.Send.Next = c.Send.Next.Add(1)
		}
		c.Send.LastTime = now

		return OutSignals{HasSegment: true, Segment: Segment{Repr: r, Range: rng}}
	}

	return c.pureAckOrNothing(now)
}

// retransmitRange computes the [0, n) byte range (relative to Send.Unacked)
// to resend, bounded by the send window, the sender MSS, and what the
// caller actually has available. If nothing is in flight, no segment is
// produced: a spurious duplicate ACK has nothing to retransmit.
func (c *Connection) retransmitRange(avail AvailableBytes) (Range, bool) {
	inFlight := c.Send.InFlight()
	if inFlight == 0 {
		return Range{}, false
	}

	n := c.Send.WindowBytes()
	if uint32(c.SenderMSS) < n {
		n = uint32(c.SenderMSS)
	}
	if avail.Total < n {
		n = avail.Total
	}
	if inFlight < n {
		n = inFlight
	}
	if n == 0 {
		return Range{}, false
	}
	return Range{Begin: 0, End: n}, true
}

func (c *Connection) emitRetransmit(rng Range, now clock.Instant) OutSignals {
	r := c.buildRepr(c.Send.Unacked, 0, rng.Len())
	c.Send.LastTime = now
	return OutSignals{HasSegment: true, Segment: Segment{Repr: r, Range: rng}}
}

// pureAckOrNothing emits a bare ACK if one is owed (either Recv.Next has
// moved past Recv.Acked, or the delayed-ACK timer has fired), else nothing.
func (c *Connection) pureAckOrNothing(now clock.Instant) OutSignals {
	if c.shouldAck() || c.AckTimer.Due(now) {
		return OutSignals{HasSegment: true, Segment: Segment{Repr: c.reprAckAll(0)}}
	}
	return NoOutSignals()
}
