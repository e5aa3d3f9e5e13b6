package tcp

import "github.com/brindlenet/ustack/clock"

// SetRecvAck is applied after the upper layer has committed a received
// segment's bytes to its own buffer (or immediately, for a segment that
// carries no data). It advances Recv.Next, arms the delayed-ACK timer, and
// applies the close-sequence transition table from §4.5. It returns true
// if this call transitioned the connection to Closed (LastAck's FIN fully
// acknowledged), in which case the caller must signal Delete.
//
// SetRecvAck is idempotent when called twice in a row with the same
// ReceivedSegment: the second call's state-transition guards all key off
// Current, which the first call has already advanced past, and assigning
// the same Recv.Next/AckTimer values twice is a no-op.
func (c *Connection) SetRecvAck(rs ReceivedSegment) (deleted bool) {
	end := rs.SequenceEnd()
	ackedAll := c.Send.Next == c.Send.Unacked

	switch {
	case c.Current == StateEstablished && rs.Fin:
		c.changeState(StateCloseWait)
	case c.Current == StateSynReceived && rs.Fin:
		c.changeState(StateCloseWait)
	case c.Current == StateFinWait && rs.Fin && ackedAll:
		c.changeState(StateTimeWait)
		c.RetransmissionTimer = rs.Timestamp.Add(c.RetransmissionTimeout * 2)
	case c.Current == StateClosing && ackedAll:
		c.changeState(StateTimeWait)
		c.RetransmissionTimer = rs.Timestamp.Add(c.RetransmissionTimeout * 2)
	case c.Current == StateFinWait && rs.Fin && !ackedAll:
		c.changeState(StateClosing)
	case c.Current == StateLastAck && ackedAll:
		// Extension beyond the literal table (the specification only
		// requires, for states outside Established/FinWait, "FIN is
		// acknowledged exactly once"): once our own FIN sent from
		// LastAck is fully acked, the connection is done.
		c.changeState(StateClosed)
		deleted = true
	}

	c.Recv.Next = end
	c.AckTimer = clock.Min(c.AckTimer, clock.When(rs.Timestamp.Add(c.AckTimeout)))
	return deleted
}
