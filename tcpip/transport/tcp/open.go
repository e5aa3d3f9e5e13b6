package tcp

import "github.com/brindlenet/ustack/clock"

// Open drives a Closed slot into SynSent: it draws an ISS via the lent
// EntryKey and arms the retransmission timer at `now`, so the very next
// NextSendSegment poll (even at the same instant) emits the initial SYN
// through the ordinary SynSent retransmit path — there is no separate
// "send the first SYN" code path to keep in sync with retransmission.
func (c *Connection) Open(now clock.Instant, key EntryKey) {
	iss := key.InitialSeqNum(now)
	c.Send.InitialSeq = iss
	c.Send.Unacked = iss
	c.Send.Next = iss.Add(1)
	c.changeState(StateSynSent)
	c.RetransmissionTimer = now
}
