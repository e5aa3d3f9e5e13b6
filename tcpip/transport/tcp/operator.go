package tcp

import (
	"github.com/brindlenet/ustack/clock"
	"github.com/brindlenet/ustack/tcpip"
)

// Operator is an ephemeral borrow combining an Endpoint with one SlotKey:
// the sole entry point the IP layer above uses to drive a single
// connection for the duration of one call. It re-resolves the slot on
// every method and reports ErrIllegal if the key has been invalidated by a
// prior Delete, rather than holding a direct pointer into the table that
// could dangle across a removal.
type Operator struct {
	ep  *Endpoint
	key SlotKey
}

// NewOperator borrows ep for key. The Operator is valid only until a
// handler it drives signals Delete.
func NewOperator(ep *Endpoint, key SlotKey) Operator {
	return Operator{ep: ep, key: key}
}

// Key returns the SlotKey this Operator is bound to.
func (o Operator) Key() SlotKey { return o.key }

// FourTuple returns the bound slot's current identity.
func (o Operator) FourTuple() (tcpip.FourTuple, tcpip.Error) {
	slot, ok := o.ep.Get(o.key)
	if !ok {
		return tcpip.FourTuple{}, tcpip.ErrIllegal
	}
	return slot.Tuple, tcpip.ErrNone
}

// connection resolves the bound Connection, or reports ErrIllegal if the
// key has been invalidated.
func (o Operator) connection() (*Connection, tcpip.Error) {
	slot, ok := o.ep.Get(o.key)
	if !ok {
		return nil, tcpip.ErrIllegal
	}
	return &slot.Conn, tcpip.ErrNone
}

// Arrives drives the bound connection's ingress handler and reclaims the
// slot if the resulting Signals ask for it.
func (o Operator) Arrives(pkt InPacket) (Signals, tcpip.Error) {
	c, err := o.connection()
	if err != tcpip.ErrNone {
		return Signals{}, err
	}
	sig := c.Arrives(pkt, &entry{ep: o.ep, key: o.key})
	if sig.Delete {
		o.ep.Remove(o.key)
	}
	return sig, tcpip.ErrNone
}

// NextSendSegment drives the bound connection's egress selector and
// reclaims the slot if it signals Delete.
func (o Operator) NextSendSegment(avail AvailableBytes, now clock.Instant) (OutSignals, tcpip.Error) {
	c, err := o.connection()
	if err != tcpip.ErrNone {
		return OutSignals{}, err
	}
	out := c.NextSendSegment(avail, now)
	if out.Delete {
		o.ep.Remove(o.key)
	}
	return out, tcpip.ErrNone
}

// Open drives the bound connection from Closed to SynSent.
func (o Operator) Open(now clock.Instant) tcpip.Error {
	c, err := o.connection()
	if err != tcpip.ErrNone {
		return err
	}
	if c.Current != StateClosed {
		return tcpip.ErrIllegal
	}
	c.Open(now, &entry{ep: o.ep, key: o.key})
	return tcpip.ErrNone
}

// Delete explicitly tears the bound slot down, independent of any
// handler-signaled deletion.
func (o Operator) Delete() {
	o.ep.Remove(o.key)
}

// Deadline returns the earlier of the bound connection's delayed-ACK timer
// and its retransmission timer, for a caller (typically the engine
// package's poll loop) that wants to schedule its next wake-up rather than
// busy-poll. The core itself never reads this; it only ever compares a
// supplied Instant against these fields during Arrives/NextSendSegment.
func (o Operator) Deadline() (clock.Expiration, tcpip.Error) {
	c, err := o.connection()
	if err != tcpip.ErrNone {
		return clock.Never(), err
	}
	return clock.Min(c.AckTimer, clock.When(c.RetransmissionTimer)), tcpip.ErrNone
}
