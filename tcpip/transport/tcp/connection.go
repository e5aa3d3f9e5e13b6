// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tcp implements the TCP connection state machine: a Mealy-style
// machine covering RFC 793/1122/5681, expressed as pure state transitions
// with no internal allocation, thread, or blocking primitive. Every
// handler here runs to completion and returns; timeouts are comparisons
// against a caller-supplied clock.Instant, never a timer goroutine.
package tcp

import (
	"github.com/brindlenet/ustack/clock"
	"github.com/brindlenet/ustack/seqnum"
	"github.com/brindlenet/ustack/tcpip"
)

// minMSS is the default send MSS assumed when the peer's SYN carries no MSS
// option (RFC 1122 pg. 85).
const minMSS = 536

// maxWindowScale is the RFC 1323 §2.3 ceiling on negotiated window scale.
const maxWindowScale = 14

// defaultAckTimeout is the delayed-ACK ceiling named by the data model
// (ack_timeout ≤ 500 ms).
const defaultAckTimeout = clock.Duration(500_000_000)

// EntryKey is the capability an Operator lends to a Connection for the
// duration of a single Arrives/Open call: it lets the state machine draw an
// ISN and, on the Listen→SynReceived accept path, remap the slot's
// identity. The Connection never holds an Endpoint reference outside this
// narrow window.
type EntryKey interface {
	FourTuple() tcpip.FourTuple
	SetFourTuple(tcpip.FourTuple)
	InitialSeqNum(now clock.Instant) seqnum.Value
}

// Connection is the per-connection control block (TCB).
type Connection struct {
	Current  State
	Previous State

	Send Send
	Recv Receive
	Flow Flow

	// SenderMSS is the peer's advertised MSS, floored at minMSS.
	SenderMSS uint16
	// ReceiverMSS is our own advertised MSS.
	ReceiverMSS uint16

	AckTimer   clock.Expiration
	AckTimeout clock.Duration

	RetransmissionTimer   clock.Instant
	RetransmissionTimeout clock.Duration
	RestartTimeout        clock.Duration
	DuplicateAck          uint8

	SackPermitted bool
}

// Zeroed returns a Connection in state Closed, as it exists in a freshly
// allocated (but not yet opened or listening) slot.
func Zeroed() Connection {
	return Connection{
		Current:    StateClosed,
		Previous:   StateClosed,
		AckTimer:   clock.Never(),
		AckTimeout: defaultAckTimeout,
		SenderMSS:  minMSS,
	}
}

// changeState records the transition, keeping Previous so a later RST can
// tell whether the connection was half-open from an inbound or outbound
// perspective.
func (c *Connection) changeState(next State) {
	c.Previous = c.Current
	c.Current = next
}

// shouldAck reports whether we owe the peer a public ACK: our private
// truth (Recv.Next) has moved past what we've last advertised (Recv.Acked).
func (c *Connection) shouldAck() bool {
	return c.Recv.Acked != c.Recv.Next
}

// ackAll is the sequence number to acknowledge: always Recv.Next, the
// receive-side private truth at the moment of the call.
func (c *Connection) ackAll() seqnum.Value {
	return c.Recv.Next
}

// buildRepr stamps the current ACK state onto an outbound Repr for
// sequence number seq: ack number, ACK flag, our advertised window. Every
// call also resets the delayed-ACK state (Recv.Acked and AckTimer), since
// every emitted segment implicitly acknowledges up to Recv.Next.
func (c *Connection) buildRepr(seq seqnum.Value, flags Flags, payloadLen uint32) Repr {
	r := Repr{
		SeqNumber:  seq,
		AckNumber:  c.ackAll(),
		AckValid:   true,
		Flags:      flags | FlagAck,
		WindowLen:  uint16(c.Recv.Window),
		PayloadLen: payloadLen,
	}
	c.Recv.Acked = c.Recv.Next
	c.AckTimer = clock.Never()
	return r
}

// reprAckAll stamps the current ACK state onto a bare Repr carrying no
// payload, at the current send-next sequence number.
func (c *Connection) reprAckAll(flags Flags) Repr {
	return c.buildRepr(c.Send.Next, flags, 0)
}

// segmentAckAll builds a full outbound Segment carrying no payload (a bare
// ACK, or an ACK riding on SYN/FIN/RST), via reprAckAll.
func (c *Connection) segmentAckAll(flags Flags) Segment {
	return Segment{Repr: c.reprAckAll(flags)}
}

// signalAckAll wraps reprAckAll as the Answer of a Signals value.
func (c *Connection) signalAckAll(flags Flags) Signals {
	return Signals{HasAnswer: true, Answer: c.reprAckAll(flags)}
}

// rearmAckTimer arms the delayed-ACK timer for `at`, but never delays it
// past an already-armed earlier deadline: ack_timer == Never iff there's no
// pending ACK, so once set it only ever moves earlier or is cleared by an
// emitted segment.
func (c *Connection) rearmAckTimer(at clock.Instant) {
	c.AckTimer = clock.Min(c.AckTimer, clock.When(at.Add(c.AckTimeout)))
}

// rearmRetransmissionTimer arms the RTO timer relative to `now`.
func (c *Connection) rearmRetransmissionTimer(now clock.Instant) {
	c.RetransmissionTimer = now.Add(c.RetransmissionTimeout)
}

// remoteResetConnection handles an incoming RST: the slot transitions to
// Closed and is marked for deletion. No answer segment is produced; RST is
// never itself acknowledged.
func (c *Connection) remoteResetConnection() Signals {
	c.changeState(StateClosed)
	return Signals{Reset: true, Delete: true}
}

// signalResetConnection is the self-initiated counterpart: we emit our own
// RST (acking the peer's current sequence number per RFC 793 pg. 36) and
// tear the slot down.
func (c *Connection) signalResetConnection() Signals {
	seq := c.Send.Unacked
	ack := c.Recv.Next
	c.changeState(StateClosed)
	return Signals{
		Reset:     true,
		Delete:    true,
		HasAnswer: true,
		Answer: Repr{
			SeqNumber: seq,
			AckNumber: ack,
			AckValid:  true,
			Flags:     FlagRst | FlagAck,
		},
	}
}

// ingressAcceptable is the RFC 793 pg. 40 four-case acceptability test
// (property P5).
func (c *Connection) ingressAcceptable(seq seqnum.Value, payloadLen uint32) bool {
	return c.Recv.Acceptable(seq, payloadLen)
}
