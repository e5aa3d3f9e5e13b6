package tcp

import "github.com/brindlenet/ustack/seqnum"

// Arrives is the ingress handler: the sole way a Connection learns about an
// inbound segment. It dispatches on Current and returns what the caller
// must do: answer a segment, hand data up, reset, or delete the slot.
func (c *Connection) Arrives(pkt InPacket, key EntryKey) Signals {
	seg := pkt.Segment
	c.Recv.LastTime = pkt.Time

	switch c.Current {
	case StateClosed:
		return c.arrivesClosed(seg)
	case StateListen:
		return c.arrivesListen(pkt, key)
	case StateSynSent:
		return c.arrivesSynSent(pkt)
	case StateTimeWait:
		return c.arrivesTimeWait(seg)
	default:
		// Established, FinWait, SynReceived, Closing, CloseWait,
		// LastAck: all share the general data/ACK processing path;
		// the per-state differences are captured in SetRecvAck's
		// transition table, plus arrivesData's SynReceived ->
		// Established step on a genuine ACK.
		return c.arrivesData(pkt)
	}
}

// arrivesClosed implements §4.3's Closed case: the connection has no
// established identity, so it answers statelessly and never changes state.
func (c *Connection) arrivesClosed(seg Repr) Signals {
	if seg.Flags.Has(FlagRst) {
		return NoSignals()
	}
	if seg.AckValid {
		return Signals{
			HasAnswer: true,
			Answer: Repr{
				SeqNumber: seg.AckNumber,
				Flags:     FlagRst,
			},
		}
	}
	return Signals{
		HasAnswer: true,
		Answer: Repr{
			SeqNumber: 0,
			AckNumber: seg.SeqNumber.Add(seqnum.Size(seg.SequenceLen())),
			AckValid:  true,
			Flags:     FlagRst | FlagAck,
		},
	}
}

// arrivesListen implements §4.3's Listen case, including the accept path
// that remaps the slot's FourTuple and draws an ISN. The answering segment
// here is SYN|ACK: the reference source tags it RST, which §9 of the
// specification calls out as a defect, and a correct implementation emits
// SYN|ACK per RFC 793.
func (c *Connection) arrivesListen(pkt InPacket, key EntryKey) Signals {
	seg := pkt.Segment

	if seg.Flags.Has(FlagRst) {
		return NoSignals()
	}
	if seg.AckValid && !seg.Flags.Has(FlagSyn) {
		return Signals{
			HasAnswer: true,
			Answer:    Repr{SeqNumber: seg.AckNumber, Flags: FlagRst},
		}
	}
	if !seg.Flags.Has(FlagSyn) {
		return NoSignals()
	}

	tuple := key.FourTuple()
	tuple.RemoteAddr = pkt.From
	tuple.RemotePort = seg.SrcPort
	key.SetFourTuple(tuple)

	c.Recv.InitialSeq = seg.SeqNumber
	c.Recv.Next = seg.SeqNumber.Add(1)

	c.negotiateOptions(seg)

	iss := key.InitialSeqNum(pkt.Time)
	c.Send.InitialSeq = iss
	c.Send.Unacked = iss
	c.Send.Next = iss.Add(1)

	c.changeState(StateSynReceived)
	c.rearmRetransmissionTimer(pkt.Time)

	return Signals{
		HasAnswer: true,
		Answer:    c.synAckRepr(),
	}
}

// arrivesSynSent implements §4.3's SynSent case.
func (c *Connection) arrivesSynSent(pkt InPacket) Signals {
	seg := pkt.Segment

	if seg.AckValid {
		inWindow := c.Send.InitialSeq.LessThan(seg.AckNumber) && seg.AckNumber.LessThanEq(c.Send.Next)
		if !inWindow {
			if seg.Flags.Has(FlagRst) {
				return NoSignals()
			}
			return Signals{
				HasAnswer: true,
				Answer: Repr{
					SeqNumber: seg.AckNumber,
					AckNumber: seg.SeqNumber,
					AckValid:  true,
					Flags:     FlagRst,
				},
			}
		}
	}

	if seg.Flags.Has(FlagRst) {
		if seg.AckValid {
			return c.remoteResetConnection()
		}
		return NoSignals()
	}

	if !seg.Flags.Has(FlagSyn) {
		return NoSignals()
	}

	c.Recv.InitialSeq = seg.SeqNumber
	c.Recv.Next = seg.SeqNumber.Add(1)
	c.negotiateOptions(seg)

	if seg.AckValid && seg.AckNumber == c.Send.Next {
		c.Send.Unacked = seg.AckNumber
		c.Send.Window = seqnum.Size(seg.WindowLen)
		c.changeState(StateEstablished)
		c.rearmAckTimer(pkt.Time)
		return NoSignals()
	}

	c.Send.Window = seqnum.Size(seg.WindowLen)
	c.changeState(StateSynReceived)
	c.rearmRetransmissionTimer(pkt.Time)
	return Signals{HasAnswer: true, Answer: c.synAckRepr()}
}

// arrivesTimeWait handles the linger state: RST still tears the connection
// down, a retransmitted FIN or any data-bearing segment is re-acked,
// everything else is ignored. Egress
// (NextSendSegment) is what actually fires the delete after 2·RTO.
func (c *Connection) arrivesTimeWait(seg Repr) Signals {
	if seg.Flags.Has(FlagRst) {
		return c.remoteResetConnection()
	}
	if seg.Flags.Has(FlagFin) || seg.PayloadLen > 0 {
		return c.signalAckAll(0)
	}
	return NoSignals()
}

// arrivesData implements §4.3's Established/FinWait case, reused verbatim
// for SynReceived, Closing, CloseWait and LastAck per the "natural
// extensions" the specification calls for.
func (c *Connection) arrivesData(pkt InPacket) Signals {
	seg := pkt.Segment

	if !c.ingressAcceptable(seg.SeqNumber, seg.PayloadLen) {
		if seg.Flags.Has(FlagRst) {
			return c.remoteResetConnection()
		}
		return c.signalAckAll(0)
	}

	if seg.Flags.Has(FlagRst) {
		return c.remoteResetConnection()
	}

	if seg.Flags.Has(FlagSyn) {
		// An unexpected SYN inside the window: the reference source
		// resets rather than sending an RFC 5961 challenge ACK, and
		// the specification preserves that behavior deliberately.
		return c.signalResetConnection()
	}

	if seg.PayloadLen > 0 && !seg.AckValid {
		return NoSignals()
	}

	if seg.AckValid {
		update := c.Send.IncomingAck(seg.AckNumber)
		switch update.Kind {
		case AckDuplicate:
			if c.DuplicateAck < 255 {
				c.DuplicateAck++
			}
		case AckUpdated:
			wasFastRecovery := c.DuplicateAck > 0
			c.DuplicateAck = 0
			c.Send.Window = seqnum.Size(seg.WindowLen)
			c.Flow.WindowUpdate(wasFastRecovery, update.NewBytes, uint32(c.SenderMSS))
			if c.Current == StateSynReceived {
				// The peer's ACK has advanced SND.UNA past our
				// SYN (ISS), completing the three-way handshake
				// from the passive (or simultaneous-open) side.
				c.changeState(StateEstablished)
			}
		case AckUnsent:
			return c.signalAckAll(0)
		}
	}

	rs := ReceivedSegment{
		Syn:       seg.Flags.Has(FlagSyn),
		Fin:       seg.Flags.Has(FlagFin),
		DataLen:   seg.PayloadLen,
		Begin:     seg.SeqNumber,
		Timestamp: pkt.Time,
	}

	if rs.DataLen == 0 {
		deleted := c.SetRecvAck(rs)
		if deleted {
			return Signals{Delete: true}
		}
		return NoSignals()
	}

	return Signals{HasReceive: true, Receive: rs}
}

// negotiateOptions sets SenderMSS and the effective window scales from a
// peer SYN, per RFC 1122/1323: absence of the MSS option means 536, and
// absence of the window-scale option on either side disables scaling for
// both directions.
func (c *Connection) negotiateOptions(seg Repr) {
	mss := uint16(minMSS)
	if seg.MaxSegSizeValid && seg.MaxSegSize > mss {
		mss = seg.MaxSegSize
	}
	c.SenderMSS = mss

	if seg.WindowScaleValid {
		scale := seg.WindowScale
		if scale > maxWindowScale {
			scale = maxWindowScale
		}
		c.Send.WindowScale = scale
	} else {
		c.Send.WindowScale = 0
		c.Recv.WindowScale = 0
	}

	c.SackPermitted = seg.SackPermitted
}

// synAckRepr builds the SYN|ACK answer used by both the Listen-accept path
// and the simultaneous-open branch of SynSent.
func (c *Connection) synAckRepr() Repr {
	return Repr{
		SeqNumber:        c.Send.InitialSeq,
		AckNumber:        c.Recv.Next,
		AckValid:         true,
		Flags:            FlagSyn | FlagAck,
		WindowLen:        uint16(c.Recv.Window),
		WindowScale:      c.Recv.WindowScale,
		WindowScaleValid: true,
		MaxSegSize:       c.ReceiverMSS,
		MaxSegSizeValid:  true,
		SackPermitted:    c.SackPermitted,
	}
}
