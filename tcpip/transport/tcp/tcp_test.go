package tcp

import (
	"testing"
	"time"

	"github.com/brindlenet/ustack/clock"
	"github.com/brindlenet/ustack/seqnum"
	"github.com/brindlenet/ustack/tcpip"
	"github.com/brindlenet/ustack/tcpip/transport/tcp/tcptest"
)

func instant(sec int64) clock.Instant {
	return clock.Now(time.Unix(sec, 0))
}

func fixedTuple() tcpip.FourTuple {
	return tcpip.FourTuple{
		LocalAddr:  "10.0.0.1",
		RemoteAddr: "10.0.0.2",
		LocalPort:  5000,
		RemotePort: 80,
	}
}

// Scenario 1: a connection in SynSent that has not yet had its SYN
// acknowledged must re-emit the SYN once the retransmission timer is due.
func TestResentSyn(t *testing.T) {
	c := Zeroed()
	c.RetransmissionTimeout = clock.Duration(time.Second)
	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple(), ISNs: []seqnum.Value{100}}

	c.Open(instant(0), fe)
	if c.Current != StateSynSent {
		t.Fatalf("Current = %v, want SynSent", c.Current)
	}
	if c.RetransmissionTimer != instant(0) {
		t.Fatalf("RetransmissionTimer = %v, want t=0", c.RetransmissionTimer)
	}

	out := c.NextSendSegment(AvailableBytes{}, instant(3))
	if !out.HasSegment {
		t.Fatalf("expected a segment, got none")
	}
	r := out.Segment.Repr
	if r.SeqNumber != 100 {
		t.Errorf("SeqNumber = %d, want 100 (ISS)", r.SeqNumber)
	}
	if !r.Flags.Has(FlagSyn) {
		t.Errorf("expected SYN flag set")
	}
	if r.AckValid {
		t.Errorf("expected no ACK on the initial SYN")
	}
	if c.RetransmissionTimer != instant(3).Add(c.RetransmissionTimeout) {
		t.Errorf("retransmission timer was not rearmed")
	}
}

// Scenario 2: a stateless segment arriving at a Closed slot (no active
// connection) gets answered with an RST and never changes state.
func TestClosedStatelessRst(t *testing.T) {
	c := Zeroed()
	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple()}

	seg := Repr{Flags: FlagAck, AckValid: true, AckNumber: 100, SeqNumber: 50}
	sig := c.Arrives(InPacket{Segment: seg, Time: instant(0)}, fe)

	if !sig.HasAnswer {
		t.Fatalf("expected an answer segment")
	}
	if !sig.Answer.Flags.Has(FlagRst) {
		t.Errorf("answer flags = %v, want RST", sig.Answer.Flags)
	}
	if sig.Answer.SeqNumber != 100 {
		t.Errorf("answer seq = %d, want 100 (segment's ack number)", sig.Answer.SeqNumber)
	}
	if c.Current != StateClosed {
		t.Errorf("state changed to %v, want Closed unchanged", c.Current)
	}
}

// Closed with no ACK present answers RST seq=0 ack=seg.seq+len (§4.3).
func TestClosedStatelessRstNoAck(t *testing.T) {
	c := Zeroed()
	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple()}

	seg := Repr{SeqNumber: 50, PayloadLen: 4}
	sig := c.Arrives(InPacket{Segment: seg, Time: instant(0)}, fe)

	if !sig.HasAnswer {
		t.Fatalf("expected an answer segment")
	}
	if sig.Answer.SeqNumber != 0 {
		t.Errorf("answer seq = %d, want 0", sig.Answer.SeqNumber)
	}
	if !sig.Answer.AckValid || sig.Answer.AckNumber != 54 {
		t.Errorf("answer ack = %v/%d, want valid 54", sig.Answer.AckValid, sig.Answer.AckNumber)
	}
	if !sig.Answer.Flags.Has(FlagRst | FlagAck) {
		t.Errorf("answer flags = %v, want RST|ACK", sig.Answer.Flags)
	}
}

// A RST arriving at a Closed slot is dropped silently.
func TestClosedDropsRst(t *testing.T) {
	c := Zeroed()
	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple()}

	sig := c.Arrives(InPacket{Segment: Repr{Flags: FlagRst}, Time: instant(0)}, fe)
	if sig.HasAnswer || sig.Delete || sig.Reset {
		t.Errorf("expected no signals from an RST at Closed, got %+v", sig)
	}
}

// Scenario 3: a stray ACK (no SYN) at a Listen slot is answered with an
// RST and the slot stays in Listen.
func TestListenStrayAck(t *testing.T) {
	c := Zeroed()
	c.Current = StateListen
	c.Previous = StateListen
	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple()}

	seg := Repr{Flags: FlagAck, AckValid: true, AckNumber: 7}
	sig := c.Arrives(InPacket{Segment: seg, Time: instant(0)}, fe)

	if !sig.HasAnswer || !sig.Answer.Flags.Has(FlagRst) {
		t.Fatalf("expected RST answer, got %+v", sig)
	}
	if sig.Answer.SeqNumber != 7 {
		t.Errorf("answer seq = %d, want 7", sig.Answer.SeqNumber)
	}
	if c.Current != StateListen {
		t.Errorf("state = %v, want Listen unchanged", c.Current)
	}
}

// A valid SYN at Listen answers SYN|ACK (not RST, correcting the defect
// the specification calls out in §9) and transitions to SynReceived.
func TestListenAcceptsSyn(t *testing.T) {
	c := Zeroed()
	c.Current = StateListen
	c.Previous = StateListen
	c.ReceiverMSS = 1460

	tuple := fixedTuple()
	fe := &tcptest.FixedEndpoint{Tuple: tuple, ISNs: []seqnum.Value{500}}

	seg := Repr{Flags: FlagSyn, SeqNumber: 1000, SrcPort: tuple.RemotePort}
	sig := c.Arrives(InPacket{Segment: seg, From: tuple.RemoteAddr, Time: instant(0)}, fe)

	if !sig.HasAnswer {
		t.Fatalf("expected a SYN|ACK answer")
	}
	if !sig.Answer.Flags.Has(FlagSyn | FlagAck) {
		t.Errorf("answer flags = %v, want SYN|ACK (not RST)", sig.Answer.Flags)
	}
	if sig.Answer.Flags.Has(FlagRst) {
		t.Errorf("answer carries RST; the reference source's bug must not be reproduced")
	}
	if c.Current != StateSynReceived {
		t.Errorf("state = %v, want SynReceived", c.Current)
	}
	if c.Recv.Next != 1001 {
		t.Errorf("Recv.Next = %d, want 1001 (IRS+1)", c.Recv.Next)
	}
	if c.Send.InitialSeq != 500 || c.Send.Unacked != 500 || c.Send.Next != 501 {
		t.Errorf("Send state = %+v, want ISS=500, Unacked=500, Next=501", c.Send)
	}
}

// Scenario 4: three duplicate ACKs in a row raise DuplicateAck to 3 and
// cause the next egress poll to fast-retransmit from Send.Unacked.
func TestDuplicateAckEscalation(t *testing.T) {
	c := Zeroed()
	c.Current = StateEstablished
	c.Previous = StateEstablished
	c.SenderMSS = 1460
	c.Send.Unacked = 1000
	c.Send.Next = 1500
	c.Send.Window = 2000
	c.Recv.Next = 5000
	c.Recv.Window = 1000
	c.RetransmissionTimer = instant(1000) // far in the future: not due

	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple()}

	for i := 0; i < 3; i++ {
		seg := Repr{Flags: FlagAck, AckValid: true, AckNumber: 1000, SeqNumber: 5000}
		sig := c.Arrives(InPacket{Segment: seg, Time: instant(0)}, fe)
		if sig.HasAnswer || sig.Delete {
			t.Fatalf("round %d: unexpected signal %+v", i, sig)
		}
	}
	if c.DuplicateAck != 3 {
		t.Fatalf("DuplicateAck = %d, want 3", c.DuplicateAck)
	}

	out := c.NextSendSegment(AvailableBytes{Total: 500}, instant(1))
	if !out.HasSegment {
		t.Fatalf("expected a fast-retransmit segment")
	}
	if out.Segment.Repr.SeqNumber != 1000 {
		t.Errorf("retransmit seq = %d, want 1000 (Send.Unacked)", out.Segment.Repr.SeqNumber)
	}
	if out.Segment.Range.Len() != 500 {
		t.Errorf("retransmit len = %d, want 500 = min(MSS, window, available)", out.Segment.Range.Len())
	}
}

// P2: DuplicateAck is monotone non-decreasing until a genuine Updated ACK
// resets it to zero.
func TestDuplicateAckResetsOnGenuineAck(t *testing.T) {
	c := Zeroed()
	c.Current = StateEstablished
	c.Previous = StateEstablished
	c.SenderMSS = 1460
	c.Send.Unacked = 1000
	c.Send.Next = 1500
	c.Send.Window = 2000
	c.Recv.Next = 5000
	c.Recv.Window = 1000
	c.DuplicateAck = 3
	c.Flow.Ssthresh = 4000
	c.Flow.CongestionWindow = 500

	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple()}
	seg := Repr{Flags: FlagAck, AckValid: true, AckNumber: 1200, SeqNumber: 5000}
	c.Arrives(InPacket{Segment: seg, Time: instant(0)}, fe)

	if c.DuplicateAck != 0 {
		t.Errorf("DuplicateAck = %d, want 0 after a genuine update", c.DuplicateAck)
	}
	if c.Send.Unacked != 1200 {
		t.Errorf("Send.Unacked = %d, want 1200", c.Send.Unacked)
	}
	if c.Flow.CongestionWindow != c.Flow.Ssthresh {
		t.Errorf("CongestionWindow = %d, want ssthresh %d after leaving fast recovery", c.Flow.CongestionWindow, c.Flow.Ssthresh)
	}
}

// Scenario 6: a segment outside the advertised receive window (and not
// RST) gets a bare ACK answer, with no state change.
func TestUnacceptableSegment(t *testing.T) {
	c := Zeroed()
	c.Current = StateEstablished
	c.Previous = StateEstablished
	c.Recv.Next = 500
	c.Recv.Window = 100
	c.Send.Next = 1000

	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple()}
	seg := Repr{SeqNumber: 200, PayloadLen: 10}
	sig := c.Arrives(InPacket{Segment: seg, Time: instant(0)}, fe)

	if !sig.HasAnswer {
		t.Fatalf("expected a bare ACK answer")
	}
	if sig.Answer.Flags.Has(FlagRst) {
		t.Errorf("unacceptable non-RST segment must not itself trigger RST")
	}
	if sig.Answer.SeqNumber != 1000 {
		t.Errorf("answer seq = %d, want 1000 (Send.Next)", sig.Answer.SeqNumber)
	}
	if !sig.Answer.AckValid || sig.Answer.AckNumber != 500 {
		t.Errorf("answer ack = %v/%d, want valid 500", sig.Answer.AckValid, sig.Answer.AckNumber)
	}
	if c.Current != StateEstablished {
		t.Errorf("state changed to %v, want Established unchanged", c.Current)
	}
}

// An RST inside the acceptable window tears the connection down with
// Reset and Delete both set (P3: every RST path but the stateless Closed
// responder sets Delete).
func TestAcceptableRstResets(t *testing.T) {
	c := Zeroed()
	c.Current = StateEstablished
	c.Previous = StateEstablished
	c.Recv.Next = 500
	c.Recv.Window = 100

	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple()}
	seg := Repr{Flags: FlagRst, SeqNumber: 500}
	sig := c.Arrives(InPacket{Segment: seg, Time: instant(0)}, fe)

	if !sig.Reset || !sig.Delete {
		t.Fatalf("expected Reset+Delete, got %+v", sig)
	}
	if c.Current != StateClosed {
		t.Errorf("state = %v, want Closed", c.Current)
	}
}

// Scenario 5 (graceful active close): a data-bearing segment that
// completes the user's buffer with Fin set attaches the FIN flag and
// transitions Established -> FinWait; the peer's ACK and then its FIN
// drive the connection to TimeWait, which finally deletes it after 2*RTO.
func TestGracefulCloseActive(t *testing.T) {
	c := Zeroed()
	c.Current = StateEstablished
	c.Previous = StateEstablished
	c.SenderMSS = 1460
	c.Send.Unacked = 1000
	c.Send.Next = 1000
	c.Send.Window = 2000
	c.Recv.Next = 2000
	c.Recv.Window = 1000
	c.RetransmissionTimeout = clock.Duration(time.Second)
	c.RetransmissionTimer = instant(1000)

	out := c.NextSendSegment(AvailableBytes{Fin: true, Total: 50}, instant(0))
	if !out.HasSegment {
		t.Fatalf("expected the final data+FIN segment")
	}
	if !out.Segment.Repr.Flags.Has(FlagFin) {
		t.Fatalf("expected FIN flag, got %v", out.Segment.Repr.Flags)
	}
	if c.Current != StateFinWait {
		t.Fatalf("state = %v, want FinWait", c.Current)
	}
	if c.Send.Next != 1051 {
		t.Errorf("Send.Next = %d, want 1051 (50 data bytes + FIN)", c.Send.Next)
	}

	// Peer ACKs our FIN.
	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple()}
	ackSeg := Repr{Flags: FlagAck, AckValid: true, AckNumber: 1051, SeqNumber: 2000}
	sig := c.Arrives(InPacket{Segment: ackSeg, Time: instant(1)}, fe)
	if sig.HasAnswer || sig.Delete {
		t.Fatalf("unexpected signal acking our FIN: %+v", sig)
	}
	if c.Current != StateFinWait {
		t.Fatalf("state = %v, want still FinWait (peer hasn't FIN'd yet)", c.Current)
	}

	// Peer sends its own FIN, piggybacked with an ACK of ours. A FIN with
	// no payload is applied inside Arrives itself (via SetRecvAck), since
	// Arrives only hands data up to the caller when DataLen > 0.
	finSeg := Repr{Flags: FlagFin | FlagAck, AckValid: true, AckNumber: 1051, SeqNumber: 2000, PayloadLen: 0}
	sig = c.Arrives(InPacket{Segment: finSeg, Time: instant(2)}, fe)
	if sig.HasReceive || sig.HasAnswer {
		t.Fatalf("unexpected signal on the peer's zero-payload FIN: %+v", sig)
	}
	if c.Current != StateTimeWait {
		t.Fatalf("state = %v, want TimeWait", c.Current)
	}
	wantTimer := instant(2).Add(c.RetransmissionTimeout * 2)
	if c.RetransmissionTimer != wantTimer {
		t.Errorf("RetransmissionTimer = %v, want %v (2*RTO)", c.RetransmissionTimer, wantTimer)
	}

	// Before the linger expires, nothing happens but a flushed ACK.
	beforeOut := c.NextSendSegment(AvailableBytes{}, instant(2))
	if beforeOut.Delete {
		t.Fatalf("deleted before the TimeWait linger expired")
	}

	// Poll past 2*RTO: the slot is torn down.
	afterOut := c.NextSendSegment(AvailableBytes{}, wantTimer.Add(clock.Duration(time.Second)))
	if !afterOut.Delete {
		t.Fatalf("expected Delete after the TimeWait linger expired")
	}
}

// P4: SetRecvAck is idempotent when applied with the same ReceivedSegment
// twice in a row.
func TestSetRecvAckIdempotent(t *testing.T) {
	c := Zeroed()
	c.Current = StateEstablished
	c.Previous = StateEstablished
	c.Recv.Next = 1000

	rs := ReceivedSegment{DataLen: 10, Begin: 1000, Timestamp: instant(5)}
	c.SetRecvAck(rs)
	afterFirst := c.Recv.Next

	c.SetRecvAck(rs)
	if c.Recv.Next != afterFirst {
		t.Errorf("Recv.Next changed on repeated SetRecvAck: %d != %d", c.Recv.Next, afterFirst)
	}
}

// Round trip R1: a Listen endpoint handed a full three-way handshake ends
// in Established with send.unacked == ISS+1 and recv.next == peer ISS+1.
func TestRoundTripPassiveOpen(t *testing.T) {
	c := Zeroed()
	c.Current = StateListen
	c.Previous = StateListen
	c.ReceiverMSS = 1460

	tuple := fixedTuple()
	fe := &tcptest.FixedEndpoint{Tuple: tuple, ISNs: []seqnum.Value{900}}

	synSig := c.Arrives(InPacket{
		Segment: Repr{Flags: FlagSyn, SeqNumber: 300, SrcPort: tuple.RemotePort},
		From:    tuple.RemoteAddr,
		Time:    instant(0),
	}, fe)
	if !synSig.HasAnswer || !synSig.Answer.Flags.Has(FlagSyn|FlagAck) {
		t.Fatalf("expected SYN|ACK answer, got %+v", synSig)
	}

	ackSig := c.Arrives(InPacket{
		Segment: Repr{Flags: FlagAck, AckValid: true, AckNumber: 901, SeqNumber: 301},
		Time:    instant(1),
	}, fe)
	if ackSig.HasAnswer || ackSig.Delete {
		t.Fatalf("unexpected signal completing the handshake: %+v", ackSig)
	}
	if c.Current != StateEstablished {
		t.Fatalf("state = %v, want Established", c.Current)
	}
	if c.Send.Unacked != 901 {
		t.Errorf("Send.Unacked = %d, want 901 (ISS+1)", c.Send.Unacked)
	}
	if c.Recv.Next != 301 {
		t.Errorf("Recv.Next = %d, want 301 (peer ISS+1)", c.Recv.Next)
	}
}

// Round trip R2: active open reaches Established within two polls given
// the retransmission timer has already come due.
func TestRoundTripActiveOpen(t *testing.T) {
	c := Zeroed()
	c.RetransmissionTimeout = clock.Duration(time.Second)
	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple(), ISNs: []seqnum.Value{700}}

	c.Open(instant(0), fe)

	out := c.NextSendSegment(AvailableBytes{}, instant(0))
	if !out.HasSegment || !out.Segment.Repr.Flags.Has(FlagSyn) {
		t.Fatalf("expected the initial SYN, got %+v", out)
	}

	sig := c.Arrives(InPacket{
		Segment: Repr{Flags: FlagSyn | FlagAck, AckValid: true, AckNumber: 701, SeqNumber: 200},
		Time:    instant(1),
	}, fe)
	if sig.HasAnswer {
		t.Fatalf("did not expect an immediate answer (ACK is flushed on next poll): %+v", sig)
	}
	if c.Current != StateEstablished {
		t.Fatalf("state = %v, want Established", c.Current)
	}
	if c.Recv.Next != 201 {
		t.Errorf("Recv.Next = %d, want 201 (peer ISS+1)", c.Recv.Next)
	}
}

// An actively-opened connection must be able to send user data once
// Established: the peer's SYN+ACK carries its advertised window, and
// arrivesSynSent must record it in Send.Window, or mainSelector's
// sent < maxSent check can never pass.
func TestActiveOpenSendsDataAfterHandshake(t *testing.T) {
	c := Zeroed()
	c.RetransmissionTimeout = clock.Duration(time.Second)
	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple(), ISNs: []seqnum.Value{700}}

	c.Open(instant(0), fe)
	c.NextSendSegment(AvailableBytes{}, instant(0))

	sig := c.Arrives(InPacket{
		Segment: Repr{
			Flags: FlagSyn | FlagAck, AckValid: true, AckNumber: 701,
			SeqNumber: 200, WindowLen: 4000,
		},
		Time: instant(1),
	}, fe)
	if sig.HasAnswer {
		t.Fatalf("did not expect an immediate answer: %+v", sig)
	}
	if c.Current != StateEstablished {
		t.Fatalf("state = %v, want Established", c.Current)
	}
	if c.Send.Window != 4000 {
		t.Fatalf("Send.Window = %d, want 4000 (from the SYN+ACK)", c.Send.Window)
	}

	out := c.NextSendSegment(AvailableBytes{Total: 300}, instant(2))
	if !out.HasSegment {
		t.Fatalf("expected a data segment, got nothing")
	}
	if out.Segment.Repr.Flags.Has(FlagSyn) || out.Segment.Repr.Flags.Has(FlagFin) {
		t.Fatalf("unexpected flags on data segment: %+v", out.Segment.Repr.Flags)
	}
	if out.Segment.Range.Len() != 300 {
		t.Fatalf("Range.Len() = %d, want 300", out.Segment.Range.Len())
	}
	if out.Segment.Repr.SeqNumber != 701 {
		t.Fatalf("SeqNumber = %d, want 701 (ISS+1)", out.Segment.Repr.SeqNumber)
	}
}

// Same check on the simultaneous-open branch of arrivesSynSent: a bare SYN
// (no ACK) still carries the peer's window and must be recorded before the
// connection reaches Established on the subsequent ACK.
func TestSimultaneousOpenRecordsWindow(t *testing.T) {
	c := Zeroed()
	c.RetransmissionTimeout = clock.Duration(time.Second)
	fe := &tcptest.FixedEndpoint{Tuple: fixedTuple(), ISNs: []seqnum.Value{700}}

	c.Open(instant(0), fe)
	c.NextSendSegment(AvailableBytes{}, instant(0))

	sig := c.Arrives(InPacket{
		Segment: Repr{Flags: FlagSyn, SeqNumber: 200, WindowLen: 4000},
		Time:    instant(1),
	}, fe)
	if !sig.HasAnswer || !sig.Answer.Flags.Has(FlagSyn) || !sig.Answer.Flags.Has(FlagAck) {
		t.Fatalf("expected a SYN|ACK answer, got %+v", sig)
	}
	if c.Current != StateSynReceived {
		t.Fatalf("state = %v, want SynReceived", c.Current)
	}
	if c.Send.Window != 4000 {
		t.Fatalf("Send.Window = %d, want 4000 (from the peer's bare SYN)", c.Send.Window)
	}
}
