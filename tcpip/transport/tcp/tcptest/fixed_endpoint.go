// Package tcptest provides a minimal tcp.EntryKey test double, grounded in
// ethox's own `NoRemap` test harness: it panics if SetFourTuple is ever
// called with a tuple different from the one it was built with, so a test
// that only means to exercise a single already-identified connection fails
// loudly if it accidentally exercises the Listen-accept remap path instead.
package tcptest

import (
	"fmt"

	"github.com/brindlenet/ustack/clock"
	"github.com/brindlenet/ustack/seqnum"
	"github.com/brindlenet/ustack/tcpip"
)

// FixedEndpoint implements tcp.EntryKey for exactly one, unchanging
// FourTuple, with a scripted sequence of ISNs to hand out.
type FixedEndpoint struct {
	Tuple tcpip.FourTuple
	ISNs  []seqnum.Value

	next int
}

// FourTuple returns the fixed tuple.
func (f *FixedEndpoint) FourTuple() tcpip.FourTuple { return f.Tuple }

// SetFourTuple panics unless t equals the fixed tuple.
func (f *FixedEndpoint) SetFourTuple(t tcpip.FourTuple) {
	if t != f.Tuple {
		panic(fmt.Sprintf("tcptest.FixedEndpoint: unexpected remap to %+v", t))
	}
}

// InitialSeqNum returns the next scripted ISN, or zero if the script is
// exhausted.
func (f *FixedEndpoint) InitialSeqNum(now clock.Instant) seqnum.Value {
	if f.next >= len(f.ISNs) {
		return 0
	}
	v := f.ISNs[f.next]
	f.next++
	return v
}
