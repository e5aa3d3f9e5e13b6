package tcp

// Flow holds the TCP Reno congestion-control state: slow start / congestion
// avoidance / fast recovery per RFC 5681.
type Flow struct {
	// Ssthresh is the slow-start threshold.
	Ssthresh uint32
	// CongestionWindow is cwnd, in bytes.
	CongestionWindow uint32
	// Recover is the sequence number that must be acknowledged to leave
	// fast recovery.
	Recover uint32
}

// RestartWindow implements the RFC 5681 §4.1 idle-restart rule: if the
// connection has been idle longer than the restart timeout, cwnd is capped
// back down to the current send window so a long-idle connection doesn't
// resume at a stale, possibly oversized cwnd.
func (f *Flow) RestartWindow(sendWindowBytes uint32) {
	if f.CongestionWindow > sendWindowBytes {
		f.CongestionWindow = sendWindowBytes
	}
}

// WindowUpdate applies RFC 5681's congestion-window growth rule to a
// genuine ACK that advanced SND.UNA by newBytes. wasFastRecovery indicates
// the connection had accumulated duplicate ACKs (duplicate_ack > 0) before
// this ACK landed.
func (f *Flow) WindowUpdate(wasFastRecovery bool, newBytes, mss uint32) {
	switch {
	case wasFastRecovery:
		f.CongestionWindow = f.Ssthresh
	case f.CongestionWindow <= f.Ssthresh:
		// Slow start: cwnd doubles on every genuine ACK, saturating
		// rather than overflowing.
		doubled := f.CongestionWindow + f.CongestionWindow
		if doubled < f.CongestionWindow {
			doubled = ^uint32(0)
		}
		f.CongestionWindow = doubled
	default:
		// Congestion avoidance: grow by min(MSS, newBytes) on every
		// genuine ACK (RFC 5681's anti-ACK-splitting clause caps the
		// increment at one MSS rather than newBytes), saturating.
		inc := newBytes
		if mss < inc {
			inc = mss
		}
		grown := f.CongestionWindow + inc
		if grown < f.CongestionWindow {
			grown = ^uint32(0)
		}
		f.CongestionWindow = grown
	}
}
