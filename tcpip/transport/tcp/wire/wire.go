// Package wire turns a tcp.Repr into real TCP header bytes and back. The
// core transport package treats wire encoding as "assumed available as a
// parsing library" and never imports it; this package is that library,
// wired to gvisor.dev/gvisor/pkg/tcpip/header so the Repr type has a real,
// exercised serialization path at the boundary the core leaves external.
package wire

import (
	"encoding/binary"

	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/brindlenet/ustack/seqnum"
	"github.com/brindlenet/ustack/tcpip/transport/tcp"
)

// Decode parses raw TCP header bytes (header.TCP's own format) into a
// tcp.Repr, including the MSS/window-scale/SACK-permitted options this
// stack negotiates.
func Decode(b []byte) (tcp.Repr, bool) {
	if len(b) < header.TCPMinimumSize {
		return tcp.Repr{}, false
	}
	h := header.TCP(b)

	r := tcp.Repr{
		SrcPort:    h.SourcePort(),
		DstPort:    h.DestinationPort(),
		SeqNumber:  seqnum.Value(h.SequenceNumber()),
		WindowLen:  h.WindowSize(),
		PayloadLen: uint32(len(b)) - uint32(h.DataOffset()),
	}
	r.Flags = flagsFromWire(h.Flags())
	if r.Flags.Has(tcp.FlagAck) {
		r.AckValid = true
		r.AckNumber = seqnum.Value(h.AckNumber())
	}

	opts := h.Options()
	parseOptions(&r, opts)

	return r, true
}

// Encode renders a tcp.Repr (plus an optional payload, already sliced by
// the caller from its own send buffer per the Range contract) into header
// bytes ready for the IP layer to prepend.
func Encode(r tcp.Repr, payload []byte) []byte {
	var opts []byte
	if r.MaxSegSizeValid {
		opts = append(opts, header.TCPOptionMSS, 4, byte(r.MaxSegSize>>8), byte(r.MaxSegSize))
	}
	if r.WindowScaleValid {
		opts = append(opts, header.TCPOptionWS, 3, byte(r.WindowScale), header.TCPOptionNOP)
	}
	if r.SackPermitted {
		opts = append(opts, header.TCPOptionSACKPermitted, 2)
	}
	for len(opts)%4 != 0 {
		opts = append(opts, header.TCPOptionNOP)
	}

	dataOffset := header.TCPMinimumSize + len(opts)
	buf := make([]byte, dataOffset+len(payload))
	h := header.TCP(buf)
	h.Encode(&header.TCPFields{
		SrcPort:    r.SrcPort,
		DstPort:    r.DstPort,
		SeqNum:     uint32(r.SeqNumber),
		AckNum:     uint32(r.AckNumber),
		DataOffset: uint8(dataOffset),
		Flags:      wireFromFlags(r.Flags),
		WindowSize: r.WindowLen,
	})
	copy(buf[header.TCPMinimumSize:], opts)
	copy(buf[dataOffset:], payload)

	return buf
}

func flagsFromWire(f uint8) tcp.Flags {
	var out tcp.Flags
	if f&header.TCPFlagFin != 0 {
		out |= tcp.FlagFin
	}
	if f&header.TCPFlagSyn != 0 {
		out |= tcp.FlagSyn
	}
	if f&header.TCPFlagRst != 0 {
		out |= tcp.FlagRst
	}
	if f&header.TCPFlagPsh != 0 {
		out |= tcp.FlagPsh
	}
	if f&header.TCPFlagAck != 0 {
		out |= tcp.FlagAck
	}
	if f&header.TCPFlagUrg != 0 {
		out |= tcp.FlagUrg
	}
	return out
}

func wireFromFlags(f tcp.Flags) uint8 {
	var out uint8
	if f.Has(tcp.FlagFin) {
		out |= header.TCPFlagFin
	}
	if f.Has(tcp.FlagSyn) {
		out |= header.TCPFlagSyn
	}
	if f.Has(tcp.FlagRst) {
		out |= header.TCPFlagRst
	}
	if f.Has(tcp.FlagPsh) {
		out |= header.TCPFlagPsh
	}
	if f.Has(tcp.FlagAck) {
		out |= header.TCPFlagAck
	}
	if f.Has(tcp.FlagUrg) {
		out |= header.TCPFlagUrg
	}
	return out
}

// parseOptions reads MSS, Window Scale, and SACK-Permitted, the only
// options this stack negotiates. Unrecognized options are skipped, not
// rejected: a segment carrying e.g. Timestamps must still parse.
func parseOptions(r *tcp.Repr, opts []byte) {
	i := 0
	for i < len(opts) {
		switch opts[i] {
		case header.TCPOptionEOL:
			return
		case header.TCPOptionNOP:
			i++
		case header.TCPOptionMSS:
			if i+4 > len(opts) {
				return
			}
			r.MaxSegSize = binary.BigEndian.Uint16(opts[i+2 : i+4])
			r.MaxSegSizeValid = true
			i += 4
		case header.TCPOptionWS:
			if i+3 > len(opts) {
				return
			}
			r.WindowScale = opts[i+2]
			r.WindowScaleValid = true
			i += 3
		case header.TCPOptionSACKPermitted:
			r.SackPermitted = true
			i += 2
		default:
			if i+2 > len(opts) {
				return
			}
			l := int(opts[i+1])
			if l < 2 || i+l > len(opts) {
				return
			}
			i += l
		}
	}
}
