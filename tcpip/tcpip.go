// Package tcpip holds the address and error types shared by the transport
// layer and its callers: the stack's own identity types (Address,
// FourTuple), the error taxonomy at the core boundary (Error, and the
// Illegal/Exhausted/Unreachable kinds), and the construction-time Config
// the Endpoint is built from.
package tcpip

import (
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
)

// Address is a variable-length network-layer address (4 bytes for IPv4, 16
// for IPv6). Its format is opaque to the transport layer: it is compared
// only for equality and carried in a FourTuple.
type Address string

// FourTuple identifies a connection: the pair of endpoints a TCP segment
// flows between. It is the connection's identity once Established, and the
// key used to demultiplex inbound segments to a slot.
type FourTuple struct {
	LocalAddr  Address
	RemoteAddr Address
	LocalPort  uint16
	RemotePort uint16
}

// Error is a typed sentinel returned by value from core boundary calls,
// never an `error` built from a dynamic message: the core is a library
// without panics on remote input, and the three kinds below are the only
// ways a caller-visible failure can occur (PacketDropped is not caller
// visible; it is a counter increment in the metrics package).
type Error int

const (
	// ErrNone indicates no error.
	ErrNone Error = iota
	// ErrIllegal is a protocol violation by the caller: e.g. Open on a
	// connection that isn't Closed or Listen.
	ErrIllegal
	// ErrExhausted means no free slot or ephemeral port was available.
	ErrExhausted
	// ErrUnreachable is a routing failure; it belongs to the IP layer and
	// is only defined here so callers can propagate it through the same
	// Error type.
	ErrUnreachable
)

func (e Error) String() string {
	switch e {
	case ErrNone:
		return "no error"
	case ErrIllegal:
		return "illegal operation"
	case ErrExhausted:
		return "resource exhausted"
	case ErrUnreachable:
		return "destination unreachable"
	default:
		return "unknown error"
	}
}

func (e Error) Error() string { return e.String() }

// Config bounds an Endpoint's table at construction time: slot capacity,
// ephemeral port range, MSS bounds and retransmission timeout bounds. All
// tables the core uses are fixed-capacity and caller-provided; nothing here
// is re-sized after Validate succeeds.
type Config struct {
	// MaxSlots is the fixed capacity of the connection table.
	MaxSlots int
	// EphemeralPortLow/High bound the ports handed out by source_port.
	EphemeralPortLow, EphemeralPortHigh uint16
	// MinMSS is the MSS new connections advertise in their own SYN and
	// SYN+ACK; it must be at least 536 (RFC 1122). It is not applied to
	// the peer's advertised MSS, whose floor is fixed at 536.
	MinMSS uint16
	// MaxWindowScale is the window scale new connections advertise for
	// their own receive window; it must be at most 14 (RFC 1323). It is not
	// applied to the peer's window scale, whose ceiling is fixed at 14.
	MaxWindowScale uint8
	// MinRTO/MaxRTO bound the retransmission timeout.
	MinRTO, MaxRTO Duration
}

// Duration mirrors clock.Duration without importing it, to keep this
// package free of a dependency on the clock package's Instant type; the
// transport package converts at its own boundary.
type Duration int64

// Validate checks Config for internal consistency, aggregating every
// violation found rather than stopping at the first, so a caller
// misconfiguring several fields sees the whole list at once.
func (c Config) Validate() error {
	var errs *multierror.Error

	if c.MaxSlots <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("MaxSlots must be positive, got %d", c.MaxSlots))
	}
	if c.EphemeralPortLow == 0 || c.EphemeralPortHigh == 0 {
		errs = multierror.Append(errs, fmt.Errorf("ephemeral port range must be nonzero"))
	}
	if c.EphemeralPortLow > c.EphemeralPortHigh {
		errs = multierror.Append(errs, fmt.Errorf("ephemeral port range [%d, %d] is inverted", c.EphemeralPortLow, c.EphemeralPortHigh))
	}
	if c.MinMSS < 536 {
		errs = multierror.Append(errs, fmt.Errorf("MinMSS must be at least 536 per RFC 1122, got %d", c.MinMSS))
	}
	if c.MaxWindowScale > 14 {
		errs = multierror.Append(errs, fmt.Errorf("MaxWindowScale must be at most 14 per RFC 1323, got %d", c.MaxWindowScale))
	}
	if c.MinRTO <= 0 || c.MaxRTO < c.MinRTO {
		errs = multierror.Append(errs, fmt.Errorf("RTO bounds [%d, %d] are invalid", c.MinRTO, c.MaxRTO))
	}

	if errs != nil {
		return errs.ErrorOrNil()
	}
	return nil
}
