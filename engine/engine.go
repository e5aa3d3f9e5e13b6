// Package engine is an optional, goroutine-driven convenience wrapper
// around the synchronous tcp core for callers who'd rather hand the stack
// a channel of inbound segments and a callback for outbound ones than
// drive Operator.Arrives/NextSendSegment from their own poll loop.
//
// The TCP core itself stays single-threaded and non-blocking, exactly as
// specified: nothing in this package runs inside Connection/Operator. This
// package only adapts the teacher's own sleep.Sleeper/Waker multi-source
// wake-up primitive and protocolMainLoop shape, driving the synchronous
// core from the outside instead of holding any state the core cares about.
package engine

import (
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/brindlenet/ustack/clock"
	"github.com/brindlenet/ustack/metrics"
	"github.com/brindlenet/ustack/sleep"
	"github.com/brindlenet/ustack/tcpip"
	"github.com/brindlenet/ustack/tcpip/transport/tcp"
)

// The wakers a Conn's sleeper listens on. Renamed from the teacher's
// wakerForNotification/wakerForNewSegment/wakerForResend to this module's
// own event set, which has no notion of a separate handshake phase: Arrives
// and NextSendSegment both run through the same two wakers regardless of
// connection state.
const (
	wakerIngress = iota
	wakerPoke
	wakerClose
)

// SegmentSender receives a segment the engine wants placed on the wire. It
// is the caller's responsibility to encode it (e.g. via the wire package)
// and hand it to the link layer.
type SegmentSender func(tcp.Segment)

// AvailableSource reports what the user's send buffer currently looks
// like, the same contract NextSendSegment takes directly.
type AvailableSource func() tcp.AvailableBytes

// Clock reads the current time as a clock.Instant.
type Clock func() clock.Instant

// Conn drives one connection's Operator from its own goroutine.
type Conn struct {
	id  xid.ID
	op  tcp.Operator
	now Clock

	avail AvailableSource
	send  SegmentSender

	metrics *metrics.Metrics
	log     *logrus.Entry

	ingress      chan tcp.InPacket
	ingressWaker sleep.Waker
	pokeWaker    sleep.Waker
	closeWaker   sleep.Waker

	timer *time.Timer
	done  chan struct{}
}

// NewConn wraps op. m and log may both be nil.
func NewConn(op tcp.Operator, now Clock, avail AvailableSource, send SegmentSender, m *metrics.Metrics, log *logrus.Entry) *Conn {
	c := &Conn{
		id:      xid.New(),
		op:      op,
		now:     now,
		avail:   avail,
		send:    send,
		metrics: m,
		ingress: make(chan tcp.InPacket, 32),
		done:    make(chan struct{}),
	}
	if log != nil {
		c.log = log.WithField("conn", c.id.String())
	}
	if m != nil {
		m.SlotOpened()
	}
	return c
}

// ID returns the engine-assigned trace identifier for this connection,
// suitable for correlating log lines across its lifetime.
func (c *Conn) ID() xid.ID { return c.id }

// Enqueue hands an inbound segment to the connection's goroutine.
func (c *Conn) Enqueue(pkt tcp.InPacket) {
	select {
	case c.ingress <- pkt:
		c.ingressWaker.Assert()
	case <-c.done:
	}
}

// Poke asks the connection to re-run NextSendSegment on its next wake-up,
// e.g. because the caller just appended to its send buffer.
func (c *Conn) Poke() {
	c.pokeWaker.Assert()
}

// Close stops the connection's goroutine without waiting for the
// underlying state machine to reach Closed.
func (c *Conn) Close() {
	c.closeWaker.Assert()
}

// Run is the connection's main loop; it blocks until Close is called or
// the state machine itself signals deletion. Callers should run it in its
// own goroutine.
func (c *Conn) Run() {
	defer close(c.done)
	defer func() {
		if c.metrics != nil {
			c.metrics.SlotClosed()
		}
	}()

	s := sleep.Sleeper{}
	s.AddWaker(&c.ingressWaker, wakerIngress)
	s.AddWaker(&c.pokeWaker, wakerPoke)
	s.AddWaker(&c.closeWaker, wakerClose)
	defer s.Done()

	c.rearm()
	defer func() {
		if c.timer != nil {
			c.timer.Stop()
		}
	}()

	for {
		switch id, _ := s.Fetch(true); id {
		case wakerIngress:
			if !c.drainIngress() {
				return
			}
		case wakerPoke:
			if !c.poll() {
				return
			}
		case wakerClose:
			c.op.Delete()
			return
		}
		c.rearm()
	}
}

func (c *Conn) drainIngress() bool {
	for {
		select {
		case pkt := <-c.ingress:
			sig, cerr := c.op.Arrives(pkt)
			if cerr != tcpip.ErrNone {
				return false
			}
			if sig.Reset && c.metrics != nil {
				c.metrics.Reset(c.id.String())
			}
			if sig.HasAnswer {
				c.send(tcp.Segment{Repr: sig.Answer})
			}
			if sig.Delete {
				return false
			}
		default:
			return true
		}
	}
}

func (c *Conn) poll() bool {
	out, cerr := c.op.NextSendSegment(c.avail(), c.now())
	if cerr != tcpip.ErrNone {
		return false
	}
	if out.HasSegment {
		c.send(out.Segment)
	}
	if out.Delete {
		return false
	}
	return true
}

// rearm schedules the next wake-up at the connection's earliest pending
// timer, adapting the teacher's execute()-style single resend timer to
// this package's merged ack/retransmit deadline.
func (c *Conn) rearm() {
	deadline, cerr := c.op.Deadline()
	if cerr != tcpip.ErrNone || deadline.IsNever() {
		if c.timer != nil {
			c.timer.Stop()
		}
		return
	}

	d := deadline.Instant().Sub(c.now())
	if d < 0 {
		d = 0
	}
	wait := time.Duration(d)
	if wait <= 0 {
		wait = time.Millisecond
	}

	if c.timer == nil {
		c.timer = time.AfterFunc(wait, c.pokeWaker.Assert)
	} else {
		c.timer.Reset(wait)
	}
}
