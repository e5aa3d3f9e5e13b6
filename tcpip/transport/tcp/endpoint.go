package tcp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"

	"github.com/brindlenet/ustack/clock"
	"github.com/brindlenet/ustack/seqnum"
	"github.com/brindlenet/ustack/tcpip"
)

// SlotKey is a stable, non-pointer index into the Endpoint's connection
// array. It survives table growth and remains valid until the slot it
// names is removed; holding one past removal is a caller error (the
// Operator methods that re-resolve a key will report ErrIllegal rather
// than panic on remote input, matching §5/§7's "no panics on remote
// input, only on key misuse").
type SlotKey int

const invalidSlotKey SlotKey = -1

// slotKind distinguishes a listener slot (matched by local address/port
// only) from an active connection slot (matched by the full four-tuple).
type slotKind int

const (
	slotListener slotKind = iota
	slotActive
)

// Slot owns one Connection plus the FourTuple identifying it.
type Slot struct {
	Tuple tcpip.FourTuple
	Kind  slotKind
	Conn  Connection
	inUse bool
}

type listenKey struct {
	addr tcpip.Address
	port uint16
}

// Endpoint owns the fixed-capacity slot array, the tuple→slot index, the
// listener index, the ephemeral port bitmap, and the ISN key. All storage
// is allocated once at construction; Listen/Open/SourcePort report
// ErrExhausted (via a false second return) rather than growing anything.
type Endpoint struct {
	cfg tcpip.Config

	slots    []Slot
	freeList []SlotKey

	tupleIndex  map[tcpip.FourTuple]SlotKey
	listenIndex map[listenKey]SlotKey
	usedPorts   map[uint16]bool

	isnKey   [32]byte
	epoch    clock.Instant
	epochSet bool
}

// NewEndpoint validates cfg and builds an Endpoint with cfg.MaxSlots
// pre-allocated (but empty) slots.
func NewEndpoint(cfg tcpip.Config) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Endpoint{
		cfg:         cfg,
		slots:       make([]Slot, cfg.MaxSlots),
		freeList:    make([]SlotKey, 0, cfg.MaxSlots),
		tupleIndex:  make(map[tcpip.FourTuple]SlotKey),
		listenIndex: make(map[listenKey]SlotKey),
		usedPorts:   make(map[uint16]bool),
	}
	for i := cfg.MaxSlots - 1; i >= 0; i-- {
		e.freeList = append(e.freeList, SlotKey(i))
	}
	if _, err := rand.Read(e.isnKey[:]); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Endpoint) allocSlot() (SlotKey, bool) {
	if len(e.freeList) == 0 {
		return invalidSlotKey, false
	}
	key := e.freeList[len(e.freeList)-1]
	e.freeList = e.freeList[:len(e.freeList)-1]
	return key, true
}

// Get returns the slot named by key, if it's currently in use.
func (e *Endpoint) Get(key SlotKey) (*Slot, bool) {
	if key < 0 || int(key) >= len(e.slots) || !e.slots[key].inUse {
		return nil, false
	}
	return &e.slots[key], true
}

// Listen allocates a listener slot bound to (ip, port).
func (e *Endpoint) Listen(ip tcpip.Address, port uint16) (SlotKey, bool) {
	lk := listenKey{ip, port}
	if _, exists := e.listenIndex[lk]; exists {
		return invalidSlotKey, false
	}
	key, ok := e.allocSlot()
	if !ok {
		return invalidSlotKey, false
	}

	tuple := tcpip.FourTuple{LocalAddr: ip, LocalPort: port}
	e.slots[key] = Slot{
		Tuple: tuple,
		Kind:  slotListener,
		Conn:  e.newConnection(),
		inUse: true,
	}
	e.slots[key].Conn.Current = StateListen
	e.slots[key].Conn.Previous = StateListen
	e.listenIndex[lk] = key
	return key, true
}

// Open allocates an active slot for an outbound connection identified by
// tuple. The caller must still call Connection.Open (via Operator.Open) to
// drive it from Closed to SynSent.
func (e *Endpoint) Open(tuple tcpip.FourTuple) (SlotKey, bool) {
	if _, exists := e.tupleIndex[tuple]; exists {
		return invalidSlotKey, false
	}
	key, ok := e.allocSlot()
	if !ok {
		return invalidSlotKey, false
	}

	e.slots[key] = Slot{
		Tuple: tuple,
		Kind:  slotActive,
		Conn:  e.newConnection(),
		inUse: true,
	}
	e.tupleIndex[tuple] = key
	return key, true
}

// Remove reclaims key's slot, removing it from whichever index it was
// filed under.
func (e *Endpoint) Remove(key SlotKey) {
	slot, ok := e.Get(key)
	if !ok {
		return
	}
	switch slot.Kind {
	case slotListener:
		delete(e.listenIndex, listenKey{slot.Tuple.LocalAddr, slot.Tuple.LocalPort})
	case slotActive:
		delete(e.tupleIndex, slot.Tuple)
	}
	if slot.Tuple.RemotePort != 0 {
		delete(e.usedPorts, slot.Tuple.LocalPort)
	}
	e.slots[key] = Slot{}
	e.freeList = append(e.freeList, key)
}

// FindTuple looks up the slot matching tuple exactly. If none exists but a
// listener is bound to tuple's local address and port, that listener's key
// is returned with isListener set — the caller (Operator.Arrives) decides
// whether to accept a new connection on it.
func (e *Endpoint) FindTuple(tuple tcpip.FourTuple) (key SlotKey, isListener bool, ok bool) {
	if k, exists := e.tupleIndex[tuple]; exists {
		return k, false, true
	}
	if k, exists := e.listenIndex[listenKey{tuple.LocalAddr, tuple.LocalPort}]; exists {
		return k, true, true
	}
	return invalidSlotKey, false, false
}

// SourcePort allocates an unused ephemeral port in the configured range.
func (e *Endpoint) SourcePort(remote tcpip.Address) (uint16, bool) {
	lo, hi := e.cfg.EphemeralPortLow, e.cfg.EphemeralPortHigh
	for p := lo; ; p++ {
		if !e.usedPorts[p] {
			e.usedPorts[p] = true
			return p, true
		}
		if p == hi {
			break
		}
	}
	return 0, false
}

// InitialSeqNum implements RFC 6528's keyed-hash ISN generation: a secret
// key mixed with the connection's identity and a coarse time epoch via
// HMAC-SHA256, so ISNs are unpredictable across four-tuples at a fixed
// instant without needing per-connection randomness. There is no
// third-party hashing/HMAC library anywhere in the retrieval pack (the
// teacher draws its ISN from crypto/rand directly, which doesn't meet
// RFC 6528's "keyed hash of the identity" requirement on its own), so this
// uses crypto/hmac and crypto/sha256 directly.
func (e *Endpoint) InitialSeqNum(tuple tcpip.FourTuple, now clock.Instant) seqnum.Value {
	if !e.epochSet {
		e.epoch = now
		e.epochSet = true
	}

	mac := hmac.New(sha256.New, e.isnKey[:])
	mac.Write([]byte(tuple.LocalAddr))
	mac.Write([]byte(tuple.RemoteAddr))
	var portBuf [4]byte
	binary.BigEndian.PutUint16(portBuf[0:2], tuple.LocalPort)
	binary.BigEndian.PutUint16(portBuf[2:4], tuple.RemotePort)
	mac.Write(portBuf[:])

	sum := mac.Sum(nil)
	hashed := binary.BigEndian.Uint32(sum[:4])

	// RFC 6528's clock term: a coarse (4 microsecond) tick count measured
	// from this Endpoint's first observed Instant (the zero clock.Instant
	// wraps the zero time.Time, and subtracting from it saturates
	// time.Duration instead of advancing), so the ISN still advances
	// roughly monotonically within one four-tuple across repeated
	// connections, as real stacks rely on for recycled connections to not
	// immediately collide with a lingering TimeWait.
	tick := uint32(now.Sub(e.epoch) / (4 * 1000))

	return seqnum.Value(hashed + tick)
}

func (e *Endpoint) newConnection() Connection {
	c := Zeroed()
	c.ReceiverMSS = e.cfg.MinMSS
	c.Recv.WindowScale = e.cfg.MaxWindowScale
	c.RetransmissionTimeout = clock.Duration(e.cfg.MinRTO)
	c.RestartTimeout = clock.Duration(e.cfg.MinRTO)
	return c
}

// entry implements EntryKey for a live slot, bridging Connection's narrow
// capability requirement back to the Endpoint for the duration of one
// Operator call.
type entry struct {
	ep  *Endpoint
	key SlotKey
}

func (en *entry) FourTuple() tcpip.FourTuple {
	slot, ok := en.ep.Get(en.key)
	if !ok {
		return tcpip.FourTuple{}
	}
	return slot.Tuple
}

func (en *entry) SetFourTuple(t tcpip.FourTuple) {
	slot, ok := en.ep.Get(en.key)
	if !ok {
		return
	}
	old := slot.Tuple
	slot.Tuple = t
	slot.Kind = slotActive
	delete(en.ep.listenIndex, listenKey{old.LocalAddr, old.LocalPort})
	en.ep.tupleIndex[t] = en.key
}

func (en *entry) InitialSeqNum(now clock.Instant) seqnum.Value {
	return en.ep.InitialSeqNum(en.FourTuple(), now)
}
