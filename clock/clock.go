// Package clock provides the monotonic time abstractions the TCP core uses
// instead of time.Timer/time.AfterFunc: an Instant is a point in time, a
// Duration a span, and an Expiration is either Never or a specific Instant.
//
// The core never sleeps or blocks on these types; it only ever compares a
// caller-supplied Instant against state recorded on a previous call.
package clock

import "time"

// Instant is a monotonic point in time, as supplied by the caller on every
// poll. The core never reads the wall clock itself.
type Instant struct {
	t time.Time
}

// Now wraps t as an Instant. Callers typically pass time.Now(), but any
// monotonic source works; the core only ever compares Instants to each
// other.
func Now(t time.Time) Instant {
	return Instant{t: t}
}

// Add returns the Instant d later than i.
func (i Instant) Add(d Duration) Instant {
	return Instant{t: i.t.Add(time.Duration(d))}
}

// Before reports whether i is strictly before j.
func (i Instant) Before(j Instant) bool {
	return i.t.Before(j.t)
}

// After reports whether i is strictly after j.
func (i Instant) After(j Instant) bool {
	return i.t.After(j.t)
}

// Sub returns the Duration elapsed between j and i (i - j).
func (i Instant) Sub(j Instant) Duration {
	return Duration(i.t.Sub(j.t))
}

// Duration is a span of time.
type Duration time.Duration

// Expiration is either Never (+infinity) or a specific Instant.
type Expiration struct {
	never bool
	when  Instant
}

// Never is the expiration that never fires.
func Never() Expiration {
	return Expiration{never: true}
}

// When returns an Expiration that fires at the given Instant.
func When(i Instant) Expiration {
	return Expiration{when: i}
}

// IsNever reports whether e is the Never expiration.
func (e Expiration) IsNever() bool {
	return e.never
}

// Instant returns the Instant e fires at. Only valid when !e.IsNever().
func (e Expiration) Instant() Instant {
	return e.when
}

// Due reports whether e has expired at or before now. Never is never due.
func (e Expiration) Due(now Instant) bool {
	if e.never {
		return false
	}
	return !e.when.After(now)
}

// Min returns the earlier of two expirations, treating Never as +infinity.
func Min(a, b Expiration) Expiration {
	if a.never {
		return b
	}
	if b.never {
		return a
	}
	if a.when.Before(b.when) {
		return a
	}
	return b
}
