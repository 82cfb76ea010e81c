// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package timestamp implements the uniform-clock and explicit-timestamp-list
// sampling key abstractions shared by every correlated block, along with
// their conversion to and from the wire's 64-bit nanosecond scalar.
package timestamp

import "fmt"

const nanosPerSecond int64 = 1_000_000_000

// Timestamp is an epoch-seconds/nanosecond-offset pair. Nanos is always in
// [0, nanosPerSecond); overflow during arithmetic carries into Seconds.
type Timestamp struct {
	Seconds int64
	Nanos   int64
}

// Compare returns -1, 0 or 1 as t orders before, equal to, or after other.
func (t Timestamp) Compare(other Timestamp) int {
	if t.Seconds != other.Seconds {
		if t.Seconds < other.Seconds {
			return -1
		}
		return 1
	}
	switch {
	case t.Nanos < other.Nanos:
		return -1
	case t.Nanos > other.Nanos:
		return 1
	default:
		return 0
	}
}

// Before reports whether t orders strictly before other.
func (t Timestamp) Before(other Timestamp) bool { return t.Compare(other) < 0 }

// ToNanos converts t to a 64-bit nanosecond scalar. Total on the
// representable range: callers that need the full int64 epoch-seconds range
// will overflow, same as the wire's own nanosecond scalar.
func (t Timestamp) ToNanos() int64 {
	return t.Seconds*nanosPerSecond + t.Nanos
}

// FromNanos is the inverse of ToNanos: fromNanos(toNanos(t)) == t for any
// representable Timestamp (spec.md invariant 4).
func FromNanos(nanos int64) Timestamp {
	secs := nanos / nanosPerSecond
	rem := nanos % nanosPerSecond
	if rem < 0 {
		rem += nanosPerSecond
		secs--
	}
	return Timestamp{Seconds: secs, Nanos: rem}
}

// addNanos returns t advanced by delta nanoseconds, saturating the
// nanosecond overflow by carrying into Seconds (spec.md §4.1).
func addNanos(t Timestamp, delta int64) Timestamp {
	total := t.Nanos + delta
	carry := total / nanosPerSecond
	rem := total % nanosPerSecond
	if rem < 0 {
		rem += nanosPerSecond
		carry--
	}
	return Timestamp{Seconds: t.Seconds + carry, Nanos: rem}
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%09ds", t.Seconds, t.Nanos)
}

// UniformClock describes Count samples spaced PeriodNanos apart, starting
// at Start. Invariant: Count >= 1, PeriodNanos >= 1.
type UniformClock struct {
	Start       Timestamp
	PeriodNanos int64
	Count       int
}

// Timestamps is total: it never allocates fewer than Count timestamps.
func (c UniformClock) Timestamps() []Timestamp {
	out := make([]Timestamp, c.Count)
	for i := 0; i < c.Count; i++ {
		out[i] = addNanos(c.Start, int64(i)*c.PeriodNanos)
	}
	return out
}

// Domain returns [t_0, t_{count-1}].
func (c UniformClock) Domain() (first, last Timestamp) {
	if c.Count == 0 {
		return c.Start, c.Start
	}
	return c.Start, addNanos(c.Start, int64(c.Count-1)*c.PeriodNanos)
}

// Valid checks the UniformClock invariants (Count >= 1, PeriodNanos >= 1).
func (c UniformClock) Valid() bool {
	return c.Count >= 1 && c.PeriodNanos >= 1
}

// TimestampList is an ordered, finite, strictly increasing sequence of
// Timestamps.
type TimestampList struct {
	Values []Timestamp
}

// Timestamps returns a copy of the underlying sequence.
func (l TimestampList) Timestamps() []Timestamp {
	out := make([]Timestamp, len(l.Values))
	copy(out, l.Values)
	return out
}

// Domain returns [first, last]; both zero-value if the list is empty.
func (l TimestampList) Domain() (first, last Timestamp) {
	if len(l.Values) == 0 {
		return Timestamp{}, Timestamp{}
	}
	return l.Values[0], l.Values[len(l.Values)-1]
}

// Valid checks the strictly-increasing invariant.
func (l TimestampList) Valid() bool {
	for i := 1; i < len(l.Values); i++ {
		if !l.Values[i-1].Before(l.Values[i]) {
			return false
		}
	}
	return true
}

// SamplingKeyTag distinguishes the two SamplingKey variants.
type SamplingKeyTag int

const (
	// TagClock marks a SamplingKey backed by a UniformClock.
	TagClock SamplingKeyTag = iota
	// TagList marks a SamplingKey backed by a TimestampList.
	TagList
)

// SamplingKey is the tagged union `Clock(UniformClock) | List(TimestampList)`
// from spec.md §3.
type SamplingKey struct {
	Tag   SamplingKeyTag
	Clock UniformClock
	List  TimestampList
}

// NewClockKey builds a clock-backed SamplingKey.
func NewClockKey(c UniformClock) SamplingKey {
	return SamplingKey{Tag: TagClock, Clock: c}
}

// NewListKey builds a list-backed SamplingKey.
func NewListKey(l TimestampList) SamplingKey {
	return SamplingKey{Tag: TagList, List: l}
}

// SampleCount returns the number of samples this key describes.
func (k SamplingKey) SampleCount() int {
	if k.Tag == TagClock {
		return k.Clock.Count
	}
	return len(k.List.Values)
}

// Domain returns [t_first, t_last] for this key (TimestampModel.domainOf).
func (k SamplingKey) Domain() (first, last Timestamp) {
	if k.Tag == TagClock {
		return k.Clock.Domain()
	}
	return k.List.Domain()
}

// StartTime is the ordering key for CorrelatedSet (spec.md §4.4).
func (k SamplingKey) StartTime() Timestamp {
	first, _ := k.Domain()
	return first
}

// Valid checks the per-variant invariants.
func (k SamplingKey) Valid() bool {
	if k.Tag == TagClock {
		return k.Clock.Valid()
	}
	return k.List.Valid()
}

// Timestamps materializes the full sample timestamp sequence for this key.
func (k SamplingKey) Timestamps() []Timestamp {
	if k.Tag == TagClock {
		return k.Clock.Timestamps()
	}
	return k.List.Timestamps()
}

// KeysEquivalent implements TimestampModel.keysEquivalent: exact-field
// equality for clocks, length+pairwise equality for lists; cross-tag pairs
// are never equivalent.
func KeysEquivalent(a, b SamplingKey) bool {
	if a.Tag != b.Tag {
		return false
	}
	if a.Tag == TagClock {
		return a.Clock.Start == b.Clock.Start &&
			a.Clock.PeriodNanos == b.Clock.PeriodNanos &&
			a.Clock.Count == b.Clock.Count
	}
	if len(a.List.Values) != len(b.List.Values) {
		return false
	}
	for i := range a.List.Values {
		if a.List.Values[i] != b.List.Values[i] {
			return false
		}
	}
	return true
}
