package sim

import (
	"math"
	"time"
)

// A TimeValue is a representation of simulated time. The engine and the
// event list are written against this contract only, so a new
// representation can be added without touching any scheduling logic.
//
// The Add argument is a relative span expressed in the same
// representation as the receiver. Every representation designates a
// "never" value that is greater than any finite value and serves as the
// terminal sentinel for open-ended runs.
type TimeValue[T any] interface {
	comparable

	// Less reports whether the receiver is earlier than other.
	Less(other T) bool

	// Add returns the receiver advanced by the relative span.
	Add(span T) T

	// IsNever reports whether the value is the never sentinel.
	IsNever() bool

	// Float converts the value to the representation's native numeric
	// unit: seconds for FloatTime, the tick count for TickTime, and
	// seconds since the Unix epoch for Instant.
	Float() float64
}

// FloatTime is simulated time as a double-precision duration in seconds.
type FloatTime float64

// NeverFloat is the never sentinel for FloatTime.
var NeverFloat = FloatTime(math.Inf(1))

// Less reports whether t is earlier than other.
func (t FloatTime) Less(other FloatTime) bool {
	return t < other
}

// Add returns t advanced by span seconds.
func (t FloatTime) Add(span FloatTime) FloatTime {
	return t + span
}

// IsNever reports whether t is the never sentinel.
func (t FloatTime) IsNever() bool {
	return math.IsInf(float64(t), 1)
}

// Float returns the time in seconds.
func (t FloatTime) Float() float64 {
	return float64(t)
}

// TickTime is simulated time as an integer tick count.
type TickTime int64

// NeverTick is the never sentinel for TickTime.
const NeverTick = TickTime(math.MaxInt64)

// Less reports whether t is earlier than other.
func (t TickTime) Less(other TickTime) bool {
	return t < other
}

// Add returns t advanced by span ticks. Adding anything to the never
// sentinel, or adding a never span, yields never.
func (t TickTime) Add(span TickTime) TickTime {
	if t.IsNever() || span.IsNever() {
		return NeverTick
	}

	return t + span
}

// IsNever reports whether t is the never sentinel.
func (t TickTime) IsNever() bool {
	return t == NeverTick
}

// Float returns the tick count as a float64.
func (t TickTime) Float() float64 {
	if t.IsNever() {
		return math.Inf(1)
	}

	return float64(t)
}

// Instant is calendar-anchored simulated time, stored as nanoseconds
// since the Unix epoch. Relative spans are also expressed as Instant
// values, carrying a nanosecond count.
type Instant int64

// NeverInstant is the never sentinel for Instant.
const NeverInstant = Instant(math.MaxInt64)

// InstantAt converts a wall-clock time into an Instant.
func InstantAt(t time.Time) Instant {
	return Instant(t.UnixNano())
}

// Span converts a duration into a relative Instant span.
func Span(d time.Duration) Instant {
	return Instant(d.Nanoseconds())
}

// Time converts the Instant back into a wall-clock time.
func (t Instant) Time() time.Time {
	return time.Unix(0, int64(t))
}

// Less reports whether t is earlier than other.
func (t Instant) Less(other Instant) bool {
	return t < other
}

// Add returns t advanced by the relative span. Adding anything to the
// never sentinel, or adding a never span, yields never.
func (t Instant) Add(span Instant) Instant {
	if t.IsNever() || span.IsNever() {
		return NeverInstant
	}

	return t + span
}

// IsNever reports whether t is the never sentinel.
func (t Instant) IsNever() bool {
	return t == NeverInstant
}

// Float returns the time as seconds since the Unix epoch.
func (t Instant) Float() float64 {
	if t.IsNever() {
		return math.Inf(1)
	}

	return float64(t) / float64(time.Second)
}
