// Package iat measures inter-arrival time between consecutive packet events.
package iat

import (
	"time"
)

// Point labels where an event timestamp was taken
type Point string

const (
	// PointSend is the client's send cadence
	PointSend Point = "send"
	// PointRecv is the server's arrival spacing
	PointRecv Point = "recv"
)

// State of a tracked session
type State int

const (
	StateAwaitingFirst State = iota
	StateTracking
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingFirst:
		return "awaiting_first_packet"
	case StateTracking:
		return "tracking"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Clock returns the current time. Tests replace it with a controlled sequence.
type Clock func() time.Time

// Sample is the result of observing one event
type Sample struct {
	Index int
	At    time.Time
	IAT   time.Duration
	First bool
	Point Point
}

// Millis returns the IAT in milliseconds
func (s Sample) Millis() float64 {
	return float64(s.IAT) / float64(time.Millisecond)
}

// Tracker keeps the reference timestamp and packet counter of one session.
// It is not safe for concurrent use.
type Tracker struct {
	point Point
	ref   time.Time
	set   bool
	count int
}

// NewTracker creates a tracker labelled with its measurement point
func NewTracker(point Point) *Tracker {
	return &Tracker{point: point}
}

// Observe records an event at the given time
func (t *Tracker) Observe(at time.Time) Sample {
	if !t.set {
		t.ref = at
		t.set = true
		t.count = 1
		return Sample{Index: t.count, At: at, First: true, Point: t.point}
	}

	iat := at.Sub(t.ref)
	t.ref = at
	t.count++
	return Sample{Index: t.count, At: at, IAT: iat, Point: t.point}
}

// Count returns the number of observed events
func (t *Tracker) Count() int {
	return t.count
}

// Point returns the measurement point
func (t *Tracker) Point() Point {
	return t.point
}

// State reports whether the first event has been seen
func (t *Tracker) State() State {
	if t.set {
		return StateTracking
	}
	return StateAwaitingFirst
}

// Reset returns the tracker to its initial state
func (t *Tracker) Reset() {
	t.ref = time.Time{}
	t.set = false
	t.count = 0
}
