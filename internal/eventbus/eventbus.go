// Package eventbus decouples the blocking device-socket reader from the
// async protocol engine with a small bounded channel. By default the
// producer backs off: Publish blocks when the bus is full, so motion data
// is never silently dropped while connected. A producer can opt into
// drop-oldest semantics with PublishOrDrop for deployments that would
// rather discard stale motion than stall the device thread (spec.md §4.1,
// §4.2).
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/spacemouse-bridge/bridge/internal/logging"
)

var log = logging.L("eventbus")

// capacity is fixed per spec.md §4.2: large enough to absorb a brief
// consumer stall, small enough that a stuck consumer doesn't bloat memory
// or stale-out motion data.
const capacity = 16

// Event is a single device sample or button transition handed from the
// Device Reader to whatever is consuming the bus.
type Event struct {
	Motion *MotionSample
	Button *ButtonEvent
}

// MotionSample carries one raw 6-DoF reading in logical axis order.
type MotionSample struct {
	X, Y, Z          int32
	Pitch, Yaw, Roll int32
	PeriodMS         int32
}

// ButtonEvent carries a single button press or release.
type ButtonEvent struct {
	Index   int
	Pressed bool
}

// Bus is a single-producer/single-consumer bounded queue with strict
// ordering and no coalescing (spec.md §4.2).
type Bus struct {
	queue     chan Event
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64
}

// New creates a Bus with the fixed capacity.
func New() *Bus {
	return &Bus{queue: make(chan Event, capacity)}
}

// Publish enqueues ev, blocking until there is room or the bus is closed.
// This is the default back-pressure behavior: the device reader stalls
// rather than lose a record while the consumer catches up.
func (b *Bus) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	defer func() {
		// Publishing to a channel Close() concurrently closed panics;
		// treat that race as a no-op since the bus is shutting down.
		recover()
	}()
	b.queue <- ev
}

// PublishOrDrop enqueues ev if there is room, otherwise drops the oldest
// queued event to make room. Use only when a deployment has explicitly
// opted into discarding stale motion over blocking (spec.md §4.1: "discard
// stale motion only when explicitly configured").
func (b *Bus) PublishOrDrop(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.queue <- ev:
	default:
		select {
		case <-b.queue:
			b.dropped.Add(1)
		default:
		}
		select {
		case b.queue <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Events returns the channel to range over. The channel is closed when
// Close is called.
func (b *Bus) Events() <-chan Event {
	return b.queue
}

// Dropped returns the number of events dropped for being unconsumed before
// the queue filled, for diagnostics.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close marks the bus closed and closes the underlying channel so a ranging
// consumer goroutine exits. Safe to call multiple times.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.queue)
		if dropped := b.dropped.Load(); dropped > 0 {
			log.Warn("eventbus closed with dropped events", "dropped", dropped)
		}
	})
}
