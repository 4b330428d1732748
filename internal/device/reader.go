// Package device connects to the spatial-device daemon's Unix-domain
// socket and decodes its fixed-size binary records into typed motion and
// button events for the Event Bus (spec.md §4.1, §6).
package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/spacemouse-bridge/bridge/internal/eventbus"
	"github.com/spacemouse-bridge/bridge/internal/logging"
)

var log = logging.L("device")

// DefaultSocketPath is the spacenavd Unix-domain socket (spec.md §6).
const DefaultSocketPath = "/var/run/spnav.sock"

// recordSize is the fixed wire record: eight little-endian int32 fields.
const recordSize = 32

const (
	wireTypeMotion     = 0
	wireTypeButtonDown = 1
	wireTypeButtonUp   = 2
)

// Reconnect policy, within the spec's "sleep 1-2s and retry forever" band.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 2 * time.Second
	backoffFactor  = 1.3
	jitterFactor   = 0.3
)

// Reader owns the blocking native-thread loop that dials the daemon socket
// and decodes records onto the Event Bus. Run must be called from a
// dedicated goroutine; it blocks until Stop is called.
type Reader struct {
	socketPath string
	bus        *eventbus.Bus

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Reader that dials socketPath (DefaultSocketPath if empty)
// and publishes decoded events onto bus.
func New(socketPath string, bus *eventbus.Bus) *Reader {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Reader{
		socketPath: socketPath,
		bus:        bus,
		done:       make(chan struct{}),
	}
}

// Stop signals Run to exit. Run does not join cleanly if it is blocked
// inside a read or a bus publish; per spec.md §5 the reader thread is
// abandoned, not joined, on process shutdown.
func (r *Reader) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// Run dials the daemon socket and decodes records until Stop is called.
// On any connect or stream error it logs once per transition and retries
// after a jittered 1-2s backoff, forever (spec.md §4.1).
func (r *Reader) Run() {
	backoff := initialBackoff
	wasConnected := true // first failed dial logs "unavailable"; first successful dial logs no "connected"

	for {
		select {
		case <-r.done:
			return
		default:
		}

		conn, err := net.Dial("unix", r.socketPath)
		if err != nil {
			if wasConnected {
				log.Info("spatial device daemon unavailable, retrying", "socket", r.socketPath, "error", err)
				wasConnected = false
			}

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := min(max(backoff+jitter, initialBackoff), maxBackoff)

			select {
			case <-r.done:
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		if !wasConnected {
			log.Info("spatial device daemon connected", "socket", r.socketPath)
		}
		wasConnected = true
		backoff = initialBackoff

		err = r.readLoop(conn)
		conn.Close()

		if errors.Is(err, errStopped) {
			return
		}
		log.Warn("spatial device stream error, reconnecting", "error", err)
		wasConnected = false

		select {
		case <-r.done:
			return
		case <-time.After(initialBackoff + time.Duration(rand.Int63n(int64(maxBackoff-initialBackoff)))):
		}
	}
}

var errStopped = errors.New("device: stopped")

// readLoop reads fixed 32-byte records until the connection errors or Stop
// is called. Partial reads are aggregated via io.ReadFull; records are
// never dropped while connected (back-pressure onto the bus instead).
func (r *Reader) readLoop(conn net.Conn) error {
	buf := make([]byte, recordSize)

	for {
		select {
		case <-r.done:
			return errStopped
		default:
		}

		if _, err := io.ReadFull(conn, buf); err != nil {
			return fmt.Errorf("read record: %w", err)
		}

		ev, ok := decodeRecord(buf)
		if !ok {
			continue
		}
		r.bus.Publish(ev)
	}
}

// decodeRecord decodes one 32-byte record into an Event, applying the
// required wire-to-logical axis permutation for motion samples (spec.md
// §4.1, §6): wire (t,a,b,c,d,e,f,period) -> logical
// (type,x=a,z=b,y=c,pitch=d,yaw=e,roll=f,period).
func decodeRecord(buf []byte) (eventbus.Event, bool) {
	var fields [8]int32
	for i := range fields {
		fields[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	typ := fields[0]
	a, b, c, d, e, f, period := fields[1], fields[2], fields[3], fields[4], fields[5], fields[6], fields[7]

	switch typ {
	case wireTypeMotion:
		return eventbus.Event{Motion: &eventbus.MotionSample{
			X:        a,
			Z:        b,
			Y:        c,
			Pitch:    d,
			Yaw:      e,
			Roll:     f,
			PeriodMS: period,
		}}, true
	case wireTypeButtonDown, wireTypeButtonUp:
		return eventbus.Event{Button: &eventbus.ButtonEvent{
			Index:   int(a),
			Pressed: typ == wireTypeButtonDown,
		}}, true
	default:
		return eventbus.Event{}, false
	}
}
