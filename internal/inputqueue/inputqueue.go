// Package inputqueue is the lockstep core's per-side sliding window of
// inputs: local and remote pending queues paired by tick, plus per-tick
// packet storage. Spec.md §4.3.
//
// Grounded directly on netplay.Game's ringbuf.Buffer[uint8] fields
// (localInput, remoteInput, speculatedInput,
// _examples/alex-yte-dendy/netplay/game.go) and the
// `inputSize := min(g.localInput.Len(), g.remoteInput.Len())` pairing idiom
// in applyRemoteInput, generalized from raw button bytes to full
// tick.Input values carrying a packet alongside joyflags.
package inputqueue

import (
	"errors"
	"fmt"

	"github.com/cliffdevs/tango/internal/ringbuf"
	"github.com/cliffdevs/tango/internal/tick"
)

// ErrQueueFull is returned by AddLocal when the local producer has
// outpaced the remote side by more than MaxLag ticks (spec.md §4.3, §7).
var ErrQueueFull = errors.New("inputqueue: queue full")

// DefaultMaxLag is MAX_ROLLBACK from spec.md §3: the typical value is 10.
const DefaultMaxLag = 10

// Queue is one side's view of the lockstep input window.
type Queue struct {
	maxLag int

	localPending  *ringbuf.Buffer[tick.Input]
	remotePending *ringbuf.Buffer[tick.Input]
	pairs         *ringbuf.Buffer[tick.InputPair]

	localPackets  map[tick.Tick]tick.Packet
	remotePackets map[tick.Tick]tick.Packet
}

// New returns an empty queue with the given backpressure window.
func New(maxLag int) *Queue {
	if maxLag <= 0 {
		maxLag = DefaultMaxLag
	}

	return &Queue{
		maxLag:        maxLag,
		localPending:  ringbuf.New[tick.Input](64),
		remotePending: ringbuf.New[tick.Input](64),
		pairs:         ringbuf.New[tick.InputPair](64),
		localPackets:  make(map[tick.Tick]tick.Packet),
		remotePackets: make(map[tick.Tick]tick.Packet),
	}
}

// AddLocal appends a locally generated input, failing with ErrQueueFull if
// doing so would put the local side more than maxLag ticks ahead of the
// remote side's known inputs (spec.md §8: lag of exactly maxLag ticks is
// fine, maxLag+1 is rejected).
func (q *Queue) AddLocal(in tick.Input) error {
	if q.localPending.Len()-q.remotePending.Len() >= q.maxLag {
		return fmt.Errorf("%w: local ahead by %d ticks (max %d)",
			ErrQueueFull, q.localPending.Len()-q.remotePending.Len(), q.maxLag)
	}

	q.localPending.PushBack(in)
	q.tryPair()

	return nil
}

// AddRemote appends a peer-received input.
func (q *Queue) AddRemote(in tick.Input) error {
	q.remotePending.PushBack(in)
	q.tryPair()

	return nil
}

// tryPair moves matched heads from local/remote pending into the dense
// pair queue. A pair is only appended when both heads' LocalTick agree
// (spec.md §3 invariant).
func (q *Queue) tryPair() {
	for q.localPending.Len() > 0 && q.remotePending.Len() > 0 {
		local := q.localPending.At(0)
		remote := q.remotePending.At(0)

		if local.LocalTick != remote.LocalTick {
			// Not paired yet (can happen transiently under reorder); the
			// caller is expected to hold ticks dense, so we wait rather
			// than skip. See spec.md §3 invariant: iq is dense, no gaps.
			return
		}

		q.pairs.PushBack(tick.InputPair{Local: local, Remote: remote})
		q.localPending.TruncFront(1)
		q.remotePending.TruncFront(1)
	}
}

// ConsumePair pops the head pair, if any.
func (q *Queue) ConsumePair() (tick.InputPair, bool) {
	if q.pairs.Len() == 0 {
		return tick.InputPair{}, false
	}

	p := q.pairs.At(0)
	q.pairs.TruncFront(1)

	return p, true
}

// PeekPair returns the head pair without consuming it.
func (q *Queue) PeekPair() (tick.InputPair, bool) {
	if q.pairs.Len() == 0 {
		return tick.InputPair{}, false
	}

	return q.pairs.At(0), true
}

// PendingPairs reports how many paired-but-unconsumed ticks are queued.
func (q *Queue) PendingPairs() int {
	return q.pairs.Len()
}

// PeekLocalPendingAt returns the nth-oldest local input that hasn't yet
// been matched to a remote one (0 = the very next one otherwise due),
// if its tick is t. round.Engine uses this to speculatively advance
// several ticks on local input alone while the remote side hasn't caught
// up yet (spec.md §4.4 step 3, the fast-forward/rollback mechanism),
// without depending on this package directly: each successive speculative
// tick asks for the next index along, since earlier ones stay queued
// un-consumed rather than being popped the way a real pair is.
func (q *Queue) PeekLocalPendingAt(n int, t tick.Tick) (tick.Input, bool) {
	if n < 0 || n >= q.localPending.Len() {
		return tick.Input{}, false
	}

	in := q.localPending.At(n)
	if in.LocalTick != t {
		return tick.Input{}, false
	}

	return in, true
}

// SetRemotePacket records the remote TX packet observed for tick t, to be
// consulted by a later local tick's RX injection.
func (q *Queue) SetRemotePacket(t tick.Tick, p tick.Packet) {
	q.remotePackets[t] = p.Clone()
}

// PeekRemotePacket returns the packet recorded for tick t, if any.
func (q *Queue) PeekRemotePacket(t tick.Tick) (tick.Packet, bool) {
	p, ok := q.remotePackets[t]
	return p, ok
}

// SetLocalPacket records the local TX packet produced at tick t.
func (q *Queue) SetLocalPacket(t tick.Tick, p tick.Packet) {
	q.localPackets[t] = p.Clone()
}

// PeekLocalPacket returns the packet recorded for tick t, if any.
func (q *Queue) PeekLocalPacket(t tick.Tick) (tick.Packet, bool) {
	p, ok := q.localPackets[t]
	return p, ok
}

// Lag returns how far ahead the local pending queue is of the remote
// pending queue, for diagnostics and UI ping/backpressure display.
func (q *Queue) Lag() int {
	return q.localPending.Len() - q.remotePending.Len()
}
