// Package tick defines the shared time and wire primitives of a lockstep
// round: the tick counter, joyflags word, and opaque per-tick packet.
package tick

import "fmt"

// Tick is one iteration of the cartridge's main input-reading loop, the
// granularity of lockstep. It is not a video frame.
type Tick uint32

// Sub returns t-other as a signed lag. The difference of two uint32 ticks
// always fits in an int64, so no clamping is applied.
func (t Tick) Sub(other Tick) int64 {
	return int64(t) - int64(other)
}

func (t Tick) String() string {
	return fmt.Sprintf("tick(%d)", uint32(t))
}

// Joyflags is the 16-bit GBA KEYINPUT word. Injected joyflags always carry
// JoyflagsMask OR'd in, matching the real cartridge link protocol's sentinel
// bits.
type Joyflags uint16

// JoyflagsMask is OR'd into every injected Joyflags value.
const JoyflagsMask Joyflags = 0xfc00

// Inject returns j with JoyflagsMask applied.
func (j Joyflags) Inject() Joyflags {
	return j | JoyflagsMask
}

// Packet is an opaque, fixed-per-title-length link payload exchanged
// alongside joyflags.
type Packet []byte

// Clone returns a copy of p so callers can safely retain it past a reused
// buffer's lifetime.
func (p Packet) Clone() Packet {
	if p == nil {
		return nil
	}

	out := make(Packet, len(p))
	copy(out, p)

	return out
}

// Input is one side's contribution to a tick: the joyflags it observed and
// the packet it sends alongside them.
type Input struct {
	LocalTick  Tick
	RemoteTick Tick
	Joyflags   Joyflags
	Packet     Packet
}

// Side identifies which half of an InputPair a packet or joyflags value
// belongs to.
type Side int

const (
	SideLocal Side = iota
	SideRemote
)

func (s Side) String() string {
	switch s {
	case SideLocal:
		return "local"
	case SideRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// InputPair is a tick's paired local and remote inputs. The engine only
// ever consumes paired inputs.
type InputPair struct {
	Local  Input
	Remote Input
}

// Valid reports whether the pair is internally consistent: both sides
// claim the same local tick.
func (p InputPair) Valid() bool {
	return p.Local.LocalTick == p.Remote.LocalTick
}
