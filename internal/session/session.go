// Package session orchestrates one live two-peer match end to end: the
// Hello/HelloAck handshake of spec.md §4.5/§6, the match.Controller's
// deterministic RNG and round sequencing, and the reader/writer goroutines
// that turn a transport.Stream into paired round.Engine/round.Shadow input.
//
// Grounded on netplay.Netplay's startReader/startWriter goroutine pair
// (_examples/alex-yte-dendy/netplay/netplay.go): one goroutine blocked on
// reads, one draining a local-input source, both feeding a shared game
// state guarded by the same kind of narrow critical section match.Controller
// already uses. Generalized from netplay's raw InputBatch/Message frames to
// wire.Reader/Writer and from one NES bus to a primary/shadow Engine pair.
package session

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cliffdevs/tango/internal/emuadapter"
	"github.com/cliffdevs/tango/internal/hooks"
	"github.com/cliffdevs/tango/internal/inputqueue"
	"github.com/cliffdevs/tango/internal/match"
	"github.com/cliffdevs/tango/internal/round"
	"github.com/cliffdevs/tango/internal/tick"
	"github.com/cliffdevs/tango/internal/transport"
	"github.com/cliffdevs/tango/internal/wire"
)

// ProtocolVersion is this build's wire Hello protocol_version field.
const ProtocolVersion uint16 = 1

// commitPollInterval paces the background loop that advances the commit
// point once the shadow's committed tick has caught up to the primary's.
// Small enough that rollback almost never has to discard more than a tick
// or two of speculative state, large enough not to busy-spin the mutex
// RequestCommit touches.
const commitPollInterval = 2 * time.Millisecond

// LocalInput supplies the joyflags this side contributes at the next tick.
// Capturing them from a real controller or keyboard is outside this
// module's scope (spec.md §1 treats the emulator and its UI as an opaque
// external collaborator, and the real teacher's joystick-polling code was
// never part of the retrieved reference pack either). cmd/tango-match
// declares an inert one, idleLocalInput, but stops after the handshake
// without calling Run.
type LocalInput interface {
	NextJoyflags() tick.Joyflags
}

// ROMInfo is everything the handshake and hooks lookup need about the
// loaded ROM, mirroring replayer.ROMInfo.
type ROMInfo struct {
	Code     [4]byte
	Revision uint8
	CRC32    uint32
}

// Config configures one Session. Cores passed to WireEngines must already
// be freshly loaded and reset; Session installs their traps itself.
type Config struct {
	Stream    transport.Stream
	Registry  *hooks.Registry
	ROM       ROMInfo
	MatchType uint16
}

// ErrIncompatiblePeer is returned by Handshake when the peer's protocol
// version, match type, or ROM identity disagrees with ours (spec.md §6:
// "Mismatch ⇒ one peer sends Cancel(reason=incompatible) and both
// terminate").
var ErrIncompatiblePeer = errors.New("session: incompatible peer")

// Session is one handshake-to-terminal-result live match over a single
// transport.Stream.
type Session struct {
	cfg   Config
	wireW *wire.Writer
	wireR *wire.Reader

	controller *match.Controller
	table      *hooks.Table
	localIndex int

	primary     *round.Engine
	shadow      *round.Shadow
	localQueue  *inputqueue.Queue
	shadowQueue *inputqueue.Queue

	done chan struct{}
}

// New wraps cfg.Stream in the wire codec. Call Handshake before Run.
func New(cfg Config) *Session {
	return &Session{
		cfg:   cfg,
		wireW: wire.NewWriter(cfg.Stream),
		wireR: wire.NewReader(cfg.Stream),
		done:  make(chan struct{}),
	}
}

// Handshake exchanges Hello frames, derives offerer/answerer and the shared
// RNG via match.Controller, and resolves this ROM's hooks.Table. Both sides
// run the identical sequence (spec.md §6: Hello/HelloAck "same shape"): each
// writes its own Hello, then each reads the peer's. A ROM or protocol
// mismatch sends Cancel(incompatible) before returning ErrIncompatiblePeer.
func (s *Session) Handshake(ctx context.Context) error {
	controller, err := match.NewController()
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	nonce := controller.LocalNonce()
	hello := wire.Hello{
		ProtocolVersion:  ProtocolVersion,
		MatchTypeChoices: [2]uint16{s.cfg.MatchType, s.cfg.MatchType},
		Nonce:            nonce,
		RNGCommitment:    crc32.ChecksumIEEE(nonce[:]),
		ROMCode:          s.cfg.ROM.Code,
		ROMRevision:      s.cfg.ROM.Revision,
		ROMCRC32:         s.cfg.ROM.CRC32,
	}

	if err := s.wireW.WriteHello(hello); err != nil {
		return fmt.Errorf("session: write hello: %w", err)
	}

	peer, err := s.readHello()
	if err != nil {
		return err
	}

	if mismatch := s.checkCompatible(hello, peer); mismatch != nil {
		_ = s.wireW.WriteCancel(wire.Cancel{Reason: wire.CancelReasonIncompatible})
		return mismatch
	}

	controller.SetRemoteNonce(peer.Nonce)
	s.controller = controller

	newTable, ok := s.cfg.Registry.Lookup(hooks.ROMIdentity{Code: s.cfg.ROM.Code, Revision: s.cfg.ROM.Revision})
	if !ok {
		return fmt.Errorf("session: no hooks registered for rom %q rev %d", s.cfg.ROM.Code, s.cfg.ROM.Revision)
	}
	s.table = newTable()

	// Offerer takes seat 0, answerer seat 1: an arbitrary but fixed
	// convention both sides derive identically from the same nonce
	// comparison match.Controller already makes.
	s.localIndex = 1
	if controller.IsOfferer() {
		s.localIndex = 0
	}

	return nil
}

func (s *Session) readHello() (wire.Hello, error) {
	kind, payload, err := s.wireR.ReadFrame()
	if err != nil {
		return wire.Hello{}, fmt.Errorf("session: read hello: %w", err)
	}

	if kind != wire.KindHello {
		return wire.Hello{}, fmt.Errorf("session: expected Hello frame, got %s", kind)
	}

	peer, err := wire.DecodeHello(payload)
	if err != nil {
		return wire.Hello{}, fmt.Errorf("session: decode hello: %w", err)
	}

	return peer, nil
}

func (s *Session) checkCompatible(mine, peer wire.Hello) error {
	switch {
	case peer.ProtocolVersion != mine.ProtocolVersion:
		return fmt.Errorf("%w: protocol version %d != %d", ErrIncompatiblePeer, peer.ProtocolVersion, mine.ProtocolVersion)
	case peer.ROMCode != mine.ROMCode || peer.ROMRevision != mine.ROMRevision || peer.ROMCRC32 != mine.ROMCRC32:
		return fmt.Errorf("%w: rom identity disagreement", ErrIncompatiblePeer)
	case !intersects(mine.MatchTypeChoices, peer.MatchTypeChoices):
		return fmt.Errorf("%w: no common match type", ErrIncompatiblePeer)
	default:
		return nil
	}
}

func intersects(a, b [2]uint16) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}

	return false
}

// LocalPlayerIndex is this side's seat, resolved by Handshake.
func (s *Session) LocalPlayerIndex() int {
	return s.localIndex
}

// Table is the resolved title hooks, resolved by Handshake.
func (s *Session) Table() *hooks.Table {
	return s.table
}

// WireEngines builds the primary and (if shadowCore is non-nil) shadow
// engines from already-loaded, already-reset cores, installs their traps,
// and requests the tick-0 commit both sides start from. Must be called
// after Handshake, before Run.
func (s *Session) WireEngines(core emuadapter.Core, shadowCore emuadapter.Core) error {
	s.localQueue = inputqueue.New(inputqueue.DefaultMaxLag)

	primaryState := round.NewState(s.localIndex)
	s.primary = round.NewEngine(core, s.table, s.localQueue, primaryState, round.RolePrimary)
	s.primary.RNG = s.controller

	if err := s.primary.InstallTraps(); err != nil {
		return fmt.Errorf("session: install primary traps: %w", err)
	}

	s.primary.RequestCommit(0)

	if shadowCore == nil {
		return nil
	}

	s.shadowQueue = inputqueue.New(inputqueue.DefaultMaxLag)

	shadowState := round.NewState(1 - s.localIndex)
	shadowEngine := round.NewEngine(shadowCore, s.table, s.shadowQueue, shadowState, round.RoleShadow)
	shadowEngine.RNG = s.controller.ShadowRNG()

	if err := shadowEngine.InstallTraps(); err != nil {
		return fmt.Errorf("session: install shadow traps: %w", err)
	}

	shadow, err := round.NewShadow(shadowEngine)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	shadow.Engine.RequestCommit(0)
	s.shadow = shadow

	return nil
}

// Run drives the match to a terminal result: a reader goroutine pairing
// every wire.Input frame into the local and shadow queues, a writer
// goroutine draining local's produced joyflags into both the primary
// engine and the wire, a commit-advancing goroutine, and
// match.Controller.RunRound supervising the primary/shadow engines
// themselves. Returns once RunRound does; the reader/writer/commit
// goroutines are torn down via s.done before returning.
func (s *Session) Run(ctx context.Context, local LocalInput) (round.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.readLoop(ctx)
	go s.writeLoop(ctx, local)
	go s.commitLoop(ctx)

	result, err := s.controller.RunRound(ctx, s.primary, s.shadow)
	close(s.done)

	return result, err
}

// Close tears down the underlying stream.
func (s *Session) Close() error {
	return s.cfg.Stream.Close()
}

func (s *Session) cancel(err error) {
	if s.controller != nil {
		s.controller.Cancel(err)
	}
}

// readLoop decodes every incoming wire frame and feeds it to the local and
// shadow queues (an Input frame), answers Pings, or propagates a Cancel.
// Grounded on netplay.Netplay.startReader, generalized from a single
// toRecv channel to directly mutating the two queues: spec.md §4.5's
// primary/shadow pair share the same remote input stream, just mirrored.
func (s *Session) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		kind, payload, err := s.wireR.ReadFrame()
		if err != nil {
			s.cancel(fmt.Errorf("session: read frame: %w", err))
			return
		}

		switch kind {
		case wire.KindInput, wire.KindChunkedInput:
			in, err := wire.DecodeInput(payload)
			if err != nil {
				s.cancel(fmt.Errorf("session: decode input: %w", err))
				return
			}

			if err := s.applyRemoteInput(toTickInput(in)); err != nil {
				s.cancel(fmt.Errorf("session: apply remote input: %w", err))
				return
			}

		case wire.KindPing:
			p, err := wire.DecodePingPong(payload)
			if err != nil {
				continue
			}

			_ = s.wireW.WritePong(p)

		case wire.KindPong:
			// RTT display is the CLI's business, not this module's; the
			// frame is consumed and otherwise ignored.

		case wire.KindCancel:
			c, _ := wire.DecodeCancel(payload)
			s.cancel(fmt.Errorf("session: peer cancelled: reason %d", c.Reason))
			return

		default:
			// Unknown kinds are forward-compatibility noise, not errors.
		}
	}
}

func toTickInput(in wire.Input) tick.Input {
	return tick.Input{
		LocalTick:  tick.Tick(in.LocalTick),
		RemoteTick: tick.Tick(in.RemoteTick),
		Joyflags:   tick.Joyflags(in.Joyflags),
		Packet:     tick.Packet(in.Packet),
	}
}

// applyRemoteInput feeds one peer-produced input into both queues: the
// primary's remote side, and the shadow's local side (the shadow plays out
// the remote's point of view, per spec.md §4.4's "Shadow runner").
func (s *Session) applyRemoteInput(in tick.Input) error {
	if err := s.localQueue.AddRemote(in); err != nil {
		return err
	}

	if s.shadowQueue == nil {
		return nil
	}

	return s.shadowQueue.AddLocal(in)
}

// writeLoop drains local for this side's next joyflags every tick, feeds
// them straight into the primary engine's own fast-forward path
// (round.Engine.AddLocalInputAndFastForward, spec.md §4.4: "when a new
// local input arrives, the engine calls add_local_input_and_fastforward"),
// and mirrors them to the shadow queue and the peer over the wire. This
// goroutine is the primary engine's one driver: match.Controller.RunRound
// only waits for it to reach a terminal phase (waitForTerminal) rather
// than stepping the engine itself, so there is exactly one caller of
// primary.RunOneTick and spec.md §5's "locks enforce" cross-thread rule is
// never at risk of a second one. The shadow engine has no local input of
// its own to advance on, so it's still pulled tick-by-tick by
// driveToTerminal. Backpressure (inputqueue.ErrQueueFull) means this side
// has run further ahead of the peer's acknowledged ticks than MaxRollback
// allows; it pauses and retries rather than treating the condition as
// fatal, since it is this side's own production outrunning the peer, not
// something the peer did wrong (spec.md §8: lag of exactly MaxRollback is
// fine, one more blocks until the peer catches up).
func (s *Session) writeLoop(ctx context.Context, local LocalInput) {
	var next tick.Tick

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		joy := local.NextJoyflags()
		in := tick.Input{LocalTick: next, RemoteTick: next, Joyflags: joy}

		if err := s.primary.AddLocalInputAndFastForward(ctx, next, joy, tick.Packet{}); err != nil {
			if errors.Is(err, inputqueue.ErrQueueFull) {
				time.Sleep(commitPollInterval)
				continue
			}

			s.cancel(fmt.Errorf("session: add local input: %w", err))
			return
		}

		if s.shadowQueue != nil {
			if err := s.shadowQueue.AddRemote(in); err != nil {
				s.cancel(fmt.Errorf("session: mirror local input to shadow: %w", err))
				return
			}
		}

		out := wire.Input{LocalTick: uint32(next), RemoteTick: uint32(next), Joyflags: uint16(joy)}
		if err := s.wireW.WriteInput(out); err != nil {
			s.cancel(fmt.Errorf("session: write input: %w", err))
			return
		}

		next++
	}
}

// commitLoop advances the commit point once the shadow's committed tick has
// caught up to the primary's, and cross-validates their digests (spec.md
// §4.4: "the primary's commit is valid only when the shadow agrees"). A
// mismatch cancels the shadow's own engine state, which the primary's
// match.Controller.RunRound goroutine observes and propagates at its next
// tick via the Controller's sticky Cancel — see round.Shadow.
// ValidateAgainstPrimary. This commits every tick once the two sides are
// observed in agreement rather than implementing a separate multi-step
// commit-ack exchange: spec.md does not specify one beyond "both peers
// known to agree", and committing eagerly only shrinks the rollback window,
// never invalidates it.
func (s *Session) commitLoop(ctx context.Context) {
	if s.shadow == nil {
		return
	}

	ticker := time.NewTicker(commitPollInterval)
	defer ticker.Stop()

	var nextCommit tick.Tick

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}

		primaryTick, primaryState := s.primary.CommittedSnapshot()

		if primaryTick >= nextCommit {
			nextCommit = primaryTick + 1
			s.primary.RequestCommit(nextCommit)
			s.shadow.Engine.RequestCommit(nextCommit)
		}

		if primaryTick == 0 {
			continue
		}

		shadowTick, _ := s.shadow.Engine.CommittedSnapshot()
		if shadowTick != primaryTick {
			continue
		}

		digest := xxhash.Sum64(primaryState)
		_ = s.shadow.ValidateAgainstPrimary(digest)
	}
}
