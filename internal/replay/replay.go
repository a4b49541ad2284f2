// Package replay implements the append-only deterministic trace format of
// spec.md §4.6/§6: header, initial committed state, interleaved input
// pairs, a round terminator, and a file terminator.
//
// Grounded on netplay.Game's Checkpoint/save/rollback shape
// (_examples/alex-yte-dendy/netplay/game.go: a Checkpoint is a frame number
// plus a save-state blob, captured once and reloaded on rollback) — the
// replay header's "local initial state" section is the same checkpoint
// idea, just written once to a file instead of kept in memory. Stdlib only
// (encoding/binary + bufio): the format is specified byte-for-byte in
// spec.md §6 and must reproduce it exactly, which rules out a general
// serialization library.
package replay

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cliffdevs/tango/internal/round"
	"github.com/cliffdevs/tango/internal/tick"
)

// Magic is the 4-byte file signature, version TR01.
var Magic = [4]byte{'T', 'R', '0', '1'}

// Version is the current replay format version (spec.md §9: "include a
// version field; unknown versions fail fast").
const Version uint32 = 1

// roundSentinel/fileSentinel delimit a round terminator (result byte
// follows) and the end of the file, per spec.md §6.
const (
	roundSentinel byte = 0xFF
	fileSentinel  byte = 0xFE
)

// ErrBadMagic/ErrUnsupportedVersion/ErrROMMismatch are ReplayDecode errors
// (spec.md §7): fatal to the one replay being read, never to the process.
var (
	ErrBadMagic           = errors.New("replay: bad magic")
	ErrUnsupportedVersion = errors.New("replay: unsupported version")
	ErrROMMismatch        = errors.New("replay: ROM identity mismatch")
)

// romTitleLen is the fixed width of the preserved ROM title string
// (spec.md §6 "[20]byte rom_title").
const romTitleLen = 20

// Header is the fixed-size prologue of a replay file.
type Header struct {
	LocalPlayerIndex uint8
	MatchType        [2]uint32
	ROMCode          [4]byte
	ROMRevision      uint8
	ROMCRC32         uint32
}

// InitialState is the local side's starting checkpoint: raw WRAM plus the
// full emulator save-state, and the ROM title preserved so a mismatched
// replay can be rejected without ever loading the ROM (spec.md §9).
type InitialState struct {
	WRAM      []byte
	SaveState []byte
	ROMTitle  [romTitleLen]byte
}

// Writer appends a replay file: header and initial state once, then one
// input pair at a time, then a round terminator, then (on Close) the file
// terminator.
type Writer struct {
	w      *bufio.Writer
	closed bool
}

// NewWriter writes header and initial state immediately, matching the
// append-only contract: a replay file is valid to read (decode error aside)
// from the moment these are flushed, even if the process crashes before
// any input pair is appended.
func NewWriter(w io.Writer, h Header, init InitialState) (*Writer, error) {
	bw := bufio.NewWriter(w)
	rw := &Writer{w: bw}

	if err := rw.writeHeader(h); err != nil {
		return nil, err
	}

	if err := rw.writeInitialState(init); err != nil {
		return nil, err
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("replay: flush header: %w", err)
	}

	return rw, nil
}

func (rw *Writer) writeHeader(h Header) error {
	if _, err := rw.w.Write(Magic[:]); err != nil {
		return fmt.Errorf("replay: write magic: %w", err)
	}

	fields := []any{
		Version, h.LocalPlayerIndex, h.MatchType[0], h.MatchType[1],
	}
	for _, f := range fields {
		if err := binary.Write(rw.w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("replay: write header: %w", err)
		}
	}

	if _, err := rw.w.Write(h.ROMCode[:]); err != nil {
		return fmt.Errorf("replay: write rom code: %w", err)
	}

	if err := rw.w.WriteByte(h.ROMRevision); err != nil {
		return fmt.Errorf("replay: write rom revision: %w", err)
	}

	if err := binary.Write(rw.w, binary.LittleEndian, h.ROMCRC32); err != nil {
		return fmt.Errorf("replay: write rom crc32: %w", err)
	}

	return nil
}

func (rw *Writer) writeInitialState(init InitialState) error {
	if err := writeLenPrefixed(rw.w, init.WRAM); err != nil {
		return fmt.Errorf("replay: write wram: %w", err)
	}

	if err := writeLenPrefixed(rw.w, init.SaveState); err != nil {
		return fmt.Errorf("replay: write save state: %w", err)
	}

	if _, err := rw.w.Write(init.ROMTitle[:]); err != nil {
		return fmt.Errorf("replay: write rom title: %w", err)
	}

	return nil
}

func writeLenPrefixed(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}

	_, err := w.Write(data)
	return err
}

// WritePair appends one tick's local and remote inputs, encoded exactly as
// the wire Input frame (spec.md §6: "same encoding as the wire Input frame
// for each side, interleaved").
func (rw *Writer) WritePair(p tick.InputPair) error {
	if err := writeSide(rw.w, p.Local); err != nil {
		return fmt.Errorf("replay: write local side: %w", err)
	}

	if err := writeSide(rw.w, p.Remote); err != nil {
		return fmt.Errorf("replay: write remote side: %w", err)
	}

	return rw.w.Flush()
}

func writeSide(w *bufio.Writer, in tick.Input) error {
	if len(in.Packet) > 255 {
		return fmt.Errorf("replay: packet length %d exceeds 255", len(in.Packet))
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(in.LocalTick)); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(in.RemoteTick)); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint16(in.Joyflags)); err != nil {
		return err
	}

	if err := w.WriteByte(byte(len(in.Packet))); err != nil {
		return err
	}

	_, err := w.Write(in.Packet)
	return err
}

// EndRound appends a round terminator recording result, then flushes.
// Callers writing a multi-round replay call this once per round and may
// then call NewWriter's header/initial-state sequence again for the next
// round (the format does not otherwise distinguish rounds within a file
// beyond this sentinel).
func (rw *Writer) EndRound(result round.Result) error {
	if err := rw.w.WriteByte(roundSentinel); err != nil {
		return fmt.Errorf("replay: write round sentinel: %w", err)
	}

	if err := rw.w.WriteByte(byte(result)); err != nil {
		return fmt.Errorf("replay: write result: %w", err)
	}

	return rw.w.Flush()
}

// Close writes the file terminator and flushes. It does not close the
// underlying io.Writer.
func (rw *Writer) Close() error {
	if rw.closed {
		return nil
	}
	rw.closed = true

	if err := rw.w.WriteByte(fileSentinel); err != nil {
		return fmt.Errorf("replay: write file sentinel: %w", err)
	}

	return rw.w.Flush()
}

// Reader decodes a replay file written by Writer.
type Reader struct {
	r *bufio.Reader
}

// NewReader reads and validates the header and initial state, returning
// them alongside a Reader positioned at the first input pair.
func NewReader(r io.Reader) (*Reader, Header, InitialState, error) {
	br := bufio.NewReader(r)
	rr := &Reader{r: br}

	h, err := rr.readHeader()
	if err != nil {
		return nil, Header{}, InitialState{}, err
	}

	init, err := rr.readInitialState()
	if err != nil {
		return nil, Header{}, InitialState{}, err
	}

	return rr, h, init, nil
}

func (rr *Reader) readHeader() (Header, error) {
	var magic [4]byte
	if _, err := io.ReadFull(rr.r, magic[:]); err != nil {
		return Header{}, fmt.Errorf("replay: read magic: %w", err)
	}

	if magic != Magic {
		return Header{}, fmt.Errorf("%w: got %q, want %q", ErrBadMagic, magic, Magic)
	}

	var version uint32
	if err := binary.Read(rr.r, binary.LittleEndian, &version); err != nil {
		return Header{}, fmt.Errorf("replay: read version: %w", err)
	}

	if version != Version {
		return Header{}, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, version, Version)
	}

	var h Header

	localIdx, err := rr.r.ReadByte()
	if err != nil {
		return Header{}, fmt.Errorf("replay: read local_player_index: %w", err)
	}
	h.LocalPlayerIndex = localIdx

	for i := range h.MatchType {
		if err := binary.Read(rr.r, binary.LittleEndian, &h.MatchType[i]); err != nil {
			return Header{}, fmt.Errorf("replay: read match_type[%d]: %w", i, err)
		}
	}

	if _, err := io.ReadFull(rr.r, h.ROMCode[:]); err != nil {
		return Header{}, fmt.Errorf("replay: read rom_code: %w", err)
	}

	romRev, err := rr.r.ReadByte()
	if err != nil {
		return Header{}, fmt.Errorf("replay: read rom_revision: %w", err)
	}
	h.ROMRevision = romRev

	if err := binary.Read(rr.r, binary.LittleEndian, &h.ROMCRC32); err != nil {
		return Header{}, fmt.Errorf("replay: read rom_crc32: %w", err)
	}

	return h, nil
}

func (rr *Reader) readInitialState() (InitialState, error) {
	var init InitialState

	wram, err := readLenPrefixed(rr.r)
	if err != nil {
		return InitialState{}, fmt.Errorf("replay: read wram: %w", err)
	}
	init.WRAM = wram

	saveState, err := readLenPrefixed(rr.r)
	if err != nil {
		return InitialState{}, fmt.Errorf("replay: read save state: %w", err)
	}
	init.SaveState = saveState

	if _, err := io.ReadFull(rr.r, init.ROMTitle[:]); err != nil {
		return InitialState{}, fmt.Errorf("replay: read rom title: %w", err)
	}

	return init, nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	return data, nil
}

// Entry is the result of ReadTerminator: either a round end or end of file.
type Entry struct {
	RoundEnded bool
	Result     round.Result
	EOF        bool
}

// ReadPair reads exactly one input pair, encoded like two wire Input
// frames back to back.
//
// A pair's local_tick is an arbitrary u32 whose low byte can legally equal
// roundSentinel or fileSentinel (every 256th tick), so nothing about a
// pair's own bytes can be told apart from a terminator by inspection alone
// — there is no self-delimiting framing here, only position in the
// stream. Callers MUST know from the side driving the replay (the round
// engine, which fires its own end-of-round traps) whether the next thing
// in the file is a pair or a terminator, and call ReadPair or
// ReadTerminator accordingly; never call ReadPair speculatively past the
// last real pair.
func (rr *Reader) ReadPair() (tick.InputPair, error) {
	local, err := readSide(rr.r)
	if err != nil {
		return tick.InputPair{}, fmt.Errorf("replay: read local side: %w", err)
	}

	remote, err := readSide(rr.r)
	if err != nil {
		return tick.InputPair{}, fmt.Errorf("replay: read remote side: %w", err)
	}

	return tick.InputPair{Local: local, Remote: remote}, nil
}

// ReadTerminator reads one terminator sentinel: either a round terminator
// (0xFF followed by the result byte) or the file terminator (0xFE). See
// ReadPair's doc comment for why the caller, not this method, decides when
// a terminator rather than a pair is next.
func (rr *Reader) ReadTerminator() (Entry, error) {
	sentinel, err := rr.r.ReadByte()
	if err != nil {
		return Entry{}, fmt.Errorf("replay: read terminator sentinel: %w", err)
	}

	switch sentinel {
	case roundSentinel:
		result, err := rr.r.ReadByte()
		if err != nil {
			return Entry{}, fmt.Errorf("replay: read round result: %w", err)
		}

		return Entry{RoundEnded: true, Result: round.Result(result)}, nil

	case fileSentinel:
		return Entry{EOF: true}, nil

	default:
		return Entry{}, fmt.Errorf("replay: unrecognized terminator sentinel %#02x", sentinel)
	}
}

func readSide(r *bufio.Reader) (tick.Input, error) {
	var in tick.Input

	var localTick, remoteTick uint32
	if err := binary.Read(r, binary.LittleEndian, &localTick); err != nil {
		return tick.Input{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &remoteTick); err != nil {
		return tick.Input{}, err
	}

	var joy uint16
	if err := binary.Read(r, binary.LittleEndian, &joy); err != nil {
		return tick.Input{}, err
	}

	packetLen, err := r.ReadByte()
	if err != nil {
		return tick.Input{}, err
	}

	packet := make([]byte, packetLen)
	if _, err := io.ReadFull(r, packet); err != nil {
		return tick.Input{}, err
	}

	in.LocalTick = tick.Tick(localTick)
	in.RemoteTick = tick.Tick(remoteTick)
	in.Joyflags = tick.Joyflags(joy)
	in.Packet = packet

	return in, nil
}

// CheckROM validates a header against the ROM the replayer actually loaded,
// returning ErrROMMismatch on any field disagreement (spec.md §6 CLI exit
// code 2).
func CheckROM(h Header, code [4]byte, revision uint8, crc32 uint32) error {
	if h.ROMCode != code || h.ROMRevision != revision || h.ROMCRC32 != crc32 {
		return fmt.Errorf("%w: file wants %q rev %d crc %#x, loaded %q rev %d crc %#x",
			ErrROMMismatch, h.ROMCode, h.ROMRevision, h.ROMCRC32, code, revision, crc32)
	}

	return nil
}
