// Package wire is the peer↔peer frame codec of spec.md §6: length-delimited
// frames of `u32 length | u8 kind | payload`, little-endian, over whatever
// internal/transport.Stream carries them.
//
// Grounded on netplay.Netplay's writeMsg/readMsg call sites
// (_examples/alex-yte-dendy/netplay/netplay.go): one message value written
// or read whole per call over a net.Conn. The retrieved file only shows the
// calling convention, not writeMsg/readMsg's bodies, so the encoding below
// is built directly from spec.md §6's byte layout using encoding/binary,
// the same library the teacher's message framing implies.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind identifies a frame's payload shape.
type Kind uint8

const (
	KindHello        Kind = 0x01
	KindHelloAck     Kind = 0x02
	KindInput        Kind = 0x03
	KindChunkedInput Kind = 0x04
	KindPing         Kind = 0x05
	KindPong         Kind = 0x06
	KindCancel       Kind = 0x07
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "Hello"
	case KindHelloAck:
		return "HelloAck"
	case KindInput:
		return "Input"
	case KindChunkedInput:
		return "ChunkedInput"
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindCancel:
		return "Cancel"
	default:
		return fmt.Sprintf("Kind(%#02x)", uint8(k))
	}
}

// ErrFrameTooLarge guards against a corrupt or hostile length prefix
// driving an unbounded allocation.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// MaxFrameLen is generous for the largest legal payload (a ChunkedInput
// carrying a 255-byte packet plus header) while still rejecting a garbage
// length prefix outright.
const MaxFrameLen = 1 << 20

// maxPacketLen is the wire limit on a single Input frame's packet: packet_len
// is a u8, so 255 is the largest representable length (spec.md §6).
const maxPacketLen = 255

// Hello is kind 0x01/0x02: the handshake frame, identical shape for the
// initiator and its ack.
type Hello struct {
	ProtocolVersion  uint16
	MatchTypeChoices [2]uint16
	Nonce            [16]byte
	RNGCommitment    uint32
	ROMCode          [4]byte
	ROMRevision      uint8
	ROMCRC32         uint32
}

// Input is kind 0x03 (and, when Packet exceeds 255 bytes, is instead split
// across one or more kind 0x04 ChunkedInput frames — see WriteInput).
type Input struct {
	LocalTick  uint32
	RemoteTick uint32
	Joyflags   uint16
	Packet     []byte
}

// Ping/Pong carry a single timestamp, in whatever unit the caller chooses
// (spec.md §6 does not constrain it beyond "u64 ts").
type PingPong struct {
	Timestamp uint64
}

// Cancel is kind 0x07: a one-byte reason code ending the match.
type Cancel struct {
	Reason uint8
}

// Cancel reasons. spec.md only names "incompatible" explicitly; the rest
// mirror the error kinds of spec.md §7 so a Cancel frame can explain itself
// in a log line without a side channel.
const (
	CancelReasonUnspecified   uint8 = 0
	CancelReasonIncompatible  uint8 = 1
	CancelReasonDesync        uint8 = 2
	CancelReasonTransport     uint8 = 3
	CancelReasonUserRequested uint8 = 4
)

// Writer frames and writes messages onto an underlying io.Writer.
type Writer struct {
	w *bufio.Writer
}

// NewWriter wraps w in a buffered frame writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) writeFrame(kind Kind, payload []byte) error {
	length := uint32(1 + len(payload))

	if err := binary.Write(w.w, binary.LittleEndian, length); err != nil {
		return fmt.Errorf("wire: write length: %w", err)
	}

	if err := w.w.WriteByte(byte(kind)); err != nil {
		return fmt.Errorf("wire: write kind: %w", err)
	}

	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}

	return w.w.Flush()
}

// WriteHello writes a Hello frame (kind 0x01).
func (w *Writer) WriteHello(h Hello) error {
	return w.writeFrame(KindHello, encodeHello(h))
}

// WriteHelloAck writes a HelloAck frame (kind 0x02); identical payload shape
// to Hello, distinguished only by kind.
func (w *Writer) WriteHelloAck(h Hello) error {
	return w.writeFrame(KindHelloAck, encodeHello(h))
}

// WriteInput writes a single Input frame (kind 0x03) when in.Packet fits in
// a u8 length, or one or more ChunkedInput frames (kind 0x04) otherwise
// (spec.md §6: "same with multi-frame splitting when packet exceeds 255
// bytes").
func (w *Writer) WriteInput(in Input) error {
	if len(in.Packet) <= maxPacketLen {
		return w.writeFrame(KindInput, encodeInput(in))
	}

	for offset := 0; offset < len(in.Packet); offset += maxPacketLen {
		end := offset + maxPacketLen
		if end > len(in.Packet) {
			end = len(in.Packet)
		}

		chunk := Input{
			LocalTick:  in.LocalTick,
			RemoteTick: in.RemoteTick,
			Joyflags:   in.Joyflags,
			Packet:     in.Packet[offset:end],
		}

		if err := w.writeFrame(KindChunkedInput, encodeInput(chunk)); err != nil {
			return err
		}
	}

	return nil
}

// WritePing writes a Ping frame (kind 0x05).
func (w *Writer) WritePing(p PingPong) error {
	return w.writeFrame(KindPing, encodePingPong(p))
}

// WritePong writes a Pong frame (kind 0x06).
func (w *Writer) WritePong(p PingPong) error {
	return w.writeFrame(KindPong, encodePingPong(p))
}

// WriteCancel writes a Cancel frame (kind 0x07).
func (w *Writer) WriteCancel(c Cancel) error {
	return w.writeFrame(KindCancel, []byte{c.Reason})
}

// Reader reads framed messages off an underlying io.Reader.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r in a buffered frame reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame reads the next frame's kind and raw payload (the length prefix
// stripped, the kind byte excluded from payload). Callers decode payload
// with the Decode* helper matching Kind.
func (r *Reader) ReadFrame() (Kind, []byte, error) {
	var length uint32
	if err := binary.Read(r.r, binary.LittleEndian, &length); err != nil {
		return 0, nil, fmt.Errorf("wire: read length: %w", err)
	}

	if length == 0 {
		return 0, nil, fmt.Errorf("wire: frame length 0 (missing kind byte)")
	}

	if length > MaxFrameLen {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	kindByte, err := r.r.ReadByte()
	if err != nil {
		return 0, nil, fmt.Errorf("wire: read kind: %w", err)
	}

	payload := make([]byte, length-1)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return 0, nil, fmt.Errorf("wire: read payload: %w", err)
	}

	return Kind(kindByte), payload, nil
}

func encodeHello(h Hello) []byte {
	buf := make([]byte, 0, 2+4+16+4+4+1+4)
	buf = binary.LittleEndian.AppendUint16(buf, h.ProtocolVersion)
	buf = binary.LittleEndian.AppendUint16(buf, h.MatchTypeChoices[0])
	buf = binary.LittleEndian.AppendUint16(buf, h.MatchTypeChoices[1])
	buf = append(buf, h.Nonce[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.RNGCommitment)
	buf = append(buf, h.ROMCode[:]...)
	buf = append(buf, h.ROMRevision)
	buf = binary.LittleEndian.AppendUint32(buf, h.ROMCRC32)
	return buf
}

// DecodeHello decodes a Hello/HelloAck payload (the shape is identical;
// only the frame Kind distinguishes them).
func DecodeHello(payload []byte) (Hello, error) {
	const wantLen = 2 + 2 + 2 + 16 + 4 + 4 + 1 + 4
	if len(payload) != wantLen {
		return Hello{}, fmt.Errorf("wire: Hello payload is %d bytes, want %d", len(payload), wantLen)
	}

	var h Hello
	off := 0

	h.ProtocolVersion = binary.LittleEndian.Uint16(payload[off:])
	off += 2
	h.MatchTypeChoices[0] = binary.LittleEndian.Uint16(payload[off:])
	off += 2
	h.MatchTypeChoices[1] = binary.LittleEndian.Uint16(payload[off:])
	off += 2
	copy(h.Nonce[:], payload[off:off+16])
	off += 16
	h.RNGCommitment = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	copy(h.ROMCode[:], payload[off:off+4])
	off += 4
	h.ROMRevision = payload[off]
	off++
	h.ROMCRC32 = binary.LittleEndian.Uint32(payload[off:])

	return h, nil
}

func encodeInput(in Input) []byte {
	buf := make([]byte, 0, 4+4+2+1+len(in.Packet))
	buf = binary.LittleEndian.AppendUint32(buf, in.LocalTick)
	buf = binary.LittleEndian.AppendUint32(buf, in.RemoteTick)
	buf = binary.LittleEndian.AppendUint16(buf, in.Joyflags)
	buf = append(buf, byte(len(in.Packet)))
	buf = append(buf, in.Packet...)
	return buf
}

// DecodeInput decodes an Input or ChunkedInput payload; both share the same
// layout (spec.md §6).
func DecodeInput(payload []byte) (Input, error) {
	const headerLen = 4 + 4 + 2 + 1
	if len(payload) < headerLen {
		return Input{}, fmt.Errorf("wire: Input payload is %d bytes, want at least %d", len(payload), headerLen)
	}

	var in Input
	off := 0

	in.LocalTick = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	in.RemoteTick = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	in.Joyflags = binary.LittleEndian.Uint16(payload[off:])
	off += 2

	packetLen := int(payload[off])
	off++

	if len(payload)-off != packetLen {
		return Input{}, fmt.Errorf("wire: Input packet_len=%d but %d bytes remain", packetLen, len(payload)-off)
	}

	in.Packet = make([]byte, packetLen)
	copy(in.Packet, payload[off:])

	return in, nil
}

func encodePingPong(p PingPong) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, p.Timestamp)
	return buf
}

// DecodePingPong decodes a Ping or Pong payload.
func DecodePingPong(payload []byte) (PingPong, error) {
	if len(payload) != 8 {
		return PingPong{}, fmt.Errorf("wire: Ping/Pong payload is %d bytes, want 8", len(payload))
	}

	return PingPong{Timestamp: binary.LittleEndian.Uint64(payload)}, nil
}

// DecodeCancel decodes a Cancel payload.
func DecodeCancel(payload []byte) (Cancel, error) {
	if len(payload) != 1 {
		return Cancel{}, fmt.Errorf("wire: Cancel payload is %d bytes, want 1", len(payload))
	}

	return Cancel{Reason: payload[0]}, nil
}
