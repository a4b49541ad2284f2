package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/pion/webrtc/v3"
)

// dataChannelStream adapts a pion DataChannel's event-driven OnMessage/Send
// API to the blocking io.Reader/io.Writer Stream expects, via an in-process
// io.Pipe feeding incoming messages to Read. Grounded on n0remac's
// peer-connection setup style in the pack (event handlers registered once
// at construction), generalized from RTP media tracks to a single ordered
// data channel since spec.md treats WebRTC only as a transport for the
// wire codec, never as media.
type dataChannelStream struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	pr *io.PipeReader
	pw *io.PipeWriter
}

// NewWebRTCStream wraps an already-open DataChannel (the caller is
// responsible for the offer/answer/ICE exchange, typically via
// internal/signaling) as a Stream. dc must already be open; passing one
// still negotiating will simply queue writes until pion flushes them, and
// Read will block until the remote side sends its first message.
func NewWebRTCStream(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *dataChannelStream {
	pr, pw := io.Pipe()

	s := &dataChannelStream{pc: pc, dc: dc, pr: pr, pw: pw}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if _, err := s.pw.Write(msg.Data); err != nil {
			return
		}
	})

	dc.OnClose(func() {
		_ = s.pw.CloseWithError(io.EOF)
	})

	return s
}

func (s *dataChannelStream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

func (s *dataChannelStream) Write(p []byte) (int, error) {
	if err := s.dc.Send(p); err != nil {
		return 0, fmt.Errorf("transport: data channel send: %w", err)
	}

	return len(p), nil
}

func (s *dataChannelStream) Close() error {
	_ = s.pw.Close()
	_ = s.dc.Close()
	return s.pc.Close()
}

// CloseWithContext closes the data channel and peer connection but gives up
// waiting once ctx is done, satisfying CloseWithContext for callers that
// want a bounded teardown instead of pion's default blocking Close.
func (s *dataChannelStream) CloseWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.Close() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("transport: close did not complete before context cancellation: %w", ctx.Err())
	}
}

// NewPeerConnection builds a PeerConnection using Tango's default ICE
// configuration: no STUN/TURN servers, matching spec.md §1's placement of
// "ICE configuration service" out of scope — callers needing NAT traversal
// supply their own webrtc.Configuration via NewPeerConnectionWithConfig.
func NewPeerConnection() (*webrtc.PeerConnection, error) {
	return NewPeerConnectionWithConfig(webrtc.Configuration{})
}

// NewPeerConnectionWithConfig builds a PeerConnection with a caller-supplied
// ICE configuration.
func NewPeerConnectionWithConfig(cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: new peer connection: %w", err)
	}

	return pc, nil
}

// CreateOrderedDataChannel opens the single ordered, reliable data channel
// Tango's match traffic rides on (spec.md §1: "ordered, reliable,
// length-delimited bidirectional byte stream").
func CreateOrderedDataChannel(pc *webrtc.PeerConnection, label string) (*webrtc.DataChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("transport: create data channel %q: %w", label, err)
	}

	return dc, nil
}
