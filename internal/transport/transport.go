// Package transport supplies the "ordered, reliable, length-delimited
// bidirectional byte stream between two endpoints" spec.md §1 treats as an
// external collaborator. Only the Stream contract and its adapters are in
// scope; the wire codec on top (internal/wire) and ICE/ICE-signaling
// servers are not.
package transport

import (
	"context"
	"io"
)

// Stream is the byte-stream abstraction internal/wire reads/writes frames
// over. Any io.ReadWriteCloser already satisfies it; a transport that also
// offers a context-aware close implements CloseWithContext below.
type Stream interface {
	io.Reader
	io.Writer

	// Close tears down the underlying connection/data channel.
	Close() error
}

// CloseWithContext is satisfied by transports whose teardown can block
// (e.g. waiting for a WebRTC data channel's buffered-amount to drain);
// callers that care use this optional interface, falling back to plain
// Close otherwise.
type CloseWithContext interface {
	CloseWithContext(ctx context.Context) error
}
