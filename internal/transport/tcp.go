package transport

import (
	"fmt"
	"net"
)

// tcpStream wraps a net.Conn as a Stream. Grounded directly on
// netplay.Listen/netplay.Connect
// (_examples/alex-yte-dendy/netplay/netplay.go): a single TCP connection,
// accepted or dialed once, carrying the whole session.
type tcpStream struct {
	conn net.Conn
}

// ListenTCP blocks until one peer connects to addr and returns the
// resulting Stream. Matches netplay.Listen's accept-once shape: Tango is a
// strict two-player protocol, so there is never a second peer to accept.
func ListenTCP(addr string) (Stream, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	defer listener.Close()

	conn, err := listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("transport: accept on %s: %w", addr, err)
	}

	return &tcpStream{conn: conn}, nil
}

// DialTCP connects to addr and returns the resulting Stream.
func DialTCP(addr string) (Stream, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	return &tcpStream{conn: conn}, nil
}

func (s *tcpStream) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *tcpStream) Write(p []byte) (int, error) { return s.conn.Write(p) }
func (s *tcpStream) Close() error                { return s.conn.Close() }
