package server

import (
	"bufio"
	"net"

	"github.com/zeusync/msip/internal/core/protocol"
)

// transport carries whole frames for one client. ReadFrame is called only
// by the inbound duty and WriteFrame only by the outbound duty. Close must
// be safe to call concurrently with both and more than once.
type transport interface {
	ReadFrame() (protocol.Frame, error)
	WriteFrame(f protocol.Frame) error
	Close() error
	RemoteAddr() net.Addr
	Kind() string
}

type tcpTransport struct {
	conn       net.Conn
	r          *bufio.Reader
	maxPayload uint32
}

func newTCPTransport(conn net.Conn, maxPayload uint32) *tcpTransport {
	return &tcpTransport{
		conn:       conn,
		r:          bufio.NewReader(conn),
		maxPayload: maxPayload,
	}
}

func (t *tcpTransport) ReadFrame() (protocol.Frame, error) {
	return protocol.ReadFrameLimit(t.r, t.maxPayload)
}

func (t *tcpTransport) WriteFrame(f protocol.Frame) error {
	return protocol.WriteFrame(t.conn, f)
}

func (t *tcpTransport) Close() error         { return t.conn.Close() }
func (t *tcpTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
func (t *tcpTransport) Kind() string         { return "tcp" }
