package server

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/msip/internal/core/observability/log"
	"github.com/zeusync/msip/internal/core/protocol"
)

// WebSocketPath is where the gateway accepts upgrades.
const WebSocketPath = "/msip"

const wsCloseGrace = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// any origin
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) webSocketHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, s.handleWebSocket)
	return mux
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		return
	}
	s.serve(newWSTransport(conn, s.cfg.MaxPayloadBytes), false)
}

// wsTransport carries exactly one MSIP frame per binary WebSocket message.
type wsTransport struct {
	conn       *websocket.Conn
	maxPayload uint32
}

func newWSTransport(conn *websocket.Conn, maxPayload uint32) *wsTransport {
	if maxPayload > 0 {
		conn.SetReadLimit(int64(maxPayload) + protocol.HeaderSize)
	}
	return &wsTransport{conn: conn, maxPayload: maxPayload}
}

func (t *wsTransport) ReadFrame() (protocol.Frame, error) {
	mt, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return protocol.Frame{}, io.EOF
		}
		return protocol.Frame{}, err
	}
	if mt != websocket.BinaryMessage {
		return protocol.Frame{}, ErrNotBinaryMessage
	}

	if len(data) < protocol.HeaderSize {
		return protocol.Frame{}, io.ErrUnexpectedEOF
	}
	var hdr [protocol.HeaderSize]byte
	copy(hdr[:], data)
	h, err := protocol.DecodeHeader(hdr)
	if err != nil {
		return protocol.Frame{}, err
	}
	if t.maxPayload > 0 && h.PayloadLen > t.maxPayload {
		return protocol.Frame{}, fmt.Errorf("%w: %d > %d", protocol.ErrPayloadTooLarge, h.PayloadLen, t.maxPayload)
	}

	// the announced length is checked against the message, never allocated
	body := data[protocol.HeaderSize:]
	switch {
	case uint64(h.PayloadLen) > uint64(len(body)):
		return protocol.Frame{}, io.ErrUnexpectedEOF
	case uint64(h.PayloadLen) < uint64(len(body)):
		return protocol.Frame{}, ErrTrailingBytes
	}
	return protocol.Frame{Header: h, Payload: body}, nil
}

func (t *wsTransport) WriteFrame(f protocol.Frame) error {
	w, err := t.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := protocol.WriteFrame(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseGrace))
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
func (t *wsTransport) Kind() string         { return "websocket" }
