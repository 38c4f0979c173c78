package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/zeusync/msip/pkg/generic"
)

// Frame is one complete protocol message.
type Frame struct {
	Header  Header
	Payload []byte
}

// NewFrame builds a frame whose header payload length matches payload.
func NewFrame(frameType FrameType, kind MessageKind, msgID uint64, flags Flags, payload []byte) Frame {
	return Frame{
		Header:  NewHeader(frameType, kind, uint32(len(payload)), msgID, flags),
		Payload: payload,
	}
}

// Clone returns a copy that shares no memory with f.
func (f Frame) Clone() Frame {
	out := Frame{Header: f.Header}
	if f.Payload != nil {
		out.Payload = append(make([]byte, 0, len(f.Payload)), f.Payload...)
	}
	return out
}

const (
	maxPooledWriteBuffer = 64 * 1024
	warmBuffers          = 16
)

var (
	headerBuffers = generic.NewPool(func() *[HeaderSize]byte { return new([HeaderSize]byte) }).Warm(warmBuffers)
	writeBuffers  = generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }).Warm(warmBuffers)
)

// ReadFrame reads one frame, blocking until the whole header and the whole
// payload have arrived. A clean EOF before the first header byte is
// returned as io.EOF; EOF anywhere later is io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (Frame, error) {
	return ReadFrameLimit(r, 0)
}

// ReadFrameLimit is ReadFrame with an upper bound on payload length.
// maxPayload == 0 disables the check.
func ReadFrameLimit(r io.Reader, maxPayload uint32) (Frame, error) {
	buf := headerBuffers.Get()
	defer headerBuffers.Put(buf)

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Frame{}, err
	}

	h, err := DecodeHeader(*buf)
	if err != nil {
		return Frame{}, err
	}
	if maxPayload > 0 && h.PayloadLen > maxPayload {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.PayloadLen, maxPayload)
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
	}

	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame writes the header followed by the payload. The header's
// payload length is taken from len(f.Payload). Short writes are retried
// until the frame is complete or the writer fails.
func WriteFrame(w io.Writer, f Frame) error {
	buf := writeBuffers.Get()
	defer func() {
		if buf.Cap() <= maxPooledWriteBuffer {
			writeBuffers.Put(buf)
		}
	}()
	buf.Reset()
	buf.Grow(HeaderSize + len(f.Payload))

	h := f.Header
	h.PayloadLen = uint32(len(f.Payload))
	hb := EncodeHeader(h)
	buf.Write(hb[:])
	buf.Write(f.Payload)

	return writeFull(w, buf.Bytes())
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		p = p[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}
