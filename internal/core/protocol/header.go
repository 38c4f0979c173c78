package protocol

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 24-byte frame prefix. Magic and Version are implied:
// the encoder always writes Magic and Version and the decoder rejects
// anything else.
type Header struct {
	Flags      Flags
	FrameType  FrameType
	Kind       MessageKind
	PayloadLen uint32
	MsgID      uint64
}

// NewHeader builds a header with the given fields.
func NewHeader(frameType FrameType, kind MessageKind, payloadLen uint32, msgID uint64, flags Flags) Header {
	return Header{
		Flags:      flags,
		FrameType:  frameType,
		Kind:       kind,
		PayloadLen: payloadLen,
		MsgID:      msgID,
	}
}

// EncodeHeader lays out h big-endian:
//
//	0..4   magic
//	4      version
//	5      flags
//	6..8   frame type
//	8..10  message kind
//	10..12 reserved (zero)
//	12..16 payload length
//	16..24 message id
func EncodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	putHeader(buf[:], h)
	return buf
}

func putHeader(buf []byte, h Header) {
	copy(buf[0:4], Magic[:])
	buf[4] = Version
	buf[5] = byte(h.Flags)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.FrameType))
	binary.BigEndian.PutUint16(buf[8:10], uint16(h.Kind))
	buf[10], buf[11] = 0, 0
	binary.BigEndian.PutUint32(buf[12:16], h.PayloadLen)
	binary.BigEndian.PutUint64(buf[16:24], h.MsgID)
}

// DecodeHeader validates magic, version, flags, frame type and message kind,
// in that order. The payload length is returned as-is.
func DecodeHeader(buf [HeaderSize]byte) (Header, error) {
	if [4]byte(buf[0:4]) != Magic {
		return Header{}, fmt.Errorf("%w: %w: %q", ErrInvalidHeader, ErrInvalidMagic, buf[0:4])
	}
	if buf[4] != Version {
		return Header{}, fmt.Errorf("%w: %w: %d", ErrInvalidHeader, ErrUnsupportedVersion, buf[4])
	}

	flags := Flags(buf[5])
	if flags&^flagsMask != 0 {
		return Header{}, fmt.Errorf("%w: %w: 0x%02x", ErrInvalidHeader, ErrInvalidFlags, buf[5])
	}

	frameType := FrameType(binary.BigEndian.Uint16(buf[6:8]))
	if !frameType.Valid() {
		return Header{}, fmt.Errorf("%w: %w: 0x%04x", ErrInvalidHeader, ErrInvalidFrameType, uint16(frameType))
	}

	kind := MessageKind(binary.BigEndian.Uint16(buf[8:10]))
	if !kind.Valid() {
		return Header{}, fmt.Errorf("%w: %w: 0x%04x", ErrInvalidHeader, ErrInvalidMessageKind, uint16(kind))
	}

	return Header{
		Flags:      flags,
		FrameType:  frameType,
		Kind:       kind,
		PayloadLen: binary.BigEndian.Uint32(buf[12:16]),
		MsgID:      binary.BigEndian.Uint64(buf[16:24]),
	}, nil
}
