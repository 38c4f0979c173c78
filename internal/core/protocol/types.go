package protocol

import "fmt"

// Wire constants for protocol version 1.
const (
	HeaderSize = 24
	Version    = uint8(1)
)

// Magic is the 4-byte tag opening every frame.
var Magic = [4]byte{'M', 'S', 'I', 'P'}

// Flags is the header flag bitmask.
type Flags uint8

const (
	FlagAckRequired Flags = 1 << 0
	FlagCompressed  Flags = 1 << 1
	FlagUrgent      Flags = 1 << 2

	flagsMask = FlagAckRequired | FlagCompressed | FlagUrgent
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// FrameType identifies what a frame asks for or carries.
type FrameType uint16

const (
	FrameHello       FrameType = 0x0001
	FrameSubscribe   FrameType = 0x0002
	FrameUnsubscribe FrameType = 0x0003
	FramePublish     FrameType = 0x0004
	FrameEvent       FrameType = 0x0005
	FrameAck         FrameType = 0x0006
	FrameError       FrameType = 0x0007
	FramePing        FrameType = 0x0008
	FramePong        FrameType = 0x0009
	FrameClose       FrameType = 0x000A
)

// Valid reports whether t is one of the defined frame types.
func (t FrameType) Valid() bool {
	return t >= FrameHello && t <= FrameClose
}

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameSubscribe:
		return "subscribe"
	case FrameUnsubscribe:
		return "unsubscribe"
	case FramePublish:
		return "publish"
	case FrameEvent:
		return "event"
	case FrameAck:
		return "ack"
	case FrameError:
		return "error"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameClose:
		return "close"
	default:
		return fmt.Sprintf("frame_type(0x%04x)", uint16(t))
	}
}

// MessageKind classifies the application meaning of a frame.
type MessageKind uint16

const (
	KindEvent   MessageKind = 0x0001
	KindCommand MessageKind = 0x0002
	KindState   MessageKind = 0x0003
	KindLog     MessageKind = 0x0004
	KindMetric  MessageKind = 0x0005
)

// Valid reports whether k is one of the defined message kinds.
func (k MessageKind) Valid() bool {
	return k >= KindEvent && k <= KindMetric
}

func (k MessageKind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindCommand:
		return "command"
	case KindState:
		return "state"
	case KindLog:
		return "log"
	case KindMetric:
		return "metric"
	default:
		return fmt.Sprintf("msg_kind(0x%04x)", uint16(k))
	}
}
