package client

import (
	"github.com/zeusync/msip/internal/core/observability/log"
	"github.com/zeusync/msip/internal/core/protocol"
)

// Wire types used in the client API. They are aliases so values move
// between the client and the broker packages without conversion.
type (
	MessageKind = protocol.MessageKind
	Flags       = protocol.Flags
	FrameType   = protocol.FrameType
	Header      = protocol.Header
	Frame       = protocol.Frame
	Logger      = log.Log
)

const (
	KindEvent   = protocol.KindEvent
	KindCommand = protocol.KindCommand
	KindState   = protocol.KindState
	KindLog     = protocol.KindLog
	KindMetric  = protocol.KindMetric
)

const (
	FlagAckRequired = protocol.FlagAckRequired
	FlagCompressed  = protocol.FlagCompressed
	FlagUrgent      = protocol.FlagUrgent
)

const (
	FrameHello       = protocol.FrameHello
	FrameSubscribe   = protocol.FrameSubscribe
	FrameUnsubscribe = protocol.FrameUnsubscribe
	FramePublish     = protocol.FramePublish
	FrameEvent       = protocol.FrameEvent
	FrameAck         = protocol.FrameAck
	FrameError       = protocol.FrameError
	FramePing        = protocol.FramePing
	FramePong        = protocol.FramePong
	FrameClose       = protocol.FrameClose
)

// NewFrame builds a frame for SendFrame. The header's payload length is
// taken from payload.
func NewFrame(ft FrameType, kind MessageKind, msgID uint64, flags Flags, payload []byte) Frame {
	return protocol.NewFrame(ft, kind, msgID, flags, payload)
}

// NopLogger discards everything. It is the default when Config.Logger is nil.
func NopLogger() Logger {
	return log.Nop()
}
