// Package dispatch maps one inbound frame to broker calls and a Result that
// tells the connection what to do next.
package dispatch

import (
	"fmt"
	"unicode/utf8"

	"github.com/zeusync/msip/internal/core/broker"
	"github.com/zeusync/msip/internal/core/protocol"
)

// Broker is the part of the broker the dispatcher needs.
type Broker interface {
	Subscribe(id uint64, topic string) error
	Unsubscribe(id uint64, topic string)
	Publish(topic string, frame protocol.Frame) broker.Delivery
}

// ConnectionContext is the per-connection state the dispatcher reads and
// updates. It is owned by the connection's inbound duty.
type ConnectionContext struct {
	ClientID      uint64
	Subscriptions []string
}

func (c *ConnectionContext) addSubscription(topic string) {
	c.Subscriptions = append(c.Subscriptions, topic)
}

func (c *ConnectionContext) removeSubscription(topic string) {
	out := c.Subscriptions[:0]
	for _, t := range c.Subscriptions {
		if t != topic {
			out = append(out, t)
		}
	}
	c.Subscriptions = out
}

// Action tags a Result.
type Action uint8

const (
	// NoReply means the frame was handled and nothing goes back.
	NoReply Action = iota
	// Reply means Result.Frame must be queued to the sender.
	Reply
	// Close means the peer asked to end the session.
	Close
	// ProtocolError means the session must end after one Error frame
	// carrying Result.Reason.
	ProtocolError
)

func (a Action) String() string {
	switch a {
	case NoReply:
		return "no_reply"
	case Reply:
		return "reply"
	case Close:
		return "close"
	case ProtocolError:
		return "protocol_error"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// Result is the outcome of Dispatch.
type Result struct {
	Action Action
	Frame  protocol.Frame
	Reason string
}

func replyWith(f protocol.Frame) Result { return Result{Action: Reply, Frame: f} }

func protocolError(format string, args ...any) Result {
	return Result{Action: ProtocolError, Reason: fmt.Sprintf(format, args...)}
}

// ErrorFrame builds the frame sent before a connection is dropped for a
// protocol error.
func ErrorFrame(reason string) protocol.Frame {
	return protocol.NewFrame(protocol.FrameError, protocol.KindEvent, 0, 0, []byte(reason))
}

// Dispatch handles one decoded frame from the client described by ctx.
func Dispatch(b Broker, ctx *ConnectionContext, f protocol.Frame) Result {
	h := f.Header

	switch h.FrameType {
	case protocol.FramePing:
		return replyWith(protocol.NewFrame(protocol.FramePong, protocol.KindEvent, h.MsgID, 0, nil))

	case protocol.FrameSubscribe:
		if !utf8.Valid(f.Payload) {
			return protocolError("subscribe topic is not valid UTF-8")
		}
		topic := string(f.Payload)
		if err := b.Subscribe(ctx.ClientID, topic); err != nil {
			return protocolError("subscribe %q: %v", topic, err)
		}
		if !h.Flags.Has(protocol.FlagAckRequired) {
			return Result{Action: NoReply}
		}
		ctx.addSubscription(topic)
		return replyWith(ack(h.MsgID))

	case protocol.FrameUnsubscribe:
		if !utf8.Valid(f.Payload) {
			return protocolError("unsubscribe topic is not valid UTF-8")
		}
		topic := string(f.Payload)
		b.Unsubscribe(ctx.ClientID, topic)
		ctx.removeSubscription(topic)
		return replyWith(ack(h.MsgID))

	case protocol.FramePublish:
		topic, _, err := protocol.DecodePublishPayload(f.Payload)
		if err != nil {
			// malformed publishes are dropped and the session continues
			return Result{Action: NoReply}
		}
		b.Publish(topic, f)
		return Result{Action: NoReply}

	case protocol.FrameClose:
		return Result{Action: Close}

	case protocol.FrameHello:
		return Result{Action: NoReply}

	default:
		return protocolError("unexpected %s frame from client", h.FrameType)
	}
}

func ack(msgID uint64) protocol.Frame {
	return protocol.NewFrame(protocol.FrameAck, protocol.KindState, msgID, 0, nil)
}
