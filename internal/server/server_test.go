package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/msip/internal/core/broker"
	"github.com/zeusync/msip/internal/core/protocol"
)

const ioTimeout = 2 * time.Second

func startServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.DrainTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	s := NewServer(cfg, broker.New(broker.Config{Shards: 4}, nil), nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

type rawClient struct {
	t      *testing.T
	conn   net.Conn
	r      *bufio.Reader
	lastID atomic.Uint64
}

func dialRaw(t *testing.T, s *Server) *rawClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr().String(), ioTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	c := &rawClient{t: t, conn: conn, r: bufio.NewReader(conn)}
	c.lastID.Store(1000)
	return c
}

func (c *rawClient) send(f protocol.Frame) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(ioTimeout)))
	require.NoError(c.t, protocol.WriteFrame(c.conn, f))
}

func (c *rawClient) recv() protocol.Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(ioTimeout)))
	f, err := protocol.ReadFrame(c.r)
	require.NoError(c.t, err)
	return f
}

// expectClosed asserts that the server closes the connection without
// sending anything else.
func (c *rawClient) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(ioTimeout)))
	_, err := protocol.ReadFrame(c.r)
	require.Error(c.t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		assert.False(c.t, ne.Timeout(), "connection was not closed: %v", err)
	}
}

// sync sends a Ping and returns every frame received before its Pong. All
// frames sent earlier on this connection have been fully handled by then.
func (c *rawClient) sync() []protocol.Frame {
	c.t.Helper()
	id := c.lastID.Add(1)
	c.send(protocol.NewFrame(protocol.FramePing, protocol.KindCommand, id, 0, nil))

	var before []protocol.Frame
	for {
		f := c.recv()
		if f.Header.FrameType == protocol.FramePong && f.Header.MsgID == id {
			return before
		}
		before = append(before, f)
	}
}

func (c *rawClient) subscribe(topic string, ack bool) {
	c.t.Helper()
	var flags protocol.Flags
	if ack {
		flags = protocol.FlagAckRequired
	}
	id := c.lastID.Add(1)
	c.send(protocol.NewFrame(protocol.FrameSubscribe, protocol.KindCommand, id, flags, []byte(topic)))
	if ack {
		f := c.recv()
		require.Equal(c.t, protocol.FrameAck, f.Header.FrameType)
		require.Equal(c.t, id, f.Header.MsgID)
	}
}

func (c *rawClient) publish(topic, data string) protocol.Frame {
	c.t.Helper()
	payload, err := protocol.EncodePublishPayload(topic, []byte(data))
	require.NoError(c.t, err)
	f := protocol.NewFrame(protocol.FramePublish, protocol.KindEvent, c.lastID.Add(1), protocol.FlagUrgent, payload)
	c.send(f)
	return f
}

func TestPingPong(t *testing.T) {
	s := startServer(t, nil)
	c := dialRaw(t, s)

	c.send(protocol.NewFrame(protocol.FramePing, protocol.KindCommand, 42, 0, []byte("ignored")))
	f := c.recv()
	assert.Equal(t, protocol.FramePong, f.Header.FrameType)
	assert.Equal(t, uint64(42), f.Header.MsgID)
	assert.Empty(t, f.Payload)
	assert.Empty(t, c.sync())
}

func TestPublishReachesSubscriberOnly(t *testing.T) {
	s := startServer(t, nil)
	a := dialRaw(t, s)
	b := dialRaw(t, s)
	other := dialRaw(t, s)

	a.subscribe("t", true)
	other.subscribe("u", true)

	sent := b.publish("t", "payload-P")
	assert.Empty(t, b.sync())

	got := a.recv()
	assert.Equal(t, sent, got)
	_, data, err := protocol.DecodePublishPayload(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-P"), data)

	assert.Empty(t, other.sync())
	assert.Empty(t, a.sync())
}

func TestSubscribeWithoutAckTakesEffect(t *testing.T) {
	s := startServer(t, nil)
	a := dialRaw(t, s)
	b := dialRaw(t, s)

	a.subscribe("t", false)
	// no Ack precedes the Pong
	assert.Empty(t, a.sync())

	sent := b.publish("t", "x")
	b.sync()
	assert.Equal(t, sent, a.recv())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := startServer(t, nil)
	a := dialRaw(t, s)
	b := dialRaw(t, s)

	a.subscribe("t", true)
	a.send(protocol.NewFrame(protocol.FrameUnsubscribe, protocol.KindCommand, 77, 0, []byte("t")))
	ack := a.recv()
	assert.Equal(t, protocol.FrameAck, ack.Header.FrameType)
	assert.Equal(t, uint64(77), ack.Header.MsgID)

	b.publish("t", "after")
	b.sync()
	assert.Empty(t, a.sync())
}

func TestMalformedPublishKeepsConnectionOpen(t *testing.T) {
	s := startServer(t, nil)
	a := dialRaw(t, s)
	sub := dialRaw(t, s)
	sub.subscribe("t", true)

	for _, payload := range [][]byte{
		nil,
		{0x01},
		{0x00, 0x09, 't'},
		{0x00, 0x01, 0xff},
	} {
		a.send(protocol.NewFrame(protocol.FramePublish, protocol.KindEvent, 1, 0, payload))
	}
	assert.Empty(t, a.sync())
	assert.Empty(t, sub.sync())
	assert.Equal(t, uint64(0), s.Broker().Metrics().Published)
}

func TestDisconnectPurgesSubscriptions(t *testing.T) {
	s := startServer(t, nil)
	a := dialRaw(t, s)
	b := dialRaw(t, s)
	c := dialRaw(t, s)

	a.subscribe("t", true)
	a.subscribe("u", true)
	c.subscribe("t", true)
	require.Len(t, s.Broker().Subscribers("t"), 2)

	a.send(protocol.NewFrame(protocol.FrameClose, protocol.KindCommand, 9, 0, nil))
	a.expectClosed()
	require.Eventually(t, func() bool {
		return len(s.Broker().Subscribers("t")) == 1 && len(s.Broker().Subscribers("u")) == 0
	}, ioTimeout, 10*time.Millisecond)

	sent := b.publish("t", "still here")
	b.sync()
	assert.Equal(t, sent, c.recv())
	assert.Equal(t, uint64(0), s.Broker().Metrics().Failed)
}

func TestAbruptDisconnectUnregisters(t *testing.T) {
	s := startServer(t, nil)
	a := dialRaw(t, s)
	a.subscribe("t", true)
	require.Eventually(t, func() bool { return len(s.Broker().Clients()) == 1 }, ioTimeout, 10*time.Millisecond)

	require.NoError(t, a.conn.Close())
	require.Eventually(t, func() bool {
		return len(s.Broker().Clients()) == 0 && len(s.Broker().Subscribers("t")) == 0
	}, ioTimeout, 10*time.Millisecond)
	assert.Equal(t, []string{"t"}, s.Broker().Topics())
}

func TestClosingSessionLeavesFanOutBeforeDrain(t *testing.T) {
	s := startServer(t, func(cfg *Config) { cfg.DrainTimeout = 10 * time.Second })
	a := dialRaw(t, s)
	b := dialRaw(t, s)
	a.subscribe("t", true)

	// a stops reading, so these back up in its socket and outbound queue
	chunk := strings.Repeat("x", 1<<20)
	for i := 0; i < 32; i++ {
		b.publish("t", chunk)
	}
	b.sync()
	require.Equal(t, uint64(0), s.Broker().Metrics().Failed)

	a.send(protocol.NewFrame(protocol.FrameClose, protocol.KindCommand, 9, 0, nil))
	require.Eventually(t, func() bool {
		return len(s.Broker().Subscribers("t")) == 0 && len(s.Broker().Clients()) == 1
	}, ioTimeout, 10*time.Millisecond)
	// a is still draining
	assert.Equal(t, 2, s.GetStats().Sessions)

	d := s.Broker().Publish("t", protocol.NewFrame(protocol.FrameEvent, protocol.KindEvent, 1, 0, nil))
	assert.Equal(t, broker.Delivery{}, d)
	b.publish("t", "after close")
	b.sync()
	assert.Equal(t, uint64(0), s.Broker().Metrics().Failed)
}

func TestProtocolErrorSendsOneErrorFrame(t *testing.T) {
	tests := []struct {
		name   string
		frame  protocol.Frame
		reason string
	}{
		{
			name:   "client sent event",
			frame:  protocol.NewFrame(protocol.FrameEvent, protocol.KindEvent, 5, 0, nil),
			reason: "unexpected event frame from client",
		},
		{
			name:   "client sent pong",
			frame:  protocol.NewFrame(protocol.FramePong, protocol.KindEvent, 5, 0, nil),
			reason: "unexpected pong frame from client",
		},
		{
			name:   "subscribe with invalid utf8",
			frame:  protocol.NewFrame(protocol.FrameSubscribe, protocol.KindCommand, 5, protocol.FlagAckRequired, []byte{0xff}),
			reason: "subscribe topic is not valid UTF-8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startServer(t, nil)
			c := dialRaw(t, s)

			c.send(tt.frame)
			f := c.recv()
			assert.Equal(t, protocol.FrameError, f.Header.FrameType)
			assert.Equal(t, protocol.KindEvent, f.Header.Kind)
			assert.Zero(t, f.Header.MsgID)
			assert.Equal(t, tt.reason, string(f.Payload))
			c.expectClosed()

			require.Eventually(t, func() bool { return len(s.Broker().Clients()) == 0 }, ioTimeout, 10*time.Millisecond)
		})
	}
}

func TestHeaderDecodeErrorClosesWithoutReply(t *testing.T) {
	s := startServer(t, nil)
	c := dialRaw(t, s)

	hdr := protocol.EncodeHeader(protocol.NewHeader(protocol.FramePing, protocol.KindEvent, 0, 1, 0))
	copy(hdr[0:4], "NOPE")
	_, err := c.conn.Write(hdr[:])
	require.NoError(t, err)

	c.expectClosed()
}

func TestPayloadLimit(t *testing.T) {
	s := startServer(t, func(cfg *Config) { cfg.MaxPayloadBytes = 8 })
	c := dialRaw(t, s)

	c.send(protocol.NewFrame(protocol.FramePing, protocol.KindEvent, 1, 0, []byte("12345678")))
	assert.Equal(t, protocol.FramePong, c.recv().Header.FrameType)

	c.send(protocol.NewFrame(protocol.FramePing, protocol.KindEvent, 2, 0, []byte("123456789")))
	c.expectClosed()
}

func TestClientIDsAreDistinct(t *testing.T) {
	s := startServer(t, nil)
	for i := 0; i < 5; i++ {
		dialRaw(t, s).sync()
	}
	ids := s.Broker().Clients()
	require.Len(t, ids, 5)
	seen := map[uint64]bool{}
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestStartStop(t *testing.T) {
	s := startServer(t, nil)
	c := dialRaw(t, s)
	c.sync()

	assert.ErrorIs(t, s.Start(context.Background()), ErrServerAlreadyRunning)
	assert.True(t, s.GetStats().Running)
	assert.Equal(t, 1, s.GetStats().Sessions)

	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	c.expectClosed()

	assert.ErrorIs(t, s.Stop(ctx), ErrServerNotRunning)
	assert.Equal(t, 0, s.GetStats().Sessions)
	assert.Empty(t, s.Broker().Clients())

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Start(context.Background()), ErrServerClosed)
}

func TestStartReportsBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := DefaultServerConfig()
	cfg.ListenAddr = taken.Addr().String()
	s := NewServer(cfg, broker.New(broker.Config{}, nil), nil)
	assert.ErrorIs(t, s.Start(context.Background()), ErrListenerFailed)
	assert.False(t, s.GetStats().Running)
}
