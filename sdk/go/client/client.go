// Package client is a Go SDK for MSIP brokers.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/msip/internal/core/observability/log"
	"github.com/zeusync/msip/internal/core/protocol"
)

// Client is one MSIP connection. Requests that expect a reply (Ping,
// Subscribe, Unsubscribe) are matched to replies by msg_id.
type Client struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
	lastID  atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan protocol.Frame

	messages chan Message

	eventHandlers map[EventType][]EventHandler
	handlerMutex  sync.RWMutex

	serverErr atomic.Value // string

	connected int32 // atomic bool
	closed    int32 // atomic bool
	stop      chan struct{}
	done      chan struct{}

	config Config
	logger log.Log

	workerGroup sync.WaitGroup
}

// Config holds configuration for the client
type Config struct {
	ServerAddr     string
	ConnectTimeout time.Duration
	// RequestTimeout bounds Ping/Subscribe/Unsubscribe when the caller's
	// context has no deadline.
	RequestTimeout time.Duration
	// MessageBufferSize is the capacity of the Messages channel.
	MessageBufferSize int
	Logger            Logger
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		ServerAddr:        "127.0.0.1:7070",
		ConnectTimeout:    10 * time.Second,
		RequestTimeout:    5 * time.Second,
		MessageBufferSize: 256,
	}
}

// Message is a publication received from the broker.
type Message struct {
	Topic string
	Data  []byte
	Kind  MessageKind
	MsgID uint64
	Flags Flags
	// Frame is the frame exactly as the broker forwarded it.
	Frame Frame
}

// EventHandler defines a function type for handling client events
type EventHandler func(event Event)

// EventType represents different types of client events
type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeServerError  EventType = "server_error"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	Reason    string
	Error     error
}

// NewClient creates a client. Connect opens the connection.
func NewClient(config Config) *Client {
	if config.Logger == nil {
		config.Logger = log.Nop()
	}
	if config.MessageBufferSize <= 0 {
		config.MessageBufferSize = DefaultClientConfig().MessageBufferSize
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultClientConfig().RequestTimeout
	}

	return &Client{
		pending:       make(map[uint64]chan protocol.Frame),
		messages:      make(chan Message, config.MessageBufferSize),
		eventHandlers: make(map[EventType][]EventHandler),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		config:        config,
		logger:        config.Logger.With(log.String("component", "client")),
	}
}

// Dial is NewClient followed by Connect.
func Dial(ctx context.Context, addr string) (*Client, error) {
	cfg := DefaultClientConfig()
	cfg.ServerAddr = addr
	c := NewClient(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect opens the TCP connection and starts the receiver.
func (c *Client) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if c.config.ServerAddr == "" {
		return fmt.Errorf("%w: empty server address", ErrInvalidConfig)
	}
	if !atomic.CompareAndSwapInt32(&c.connected, 0, 1) {
		return ErrAlreadyConnected
	}

	c.logger.Info("Connecting to server", log.String("addr", c.config.ServerAddr))

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.ServerAddr)
	if err != nil {
		atomic.StoreInt32(&c.connected, 0)
		c.logger.Error("Failed to connect to server",
			log.String("addr", c.config.ServerAddr),
			log.Error(err))
		return err
	}

	c.conn = conn
	c.r = bufio.NewReader(conn)

	c.logger.Info("Connected to server",
		log.String("local_addr", conn.LocalAddr().String()),
		log.String("remote_addr", conn.RemoteAddr().String()))

	c.workerGroup.Add(1)
	go func() {
		defer c.workerGroup.Done()
		c.messageReceiver()
	}()

	c.emitEvent(Event{Type: EventTypeConnected, Timestamp: time.Now()})
	return nil
}

// Close sends a Close frame, closes the connection and waits for the
// receiver to stop.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	c.logger.Info("Closing client")
	close(c.stop)

	if c.conn == nil {
		close(c.done)
		return nil
	}
	if atomic.LoadInt32(&c.connected) == 1 {
		_ = c.SendFrame(protocol.NewFrame(protocol.FrameClose, protocol.KindCommand, c.nextID(), 0, nil))
	}
	err := c.conn.Close()
	c.workerGroup.Wait()
	return err
}

// Messages delivers publications for the client's subscriptions. It is
// closed when the connection ends.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ServerError returns the reason carried by an Error frame, if the server
// sent one.
func (c *Client) ServerError() string {
	if v, ok := c.serverErr.Load().(string); ok {
		return v
	}
	return ""
}

func (c *Client) IsConnected() bool {
	return atomic.LoadInt32(&c.connected) == 1
}

// Ping sends a Ping and returns the round-trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	reply, err := c.request(ctx, protocol.FramePing, protocol.KindCommand, 0, nil)
	if err != nil {
		return 0, err
	}
	if reply.Header.FrameType != protocol.FramePong {
		return 0, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Header.FrameType)
	}
	return time.Since(start), nil
}

// Subscribe subscribes to topic and waits for the broker's Ack.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	reply, err := c.request(ctx, protocol.FrameSubscribe, protocol.KindCommand, protocol.FlagAckRequired, []byte(topic))
	if err != nil {
		return err
	}
	return expectAck(reply)
}

// SubscribeNoAck subscribes without asking for confirmation.
func (c *Client) SubscribeNoAck(topic string) error {
	return c.SendFrame(protocol.NewFrame(protocol.FrameSubscribe, protocol.KindCommand, c.nextID(), 0, []byte(topic)))
}

// Unsubscribe leaves topic. The broker always acknowledges.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	reply, err := c.request(ctx, protocol.FrameUnsubscribe, protocol.KindCommand, 0, []byte(topic))
	if err != nil {
		return err
	}
	return expectAck(reply)
}

// Publish sends data to every subscriber of topic. There is no
// acknowledgement.
func (c *Client) Publish(topic string, kind MessageKind, data []byte) error {
	payload, err := protocol.EncodePublishPayload(topic, data)
	if err != nil {
		return err
	}
	return c.SendFrame(protocol.NewFrame(protocol.FramePublish, kind, c.nextID(), 0, payload))
}

// SendFrame writes f as is.
func (c *Client) SendFrame(f Frame) error {
	if atomic.LoadInt32(&c.connected) == 0 {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.conn, f)
}

// OnEvent registers an event handler for a specific event type
func (c *Client) OnEvent(eventType EventType, handler EventHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], handler)
}

func (c *Client) nextID() uint64 {
	return c.lastID.Add(1)
}

func (c *Client) request(ctx context.Context, ft protocol.FrameType, kind protocol.MessageKind, flags protocol.Flags, payload []byte) (protocol.Frame, error) {
	if atomic.LoadInt32(&c.connected) == 0 {
		return protocol.Frame{}, ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	id := c.nextID()
	ch := make(chan protocol.Frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.SendFrame(protocol.NewFrame(ft, kind, id, flags, payload)); err != nil {
		return protocol.Frame{}, err
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return protocol.Frame{}, c.disconnectErr()
		}
		return f, nil
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	}
}

func (c *Client) disconnectErr() error {
	if reason := c.ServerError(); reason != "" {
		return fmt.Errorf("%w: %s", ErrServerError, reason)
	}
	return ErrNotConnected
}

func expectAck(f protocol.Frame) error {
	if f.Header.FrameType != protocol.FrameAck {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, f.Header.FrameType)
	}
	return nil
}

// messageReceiver reads frames until the connection ends.
func (c *Client) messageReceiver() {
	c.logger.Debug("Message receiver started")

	var readErr error
	for {
		f, err := protocol.ReadFrame(c.r)
		if err != nil {
			readErr = err
			break
		}
		c.handleFrame(f)
	}

	atomic.StoreInt32(&c.connected, 0)

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	close(c.messages)
	close(c.done)

	if atomic.LoadInt32(&c.closed) == 0 {
		c.logger.Info("Disconnected from server", log.Error(readErr))
	}
	c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now(), Error: readErr})
	c.logger.Debug("Message receiver stopped")
}

func (c *Client) handleFrame(f protocol.Frame) {
	switch f.Header.FrameType {
	case protocol.FramePong, protocol.FrameAck:
		c.pendingMu.Lock()
		ch, ok := c.pending[f.Header.MsgID]
		c.pendingMu.Unlock()
		if ok {
			ch <- f
		} else {
			c.logger.Debug("Dropping unsolicited reply",
				log.String("type", f.Header.FrameType.String()),
				log.Uint64("msg_id", f.Header.MsgID))
		}

	case protocol.FramePublish:
		topic, data, err := protocol.DecodePublishPayload(f.Payload)
		if err != nil {
			c.logger.Warn("Dropping malformed publication", log.Error(err))
			return
		}
		msg := Message{
			Topic: topic,
			Data:  data,
			Kind:  f.Header.Kind,
			MsgID: f.Header.MsgID,
			Flags: f.Header.Flags,
			Frame: f,
		}
		select {
		case c.messages <- msg:
		case <-c.stop:
		}

	case protocol.FrameError:
		reason := string(f.Payload)
		c.serverErr.Store(reason)
		c.logger.Warn("Server reported an error", log.String("reason", reason))
		c.emitEvent(Event{Type: EventTypeServerError, Timestamp: time.Now(), Reason: reason})

	default:
		c.logger.Debug("Ignoring frame", log.String("type", f.Header.FrameType.String()))
	}
}

// emitEvent emits an event to registered handlers
func (c *Client) emitEvent(event Event) {
	c.handlerMutex.RLock()
	handlers := c.eventHandlers[event.Type]
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
