package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/msip/internal/core/dispatch"
	"github.com/zeusync/msip/internal/core/observability/log"
	"github.com/zeusync/msip/internal/core/queue"
)

// session is the actor serving one client: an inbound duty reading and
// dispatching frames, and an outbound duty writing the client's queue.
type session struct {
	id     uint64
	connID string

	transport transport
	queue     *queue.Outbound
	dctx      dispatch.ConnectionContext

	server *Server
	logger log.Log

	closeOnce sync.Once
	closing   chan struct{}
}

func (s *Server) newSession(t transport) *session {
	id := s.broker.NextClientID()
	connID := uuid.NewString()
	return &session{
		id:        id,
		connID:    connID,
		transport: t,
		queue:     queue.NewOutbound(),
		dctx:      dispatch.ConnectionContext{ClientID: id},
		server:    s,
		closing:   make(chan struct{}),
		logger: s.logger.With(
			log.Uint64("client_id", id),
			log.String("conn_id", connID),
			log.String("transport", t.Kind()),
			log.String("remote_addr", addrString(t.RemoteAddr())),
		),
	}
}

// run blocks until the session has terminated and the client is gone from
// the broker.
func (c *session) run(ctx context.Context) {
	if err := c.server.broker.Register(c.id, c.queue); err != nil {
		c.logger.Error("Failed to register client", log.Error(err))
		c.closeTransport()
		return
	}
	c.logger.Info("Client connected")

	started := time.Now()
	var drain *time.Timer

	g := new(errgroup.Group)
	g.Go(func() error {
		defer func() {
			// Terminating: out of fan-out first, then drain what is already queued
			c.server.broker.Unregister(c.id)
			c.queue.Close()
			drain = time.AfterFunc(c.server.cfg.DrainTimeout, c.closeTransport)
		}()
		return c.inbound()
	})
	g.Go(func() error {
		return c.outbound(ctx)
	})
	err := g.Wait()

	if drain != nil {
		drain.Stop()
	}
	c.closeTransport()

	fields := []log.Field{
		log.Duration("duration", time.Since(started)),
		log.Int("subscriptions", len(c.dctx.Subscriptions)),
	}
	switch {
	case err == nil:
		c.logger.Info("Client disconnected", fields...)
	case errors.Is(err, ErrProtocolViolation):
		c.logger.Warn("Client disconnected after protocol violation", append(fields, log.Error(err))...)
	default:
		c.logger.Warn("Client connection failed", append(fields, log.Error(err))...)
	}
}

func (c *session) inbound() error {
	for {
		f, err := c.transport.ReadFrame()
		if err != nil {
			if c.isClosing() || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		res := dispatch.Dispatch(c.server.broker, &c.dctx, f)
		switch res.Action {
		case dispatch.Reply:
			if err := c.queue.Push(res.Frame); err != nil {
				return fmt.Errorf("reply: %w", err)
			}
		case dispatch.NoReply:
		case dispatch.Close:
			c.logger.Debug("Client sent close", log.Uint64("msg_id", f.Header.MsgID))
			return nil
		case dispatch.ProtocolError:
			_ = c.queue.Push(dispatch.ErrorFrame(res.Reason))
			return fmt.Errorf("%w: %s", ErrProtocolViolation, res.Reason)
		}
	}
}

// outbound writes queued frames until the queue is closed and drained, a
// write fails or ctx is done.
func (c *session) outbound(ctx context.Context) error {
	for {
		f, err := c.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || c.isClosing() {
				return nil
			}
			c.closeTransport()
			return err
		}
		if err := c.transport.WriteFrame(f); err != nil {
			if c.isClosing() {
				return nil
			}
			// unblocks the inbound read
			c.closeTransport()
			return fmt.Errorf("write %s: %w", f.Header.FrameType, err)
		}
	}
}

func (c *session) closeTransport() {
	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.transport.Close()
	})
}

func (c *session) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
