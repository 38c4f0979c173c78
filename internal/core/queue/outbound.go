// Package queue holds the per-client outbound frame queue.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"

	"github.com/zeusync/msip/internal/core/protocol"
)

var ErrQueueClosed = errors.New("queue: closed")

// Outbound is an unbounded FIFO of frames with any number of producers and
// a single consumer. Push never blocks.
type Outbound struct {
	mu     sync.Mutex
	items  *queue.Queue
	closed bool

	notify   chan struct{}
	closedCh chan struct{}
}

func NewOutbound() *Outbound {
	return &Outbound{
		items:    queue.New(),
		notify:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// Push appends f. It fails only after Close.
func (o *Outbound) Push(f protocol.Frame) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrQueueClosed
	}
	o.items.Add(f)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the oldest frame, waiting for one if the queue is empty.
// Frames pushed before Close are still returned; once the queue is closed
// and empty Pop returns ErrQueueClosed.
func (o *Outbound) Pop(ctx context.Context) (protocol.Frame, error) {
	for {
		o.mu.Lock()
		if o.items.Length() > 0 {
			f := o.items.Remove().(protocol.Frame)
			o.mu.Unlock()
			return f, nil
		}
		closed := o.closed
		o.mu.Unlock()

		if closed {
			return protocol.Frame{}, ErrQueueClosed
		}

		select {
		case <-o.notify:
		case <-o.closedCh:
		case <-ctx.Done():
			return protocol.Frame{}, ctx.Err()
		}
	}
}

// Close rejects further pushes. Safe to call more than once.
func (o *Outbound) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.closedCh)
}

func (o *Outbound) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Outbound) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.items.Length()
}
