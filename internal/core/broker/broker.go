// Package broker owns the client registry, the topic index and fan-out.
//
// Locking: the registry has its own mutex and the topic index is split into
// shards chosen by hashing the topic name. Register/Unregister/Subscribe take
// the registry lock and then shard locks, Publish takes a shard lock and
// releases it before touching the registry, so the two are never acquired in
// opposite order. No lock is held while a frame is pushed.
package broker

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/msip/internal/core/observability/log"
	"github.com/zeusync/msip/internal/core/protocol"
)

// Handle is the outbound side of one client. Push must not block.
type Handle interface {
	Push(frame protocol.Frame) error
}

// Config tunes the broker.
type Config struct {
	// Shards is the number of topic index partitions. Values below 1 mean 1.
	Shards int
}

type Broker struct {
	lastID atomic.Uint64

	mu      sync.Mutex
	clients map[uint64]Handle

	shards []*topicShard

	obsMu     sync.RWMutex
	observers []Observer

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64

	logger log.Log
}

type topicShard struct {
	mu     sync.Mutex
	topics map[string]map[uint64]struct{}
}

// New creates an empty broker.
func New(cfg Config, logger log.Log) *Broker {
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if logger == nil {
		logger = log.Nop()
	}

	b := &Broker{
		clients: make(map[uint64]Handle),
		shards:  make([]*topicShard, cfg.Shards),
		logger:  logger.With(log.String("component", "broker")),
	}
	for i := range b.shards {
		b.shards[i] = &topicShard{topics: make(map[string]map[uint64]struct{})}
	}
	return b
}

// NextClientID hands out process-unique client ids starting at 1.
func (b *Broker) NextClientID() uint64 {
	return b.lastID.Add(1)
}

// Register binds id to handle, replacing any previous handle.
func (b *Broker) Register(id uint64, handle Handle) error {
	if handle == nil {
		return ErrNilHandle
	}
	b.mu.Lock()
	b.clients[id] = handle
	total := len(b.clients)
	b.mu.Unlock()

	b.logger.Debug("client registered", log.Uint64("client_id", id), log.Int("clients", total))
	return nil
}

// Unregister removes id from the registry and from every topic.
func (b *Broker) Unregister(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.clients, id)
	purged := 0
	for _, sh := range b.shards {
		sh.mu.Lock()
		for _, subs := range sh.topics {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				purged++
			}
		}
		sh.mu.Unlock()
	}

	b.logger.Debug("client unregistered",
		log.Uint64("client_id", id),
		log.Int("subscriptions_purged", purged),
		log.Int("clients", len(b.clients)))
}

// Subscribe adds id to topic, creating the topic on first use.
func (b *Broker) Subscribe(id uint64, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[id]; !ok {
		return ErrClientNotRegistered
	}

	sh := b.shardFor(topic)
	sh.mu.Lock()
	subs, ok := sh.topics[topic]
	if !ok {
		subs = make(map[uint64]struct{})
		sh.topics[topic] = subs
	}
	subs[id] = struct{}{}
	sh.mu.Unlock()
	return nil
}

// Unsubscribe removes id from topic. Unknown topics and absent members are
// ignored. Empty topics are kept.
func (b *Broker) Unsubscribe(id uint64, topic string) {
	sh := b.shardFor(topic)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if subs, ok := sh.topics[topic]; ok {
		delete(subs, id)
	}
}

// Publish pushes a copy of frame to every subscriber of topic. Push failures
// are counted and otherwise ignored; they do not unsubscribe anybody.
func (b *Broker) Publish(topic string, frame protocol.Frame) Delivery {
	sh := b.shardFor(topic)
	sh.mu.Lock()
	subs := sh.topics[topic]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sh.mu.Unlock()

	d := Delivery{Subscribers: len(ids)}
	if len(ids) > 0 {
		handles := make([]Handle, 0, len(ids))
		b.mu.Lock()
		for _, id := range ids {
			if h, ok := b.clients[id]; ok {
				handles = append(handles, h)
			}
		}
		b.mu.Unlock()

		d.Failed = len(ids) - len(handles)
		for _, h := range handles {
			if err := h.Push(frame.Clone()); err != nil {
				d.Failed++
				continue
			}
			d.Delivered++
		}
	}

	b.published.Add(1)
	b.delivered.Add(uint64(d.Delivered))
	b.failed.Add(uint64(d.Failed))
	b.notify(topic, frame, d)
	return d
}

// AddObserver registers obs for publish callbacks.
func (b *Broker) AddObserver(obs Observer) {
	b.obsMu.Lock()
	b.observers = append(b.observers, obs)
	b.obsMu.Unlock()
}

// RemoveObserver unregisters obs.
func (b *Broker) RemoveObserver(obs Observer) {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return
		}
	}
}

// Registered reports whether id currently has a handle.
func (b *Broker) Registered(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.clients[id]
	return ok
}

// Clients returns the registered ids in ascending order.
func (b *Broker) Clients() []uint64 {
	b.mu.Lock()
	ids := make([]uint64, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Topics returns every known topic, including ones with no subscribers.
func (b *Broker) Topics() []string {
	var out []string
	for _, sh := range b.shards {
		sh.mu.Lock()
		for name := range sh.topics {
			out = append(out, name)
		}
		sh.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

func (b *Broker) TopicCount() int {
	n := 0
	for _, sh := range b.shards {
		sh.mu.Lock()
		n += len(sh.topics)
		sh.mu.Unlock()
	}
	return n
}

// Subscribers returns the ids subscribed to topic in ascending order.
func (b *Broker) Subscribers(topic string) []uint64 {
	sh := b.shardFor(topic)
	sh.mu.Lock()
	ids := make([]uint64, 0, len(sh.topics[topic]))
	for id := range sh.topics[topic] {
		ids = append(ids, id)
	}
	sh.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *Broker) Metrics() Metrics {
	b.mu.Lock()
	clients := len(b.clients)
	b.mu.Unlock()
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
		Clients:   clients,
		Topics:    b.TopicCount(),
	}
}

func (b *Broker) shardFor(topic string) *topicShard {
	if len(b.shards) == 1 {
		return b.shards[0]
	}
	return b.shards[xxhash.Sum64String(topic)%uint64(len(b.shards))]
}

func (b *Broker) notify(topic string, frame protocol.Frame, d Delivery) {
	b.obsMu.RLock()
	defer b.obsMu.RUnlock()
	for _, obs := range b.observers {
		obs.OnPublish(topic, frame)
		obs.OnDelivered(topic, d)
	}
}
