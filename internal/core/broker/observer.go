package broker

import (
	"github.com/zeusync/msip/internal/core/observability/log"
	"github.com/zeusync/msip/internal/core/protocol"
)

// Observer is notified about fan-out. Callbacks run on the publishing
// goroutine after all broker locks are released and should return quickly.
type Observer interface {
	OnPublish(topic string, frame protocol.Frame)
	OnDelivered(topic string, d Delivery)
}

// Delivery summarises one Publish call.
type Delivery struct {
	// Subscribers is the size of the topic's subscriber set at publish time.
	Subscribers int
	Delivered   int
	// Failed counts subscribers whose handle rejected the frame or that
	// unregistered between the topic lookup and the push.
	Failed int
}

// Metrics is a point-in-time snapshot of broker counters.
type Metrics struct {
	Published uint64
	Delivered uint64
	Failed    uint64
	Clients   int
	Topics    int
}

// LogObserver reports every fan-out at debug level and fan-outs with
// failed pushes at warn level.
type LogObserver struct {
	logger log.Log
}

func NewLogObserver(logger log.Log) *LogObserver {
	if logger == nil {
		logger = log.Nop()
	}
	return &LogObserver{logger: logger.Named("fanout")}
}

func (o *LogObserver) OnPublish(string, protocol.Frame) {}

func (o *LogObserver) OnDelivered(topic string, d Delivery) {
	if d.Failed == 0 && o.logger.GetLevel() > log.LevelDebug {
		return
	}
	fields := []log.Field{
		log.String("topic", topic),
		log.Int("subscribers", d.Subscribers),
		log.Int("delivered", d.Delivered),
		log.Int("failed", d.Failed),
	}
	if d.Failed > 0 {
		o.logger.Warn("Fan-out had failed pushes", fields...)
		return
	}
	o.logger.Debug("Fan-out", fields...)
}
