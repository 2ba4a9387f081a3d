package mq

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/protocol"
)

// Producer sends messages to least loaded server of topic
type Producer struct {
	broker *Broker

	// Selector defaults to LeastLoaded
	Selector ServerSelector
}

// NewProducer ...
func NewProducer(b *Broker) *Producer {
	return &Producer{
		broker:   b,
		Selector: LeastLoaded,
	}
}

// Produce message and wait response of server
// messages with ack disabled wait for reply routed by consumer instead of server ack
// non 200 response returned along with *Error
func (p *Producer) Produce(ctx context.Context, m *message.Message) (*message.Message, error) {
	topic := m.Topic()
	if len(topic) == 0 {
		return nil, ErrMissingTopic
	}

	m.SetCmd(protocol.Produce)

	pools := p.broker.Select(p.Selector, m)
	if len(pools) == 0 {
		return nil, errors.Wrapf(ErrNoServer, "topic %s", topic)
	}

	target := pools[0]

	c, err := target.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	defer target.Return(c)

	stats := p.broker.cfg.Metrics.Messages()

	c.prepare(m)

	start := time.Now()

	res, err := c.Invoke(ctx, m)
	if err != nil {
		stats.OnFailed()
		return nil, err
	}

	stats.OnLatency(time.Since(start).Nanoseconds() / int64(time.Millisecond))

	if !m.Ack() {
		restoreStatus(res)
	}

	if err = checkStatus(res); err != nil {
		stats.OnFailed()
		return res, err
	}

	stats.OnProduced()

	return res, nil
}

// restoreStatus of routed reply, route requests carry status in origin_status
func restoreStatus(res *message.Message) {
	if res.Status != 0 {
		return
	}

	res.Status = protocol.StatusOK
	if s, ok := res.OriginStatus(); ok {
		res.Status = s
		res.RemoveHeader(protocol.HeaderOriginStatus)
	}
}
