package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/configuration"
	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/mq"
	"github.com/VolantMQ/zbus/protocol"
)

// ServerConfig ...
type ServerConfig struct {
	Topic string
	// Group defaults to group named after topic
	Group           *protocol.ConsumeGroup
	ConnectionCount int
	RunInPool       bool
	WorkerCount     int
	// ReplyTimeout bound of handler and reply write, defaults to 10s
	ReplyTimeout time.Duration
	Log          *zap.Logger
}

// Server consumes requests of topic and routes replies back to callers
type Server struct {
	cfg       ServerConfig
	processor *Processor
	consumer  *mq.Consumer
	log       *zap.Logger
}

// NewServer ...
func NewServer(b *mq.Broker, p *Processor, c ServerConfig) *Server {
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 10 * time.Second
	}

	if c.Log == nil {
		c.Log = configuration.GetLogger().Named("rpc." + c.Topic)
	}

	s := &Server{
		cfg:       c,
		processor: p,
		log:       c.Log,
	}

	s.consumer = mq.NewConsumer(b, mq.ConsumerConfig{
		Topic:           c.Topic,
		Group:           c.Group,
		Handler:         s.handle,
		ConnectionCount: c.ConnectionCount,
		RunInPool:       c.RunInPool,
		WorkerCount:     c.WorkerCount,
		Log:             c.Log,
	})

	return s
}

// Start ...
func (s *Server) Start() error {
	return s.consumer.Start()
}

// Dispose ...
func (s *Server) Dispose() {
	s.consumer.Dispose()
}

func (s *Server) handle(m *message.Message, c *mq.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReplyTimeout)
	defer cancel()

	res := s.processor.Handle(ctx, m)
	res.SetID(m.ID())
	res.SetRecver(m.Sender())

	if err := c.Route(ctx, res); err != nil {
		s.log.Error("route reply", zap.String("id", m.ID()), zap.String("recver", m.Sender()), zap.Error(err))
	}
}
