package mq

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/configuration"
	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/protocol"
	"github.com/VolantMQ/zbus/workers"
)

// ConsumerConfig ...
type ConsumerConfig struct {
	Topic   string
	Group   *protocol.ConsumeGroup
	Handler Handler
	// ConnectionCount consume loops per server, defaults to 1
	ConnectionCount int
	ConsumeWindow   int
	ConsumeTimeout  time.Duration
	// RunInPool dispatch handler on goroutine pool of WorkerCount size
	RunInPool   bool
	WorkerCount int
	// Selector limits servers consumed from, nil consumes from every live server
	Selector ServerSelector
	Log      *zap.Logger
}

// Consumer keeps one ConsumeThread per live server of broker
type Consumer struct {
	broker *Broker
	cfg    ConsumerConfig
	log    *zap.Logger

	lock        sync.Mutex
	started     bool
	threads     map[protocol.ServerAddress]*ConsumeThread
	workers     workers.Pool
	unsubscribe func()
}

var _ Listener = (*Consumer)(nil)

// NewConsumer ...
func NewConsumer(b *Broker, c ConsumerConfig) *Consumer {
	if c.Log == nil {
		c.Log = configuration.GetLogger().Named("consumer." + c.Topic)
	}

	return &Consumer{
		broker:  b,
		cfg:     c,
		log:     c.Log,
		threads: make(map[protocol.ServerAddress]*ConsumeThread),
	}
}

// Start consuming from every live server and follow membership changes
// second call is no-op
func (c *Consumer) Start() error {
	if c.cfg.Handler == nil {
		return ErrMissingHandler
	}

	if len(c.cfg.Topic) == 0 {
		return ErrMissingTopic
	}

	c.lock.Lock()
	if c.started {
		c.lock.Unlock()
		return nil
	}

	if c.cfg.RunInPool {
		wp, err := workers.New(workers.Config{
			Size: c.cfg.WorkerCount,
			Log:  c.log.Named("workers"),
		})
		if err != nil {
			c.lock.Unlock()
			return err
		}
		c.workers = wp
	}

	c.started = true
	// subscribe before walking pools so joins in between are not lost
	c.unsubscribe = c.broker.Subscribe(c)
	c.lock.Unlock()

	for _, p := range c.broker.PoolTable() {
		c.ServerJoin(p)
	}

	return nil
}

func (c *Consumer) accepts(address protocol.ServerAddress) bool {
	if c.cfg.Selector == nil {
		return true
	}

	m := message.New()
	m.SetTopic(c.cfg.Topic)

	for _, a := range c.cfg.Selector(c.broker.RouteTable(), m) {
		if a == address {
			return true
		}
	}

	return false
}

// ServerJoin start consume thread for server unless one exists
func (c *Consumer) ServerJoin(p *ClientPool) {
	address := p.Address()

	if !c.accepts(address) {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.started {
		return
	}

	if _, ok := c.threads[address]; ok {
		return
	}

	// server left after pool was handed out, its leave event is already gone
	if c.broker.Pool(address) != p {
		return
	}

	t := NewConsumeThread(ConsumeThreadConfig{
		Topic:           c.cfg.Topic,
		Group:           c.cfg.Group,
		ConnectionCount: c.cfg.ConnectionCount,
		ConsumeWindow:   c.cfg.ConsumeWindow,
		ConsumeTimeout:  c.cfg.ConsumeTimeout,
		Token:           c.broker.cfg.Auth.Token,
		Factory:         p.Create,
		Handler:         c.cfg.Handler,
		Workers:         c.workers,
		Metrics:         c.broker.cfg.Metrics.Messages(),
		Log:             c.log,
	})

	if err := t.Start(); err != nil {
		c.log.Error("start consume thread", zap.Stringer("server", address), zap.Error(err))
		return
	}

	c.threads[address] = t
	c.log.Debug("consuming", zap.Stringer("server", address))
}

// ServerLeave dispose consume thread of server
func (c *Consumer) ServerLeave(address protocol.ServerAddress) {
	c.lock.Lock()
	t, ok := c.threads[address]
	delete(c.threads, address)
	c.lock.Unlock()

	if ok {
		t.Dispose()
		c.log.Debug("stopped consuming", zap.Stringer("server", address))
	}
}

// Servers consumed from
func (c *Consumer) Servers() []protocol.ServerAddress {
	c.lock.Lock()
	defer c.lock.Unlock()

	res := make([]protocol.ServerAddress, 0, len(c.threads))
	for a := range c.threads {
		res = append(res, a)
	}

	sortAddresses(res)

	return res
}

// Dispose stop all consume threads
func (c *Consumer) Dispose() {
	c.lock.Lock()
	if !c.started {
		c.lock.Unlock()
		return
	}

	c.started = false
	threads := c.threads
	c.threads = make(map[protocol.ServerAddress]*ConsumeThread)
	wp := c.workers
	c.workers = nil
	unsubscribe := c.unsubscribe
	c.lock.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	for _, t := range threads {
		t.Dispose()
	}

	if wp != nil {
		_ = wp.Close()
	}
}
