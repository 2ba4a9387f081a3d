package mq

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/configuration"
	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/metrics"
	"github.com/VolantMQ/zbus/protocol"
	"github.com/VolantMQ/zbus/transport"
	"github.com/VolantMQ/zbus/workers"
)

// Handler receives consumed message and client it came from
// client may be used to route reply
type Handler func(m *message.Message, c *Client)

// ConsumeThreadConfig ...
type ConsumeThreadConfig struct {
	Topic string
	// Group defaults to group named after topic
	Group *protocol.ConsumeGroup
	// ConnectionCount parallel consume loops, defaults to 1
	ConnectionCount int
	// ConsumeWindow <= 0 is not sent
	ConsumeWindow int
	// ConsumeTimeout of single long-poll, 0 waits until message arrives
	ConsumeTimeout time.Duration
	// Backoff after transport failure, defaults to 3s
	Backoff time.Duration
	Token   string
	Factory func() (*Client, error)
	Handler Handler
	// Workers dispatch handler on pool instead of consume loop
	Workers workers.Pool
	Metrics metrics.Messages
	Log     *zap.Logger
}

// ConsumeThread runs consume loops against single server
// each loop owns dedicated connection
type ConsumeThread struct {
	cfg     ConsumeThreadConfig
	log     *zap.Logger
	lock    sync.Mutex
	started bool
	clients []*Client
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type nopMessages struct{}

func (nopMessages) OnProduced()     {}
func (nopMessages) OnConsumed()     {}
func (nopMessages) OnInvoked()      {}
func (nopMessages) OnFailed()       {}
func (nopMessages) OnLatency(int64) {}

// NewConsumeThread configuration is validated by Start
func NewConsumeThread(c ConsumeThreadConfig) *ConsumeThread {
	if c.Group == nil {
		c.Group = protocol.NewConsumeGroup(c.Topic)
	} else if len(c.Group.GroupName) == 0 {
		g := *c.Group
		g.GroupName = c.Topic
		c.Group = &g
	}

	if c.ConnectionCount <= 0 {
		c.ConnectionCount = 1
	}

	if c.Backoff <= 0 {
		c.Backoff = 3 * time.Second
	}

	if c.Metrics == nil {
		c.Metrics = nopMessages{}
	}

	if c.Log == nil {
		c.Log = configuration.GetLogger().Named("consumer." + c.Topic)
	}

	t := &ConsumeThread{
		cfg: c,
		log: c.Log,
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())

	return t
}

// Topic ...
func (t *ConsumeThread) Topic() string {
	return t.cfg.Topic
}

// Group ...
func (t *ConsumeThread) Group() *protocol.ConsumeGroup {
	return t.cfg.Group
}

// Start consume loops, second call is no-op
func (t *ConsumeThread) Start() error {
	if len(t.cfg.Topic) == 0 {
		return ErrMissingTopic
	}

	if t.cfg.Handler == nil {
		return ErrMissingHandler
	}

	if t.cfg.Factory == nil {
		return ErrMissingFactory
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.started {
		return nil
	}

	if t.ctx.Err() != nil {
		return ErrDisposed
	}

	clients := make([]*Client, 0, t.cfg.ConnectionCount)
	for i := 0; i < t.cfg.ConnectionCount; i++ {
		c, err := t.cfg.Factory()
		if err != nil {
			for _, cl := range clients {
				_ = cl.Close()
			}
			return err
		}

		if len(c.Token) == 0 {
			c.Token = t.cfg.Token
		}

		clients = append(clients, c)
	}

	t.started = true
	t.clients = clients

	for _, c := range clients {
		t.wg.Add(1)
		go t.loop(c)
	}

	return nil
}

// Dispose cancel loops, close connections and wait loops to exit
func (t *ConsumeThread) Dispose() {
	t.cancel()

	t.lock.Lock()
	clients := t.clients
	t.clients = nil
	t.lock.Unlock()

	for _, c := range clients {
		if err := c.Close(); err != nil {
			t.log.Debug("close consume connection", zap.Error(err))
		}
	}

	t.wg.Wait()
}

// Take next message of topic
// declares group on 404 and retries once
func (t *ConsumeThread) Take(ctx context.Context, c *Client) (*message.Message, error) {
	res, err := t.consume(ctx, c)
	if err != nil {
		return nil, err
	}

	if res.Status == protocol.StatusNotFound {
		t.log.Info("declaring consume group", zap.String("group", t.cfg.Group.GroupName))

		if _, err = c.DeclareGroup(ctx, t.cfg.Topic, t.cfg.Group); err != nil {
			return nil, errors.Wrap(err, "declare group")
		}

		if res, err = t.consume(ctx, c); err != nil {
			return nil, err
		}

		if res.Status == protocol.StatusNotFound {
			return nil, ErrGroupNotFound
		}
	}

	if err = checkStatus(res); err != nil {
		return nil, err
	}

	// restore identity of produced message
	res.SetID(res.OriginID())
	res.RemoveHeader(protocol.HeaderOriginID)

	if url := res.OriginURL(); len(url) > 0 {
		res.URL = url
		res.Status = 0
		res.RemoveHeader(protocol.HeaderOriginURL)
	}

	return res, nil
}

func (t *ConsumeThread) consume(ctx context.Context, c *Client) (*message.Message, error) {
	if t.cfg.ConsumeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ConsumeTimeout)
		defer cancel()
	}

	return c.Consume(ctx, t.cfg.Topic, t.cfg.Group.GroupName, t.cfg.ConsumeWindow)
}

func (t *ConsumeThread) loop(c *Client) {
	defer t.wg.Done()

	log := t.log.With(zap.Stringer("server", c.Address()))

	for t.ctx.Err() == nil {
		m, err := t.Take(t.ctx, c)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}

			switch {
			case transport.IsIOError(err):
				log.Warn("consume connection failed", zap.Error(err), zap.Duration("retry", t.cfg.Backoff))
				_ = c.Close()
				t.sleep(t.cfg.Backoff)
			case errors.Cause(err) == context.DeadlineExceeded:
				log.Debug("consume timed out")
			case err == ErrGroupNotFound:
				log.Error("consume group not available", zap.String("group", t.cfg.Group.GroupName))
				t.sleep(t.cfg.Backoff)
			default:
				t.cfg.Metrics.OnFailed()
				log.Error("consume", zap.Error(err))
			}

			continue
		}

		t.cfg.Metrics.OnConsumed()
		t.dispatch(m, c)
	}
}

// tasks on workers are tracked by wg so Dispose waits for them
func (t *ConsumeThread) dispatch(m *message.Message, c *Client) {
	if t.cfg.Workers != nil {
		t.wg.Add(1)
		err := t.cfg.Workers.Schedule(func() {
			defer t.wg.Done()

			if t.ctx.Err() == nil {
				t.handle(m, c)
			}
		})
		if err == nil {
			return
		}

		t.wg.Done()
		t.log.Warn("dispatch on workers failed, handling inline", zap.Error(err))
	}

	t.handle(m, c)
}

func (t *ConsumeThread) handle(m *message.Message, c *Client) {
	defer func() {
		if r := recover(); r != nil {
			t.cfg.Metrics.OnFailed()
			t.log.Error("message handler panicked", zap.Any("panic", r), zap.String("id", m.ID()))
		}
	}()

	t.cfg.Handler(m, c)
}

func (t *ConsumeThread) sleep(d time.Duration) {
	tm := time.NewTimer(d)
	defer tm.Stop()

	select {
	case <-t.ctx.Done():
	case <-tm.C:
	}
}
