package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/metrics"
	"github.com/VolantMQ/zbus/protocol"
)

// Config of client connection
type Config struct {
	Address protocol.ServerAddress
	// CertFile trusted certificates for SSL enabled servers
	CertFile           string
	InsecureSkipVerify bool
	// DialTimeout defaults to 3s
	DialTimeout time.Duration
	// APIKey and SecretKey sign every outgoing message when set
	APIKey    string
	SecretKey string
	// HeartbeatInterval used by Start, 0 disables heartbeat
	HeartbeatInterval time.Duration
	// ReconnectDelay used by Start, defaults to 3s
	ReconnectDelay time.Duration
	Metrics        metrics.Bytes
	Log            *zap.Logger

	tls *tls.Config
}

// Conn message connection to single server
type Conn interface {
	Address() protocol.ServerAddress
	Connect(ctx context.Context) error
	Send(ctx context.Context, m *message.Message) error
	Receive(ctx context.Context) (*message.Message, error)
	Invoke(ctx context.Context, m *message.Message) (*message.Message, error)
	Active() bool
	Close() error
}

// Handler receives events of started client
type Handler interface {
	// OnConnected called each time connection is (re)established
	// error drops connection and schedules reconnect
	OnConnected(ctx context.Context, c *Client) error
	OnMessage(m *message.Message)
	OnDisconnected(err error)
}

// Client connects lazily on first use and reconnects after failures
// Concurrent Invoke calls are matched to responses by message id
type Client struct {
	cfg Config
	log *zap.Logger

	lock  sync.Mutex
	s     stream
	wLock sync.Mutex
	rLock sync.Mutex

	// responses read on behalf of other invokers, guarded by rLock
	// entries without pending invoker are pruned on stream change
	results       map[string]*message.Message
	resultsStream stream

	// ids of invokers waiting for response, guarded by lock
	pending map[string]struct{}

	started int32
}

var _ Conn = (*Client)(nil)

// New allocate client, no connection is made
func New(c Config) (*Client, error) {
	if len(c.Address.Address) == 0 {
		return nil, errors.New("transport: empty address")
	}

	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}

	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}

	if c.Metrics == nil {
		c.Metrics = nopBytes{}
	}

	if c.Log == nil {
		c.Log = zap.NewNop()
	}

	if c.Address.SslEnabled || strings.HasPrefix(c.Address.Address, "wss://") {
		var err error
		if c.tls, err = LoadTLSConfig(c.CertFile, c.InsecureSkipVerify); err != nil {
			return nil, err
		}
	}

	return &Client{
		cfg:     c,
		log:     c.Log.With(zap.Stringer("server", c.Address)),
		results: make(map[string]*message.Message),
		pending: make(map[string]struct{}),
	}, nil
}

// Address ...
func (c *Client) Address() protocol.ServerAddress {
	return c.cfg.Address
}

// Active connection established and not failed yet
func (c *Client) Active() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.s != nil
}

// Connect no-op if already connected
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connected(ctx)
	return err
}

func (c *Client) connected(ctx context.Context) (stream, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.s != nil {
		return c.s, nil
	}

	s, err := c.dial(ctx)
	if err != nil {
		return nil, c.failure(ctx, "dial", err)
	}

	c.log.Debug("connected", zap.Stringer("local", s.LocalAddr()))
	c.s = s

	return s, nil
}

func (c *Client) dial(ctx context.Context) (stream, error) {
	address := c.cfg.Address.Address

	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return dialWS(ctx, &c.cfg)
	}

	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	cn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	if tc, ok := cn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	if c.cfg.Address.SslEnabled {
		cfg := c.cfg.tls.Clone()
		if len(cfg.ServerName) == 0 {
			cfg.ServerName = serverName(address)
		}

		tc := tls.Client(cn, cfg)
		_ = tc.SetDeadline(time.Now().Add(c.cfg.DialTimeout))
		if err = tc.Handshake(); err != nil {
			_ = cn.Close()
			return nil, err
		}
		_ = tc.SetDeadline(time.Time{})

		cn = tc
	}

	return newTCPStream(cn, c.cfg.Metrics), nil
}

// Close connection, client can be reused and reconnects on next call
func (c *Client) Close() error {
	c.lock.Lock()
	s := c.s
	c.s = nil
	c.lock.Unlock()

	if s != nil {
		return s.Close()
	}

	return nil
}

func (c *Client) drop(s stream) {
	c.lock.Lock()
	if c.s == s {
		c.s = nil
	}
	c.lock.Unlock()

	_ = s.Close()
}

// cancellation has priority over network error it caused
func (c *Client) failure(ctx context.Context, op string, err error) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	return ioError(op, err)
}

// Send write message, id is generated if missing
func (c *Client) Send(ctx context.Context, m *message.Message) error {
	s, err := c.connected(ctx)
	if err != nil {
		return err
	}

	if len(m.ID()) == 0 {
		m.SetID(message.NewID())
	}

	if len(c.cfg.APIKey) > 0 {
		if err = message.Sign(c.cfg.APIKey, c.cfg.SecretKey, m); err != nil {
			return err
		}
	}

	c.wLock.Lock()
	defer c.wLock.Unlock()

	stop := watch(ctx, s.SetWriteDeadline)
	err = s.WriteMessage(m)
	if stop() && err == nil {
		_ = s.SetWriteDeadline(time.Time{})
	}

	if err != nil {
		c.drop(s)
		return c.failure(ctx, "write", err)
	}

	return nil
}

// Receive next message from connection
func (c *Client) Receive(ctx context.Context) (*message.Message, error) {
	s, err := c.connected(ctx)
	if err != nil {
		return nil, err
	}

	c.rLock.Lock()
	defer c.rLock.Unlock()

	return c.read(ctx, s)
}

func (c *Client) read(ctx context.Context, s stream) (*message.Message, error) {
	stop := watch(ctx, s.SetReadDeadline)
	m, err := s.ReadMessage()
	if stop() && err == nil {
		_ = s.SetReadDeadline(time.Time{})
	}

	if err != nil {
		c.drop(s)
		return nil, c.failure(ctx, "read", err)
	}

	return m, nil
}

// Invoke send message and wait response with the same id
func (c *Client) Invoke(ctx context.Context, m *message.Message) (*message.Message, error) {
	if len(m.ID()) == 0 {
		m.SetID(message.NewID())
	}

	id := m.ID()

	c.lock.Lock()
	c.pending[id] = struct{}{}
	c.lock.Unlock()

	defer func() {
		c.lock.Lock()
		delete(c.pending, id)
		c.lock.Unlock()
	}()

	if err := c.Send(ctx, m); err != nil {
		return nil, err
	}

	c.rLock.Lock()
	defer c.rLock.Unlock()
	defer delete(c.results, id)

	for {
		c.lock.Lock()
		s := c.s
		c.lock.Unlock()

		if s != c.resultsStream {
			c.prune()
			c.resultsStream = s
		}

		if res, ok := c.results[id]; ok {
			return res, nil
		}

		if s == nil {
			return nil, c.failure(ctx, "read", ErrClosed)
		}

		res, err := c.read(ctx, s)
		if err != nil {
			return nil, err
		}

		if res.ID() == id {
			return res, nil
		}

		if c.waiting(res.ID()) {
			c.results[res.ID()] = res
		} else {
			c.log.Debug("drop response without invoker", zap.String("id", res.ID()))
		}
	}
}

// prune responses nobody waits for, rLock must be held
func (c *Client) prune() {
	c.lock.Lock()
	defer c.lock.Unlock()

	for id := range c.results {
		if _, ok := c.pending[id]; !ok {
			delete(c.results, id)
		}
	}
}

func (c *Client) waiting(id string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	_, ok := c.pending[id]
	return ok
}

// Results number of responses held for other invokers
func (c *Client) Results() int {
	c.rLock.Lock()
	defer c.rLock.Unlock()

	return len(c.results)
}

// Start receive loop, blocks until ctx is done
// messages are delivered to h, connection failures are retried after ReconnectDelay
func (c *Client) Start(ctx context.Context, h Handler) error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return errors.New("transport: client already started")
	}
	defer atomic.StoreInt32(&c.started, 0)

	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeat(ctx)
	}

	defer func() {
		_ = c.Close()
	}()

	for {
		err := c.Connect(ctx)
		if err == nil {
			if err = h.OnConnected(ctx, c); err != nil {
				c.log.Warn("connected handler failed", zap.Error(err))
				_ = c.Close()
			}
		}

		for err == nil {
			var m *message.Message
			if m, err = c.Receive(ctx); err == nil {
				h.OnMessage(m)
			}
		}

		if ctx.Err() != nil {
			return nil
		}

		c.log.Warn("connection lost", zap.Error(err), zap.Duration("retry", c.cfg.ReconnectDelay))
		h.OnDisconnected(err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	tick := time.NewTicker(c.cfg.HeartbeatInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if !c.Active() {
				continue
			}

			m := message.New()
			m.SetCmd(protocol.Heartbeat)
			if err := c.Send(ctx, m); err != nil {
				c.log.Debug("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// watch interrupts blocking io when ctx is done
// returned func reports whether deadline was forced
func watch(ctx context.Context, setDeadline func(time.Time) error) func() bool {
	if ctx == nil || ctx.Done() == nil {
		return func() bool { return false }
	}

	done := make(chan struct{})
	fired := make(chan bool, 1)

	go func() {
		select {
		case <-ctx.Done():
			_ = setDeadline(time.Now())
			fired <- true
		case <-done:
			fired <- false
		}
	}()

	return func() bool {
		close(done)
		return <-fired
	}
}
