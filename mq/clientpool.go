package mq

import (
	"context"

	"github.com/VolantMQ/zbus/metrics"
	"github.com/VolantMQ/zbus/pool"
	"github.com/VolantMQ/zbus/protocol"
	"github.com/VolantMQ/zbus/transport"
)

// ClientPoolConfig ...
type ClientPoolConfig struct {
	Transport transport.Config
	Token     string
	// MaxCount defaults to 32
	MaxCount int
	Metrics  metrics.Pools
}

// ClientPool pooled clients of one server
type ClientPool struct {
	address protocol.ServerAddress
	pool    *pool.Pool
	cfg     ClientPoolConfig
}

// NewClientPool clients are created lazily on first borrow
func NewClientPool(c ClientPoolConfig) (*ClientPool, error) {
	p := &ClientPool{
		address: c.Transport.Address,
		cfg:     c,
	}

	var err error
	p.pool, err = pool.New(pool.Config{
		Factory:  p.create,
		MaxCount: c.MaxCount,
		Metrics:  c.Metrics,
		Log:      c.Transport.Log,
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (p *ClientPool) create() (pool.Object, error) {
	c, err := NewClient(p.cfg.Transport)
	if err != nil {
		return nil, err
	}

	c.Token = p.cfg.Token

	return c, nil
}

// Address of server
func (p *ClientPool) Address() protocol.ServerAddress {
	return p.address
}

// Borrow ...
func (p *ClientPool) Borrow(ctx context.Context) (*Client, error) {
	o, err := p.pool.Borrow(ctx)
	if err != nil {
		return nil, err
	}

	return o.(*Client), nil
}

// Return ...
func (p *ClientPool) Return(c *Client) {
	if c != nil {
		p.pool.Return(c)
	}
}

// Create client outside of pool, caller must close it
func (p *ClientPool) Create() (*Client, error) {
	o, err := p.pool.Create()
	if err != nil {
		return nil, err
	}

	return o.(*Client), nil
}

// Dispose ...
func (p *ClientPool) Dispose() {
	p.pool.Dispose()
}

// Count live pooled clients
func (p *ClientPool) Count() int {
	return p.pool.Count()
}
