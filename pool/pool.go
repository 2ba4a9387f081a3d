package pool

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/metrics"
)

// ErrClosed pool was disposed
var ErrClosed = errors.New("pool: closed")

// Object pooled connection
type Object interface {
	Active() bool
	Close() error
}

// Factory creates new object, it may be not connected yet
type Factory func() (Object, error)

// Config of pool
type Config struct {
	Factory Factory
	// MaxCount defaults to 32
	MaxCount int
	Metrics  metrics.Pools
	Log      *zap.Logger
}

// Pool bounded set of reusable connections to one server
type Pool struct {
	factory  Factory
	maxCount int
	stat     metrics.Pools
	log      *zap.Logger

	lock   sync.Mutex
	idle   []Object
	count  int
	closed bool
	// closed and replaced on every return
	notify chan struct{}
}

type nopStat struct{}

func (nopStat) OnCreated()   {}
func (nopStat) OnDestroyed() {}
func (nopStat) OnBorrowed()  {}
func (nopStat) OnReturned()  {}

// New allocate pool, no objects are created upfront
func New(c Config) (*Pool, error) {
	if c.Factory == nil {
		return nil, errors.New("pool: missing factory")
	}

	if c.MaxCount <= 0 {
		c.MaxCount = 32
	}

	if c.Metrics == nil {
		c.Metrics = nopStat{}
	}

	if c.Log == nil {
		c.Log = zap.NewNop()
	}

	return &Pool{
		factory:  c.Factory,
		maxCount: c.MaxCount,
		stat:     c.Metrics,
		log:      c.Log,
		notify:   make(chan struct{}),
	}, nil
}

// Borrow idle object or create new one while count < MaxCount
// Otherwise blocks until any object returned or ctx done
func (p *Pool) Borrow(ctx context.Context) (Object, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		p.lock.Lock()
		if p.closed {
			p.lock.Unlock()
			return nil, ErrClosed
		}

		for len(p.idle) > 0 {
			o := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if o.Active() {
				p.lock.Unlock()
				p.stat.OnBorrowed()
				return o, nil
			}

			p.destroy(o)
		}

		if p.count < p.maxCount {
			p.count++
			p.lock.Unlock()

			o, err := p.factory()
			if err != nil {
				p.lock.Lock()
				p.count--
				p.wakeup()
				p.lock.Unlock()
				return nil, err
			}

			p.stat.OnCreated()
			p.stat.OnBorrowed()

			return o, nil
		}

		wait := p.notify
		p.lock.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Return object borrowed before
// inactive objects are closed and free their slot
func (p *Pool) Return(o Object) {
	if o == nil {
		return
	}

	p.stat.OnReturned()

	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed || !o.Active() {
		p.destroy(o)
	} else {
		p.idle = append(p.idle, o)
	}

	p.wakeup()
}

// Create object outside of pool
// caller owns it and must close it, fails with ErrClosed after Dispose
func (p *Pool) Create() (Object, error) {
	p.lock.Lock()
	closed := p.closed
	p.lock.Unlock()

	if closed {
		return nil, ErrClosed
	}

	return p.factory()
}

// Dispose close idle objects
// borrowed ones are closed when returned
func (p *Pool) Dispose() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return
	}

	p.closed = true

	for _, o := range p.idle {
		p.destroy(o)
	}

	p.idle = nil
	p.wakeup()
}

// Count objects created and not yet destroyed
func (p *Pool) Count() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.count
}

// Idle objects ready to borrow
func (p *Pool) Idle() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return len(p.idle)
}

// must be called with lock held
func (p *Pool) destroy(o Object) {
	p.count--
	p.stat.OnDestroyed()

	if err := o.Close(); err != nil {
		p.log.Debug("close pooled object", zap.Error(err))
	}
}

// must be called with lock held
func (p *Pool) wakeup() {
	close(p.notify)
	p.notify = make(chan struct{})
}
