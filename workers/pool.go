package workers

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrScheduleTimeout no free worker appeared during timeout
var ErrScheduleTimeout = errors.New("workers: schedule timed out")

// ErrClosed pool was closed
var ErrClosed = errors.New("workers: closed")

// Pool runs message handlers on reused goroutines
type Pool interface {
	Schedule(task func()) error
	ScheduleTimeout(timeout time.Duration, task func()) error
	// Close stops accepting tasks and waits queued ones to finish
	Close() error
}

// Config of pool
type Config struct {
	// Size max number of goroutines
	Size int
	// Queue tasks buffered while all workers are busy
	Queue int
	// Spawn goroutines started upfront
	Spawn int
	Log   *zap.Logger
}

type pool struct {
	once sync.Once
	wg   sync.WaitGroup
	quit chan struct{}
	sem  chan struct{}
	work chan func()
	log  *zap.Logger
}

// New allocate pool
// Size defaults to 64
func New(c Config) (Pool, error) {
	if c.Size <= 0 {
		c.Size = 64
	}

	if c.Spawn <= 0 && c.Queue > 0 {
		return nil, errors.New("workers: queue without spawned workers never drains")
	}

	if c.Spawn > c.Size {
		return nil, errors.Errorf("workers: spawn %d > size %d", c.Spawn, c.Size)
	}

	if c.Log == nil {
		c.Log = zap.NewNop()
	}

	p := &pool{
		quit: make(chan struct{}),
		sem:  make(chan struct{}, c.Size),
		work: make(chan func(), c.Queue),
		log:  c.Log,
	}

	for i := 0; i < c.Spawn; i++ {
		p.sem <- struct{}{}
		p.wg.Add(1)
		go p.worker(nil)
	}

	return p, nil
}

// Schedule blocks until task is accepted
func (p *pool) Schedule(task func()) error {
	return p.schedule(task, nil)
}

// ScheduleTimeout returns ErrScheduleTimeout when no free workers met during given timeout
func (p *pool) ScheduleTimeout(timeout time.Duration, task func()) error {
	tm := time.NewTimer(timeout)
	defer tm.Stop()

	return p.schedule(task, tm.C)
}

func (p *pool) Close() error {
	p.once.Do(func() {
		close(p.quit)
	})

	p.wg.Wait()

	return nil
}

func (p *pool) schedule(task func(), timeout <-chan time.Time) error {
	select {
	case <-p.quit:
		return ErrClosed
	default:
	}

	select {
	case <-p.quit:
		return ErrClosed
	case <-timeout:
		return ErrScheduleTimeout
	case p.work <- task:
		return nil
	case p.sem <- struct{}{}:
		select {
		case <-p.quit:
			<-p.sem
			return ErrClosed
		default:
		}
		p.wg.Add(1)
		go p.worker(task)
		return nil
	}
}

func (p *pool) worker(task func()) {
	defer func() {
		<-p.sem
		p.wg.Done()
	}()

	if task != nil {
		p.run(task)
	}

	for {
		select {
		case t := <-p.work:
			p.run(t)
		case <-p.quit:
			// drain what was queued before close
			for {
				select {
				case t := <-p.work:
					p.run(t)
				default:
					return
				}
			}
		}
	}
}

func (p *pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	task()
}
