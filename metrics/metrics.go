package metrics

import (
	"log"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

type bytes struct {
	sent gometrics.Counter
	recv gometrics.Counter
}

type messages struct {
	produced gometrics.Meter
	consumed gometrics.Meter
	invoked  gometrics.Meter
	failed   gometrics.Counter
	latency  gometrics.Histogram
}

type pools struct {
	created gometrics.Counter
	live    gometrics.Counter
	inUse   gometrics.Counter
}

type impl struct {
	registry gometrics.Registry
	bytes    bytes
	messages messages
	pools    pools
}

var _ IFace = (*impl)(nil)

// New allocate metrics in separate registry
// nil registry creates new one
func New(r gometrics.Registry) IFace {
	if r == nil {
		r = gometrics.NewRegistry()
	}

	im := &impl{
		registry: r,
	}

	im.bytes.sent = gometrics.GetOrRegisterCounter("bytes.sent", r)
	im.bytes.recv = gometrics.GetOrRegisterCounter("bytes.recv", r)

	im.messages.produced = gometrics.GetOrRegisterMeter("messages.produced", r)
	im.messages.consumed = gometrics.GetOrRegisterMeter("messages.consumed", r)
	im.messages.invoked = gometrics.GetOrRegisterMeter("messages.invoked", r)
	im.messages.failed = gometrics.GetOrRegisterCounter("messages.failed", r)
	im.messages.latency = gometrics.GetOrRegisterHistogram("messages.latency", r,
		gometrics.NewExpDecaySample(1028, 0.015))

	im.pools.created = gometrics.GetOrRegisterCounter("pool.created", r)
	im.pools.live = gometrics.GetOrRegisterCounter("pool.live", r)
	im.pools.inUse = gometrics.GetOrRegisterCounter("pool.inuse", r)

	return im
}

var defaultMetrics = New(gometrics.DefaultRegistry)

// Default metrics bound to go-metrics default registry
func Default() IFace {
	return defaultMetrics
}

// Report periodically dump registry into l until quit closed
func Report(r gometrics.Registry, freq time.Duration, l *log.Logger, quit <-chan struct{}) {
	tick := time.NewTicker(freq)
	defer tick.Stop()

	for {
		select {
		case <-quit:
			return
		case <-tick.C:
			r.Each(func(name string, i interface{}) {
				switch m := i.(type) {
				case gometrics.Counter:
					l.Printf("%s count=%d", name, m.Count())
				case gometrics.Meter:
					s := m.Snapshot()
					l.Printf("%s count=%d rate1=%.2f mean=%.2f", name, s.Count(), s.Rate1(), s.RateMean())
				case gometrics.Histogram:
					s := m.Snapshot()
					l.Printf("%s count=%d min=%d max=%d mean=%.2f p99=%.2f",
						name, s.Count(), s.Min(), s.Max(), s.Mean(), s.Percentile(0.99))
				}
			})
		}
	}
}

func (im *impl) Registry() gometrics.Registry {
	return im.registry
}

func (im *impl) Bytes() Bytes {
	return &im.bytes
}

func (im *impl) Messages() Messages {
	return &im.messages
}

func (im *impl) Pools() Pools {
	return &im.pools
}

func (im *impl) Snapshot() Stats {
	return Stats{
		BytesSent:    im.bytes.sent.Count(),
		BytesRecv:    im.bytes.recv.Count(),
		Produced:     im.messages.produced.Count(),
		Consumed:     im.messages.consumed.Count(),
		Invoked:      im.messages.invoked.Count(),
		Failed:       im.messages.failed.Count(),
		ConnsCreated: im.pools.created.Count(),
		ConnsInUse:   im.pools.inUse.Count(),
		ConnsLive:    im.pools.live.Count(),
	}
}

func (t *bytes) OnSent(n int) {
	t.sent.Inc(int64(n))
}

func (t *bytes) OnRecv(n int) {
	t.recv.Inc(int64(n))
}

func (t *messages) OnProduced() {
	t.produced.Mark(1)
}

func (t *messages) OnConsumed() {
	t.consumed.Mark(1)
}

func (t *messages) OnInvoked() {
	t.invoked.Mark(1)
}

func (t *messages) OnFailed() {
	t.failed.Inc(1)
}

func (t *messages) OnLatency(ms int64) {
	t.latency.Update(ms)
}

func (t *pools) OnCreated() {
	t.created.Inc(1)
	t.live.Inc(1)
}

func (t *pools) OnDestroyed() {
	t.live.Dec(1)
}

func (t *pools) OnBorrowed() {
	t.inUse.Inc(1)
}

func (t *pools) OnReturned() {
	t.inUse.Dec(1)
}
