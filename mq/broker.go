package mq

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/troian/healthcheck"
	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/configuration"
	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/metrics"
	"github.com/VolantMQ/zbus/protocol"
	"github.com/VolantMQ/zbus/transport"
)

// Listener observes membership changes of broker
type Listener interface {
	ServerJoin(p *ClientPool)
	ServerLeave(address protocol.ServerAddress)
}

// Auth credentials attached to every connection of broker
type Auth struct {
	Token     string
	APIKey    string
	SecretKey string
}

// BrokerConfig ...
type BrokerConfig struct {
	Trackers []protocol.ServerAddress
	// PoolSize max clients per server, defaults to 32
	PoolSize int
	// VoteFactor defaults to 0.5
	VoteFactor float64
	// TrackerWait bound of initial snapshot wait of AddTracker, defaults to 3s
	TrackerWait time.Duration
	// HeartbeatInterval of tracker connections, 0 disables
	HeartbeatInterval time.Duration
	// DefaultCertFile used by ssl servers without own certificate
	DefaultCertFile    string
	CertFiles          map[string]string
	InsecureSkipVerify bool
	Auth               Auth
	Metrics            metrics.IFace
	Log                *zap.Logger
}

// Broker keeps client pools in sync with servers announced by trackers
type Broker struct {
	cfg        BrokerConfig
	log        *zap.Logger
	routeTable *RouteTable
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	// serializes application of tracker pushes
	update sync.Mutex

	lock      sync.RWMutex
	pools     map[protocol.ServerAddress]*ClientPool
	trackers  map[protocol.ServerAddress]*trackerSubscriber
	certs     map[string]string
	listeners map[int]Listener
	nextID    int
	disposed  bool
}

type trackerSubscriber struct {
	b       *Broker
	address protocol.ServerAddress
	client  *transport.Client
	cancel  context.CancelFunc
	done    chan struct{}
	first   chan struct{}
	once    sync.Once
	log     *zap.Logger
}

var _ transport.Handler = (*trackerSubscriber)(nil)

// NewBroker allocate broker and subscribe to configured trackers
// each tracker is waited up to TrackerWait for initial snapshot
func NewBroker(c BrokerConfig) (*Broker, error) {
	if c.VoteFactor < 0 || c.VoteFactor > 1 {
		return nil, errors.Errorf("mq: vote factor %v out of range [0, 1]", c.VoteFactor)
	}

	if c.TrackerWait <= 0 {
		c.TrackerWait = 3 * time.Second
	}

	if c.Metrics == nil {
		c.Metrics = metrics.Default()
	}

	if c.Log == nil {
		c.Log = configuration.GetLogger().Named("broker")
	}

	b := &Broker{
		cfg:        c,
		log:        c.Log,
		routeTable: NewRouteTable(),
		pools:      make(map[protocol.ServerAddress]*ClientPool),
		trackers:   make(map[protocol.ServerAddress]*trackerSubscriber),
		certs:      make(map[string]string),
		listeners:  make(map[int]Listener),
	}

	if c.VoteFactor > 0 {
		b.routeTable.SetVoteFactor(c.VoteFactor)
	}

	for addr, file := range c.CertFiles {
		b.certs[addr] = file
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())

	for _, t := range c.Trackers {
		if err := b.AddTracker(t, ""); err != nil {
			b.Dispose()
			return nil, err
		}
	}

	return b, nil
}

// RouteTable ...
func (b *Broker) RouteTable() *RouteTable {
	return b.routeTable
}

// PoolTable snapshot of live pools
func (b *Broker) PoolTable() map[protocol.ServerAddress]*ClientPool {
	b.lock.RLock()
	defer b.lock.RUnlock()

	res := make(map[protocol.ServerAddress]*ClientPool, len(b.pools))
	for k, v := range b.pools {
		res[k] = v
	}

	return res
}

// Pool of server, nil if server is not live
func (b *Broker) Pool(address protocol.ServerAddress) *ClientPool {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return b.pools[address]
}

// Subscribe l to join/leave events
// returned func removes subscription
func (b *Broker) Subscribe(l Listener) func() {
	b.lock.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.lock.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			b.lock.Lock()
			delete(b.listeners, id)
			b.lock.Unlock()
		})
	}
}

// SetServerCertFile certificate for ssl server, overrides default one
// applies to pools created after the call
func (b *Broker) SetServerCertFile(address, certFile string) {
	b.lock.Lock()
	b.certs[address] = certFile
	b.lock.Unlock()
}

// must be called with lock held
func (b *Broker) certFile(address protocol.ServerAddress) string {
	if f, ok := b.certs[address.Address]; ok {
		return f
	}

	return b.cfg.DefaultCertFile
}

func (b *Broker) transportConfig(address protocol.ServerAddress, certFile string, log *zap.Logger) transport.Config {
	return transport.Config{
		Address:            address,
		CertFile:           certFile,
		InsecureSkipVerify: b.cfg.InsecureSkipVerify,
		APIKey:             b.cfg.Auth.APIKey,
		SecretKey:          b.cfg.Auth.SecretKey,
		Metrics:            b.cfg.Metrics.Bytes(),
		Log:                log,
	}
}

// AddTracker subscribe to tracker
// blocks until first snapshot applied or TrackerWait elapsed, no-op for known tracker
func (b *Broker) AddTracker(address protocol.ServerAddress, certFile string) error {
	b.lock.Lock()
	if b.disposed {
		b.lock.Unlock()
		return ErrDisposed
	}

	if _, ok := b.trackers[address]; ok {
		b.lock.Unlock()
		return nil
	}

	if len(certFile) == 0 {
		certFile = b.certFile(address)
	} else {
		b.certs[address.Address] = certFile
	}

	log := b.log.Named("tracker").With(zap.Stringer("tracker", address))

	tc := b.transportConfig(address, certFile, log)
	tc.HeartbeatInterval = b.cfg.HeartbeatInterval

	client, err := transport.New(tc)
	if err != nil {
		b.lock.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(b.ctx)

	sub := &trackerSubscriber{
		b:       b,
		address: address,
		client:  client,
		cancel:  cancel,
		done:    make(chan struct{}),
		first:   make(chan struct{}),
		log:     log,
	}

	b.trackers[address] = sub
	b.wg.Add(1)
	b.lock.Unlock()

	go func() {
		defer func() {
			close(sub.done)
			b.wg.Done()
		}()

		if e := client.Start(ctx, sub); e != nil {
			log.Error("tracker subscription", zap.Error(e))
		}
	}()

	select {
	case <-sub.first:
		log.Info("tracker synchronized", zap.Int("servers", len(b.routeTable.ServerTable())))
	case <-time.After(b.cfg.TrackerWait):
		log.Warn("tracker snapshot not received in time", zap.Duration("wait", b.cfg.TrackerWait))
	case <-ctx.Done():
	}

	return nil
}

// RemoveTracker stop subscription and drop tracker vote
func (b *Broker) RemoveTracker(address protocol.ServerAddress) {
	b.lock.Lock()
	sub, ok := b.trackers[address]
	delete(b.trackers, address)
	b.lock.Unlock()

	if !ok {
		return
	}

	sub.cancel()
	<-sub.done

	b.update.Lock()
	defer b.update.Unlock()

	for _, addr := range b.routeTable.RemoveTracker(address) {
		b.RemoveServer(addr)
	}
}

// Trackers addresses of subscribed trackers
func (b *Broker) Trackers() []protocol.ServerAddress {
	b.lock.RLock()
	defer b.lock.RUnlock()

	res := make([]protocol.ServerAddress, 0, len(b.trackers))
	for addr := range b.trackers {
		res = append(res, addr)
	}

	sortAddresses(res)

	return res
}

// UpdateTracker apply tracker snapshot, creates pools for servers in route table
// and disposes pools of evicted ones
func (b *Broker) UpdateTracker(info *protocol.TrackerInfo) {
	b.update.Lock()
	defer b.update.Unlock()

	removed := b.routeTable.UpdateTracker(info)

	for _, addr := range b.routeTable.Servers() {
		if err := b.AddServer(addr); err != nil {
			b.log.Error("add server", zap.Stringer("server", addr), zap.Error(err))
		}
	}

	for _, addr := range removed {
		b.RemoveServer(addr)
	}
}

// AddServer create pool of server and fire join event
// no-op if pool already exists
func (b *Broker) AddServer(address protocol.ServerAddress) error {
	b.lock.Lock()
	if b.disposed {
		b.lock.Unlock()
		return ErrDisposed
	}

	if _, ok := b.pools[address]; ok {
		b.lock.Unlock()
		return nil
	}

	log := b.log.Named("pool").With(zap.Stringer("server", address))

	p, err := NewClientPool(ClientPoolConfig{
		Transport: b.transportConfig(address, b.certFile(address), log),
		Token:     b.cfg.Auth.Token,
		MaxCount:  b.cfg.PoolSize,
		Metrics:   b.cfg.Metrics.Pools(),
	})
	if err != nil {
		b.lock.Unlock()
		return err
	}

	b.pools[address] = p
	listeners := b.listenerList()
	b.lock.Unlock()

	b.log.Info("server joined", zap.Stringer("server", address))

	for _, l := range listeners {
		l.ServerJoin(p)
	}

	return nil
}

// RemoveServer fire leave event and dispose pool of server
// no-op for unknown server
func (b *Broker) RemoveServer(address protocol.ServerAddress) {
	b.lock.Lock()
	p, ok := b.pools[address]
	delete(b.pools, address)
	listeners := b.listenerList()
	b.lock.Unlock()

	if !ok {
		return
	}

	b.log.Info("server left", zap.Stringer("server", address))

	for _, l := range listeners {
		l.ServerLeave(address)
	}

	p.Dispose()
}

// must be called with lock held
func (b *Broker) listenerList() []Listener {
	res := make([]Listener, 0, len(b.listeners))
	for i := 0; i < b.nextID; i++ {
		if l, ok := b.listeners[i]; ok {
			res = append(res, l)
		}
	}

	return res
}

// Select pools of servers picked by selector
// servers which are not live any more are skipped
func (b *Broker) Select(selector ServerSelector, m *message.Message) []*ClientPool {
	list := selector(b.routeTable, m)

	b.lock.RLock()
	defer b.lock.RUnlock()

	res := make([]*ClientPool, 0, len(list))
	for _, addr := range list {
		if p, ok := b.pools[addr]; ok {
			res = append(res, p)
		}
	}

	return res
}

// Ready returns ErrNoServer until at least one server is live
func (b *Broker) Ready() error {
	b.lock.RLock()
	defer b.lock.RUnlock()

	if len(b.pools) == 0 {
		return ErrNoServer
	}

	return nil
}

// RegisterChecks add broker readiness and tracker reachability to health checks
func (b *Broker) RegisterChecks(h healthcheck.Checks) error {
	if err := h.AddReadinessCheck("mq-servers", b.Ready); err != nil {
		return err
	}

	for _, t := range b.Trackers() {
		if err := h.AddLivenessCheck("tracker-"+t.Address, healthcheck.TCPDialCheck(t.Address, time.Second)); err != nil {
			return err
		}
	}

	return nil
}

// Dispose stop tracker subscriptions and dispose all pools
func (b *Broker) Dispose() {
	b.lock.Lock()
	if b.disposed {
		b.lock.Unlock()
		return
	}

	b.disposed = true
	b.lock.Unlock()

	b.cancel()
	b.wg.Wait()

	b.lock.Lock()
	pools := b.pools
	b.pools = make(map[protocol.ServerAddress]*ClientPool)
	b.trackers = make(map[protocol.ServerAddress]*trackerSubscriber)
	b.lock.Unlock()

	for _, p := range pools {
		p.Dispose()
	}
}

func (s *trackerSubscriber) OnConnected(ctx context.Context, c *transport.Client) error {
	s.log.Debug("subscribing")

	m := message.New()
	m.SetCmd(protocol.TrackSub)
	m.SetToken(s.b.cfg.Auth.Token)

	return c.Send(ctx, m)
}

func (s *trackerSubscriber) OnMessage(m *message.Message) {
	if m.Status != protocol.StatusOK {
		s.log.Error("tracker error", zap.Int("status", m.Status), zap.String("body", m.BodyString()))
		return
	}

	info := &protocol.TrackerInfo{}
	if err := m.JSON(info); err != nil {
		s.log.Error("decode tracker info", zap.Error(err))
		return
	}

	// votes are keyed by subscription address so RemoveTracker finds them
	info.ServerAddress = s.address

	s.b.UpdateTracker(info)

	s.once.Do(func() {
		close(s.first)
	})
}

func (s *trackerSubscriber) OnDisconnected(err error) {
	s.log.Warn("tracker disconnected", zap.Error(err))
}
