package mq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/protocol"
)

// deliver answers every consume with message carrying body after short delay
func deliver(body string) func(c *mockConn, m *message.Message) {
	return func(c *mockConn, m *message.Message) {
		if m.Cmd() != protocol.Consume {
			_ = c.write(okReply(m, ""))
			return
		}

		time.Sleep(5 * time.Millisecond)

		res := okReply(m, body)
		res.SetOriginID(message.NewID())
		_ = c.write(res)
	}
}

type bodyCounter struct {
	lock   sync.Mutex
	counts map[string]int
}

func (b *bodyCounter) handle(m *message.Message, _ *Client) {
	b.lock.Lock()
	b.counts[m.BodyString()]++
	b.lock.Unlock()
}

func (b *bodyCounter) get(body string) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.counts[body]
}

func TestConsumerFollowsMembership(t *testing.T) {
	x := newMockServer(t, deliver("x"))
	defer x.close()
	y := newMockServer(t, deliver("y"))
	defer y.close()

	b := newTestBroker(t)
	defer b.Dispose()

	require.NoError(t, b.AddServer(x.address()))
	require.NoError(t, b.AddServer(y.address()))

	counter := &bodyCounter{counts: make(map[string]int)}

	c := NewConsumer(b, ConsumerConfig{
		Topic:   "orders",
		Handler: counter.handle,
		Log:     zap.NewNop(),
	})

	require.NoError(t, c.Start())
	require.NoError(t, c.Start())
	defer c.Dispose()

	require.Len(t, c.Servers(), 2)

	require.Eventually(t, func() bool {
		return counter.get("x") > 0 && counter.get("y") > 0
	}, 2*time.Second, 10*time.Millisecond)

	b.RemoveServer(y.address())
	require.Equal(t, []protocol.ServerAddress{x.address()}, c.Servers())

	fromY := counter.get("y")
	fromX := counter.get("x")

	time.Sleep(100 * time.Millisecond)

	require.Equal(t, fromY, counter.get("y"))
	require.True(t, counter.get("x") > fromX)

	// joins after start get own thread
	require.NoError(t, b.AddServer(y.address()))
	require.Len(t, c.Servers(), 2)

	require.Eventually(t, func() bool {
		return counter.get("y") > fromY
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsumerIgnoresJoinAfterLeave(t *testing.T) {
	x := newMockServer(t, deliver("x"))
	defer x.close()

	b := newTestBroker(t)
	defer b.Dispose()

	counter := &bodyCounter{counts: make(map[string]int)}

	c := NewConsumer(b, ConsumerConfig{
		Topic:   "orders",
		Handler: counter.handle,
		Log:     zap.NewNop(),
	})

	require.NoError(t, c.Start())
	defer c.Dispose()

	require.NoError(t, b.AddServer(x.address()))
	p := b.Pool(x.address())
	require.NotNil(t, p)

	b.RemoveServer(x.address())
	require.Empty(t, c.Servers())

	// join delivered late, for pool already disposed
	c.ServerJoin(p)
	require.Empty(t, c.Servers())

	before := counter.get("x")
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, before, counter.get("x"))

	_, err := p.Create()
	require.Error(t, err)
}

func TestConsumerConcurrentStartDispose(t *testing.T) {
	x := newMockServer(t, deliver("x"))
	defer x.close()

	b := newTestBroker(t)
	defer b.Dispose()

	require.NoError(t, b.AddServer(x.address()))

	c := NewConsumer(b, ConsumerConfig{
		Topic:   "orders",
		Handler: func(*message.Message, *Client) {},
		Log:     zap.NewNop(),
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Start()
		}()
		go func() {
			defer wg.Done()
			c.Dispose()
		}()
	}
	wg.Wait()

	c.Dispose()
	require.Empty(t, c.Servers())

	// unsubscribed, later joins are not followed
	b.RemoveServer(x.address())
	require.NoError(t, b.AddServer(x.address()))
	require.Empty(t, c.Servers())
}

func TestConsumerStartValidation(t *testing.T) {
	b := newTestBroker(t)
	defer b.Dispose()

	require.Equal(t, ErrMissingHandler, NewConsumer(b, ConsumerConfig{Topic: "orders"}).Start())
	require.Equal(t, ErrMissingTopic, NewConsumer(b, ConsumerConfig{Handler: func(*message.Message, *Client) {}}).Start())
}

func TestConsumerSelector(t *testing.T) {
	x := newMockServer(t, deliver("x"))
	defer x.close()
	y := newMockServer(t, deliver("y"))
	defer y.close()

	b := newTestBroker(t)
	defer b.Dispose()

	b.UpdateTracker(trackerInfo(trackerA, 1,
		serverInfo(x.address(), 1, map[string]int{"orders": 0}),
		serverInfo(y.address(), 1, map[string]int{"billing": 0}),
	))
	require.Len(t, b.PoolTable(), 2)

	counter := &bodyCounter{counts: make(map[string]int)}

	c := NewConsumer(b, ConsumerConfig{
		Topic:       "orders",
		Handler:     counter.handle,
		Selector:    TopicServers,
		RunInPool:   true,
		WorkerCount: 2,
		Log:         zap.NewNop(),
	})

	require.NoError(t, c.Start())

	require.Equal(t, []protocol.ServerAddress{x.address()}, c.Servers())

	require.Eventually(t, func() bool {
		return counter.get("x") > 0
	}, 2*time.Second, 10*time.Millisecond)

	c.Dispose()
	c.Dispose()

	require.Empty(t, c.Servers())
	require.Zero(t, counter.get("y"))
}
