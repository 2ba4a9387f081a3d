package rpc

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/metrics"
	"github.com/VolantMQ/zbus/mq"
	"github.com/VolantMQ/zbus/protocol"
)

// queueServer minimal MQ server: single queue, consume blocks, route delivers to recver connection
type queueServer struct {
	l     net.Listener
	queue chan *message.Message
	quit  chan struct{}
	wg    sync.WaitGroup

	lock   sync.Mutex
	nextID int
	conns  map[string]*queueConn
}

type queueConn struct {
	net.Conn
	lock sync.Mutex
}

func (c *queueConn) write(m *message.Message) {
	c.lock.Lock()
	defer c.lock.Unlock()

	_ = message.Encode(c.Conn, m)
}

func newQueueServer(t *testing.T) *queueServer {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &queueServer{
		l:     l,
		queue: make(chan *message.Message, 64),
		quit:  make(chan struct{}),
		conns: make(map[string]*queueConn),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			cn, err := l.Accept()
			if err != nil {
				return
			}

			s.lock.Lock()
			s.nextID++
			id := "conn-" + strconv.Itoa(s.nextID)
			c := &queueConn{Conn: cn}
			s.conns[id] = c
			s.lock.Unlock()

			s.wg.Add(1)
			go s.serve(id, c)
		}
	}()

	return s
}

func (s *queueServer) serve(id string, c *queueConn) {
	defer s.wg.Done()
	defer c.Close() // nolint: errcheck

	r := message.NewReader(c)
	for {
		m, err := r.ReadMessage()
		if err != nil {
			return
		}

		switch m.Cmd() {
		case protocol.Produce:
			m.SetSender(id)
			s.queue <- m
			if m.Ack() {
				res := &message.Message{Status: protocol.StatusOK, Headers: map[string]string{}}
				res.SetID(m.ID())
				c.write(res)
			}
		case protocol.Consume:
			select {
			case <-s.quit:
				return
			case msg := <-s.queue:
				res := msg.Clone()
				res.Status = protocol.StatusOK
				res.SetOriginID(msg.ID())
				res.SetID(m.ID())
				c.write(res)
			}
		case protocol.Route:
			s.lock.Lock()
			target := s.conns[m.Recver()]
			s.lock.Unlock()

			if target != nil {
				target.write(m)
			}
		}
	}
}

func (s *queueServer) address() protocol.ServerAddress {
	return protocol.NewServerAddress(s.l.Addr().String())
}

func (s *queueServer) close() {
	close(s.quit)
	_ = s.l.Close()

	s.lock.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.lock.Unlock()

	s.wg.Wait()
}

func newTestBroker(t *testing.T, s *queueServer, topic string) *mq.Broker {
	b, err := mq.NewBroker(mq.BrokerConfig{Metrics: metrics.New(nil), Log: zap.NewNop()})
	require.NoError(t, err)

	si := &protocol.ServerInfo{
		InfoVersion: 1,
		TopicTable: map[string]*protocol.TopicInfo{
			topic: {TopicName: topic},
		},
	}
	si.ServerAddress = s.address()

	info := &protocol.TrackerInfo{
		InfoVersion: 1,
		ServerTable: map[string]*protocol.ServerInfo{si.ServerAddress.Address: si},
	}
	info.ServerAddress = protocol.NewServerAddress("tracker:15555")

	b.UpdateTracker(info)

	return b
}

func newTestProcessor(t *testing.T) *Processor {
	p := NewProcessor(zap.NewNop())

	require.NoError(t, p.Register("math", "add", func(_ context.Context, params []jsoniter.RawMessage) (interface{}, error) {
		var a, b int
		if err := Bind(params, &a, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	}))

	require.NoError(t, p.Register("math", "fail", func(context.Context, []jsoniter.RawMessage) (interface{}, error) {
		return nil, errors.New("division by zero")
	}))

	require.NoError(t, p.Register("", "ping", func(context.Context, []jsoniter.RawMessage) (interface{}, error) {
		return "pong", nil
	}))

	return p
}

func TestRoundTrip(t *testing.T) {
	srv := newQueueServer(t)
	defer srv.close()

	b := newTestBroker(t, srv, "calc")
	defer b.Dispose()

	s := NewServer(b, newTestProcessor(t), ServerConfig{Topic: "calc", Log: zap.NewNop()})
	require.NoError(t, s.Start())
	defer s.Dispose()

	inv := NewInvoker(b, "calc")
	inv.Module = "math"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var sum int
	require.NoError(t, inv.Call(ctx, &sum, "add", 2, 3))
	require.Equal(t, 5, sum)

	err := inv.Call(ctx, nil, "fail")
	require.Error(t, err)

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	require.Equal(t, 500, re.Status)
	require.Contains(t, re.Message, "division by zero")

	err = inv.Call(ctx, nil, "missing")
	require.True(t, errors.As(err, &re))
	require.Equal(t, 404, re.Status)

	err = inv.Call(ctx, &sum, "add", 1)
	require.True(t, errors.As(err, &re))
	require.Equal(t, 400, re.Status)

	inv.Module = ""

	var pong string
	require.NoError(t, inv.Call(ctx, &pong, "ping"))
	require.Equal(t, "pong", pong)
}

func TestInvokerNoServer(t *testing.T) {
	b, err := mq.NewBroker(mq.BrokerConfig{Metrics: metrics.New(nil), Log: zap.NewNop()})
	require.NoError(t, err)
	defer b.Dispose()

	err = NewInvoker(b, "calc").Call(context.Background(), nil, "ping")
	require.Equal(t, mq.ErrNoServer, errors.Cause(err))
}

func TestProcessor(t *testing.T) {
	p := newTestProcessor(t)

	require.Equal(t, []string{"math:add", "math:fail", "ping"}, p.Methods())
	require.Equal(t, ErrDuplicate, errors.Cause(p.Register("", "ping", nil)))
	require.Equal(t, ErrMissingMethod, p.Register("math", "", nil))

	req, err := NewRequest("math", "add", 40, 2)
	require.NoError(t, err)

	res, status := p.Process(context.Background(), req)
	require.Equal(t, 200, status)
	require.Empty(t, res.Error)

	var sum int
	require.NoError(t, res.Decode(&sum))
	require.Equal(t, 42, sum)

	res, status = p.Process(context.Background(), &Request{})
	require.Equal(t, 400, status)
	require.Equal(t, ErrMissingMethod.Error(), res.Error)
}

func TestProcessorRecoversPanic(t *testing.T) {
	p := NewProcessor(zap.NewNop())
	require.NoError(t, p.Register("", "boom", func(context.Context, []jsoniter.RawMessage) (interface{}, error) {
		panic("boom")
	}))

	res, status := p.Process(context.Background(), &Request{Method: "boom"})
	require.Equal(t, 500, status)
	require.Contains(t, res.Error, "panicked")
}

func TestProcessorHandleMessage(t *testing.T) {
	p := newTestProcessor(t)

	m := message.New()
	m.SetBodyString("not json")

	res := p.Handle(context.Background(), m)
	require.Equal(t, 400, res.Status)

	req, err := NewRequest("", "ping")
	require.NoError(t, err)

	m = message.New()
	require.NoError(t, m.SetJSONBody(req))

	res = p.Handle(context.Background(), m)
	require.Equal(t, 200, res.Status)

	resp := &Response{}
	require.NoError(t, res.JSON(resp))
	require.Equal(t, `"pong"`, string(resp.Result))
}

func TestBind(t *testing.T) {
	req, err := NewRequest("", "m", "a", 1)
	require.NoError(t, err)

	var s string
	var n int
	require.NoError(t, Bind(req.Params, &s, &n))
	require.Equal(t, "a", s)
	require.Equal(t, 1, n)

	require.Equal(t, ErrBadParams, errors.Cause(Bind(req.Params, &s)))
	require.Equal(t, ErrBadParams, errors.Cause(Bind(req.Params, &n, &s)))
}
