package mq

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/metrics"
	"github.com/VolantMQ/zbus/protocol"
	"github.com/VolantMQ/zbus/transport"
)

type mockConn struct {
	net.Conn
	lock sync.Mutex
}

func (c *mockConn) write(m *message.Message) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return message.Encode(c.Conn, m)
}

// mockServer decodes every message of accepted connections and passes it to handler
type mockServer struct {
	l       net.Listener
	handler func(c *mockConn, m *message.Message)
	wg      sync.WaitGroup

	lock     sync.Mutex
	conns    []*mockConn
	received map[string]int
	last     map[string]*message.Message
}

func newMockServer(t *testing.T, h func(c *mockConn, m *message.Message)) *mockServer {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	if h == nil {
		h = func(c *mockConn, m *message.Message) {
			_ = c.write(okReply(m, ""))
		}
	}

	s := &mockServer{
		l:        l,
		handler:  h,
		received: make(map[string]int),
		last:     make(map[string]*message.Message),
	}

	s.wg.Add(1)
	go s.accept()

	return s
}

func (s *mockServer) accept() {
	defer s.wg.Done()

	for {
		cn, err := s.l.Accept()
		if err != nil {
			return
		}

		c := &mockConn{Conn: cn}

		s.lock.Lock()
		s.conns = append(s.conns, c)
		s.lock.Unlock()

		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *mockServer) serve(c *mockConn) {
	defer s.wg.Done()
	defer c.Close() // nolint: errcheck

	r := message.NewReader(c)

	for {
		m, err := r.ReadMessage()
		if err != nil {
			return
		}

		s.lock.Lock()
		s.received[m.Cmd()]++
		s.last[m.Cmd()] = m
		s.lock.Unlock()

		s.handler(c, m)
	}
}

func (s *mockServer) address() protocol.ServerAddress {
	return protocol.NewServerAddress(s.l.Addr().String())
}

func (s *mockServer) count(cmd string) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.received[cmd]
}

func (s *mockServer) lastMessage(cmd string) *message.Message {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.last[cmd]
}

func (s *mockServer) connections() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.conns)
}

func (s *mockServer) close() {
	_ = s.l.Close()

	s.lock.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.lock.Unlock()

	s.wg.Wait()
}

// mockTracker answers track_sub with current info and pushes updates to subscribers
type mockTracker struct {
	*mockServer
	t *testing.T

	lock sync.Mutex
	info *protocol.TrackerInfo
	subs []*mockConn
}

func newMockTracker(t *testing.T, info *protocol.TrackerInfo) *mockTracker {
	tr := &mockTracker{t: t, info: info}

	tr.mockServer = newMockServer(t, func(c *mockConn, m *message.Message) {
		if m.Cmd() != protocol.TrackSub {
			return
		}

		tr.lock.Lock()
		tr.subs = append(tr.subs, c)
		current := tr.info
		tr.lock.Unlock()

		if current != nil {
			_ = c.write(trackerMessage(t, current))
		}
	})

	return tr
}

func (tr *mockTracker) push(info *protocol.TrackerInfo) {
	tr.lock.Lock()
	tr.info = info
	subs := append([]*mockConn(nil), tr.subs...)
	tr.lock.Unlock()

	for _, c := range subs {
		_ = c.write(trackerMessage(tr.t, info))
	}
}

func trackerMessage(t *testing.T, info *protocol.TrackerInfo) *message.Message {
	m := &message.Message{Status: protocol.StatusOK, Headers: map[string]string{}}
	m.SetCmd(protocol.TrackPub)
	require.NoError(t, m.SetJSONBody(info))

	return m
}

func statusReply(m *message.Message, status int, body string) *message.Message {
	res := &message.Message{Status: status, Headers: map[string]string{}}
	res.SetID(m.ID())
	if len(body) > 0 {
		res.SetBodyString(body)
	}

	return res
}

func okReply(m *message.Message, body string) *message.Message {
	return statusReply(m, protocol.StatusOK, body)
}

func jsonReply(t *testing.T, m *message.Message, v interface{}) *message.Message {
	res := okReply(m, "")
	require.NoError(t, res.SetJSONBody(v))

	return res
}

func serverInfo(address protocol.ServerAddress, version int64, topics map[string]int) *protocol.ServerInfo {
	si := &protocol.ServerInfo{
		InfoVersion: version,
		TopicTable:  make(map[string]*protocol.TopicInfo),
	}
	si.ServerAddress = address

	for name, consumers := range topics {
		ti := &protocol.TopicInfo{TopicName: name, ConsumerCount: consumers}
		ti.ServerAddress = address
		si.TopicTable[name] = ti
	}

	return si
}

func trackerInfo(tracker protocol.ServerAddress, version int64, servers ...*protocol.ServerInfo) *protocol.TrackerInfo {
	info := &protocol.TrackerInfo{
		InfoVersion: version,
		ServerTable: make(map[string]*protocol.ServerInfo),
	}
	info.ServerAddress = tracker

	for _, si := range servers {
		info.ServerTable[si.ServerAddress.Address] = si
	}

	return info
}

func newTestBroker(t *testing.T) *Broker {
	b, err := NewBroker(BrokerConfig{
		Metrics: metrics.New(nil),
		Log:     zap.NewNop(),
	})
	require.NoError(t, err)

	return b
}

func clientFactory(address protocol.ServerAddress) func() (*Client, error) {
	return func() (*Client, error) {
		return NewClient(transport.Config{Address: address})
	}
}

type recordingListener struct {
	lock   sync.Mutex
	joined []protocol.ServerAddress
	left   []protocol.ServerAddress
}

func (l *recordingListener) ServerJoin(p *ClientPool) {
	l.lock.Lock()
	l.joined = append(l.joined, p.Address())
	l.lock.Unlock()
}

func (l *recordingListener) ServerLeave(address protocol.ServerAddress) {
	l.lock.Lock()
	l.left = append(l.left, address)
	l.lock.Unlock()
}

func (l *recordingListener) events() ([]protocol.ServerAddress, []protocol.ServerAddress) {
	l.lock.Lock()
	defer l.lock.Unlock()

	return append([]protocol.ServerAddress(nil), l.joined...), append([]protocol.ServerAddress(nil), l.left...)
}
