package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	gws "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/metrics"
	"github.com/VolantMQ/zbus/protocol"
)

// serve accepts connections and passes every decoded message to h
// messages returned by h are written back in order
func serve(t *testing.T, h func(*message.Message) []*message.Message) (string, func()) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var lock sync.Mutex
	var conns []net.Conn

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			cn, err := l.Accept()
			if err != nil {
				return
			}

			lock.Lock()
			conns = append(conns, cn)
			lock.Unlock()

			go func(cn net.Conn) {
				r := message.NewReader(cn)
				for {
					m, err := r.ReadMessage()
					if err != nil {
						return
					}
					for _, res := range h(m) {
						if message.Encode(cn, res) != nil {
							return
						}
					}
				}
			}(cn)
		}
	}()

	return l.Addr().String(), func() {
		_ = l.Close()
		lock.Lock()
		for _, cn := range conns {
			_ = cn.Close()
		}
		lock.Unlock()
		wg.Wait()
	}
}

func reply(m *message.Message, body string) *message.Message {
	res := &message.Message{Status: protocol.StatusOK, Headers: map[string]string{}}
	res.SetID(m.ID())
	res.SetBodyString(body)
	return res
}

func newTestClient(t *testing.T, addr string) *Client {
	c, err := New(Config{Address: protocol.NewServerAddress(addr)})
	require.NoError(t, err)
	return c
}

func TestInvokeEcho(t *testing.T) {
	addr, stop := serve(t, func(m *message.Message) []*message.Message {
		return []*message.Message{reply(m, m.BodyString())}
	})
	defer stop()

	c := newTestClient(t, addr)
	defer c.Close()

	require.False(t, c.Active())

	m := message.New()
	m.SetBodyString("ping")

	res, err := c.Invoke(context.Background(), m)
	require.NoError(t, err)
	require.True(t, c.Active())
	require.NotEmpty(t, m.ID())
	require.Equal(t, m.ID(), res.ID())
	require.Equal(t, "ping", res.BodyString())
}

func TestInvokeOutOfOrder(t *testing.T) {
	var lock sync.Mutex
	var pending []*message.Message

	// replies to pairs of requests in reverse order
	addr, stop := serve(t, func(m *message.Message) []*message.Message {
		lock.Lock()
		defer lock.Unlock()

		pending = append(pending, m)
		if len(pending) < 2 {
			return nil
		}

		res := []*message.Message{reply(pending[1], "second"), reply(pending[0], "first")}
		pending = nil
		return res
	})
	defer stop()

	c := newTestClient(t, addr)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))

	var wg sync.WaitGroup
	res := make([]string, 2)

	for i := 0; i < 2; i++ {
		m := message.New()
		m.SetID([]string{"a", "b"}[i])

		wg.Add(1)
		go func(i int, m *message.Message) {
			defer wg.Done()
			r, err := c.Invoke(context.Background(), m)
			if err == nil {
				res[i] = r.ID()
			}
		}(i, m)
	}

	wg.Wait()
	require.Equal(t, []string{"a", "b"}, res)
}

func TestInvokeDropsUnclaimedResponses(t *testing.T) {
	addr, stop := serve(t, func(m *message.Message) []*message.Message {
		stray := &message.Message{Status: protocol.StatusOK, Headers: map[string]string{}}
		stray.SetID("abandoned-" + m.ID())
		return []*message.Message{stray, reply(m, "ok")}
	})
	defer stop()

	c := newTestClient(t, addr)
	defer c.Close()

	for i := 0; i < 3; i++ {
		res, err := c.Invoke(context.Background(), message.New())
		require.NoError(t, err)
		require.Equal(t, "ok", res.BodyString())
	}

	require.Equal(t, 0, c.Results())
}

func TestInvokeCancel(t *testing.T) {
	addr, stop := serve(t, func(m *message.Message) []*message.Message {
		return nil
	})
	defer stop()

	c := newTestClient(t, addr)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.Invoke(ctx, message.New())
	require.Equal(t, context.DeadlineExceeded, err)
	require.False(t, c.Active())
}

func TestIOErrorOnDial(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := newTestClient(t, addr)

	_, err = c.Invoke(context.Background(), message.New())
	require.Error(t, err)
	require.True(t, IsIOError(err))
}

func TestRemoteCloseIsIOError(t *testing.T) {
	addr, stop := serve(t, func(m *message.Message) []*message.Message {
		return nil
	})

	c := newTestClient(t, addr)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	stop()

	_, err := c.Receive(context.Background())
	require.True(t, IsIOError(err))
	require.False(t, c.Active())
}

func TestByteStats(t *testing.T) {
	addr, stop := serve(t, func(m *message.Message) []*message.Message {
		return []*message.Message{reply(m, "ok")}
	})
	defer stop()

	stats := metrics.New(nil)
	c, err := New(Config{Address: protocol.NewServerAddress(addr), Metrics: stats.Bytes()})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Invoke(context.Background(), message.New())
	require.NoError(t, err)

	s := stats.Snapshot()
	require.True(t, s.BytesSent > 0)
	require.True(t, s.BytesRecv > 0)
}

func TestSignedSend(t *testing.T) {
	got := make(chan *message.Message, 1)
	addr, stop := serve(t, func(m *message.Message) []*message.Message {
		got <- m
		return []*message.Message{reply(m, "")}
	})
	defer stop()

	c, err := New(Config{Address: protocol.NewServerAddress(addr), APIKey: "key", SecretKey: "secret"})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Invoke(context.Background(), message.New())
	require.NoError(t, err)

	m := <-got
	require.Equal(t, "key", m.Header(protocol.HeaderAPIKey))
	require.True(t, message.Verify("secret", m))
}

type testHandler struct {
	connected chan struct{}
	messages  chan *message.Message
}

func (h *testHandler) OnConnected(ctx context.Context, c *Client) error {
	h.connected <- struct{}{}
	m := message.New()
	m.SetCmd(protocol.TrackSub)
	return c.Send(ctx, m)
}

func (h *testHandler) OnMessage(m *message.Message) {
	h.messages <- m
}

func (h *testHandler) OnDisconnected(error) {}

func TestStart(t *testing.T) {
	addr, stop := serve(t, func(m *message.Message) []*message.Message {
		if m.Cmd() == protocol.TrackSub {
			return []*message.Message{reply(m, "snapshot")}
		}
		return nil
	})
	defer stop()

	c := newTestClient(t, addr)
	h := &testHandler{
		connected: make(chan struct{}, 1),
		messages:  make(chan *message.Message, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- c.Start(ctx, h)
	}()

	select {
	case <-h.connected:
	case <-time.After(time.Second):
		require.Fail(t, "not connected")
	}

	select {
	case m := <-h.messages:
		require.Equal(t, "snapshot", m.BodyString())
	case <-time.After(time.Second):
		require.Fail(t, "no message")
	}

	cancel()
	require.NoError(t, <-done)
	require.False(t, c.Active())
}

func TestWebsocketInvoke(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		for {
			cn, err := l.Accept()
			if err != nil {
				return
			}

			go func(cn net.Conn) {
				defer cn.Close()

				if _, err := gws.Upgrade(cn); err != nil {
					return
				}

				for {
					data, op, err := wsutil.ReadClientData(cn)
					if err != nil || op != gws.OpBinary {
						return
					}

					m, err := message.Unmarshal(data)
					if err != nil {
						return
					}

					out, _ := message.Marshal(reply(m, "ws:"+m.BodyString()))
					if wsutil.WriteServerBinary(cn, out) != nil {
						return
					}
				}
			}(cn)
		}
	}()

	c := newTestClient(t, "ws://"+l.Addr().String()+"/")
	defer c.Close()

	m := message.New()
	m.SetBodyString("hi")

	res, err := c.Invoke(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, "ws:hi", res.BodyString())
}
