package transport

import (
	"net"
	"time"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/metrics"
)

// stream frames messages over underlying connection
type stream interface {
	ReadMessage() (*message.Message, error)
	WriteMessage(*message.Message) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// conn is wrapper to net.Conn
// implemented to encapsulate bytes statistic
type conn struct {
	net.Conn
	stat metrics.Bytes
}

func newConn(cn net.Conn, stat metrics.Bytes) *conn {
	return &conn{
		Conn: cn,
		stat: stat,
	}
}

// Read ...
func (c *conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.stat.OnRecv(n)

	return n, err
}

// Write ...
func (c *conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.stat.OnSent(n)

	return n, err
}

type tcpStream struct {
	*conn
	r *message.Reader
}

var _ stream = (*tcpStream)(nil)

func newTCPStream(cn net.Conn, stat metrics.Bytes) *tcpStream {
	c := newConn(cn, stat)

	return &tcpStream{
		conn: c,
		r:    message.NewReader(c),
	}
}

func (s *tcpStream) ReadMessage() (*message.Message, error) {
	return s.r.ReadMessage()
}

func (s *tcpStream) WriteMessage(m *message.Message) error {
	return message.Encode(s.conn, m)
}

type nopBytes struct{}

func (nopBytes) OnSent(int) {}
func (nopBytes) OnRecv(int) {}
