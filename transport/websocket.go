package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/metrics"
)

// wsStream carries one encoded message per binary frame
type wsStream struct {
	*websocket.Conn
	stat metrics.Bytes
}

var _ stream = (*wsStream)(nil)

func dialWS(ctx context.Context, c *Config) (*wsStream, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.DialTimeout,
		TLSClientConfig:  c.tls,
	}

	cn, _, err := d.DialContext(ctx, c.Address.Address, nil)
	if err != nil {
		return nil, err
	}

	return &wsStream{
		Conn: cn,
		stat: c.Metrics,
	}, nil
}

func (s *wsStream) ReadMessage() (*message.Message, error) {
	for {
		mType, data, err := s.Conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		s.stat.OnRecv(len(data))

		switch mType {
		case websocket.BinaryMessage, websocket.TextMessage:
			return message.Unmarshal(data)
		}
	}
}

func (s *wsStream) WriteMessage(m *message.Message) error {
	data, err := message.Marshal(m)
	if err != nil {
		return err
	}

	if err = s.Conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}

	s.stat.OnSent(len(data))

	return nil
}

func (s *wsStream) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = s.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	return s.Conn.Close()
}
