package rpc

import (
	"context"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/mq"
	"github.com/VolantMQ/zbus/protocol"
)

// Invoker calls methods served on topic
type Invoker struct {
	producer *mq.Producer

	Topic  string
	Module string
}

// NewInvoker ...
func NewInvoker(b *mq.Broker, topic string) *Invoker {
	return &Invoker{
		producer: mq.NewProducer(b),
		Topic:    topic,
	}
}

// SetSelector of server receiving calls, defaults to least loaded
func (i *Invoker) SetSelector(s mq.ServerSelector) {
	i.producer.Selector = s
}

// Invoke produce request and wait reply routed back by server
// non 200 replies returned as *RemoteError
func (i *Invoker) Invoke(ctx context.Context, req *Request) (*Response, error) {
	m := message.New()
	m.SetTopic(i.Topic)
	m.SetAck(false)

	if err := m.SetJSONBody(req); err != nil {
		return nil, err
	}

	res, err := i.producer.Produce(ctx, m)
	if res == nil {
		return nil, err
	}

	resp := &Response{}
	decodeErr := res.JSON(resp)

	if res.Status != protocol.StatusOK {
		if decodeErr != nil || len(resp.Error) == 0 {
			resp.Error = res.BodyString()
		}

		return resp, &RemoteError{Status: res.Status, Message: resp.Error}
	}

	if decodeErr != nil {
		return &Response{Error: res.BodyString()}, nil
	}

	return resp, nil
}

// Call module method with params and decode result into result
// result may be nil when method returns nothing
func (i *Invoker) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	req, err := NewRequest(i.Module, method, params...)
	if err != nil {
		return err
	}

	resp, err := i.Invoke(ctx, req)
	if err != nil {
		return err
	}

	return resp.Decode(result)
}
