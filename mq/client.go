package mq

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/protocol"
	"github.com/VolantMQ/zbus/transport"
)

// Client speaks MQ commands over single connection
type Client struct {
	*transport.Client

	// Token sent with every command unless message already has one
	Token string
}

type errorInfo interface {
	SetError(string)
}

// NewClient ...
func NewClient(c transport.Config) (*Client, error) {
	tc, err := transport.New(c)
	if err != nil {
		return nil, err
	}

	return &Client{Client: tc}, nil
}

func (c *Client) prepare(m *message.Message) {
	if len(m.Token()) == 0 {
		m.SetToken(c.Token)
	}
}

// Produce checked produce
// messages with ack disabled are sent without waiting response
func (c *Client) Produce(ctx context.Context, m *message.Message) error {
	m.SetCmd(protocol.Produce)

	if !m.Ack() {
		c.prepare(m)
		return c.Send(ctx, m)
	}

	return c.CheckedInvoke(ctx, m)
}

// Route message back to its sender, status moves to origin_status
func (c *Client) Route(ctx context.Context, m *message.Message) error {
	m.SetCmd(protocol.Route)

	if m.Status != 0 {
		m.SetOriginStatus(m.Status)
		m.Status = 0
	}

	c.prepare(m)

	return c.Send(ctx, m)
}

// Consume long-poll next message of topic
// empty group means group named after topic, window <= 0 is not sent
func (c *Client) Consume(ctx context.Context, topic, group string, window int) (*message.Message, error) {
	m := message.New()
	m.SetCmd(protocol.Consume)
	m.SetTopic(topic)
	m.SetConsumeGroup(group)
	m.SetConsumeWindow(window)

	c.prepare(m)

	return c.Invoke(ctx, m)
}

// QueryServer ...
func (c *Client) QueryServer(ctx context.Context) (*protocol.ServerInfo, error) {
	info := &protocol.ServerInfo{}
	return info, c.InvokeObject(ctx, queryMessage("", ""), info)
}

// QueryTopic ...
func (c *Client) QueryTopic(ctx context.Context, topic string) (*protocol.TopicInfo, error) {
	info := &protocol.TopicInfo{}
	return info, c.InvokeObject(ctx, queryMessage(topic, ""), info)
}

// QueryGroup ...
func (c *Client) QueryGroup(ctx context.Context, topic, group string) (*protocol.ConsumeGroupInfo, error) {
	info := &protocol.ConsumeGroupInfo{}
	return info, c.InvokeObject(ctx, queryMessage(topic, group), info)
}

// DeclareTopic nil mask leaves server default
func (c *Client) DeclareTopic(ctx context.Context, topic string, mask *int) (*protocol.TopicInfo, error) {
	info := &protocol.TopicInfo{}
	return info, c.InvokeObject(ctx, declareTopicMessage(topic, mask), info)
}

// DeclareGroup ...
func (c *Client) DeclareGroup(ctx context.Context, topic string, g *protocol.ConsumeGroup) (*protocol.ConsumeGroupInfo, error) {
	info := &protocol.ConsumeGroupInfo{}
	return info, c.InvokeObject(ctx, declareGroupMessage(topic, g), info)
}

// RemoveTopic ...
func (c *Client) RemoveTopic(ctx context.Context, topic string) error {
	return c.CheckedInvoke(ctx, commandMessage(protocol.Remove, topic, ""))
}

// RemoveGroup ...
func (c *Client) RemoveGroup(ctx context.Context, topic, group string) error {
	return c.CheckedInvoke(ctx, commandMessage(protocol.Remove, topic, group))
}

// EmptyTopic ...
func (c *Client) EmptyTopic(ctx context.Context, topic string) error {
	return c.CheckedInvoke(ctx, commandMessage(protocol.Empty, topic, ""))
}

// EmptyGroup ...
func (c *Client) EmptyGroup(ctx context.Context, topic, group string) error {
	return c.CheckedInvoke(ctx, commandMessage(protocol.Empty, topic, group))
}

// InvokeObject decode json response into v
// non 200 response stored in v error field and returned as *Error
func (c *Client) InvokeObject(ctx context.Context, m *message.Message, v errorInfo) error {
	c.prepare(m)

	res, err := c.Invoke(ctx, m)
	if err != nil {
		return err
	}

	if err = checkStatus(res); err != nil {
		v.SetError(res.BodyString())
		return err
	}

	if err = res.JSON(v); err != nil {
		return errors.Wrapf(err, "decode %s response", m.Cmd())
	}

	return nil
}

// CheckedInvoke non 200 response returned as *Error
func (c *Client) CheckedInvoke(ctx context.Context, m *message.Message) error {
	c.prepare(m)

	res, err := c.Invoke(ctx, m)
	if err != nil {
		return err
	}

	return checkStatus(res)
}

func commandMessage(cmd, topic, group string) *message.Message {
	m := message.New()
	m.SetCmd(cmd)
	m.SetTopic(topic)
	m.SetConsumeGroup(group)

	return m
}

func queryMessage(topic, group string) *message.Message {
	return commandMessage(protocol.Query, topic, group)
}

func declareTopicMessage(topic string, mask *int) *message.Message {
	m := commandMessage(protocol.Declare, topic, "")
	if mask != nil {
		m.SetTopicMask(*mask)
	}

	return m
}

func declareGroupMessage(topic string, g *protocol.ConsumeGroup) *message.Message {
	if g == nil {
		g = protocol.NewConsumeGroup(topic)
	}

	m := commandMessage(protocol.Declare, topic, g.GroupName)
	m.SetGroupFilter(g.Filter)
	m.SetGroupStartCopy(g.StartCopy)
	m.SetGroupStartMsgID(g.StartMsgID)

	if g.Mask != nil {
		m.SetGroupMask(*g.Mask)
	}

	if g.StartOffset != nil {
		m.SetGroupStartOffset(*g.StartOffset)
	}

	if g.StartTime != nil {
		m.SetGroupStartTime(*g.StartTime)
	}

	return m
}

// ParseMask accepts decimal mask value, empty string is nil
func ParseMask(s string) (*int, error) {
	if len(s) == 0 {
		return nil, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid mask %q", s)
	}

	return &v, nil
}
