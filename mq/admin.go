package mq

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/protocol"
)

// Admin runs management commands against servers picked by selector
// every selected server gets own result slot, failures are reported per slot
type Admin struct {
	broker *Broker

	// Selector defaults to AllServers
	Selector ServerSelector
}

// NewAdmin ...
func NewAdmin(b *Broker) *Admin {
	return &Admin{
		broker:   b,
		Selector: AllServers,
	}
}

func (a *Admin) targets(topic string) []*ClientPool {
	m := message.New()
	m.SetTopic(topic)

	return a.broker.Select(a.Selector, m)
}

// fanout call on borrowed client of every pool concurrently
func (a *Admin) fanout(ctx context.Context, pools []*ClientPool, call func(i int, c *Client) error) []error {
	errs := make([]error, len(pools))

	var wg sync.WaitGroup

	for i, p := range pools {
		wg.Add(1)
		go func(i int, p *ClientPool) {
			defer wg.Done()

			c, err := p.Borrow(ctx)
			if err != nil {
				errs[i] = errors.Wrapf(err, "borrow client of %s", p.Address())
				return
			}
			defer p.Return(c)

			errs[i] = call(i, c)
		}(i, p)
	}

	wg.Wait()

	return errs
}

func failure(err error) string {
	var e *Error
	if errors.As(err, &e) && len(e.Body) > 0 {
		return e.Body
	}

	return err.Error()
}

func settleItem(item *protocol.TrackItem, address protocol.ServerAddress, err error) {
	if err != nil {
		item.SetError(failure(err))
	}

	if len(item.ServerAddress.Address) == 0 {
		item.ServerAddress = address
	}
}

// QueryServer state of every selected server
func (a *Admin) QueryServer(ctx context.Context) []*protocol.ServerInfo {
	pools := a.targets("")
	res := make([]*protocol.ServerInfo, len(pools))

	errs := a.fanout(ctx, pools, func(i int, c *Client) error {
		var err error
		res[i], err = c.QueryServer(ctx)
		return err
	})

	for i, err := range errs {
		if res[i] == nil {
			res[i] = &protocol.ServerInfo{}
		}

		settleItem(&res[i].TrackItem, pools[i].Address(), err)
	}

	return res
}

// QueryTopic ...
func (a *Admin) QueryTopic(ctx context.Context, topic string) []*protocol.TopicInfo {
	return a.topicCall(ctx, topic, func(c *Client) (*protocol.TopicInfo, error) {
		return c.QueryTopic(ctx, topic)
	})
}

// DeclareTopic nil mask leaves server default
func (a *Admin) DeclareTopic(ctx context.Context, topic string, mask *int) []*protocol.TopicInfo {
	return a.topicCall(ctx, topic, func(c *Client) (*protocol.TopicInfo, error) {
		return c.DeclareTopic(ctx, topic, mask)
	})
}

func (a *Admin) topicCall(ctx context.Context, topic string, call func(*Client) (*protocol.TopicInfo, error)) []*protocol.TopicInfo {
	pools := a.targets(topic)
	res := make([]*protocol.TopicInfo, len(pools))

	errs := a.fanout(ctx, pools, func(i int, c *Client) error {
		var err error
		res[i], err = call(c)
		return err
	})

	for i, err := range errs {
		if res[i] == nil {
			res[i] = &protocol.TopicInfo{}
		}

		if len(res[i].TopicName) == 0 {
			res[i].TopicName = topic
		}

		settleItem(&res[i].TrackItem, pools[i].Address(), err)
	}

	return res
}

// QueryGroup ...
func (a *Admin) QueryGroup(ctx context.Context, topic, group string) []*protocol.ConsumeGroupInfo {
	return a.groupCall(ctx, topic, group, func(c *Client) (*protocol.ConsumeGroupInfo, error) {
		return c.QueryGroup(ctx, topic, group)
	})
}

// DeclareGroup nil group declares group named after topic
func (a *Admin) DeclareGroup(ctx context.Context, topic string, g *protocol.ConsumeGroup) []*protocol.ConsumeGroupInfo {
	if g == nil {
		g = protocol.NewConsumeGroup(topic)
	}

	return a.groupCall(ctx, topic, g.GroupName, func(c *Client) (*protocol.ConsumeGroupInfo, error) {
		return c.DeclareGroup(ctx, topic, g)
	})
}

func (a *Admin) groupCall(ctx context.Context, topic, group string, call func(*Client) (*protocol.ConsumeGroupInfo, error)) []*protocol.ConsumeGroupInfo {
	pools := a.targets(topic)
	res := make([]*protocol.ConsumeGroupInfo, len(pools))

	errs := a.fanout(ctx, pools, func(i int, c *Client) error {
		var err error
		res[i], err = call(c)
		return err
	})

	for i, err := range errs {
		if res[i] == nil {
			res[i] = &protocol.ConsumeGroupInfo{}
		}

		if len(res[i].TopicName) == 0 {
			res[i].TopicName = topic
			res[i].GroupName = group
		}

		if err != nil {
			res[i].SetError(failure(err))
		}
	}

	return res
}

// RemoveTopic result slot per selected server, nil on success
func (a *Admin) RemoveTopic(ctx context.Context, topic string) []error {
	return a.fanout(ctx, a.targets(topic), func(_ int, c *Client) error {
		return c.RemoveTopic(ctx, topic)
	})
}

// RemoveGroup ...
func (a *Admin) RemoveGroup(ctx context.Context, topic, group string) []error {
	return a.fanout(ctx, a.targets(topic), func(_ int, c *Client) error {
		return c.RemoveGroup(ctx, topic, group)
	})
}

// EmptyTopic ...
func (a *Admin) EmptyTopic(ctx context.Context, topic string) []error {
	return a.fanout(ctx, a.targets(topic), func(_ int, c *Client) error {
		return c.EmptyTopic(ctx, topic)
	})
}

// EmptyGroup ...
func (a *Admin) EmptyGroup(ctx context.Context, topic, group string) []error {
	return a.fanout(ctx, a.targets(topic), func(_ int, c *Client) error {
		return c.EmptyGroup(ctx, topic, group)
	})
}
