package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/mq"
	"github.com/VolantMQ/zbus/protocol"
	"github.com/VolantMQ/zbus/rpc"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errMissingTopic = errors.New("-topic is required")

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}

// headerFlag repeated -header key=value
type headerFlag map[string]string

func (h headerFlag) String() string {
	pairs := make([]string, 0, len(h))
	for k, v := range h {
		pairs = append(pairs, k+"="+v)
	}

	return strings.Join(pairs, ",")
}

func (h headerFlag) Set(s string) error {
	kv := strings.SplitN(s, "=", 2)
	if len(kv) != 2 || len(kv[0]) == 0 {
		return errors.Errorf("header must be key=value: %s", s)
	}

	h[kv[0]] = kv[1]

	return nil
}

func runProduce(ctx context.Context, app *appContext, args []string) error {
	fs := flag.NewFlagSet("produce", flag.ExitOnError)
	topic := fs.String("topic", app.config.Consumer.Topic, "topic to produce to")
	body := fs.String("body", "", "message body")
	count := fs.Int("count", 1, "messages to produce")
	timeout := fs.Duration("timeout", 10*time.Second, "timeout of each produce")
	headers := headerFlag{}
	fs.Var(headers, "header", "extra header key=value, may be repeated")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if len(*topic) == 0 {
		return errMissingTopic
	}

	p := mq.NewProducer(app.broker)

	for i := 0; i < *count; i++ {
		m := message.New()
		m.SetTopic(*topic)
		m.SetBodyString(*body)
		for k, v := range headers {
			m.SetHeader(k, v)
		}

		pctx, cancel := context.WithTimeout(ctx, *timeout)
		res, err := p.Produce(pctx, m)
		cancel()

		if err != nil {
			return err
		}

		logger.Infof("produced id=%s status=%d", m.ID(), res.Status)
	}

	return nil
}

func consumeGroup(app *appContext, name, filter string) *protocol.ConsumeGroup {
	if len(name) == 0 {
		name = app.config.Consumer.Group
	}

	if len(filter) == 0 {
		filter = app.config.Consumer.Filter
	}

	if len(name) == 0 && len(filter) == 0 {
		return nil
	}

	g := protocol.NewConsumeGroup(name)
	g.Filter = filter

	return g
}

func runConsume(ctx context.Context, app *appContext, args []string) error {
	cc := app.config.Consumer

	fs := flag.NewFlagSet("consume", flag.ExitOnError)
	topic := fs.String("topic", cc.Topic, "topic to consume")
	group := fs.String("group", "", "consume group, defaults to topic")
	filter := fs.String("filter", "", "group filter")
	window := fs.Int("window", cc.Window, "consume window")
	connections := fs.Int("connections", cc.Connections, "consume loops per server")
	count := fs.Int("count", 0, "exit after count messages, 0 runs until interrupted")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if len(*topic) == 0 {
		return errMissingTopic
	}

	done := make(chan struct{})
	var once sync.Once
	var received int32
	log := logger.Desugar()

	c := mq.NewConsumer(app.broker, mq.ConsumerConfig{
		Topic:           *topic,
		Group:           consumeGroup(app, *group, *filter),
		ConnectionCount: *connections,
		ConsumeWindow:   *window,
		ConsumeTimeout:  cc.TimeoutDuration(),
		RunInPool:       cc.RunInPool,
		WorkerCount:     cc.PoolSize,
		Handler: func(m *message.Message, _ *mq.Client) {
			log.Info("message",
				zap.String("id", m.ID()),
				zap.String("origin_id", m.OriginID()),
				zap.String("origin_url", m.OriginURL()),
				zap.String("body", m.BodyString()))

			if n := atomic.AddInt32(&received, 1); *count > 0 && int(n) >= *count {
				once.Do(func() { close(done) })
			}
		},
	})

	if err := c.Start(); err != nil {
		return err
	}
	defer c.Dispose()

	logger.Infof("consuming %s from %d server(s)", *topic, len(c.Servers()))

	select {
	case <-ctx.Done():
	case <-done:
	}

	return nil
}

func runQuery(ctx context.Context, app *appContext, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	topic := fs.String("topic", "", "topic to query, empty queries servers")
	group := fs.String("group", "", "consume group to query")
	timeout := fs.Duration("timeout", 10*time.Second, "timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	a := mq.NewAdmin(app.broker)

	switch {
	case len(*topic) == 0:
		return printJSON(a.QueryServer(ctx))
	case len(*group) == 0:
		return printJSON(a.QueryTopic(ctx, *topic))
	default:
		return printJSON(a.QueryGroup(ctx, *topic, *group))
	}
}

func runDeclare(ctx context.Context, app *appContext, args []string) error {
	fs := flag.NewFlagSet("declare", flag.ExitOnError)
	topic := fs.String("topic", "", "topic to declare")
	group := fs.String("group", "", "consume group to declare")
	filter := fs.String("filter", "", "group filter")
	mask := fs.String("mask", "", "topic or group mask, decimal or 0x hex")
	timeout := fs.Duration("timeout", 10*time.Second, "timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if len(*topic) == 0 {
		return errMissingTopic
	}

	m, err := mq.ParseMask(*mask)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	a := mq.NewAdmin(app.broker)

	if len(*group) == 0 && len(*filter) == 0 {
		return printJSON(a.DeclareTopic(ctx, *topic, m))
	}

	g := protocol.NewConsumeGroup(*group)
	g.Filter = *filter
	g.Mask = m

	return printJSON(a.DeclareGroup(ctx, *topic, g))
}

type fanoutCall func(ctx context.Context, a *mq.Admin, topic, group string) []error

func runFanout(name string, topicCall, groupCall fanoutCall) func(context.Context, *appContext, []string) error {
	return func(ctx context.Context, app *appContext, args []string) error {
		fs := flag.NewFlagSet(name, flag.ExitOnError)
		topic := fs.String("topic", "", "topic")
		group := fs.String("group", "", "consume group")
		timeout := fs.Duration("timeout", 10*time.Second, "timeout")

		if err := fs.Parse(args); err != nil {
			return err
		}

		if len(*topic) == 0 {
			return errMissingTopic
		}

		ctx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()

		call := topicCall
		if len(*group) > 0 {
			call = groupCall
		}

		failed := 0
		errs := call(ctx, mq.NewAdmin(app.broker), *topic, *group)
		for i, err := range errs {
			if err != nil {
				failed++
				logger.Errorf("server %d: %s", i, err.Error())
			}
		}

		if failed > 0 {
			return errors.Errorf("%s failed on %d of %d server(s)", name, failed, len(errs))
		}

		logger.Infof("%s done on %d server(s)", name, len(errs))

		return nil
	}
}

var runRemove = runFanout("remove",
	func(ctx context.Context, a *mq.Admin, topic, _ string) []error { return a.RemoveTopic(ctx, topic) },
	func(ctx context.Context, a *mq.Admin, topic, group string) []error { return a.RemoveGroup(ctx, topic, group) })

var runEmpty = runFanout("empty",
	func(ctx context.Context, a *mq.Admin, topic, _ string) []error { return a.EmptyTopic(ctx, topic) },
	func(ctx context.Context, a *mq.Admin, topic, group string) []error { return a.EmptyGroup(ctx, topic, group) })

func runCall(ctx context.Context, app *appContext, args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	topic := fs.String("topic", app.config.Consumer.Topic, "topic served by rpc server")
	module := fs.String("module", "", "module of method")
	method := fs.String("method", "", "method to call")
	params := fs.String("params", "[]", "json array of params")
	timeout := fs.Duration("timeout", 10*time.Second, "timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if len(*topic) == 0 {
		return errMissingTopic
	}

	req := &rpc.Request{Module: *module, Method: *method}
	if err := json.UnmarshalFromString(*params, &req.Params); err != nil {
		return errors.Wrap(err, "-params")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	resp, err := rpc.NewInvoker(app.broker, *topic).Invoke(ctx, req)
	if err != nil {
		return err
	}

	return printJSON(resp)
}
