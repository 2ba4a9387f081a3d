package mq

import (
	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/protocol"
)

// ServerSelector picks target servers of message
type ServerSelector func(rt *RouteTable, m *message.Message) []protocol.ServerAddress

// AllServers every server of route table
func AllServers(rt *RouteTable, _ *message.Message) []protocol.ServerAddress {
	return rt.Servers()
}

// TopicServers servers holding message topic
func TopicServers(rt *RouteTable, m *message.Message) []protocol.ServerAddress {
	list := rt.TopicTable()[m.Topic()]

	res := make([]protocol.ServerAddress, 0, len(list))
	for _, ti := range list {
		res = append(res, ti.ServerAddress)
	}

	return res
}

// LeastLoaded server of message topic with minimal consumer count
// first one wins ties
func LeastLoaded(rt *RouteTable, m *message.Message) []protocol.ServerAddress {
	list := rt.TopicTable()[m.Topic()]
	if len(list) == 0 {
		return nil
	}

	target := list[0]
	for _, ti := range list[1:] {
		if ti.ConsumerCount < target.ConsumerCount {
			target = ti
		}
	}

	return []protocol.ServerAddress{target.ServerAddress}
}
