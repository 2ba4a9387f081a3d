package mq

import (
	"sort"
	"sync"

	"github.com/VolantMQ/zbus/protocol"
)

// DefaultVoteFactor share of trackers required to keep server
const DefaultVoteFactor = 0.5

// Vote servers reported by one tracker at version
type Vote struct {
	Version int64
	Servers map[protocol.ServerAddress]struct{}
}

// ServerTable server address to last known state
type ServerTable map[protocol.ServerAddress]*protocol.ServerInfo

// TopicTable topic name to per server topic state
type TopicTable map[string][]*protocol.TopicInfo

// RouteTable merges views of all trackers
// Tables returned by accessors are immutable snapshots, they are replaced on every update
type RouteTable struct {
	lock       sync.RWMutex
	voteFactor float64
	votes      map[protocol.ServerAddress]*Vote
	servers    ServerTable
	topics     TopicTable
}

// NewRouteTable ...
func NewRouteTable() *RouteTable {
	return &RouteTable{
		voteFactor: DefaultVoteFactor,
		votes:      make(map[protocol.ServerAddress]*Vote),
		servers:    make(ServerTable),
		topics:     make(TopicTable),
	}
}

// SetVoteFactor takes effect on next update
func (rt *RouteTable) SetVoteFactor(f float64) {
	rt.lock.Lock()
	rt.voteFactor = f
	rt.lock.Unlock()
}

// VoteFactor ...
func (rt *RouteTable) VoteFactor() float64 {
	rt.lock.RLock()
	defer rt.lock.RUnlock()

	return rt.voteFactor
}

// ServerTable ...
func (rt *RouteTable) ServerTable() ServerTable {
	rt.lock.RLock()
	defer rt.lock.RUnlock()

	return rt.servers
}

// TopicTable ...
func (rt *RouteTable) TopicTable() TopicTable {
	rt.lock.RLock()
	defer rt.lock.RUnlock()

	return rt.topics
}

// Vote of tracker, nil if tracker never pushed
func (rt *RouteTable) Vote(tracker protocol.ServerAddress) *Vote {
	rt.lock.RLock()
	defer rt.lock.RUnlock()

	return rt.votes[tracker]
}

// Servers addresses of ServerTable sorted by address
func (rt *RouteTable) Servers() []protocol.ServerAddress {
	return sortedAddresses(rt.ServerTable())
}

// UpdateTracker apply tracker push
// returns servers evicted by the update, stale pushes are ignored
func (rt *RouteTable) UpdateTracker(info *protocol.TrackerInfo) []protocol.ServerAddress {
	rt.lock.Lock()
	defer rt.lock.Unlock()

	tracker := info.ServerAddress

	vote := rt.votes[tracker]
	if vote != nil && vote.Version >= info.InfoVersion {
		return nil
	}

	servers := make(map[protocol.ServerAddress]struct{}, len(info.ServerTable))
	for _, si := range info.ServerTable {
		if si != nil {
			servers[si.ServerAddress] = struct{}{}
		}
	}

	rt.votes[tracker] = &Vote{
		Version: info.InfoVersion,
		Servers: servers,
	}

	table := make(ServerTable, len(rt.servers)+len(info.ServerTable))
	for k, v := range rt.servers {
		table[k] = v
	}

	for _, si := range info.ServerTable {
		if si == nil {
			continue
		}

		if old, ok := table[si.ServerAddress]; ok && old.InfoVersion >= si.InfoVersion {
			continue
		}

		table[si.ServerAddress] = si
	}

	return rt.purge(table)
}

// RemoveTracker drop tracker vote and evict servers which lost quorum
func (rt *RouteTable) RemoveTracker(tracker protocol.ServerAddress) []protocol.ServerAddress {
	rt.lock.Lock()
	defer rt.lock.Unlock()

	delete(rt.votes, tracker)

	table := make(ServerTable, len(rt.servers))
	for k, v := range rt.servers {
		table[k] = v
	}

	return rt.purge(table)
}

// purge evicts servers from table reported by less than voteFactor of trackers,
// then swaps table in and rebuilds topics
// must be called with lock held
func (rt *RouteTable) purge(table ServerTable) []protocol.ServerAddress {
	threshold := rt.voteFactor * float64(len(rt.votes))

	var removed []protocol.ServerAddress

	for addr := range table {
		count := 0
		for _, v := range rt.votes {
			if _, ok := v.Servers[addr]; ok {
				count++
			}
		}

		if float64(count) < threshold {
			removed = append(removed, addr)
		}
	}

	for _, addr := range removed {
		delete(table, addr)
	}

	sortAddresses(removed)

	rt.servers = table
	rt.topics = buildTopics(table)

	return removed
}

func buildTopics(servers ServerTable) TopicTable {
	topics := make(TopicTable)

	for _, addr := range sortedAddresses(servers) {
		si := servers[addr]

		names := make([]string, 0, len(si.TopicTable))
		for name := range si.TopicTable {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ti := si.TopicTable[name]
			if ti == nil {
				continue
			}

			if len(ti.ServerAddress.Address) == 0 {
				ti.ServerAddress = si.ServerAddress
			}

			if len(ti.TopicName) == 0 {
				ti.TopicName = name
			}

			topics[ti.TopicName] = append(topics[ti.TopicName], ti)
		}
	}

	return topics
}

func sortedAddresses(t ServerTable) []protocol.ServerAddress {
	res := make([]protocol.ServerAddress, 0, len(t))
	for addr := range t {
		res = append(res, addr)
	}

	sortAddresses(res)

	return res
}

func sortAddresses(list []protocol.ServerAddress) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Address == list[j].Address {
			return !list[i].SslEnabled && list[j].SslEnabled
		}

		return list[i].Address < list[j].Address
	})
}
