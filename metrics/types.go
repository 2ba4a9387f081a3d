package metrics

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// Bytes counts raw traffic of connections
type Bytes interface {
	OnSent(int)
	OnRecv(int)
}

// Messages counts client level events
type Messages interface {
	OnProduced()
	OnConsumed()
	OnInvoked()
	OnFailed()
	OnLatency(ms int64)
}

// Pools observes connection pool usage
type Pools interface {
	OnCreated()
	OnDestroyed()
	OnBorrowed()
	OnReturned()
}

// Informer ...
type Informer interface {
	Bytes() Bytes
	Messages() Messages
	Pools() Pools
}

// IFace ...
type IFace interface {
	Informer
	Registry() gometrics.Registry
	Snapshot() Stats
}

// Stats point in time copy of counters
type Stats struct {
	BytesSent    int64
	BytesRecv    int64
	Produced     int64
	Consumed     int64
	Invoked      int64
	Failed       int64
	ConnsCreated int64
	ConnsInUse   int64
	ConnsLive    int64
}
