package configuration

import (
	"crypto/tls"
	"time"

	"github.com/pkg/errors"

	"github.com/VolantMQ/zbus/protocol"
	"github.com/VolantMQ/zbus/transport"
)

// TimestampConfig entry in log.console.timestamp
type TimestampConfig struct {
	Format string `yaml:"format,omitempty"`
}

// ConsoleLogConfig entry in log.console
type ConsoleLogConfig struct {
	Level     string           `yaml:"level,omitempty"`
	Timestamp *TimestampConfig `yaml:"timestamp,omitempty"`
}

// LogConfig entry in log
type LogConfig struct {
	Console ConsoleLogConfig `yaml:"console,omitempty"`
}

// TLSConfig trusted certificates of ssl enabled servers
type TLSConfig struct {
	Cert     string `yaml:"cert,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// BrokerTLSConfig default and per server certificates
type BrokerTLSConfig struct {
	Default TLSConfig            `yaml:"default,omitempty"`
	Servers map[string]TLSConfig `yaml:"servers,omitempty"`
}

// BrokerConfig entry in broker
type BrokerConfig struct {
	// Trackers list separated by ';', ',' or space
	Trackers   string  `yaml:"trackers,omitempty"`
	PoolSize   int     `yaml:"poolSize,omitempty"`
	VoteFactor float64 `yaml:"voteFactor,omitempty"`
	// TrackerWait initial snapshot wait in milliseconds
	TrackerWait int `yaml:"trackerWait,omitempty"`
	// Heartbeat interval of tracker connections in milliseconds, 0 disables
	Heartbeat int             `yaml:"heartbeat,omitempty"`
	TLS       BrokerTLSConfig `yaml:"tls,omitempty"`
}

// ConsumerConfig entry in consumer
type ConsumerConfig struct {
	Topic       string `yaml:"topic,omitempty"`
	Group       string `yaml:"group,omitempty"`
	Filter      string `yaml:"filter,omitempty"`
	Window      int    `yaml:"window,omitempty"`
	Connections int    `yaml:"connections,omitempty"`
	RunInPool   bool   `yaml:"runInPool,omitempty"`
	PoolSize    int    `yaml:"poolSize,omitempty"`
	// Timeout of single consume in milliseconds, 0 waits until message arrives
	Timeout int `yaml:"timeout,omitempty"`
}

// AuthConfig entry in auth
type AuthConfig struct {
	Token     string `yaml:"token,omitempty"`
	APIKey    string `yaml:"apiKey,omitempty"`
	SecretKey string `yaml:"secretKey,omitempty"`
}

// HealthConfig entry in health
type HealthConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// MetricsConfig entry in metrics
type MetricsConfig struct {
	// Report interval of metrics dump into log in seconds, 0 disables
	Report int `yaml:"report,omitempty"`
}

// Config client-wide config
type Config struct {
	Version  string         `yaml:"version,omitempty"`
	Log      LogConfig      `yaml:"log,omitempty"`
	Broker   BrokerConfig   `yaml:"broker,omitempty"`
	Consumer ConsumerConfig `yaml:"consumer,omitempty"`
	Auth     AuthConfig     `yaml:"auth,omitempty"`
	Health   HealthConfig   `yaml:"health,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
}

// TrackerList parsed tracker addresses
func (c *BrokerConfig) TrackerList() []protocol.ServerAddress {
	return protocol.ParseAddressList(c.Trackers)
}

// TrackerWaitDuration ...
func (c *BrokerConfig) TrackerWaitDuration() time.Duration {
	return time.Duration(c.TrackerWait) * time.Millisecond
}

// HeartbeatDuration ...
func (c *BrokerConfig) HeartbeatDuration() time.Duration {
	return time.Duration(c.Heartbeat) * time.Millisecond
}

// TimeoutDuration ...
func (c *ConsumerConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// Validate configuration values which can not be defaulted
func (c *Config) Validate() error {
	if c.Broker.VoteFactor < 0 || c.Broker.VoteFactor > 1 {
		return errors.Errorf("broker.voteFactor %v out of range [0, 1]", c.Broker.VoteFactor)
	}

	if c.Broker.PoolSize < 0 {
		return errors.Errorf("broker.poolSize %d must not be negative", c.Broker.PoolSize)
	}

	if len(c.Auth.APIKey) > 0 && len(c.Auth.SecretKey) == 0 {
		return errors.New("auth.secretKey required when auth.apiKey is set")
	}

	if _, err := c.Broker.TLS.Default.LoadClientConfig(); err != nil {
		return errors.Wrap(err, "broker.tls.default")
	}

	for addr, t := range c.Broker.TLS.Servers {
		if _, err := t.LoadClientConfig(); err != nil {
			return errors.Wrapf(err, "broker.tls.servers[%s]", addr)
		}
	}

	return nil
}

// LoadClientConfig tls config with RootCAs loaded from Cert
func (t *TLSConfig) LoadClientConfig() (*tls.Config, error) {
	return transport.LoadTLSConfig(t.Cert, t.Insecure)
}
