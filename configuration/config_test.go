package configuration

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VolantMQ/zbus/protocol"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()

	require.Equal(t, "info", c.Log.Console.Level)
	require.Equal(t, 32, c.Broker.PoolSize)
	require.Equal(t, 0.5, c.Broker.VoteFactor)
	require.Equal(t, 3*time.Second, c.Broker.TrackerWaitDuration())
	require.Equal(t, []protocol.ServerAddress{protocol.NewServerAddress("localhost:15555")}, c.Broker.TrackerList())
	require.NoError(t, c.Validate())
}

func TestReadConfigFileMerges(t *testing.T) {
	dir, err := ioutil.TempDir("", "zbus-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "zbus.yaml")
	data := []byte(`
broker:
  trackers: "a:1;b:2, c:3"
  voteFactor: 0.6
consumer:
  topic: orders
  connections: 2
auth:
  token: secret
`)
	require.NoError(t, ioutil.WriteFile(file, data, 0600))

	c, err := ReadConfigFile(file)
	require.NoError(t, err)

	require.Len(t, c.Broker.TrackerList(), 3)
	require.Equal(t, 0.6, c.Broker.VoteFactor)
	require.Equal(t, 32, c.Broker.PoolSize)
	require.Equal(t, "orders", c.Consumer.Topic)
	require.Equal(t, 2, c.Consumer.Connections)
	require.Equal(t, 1, c.Consumer.Window)
	require.Equal(t, "secret", c.Auth.Token)
}

func TestReadConfigFileErrors(t *testing.T) {
	_, err := ReadConfigFile("/nonexistent/zbus.yaml")
	require.Error(t, err)

	dir, err := ioutil.TempDir("", "zbus-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "bad.yaml")
	require.NoError(t, ioutil.WriteFile(file, []byte("broker:\n  voteFactor: 2\n"), 0600))

	_, err = ReadConfigFile(file)
	require.Error(t, err)

	require.NoError(t, ioutil.WriteFile(file, []byte("auth:\n  apiKey: k\n"), 0600))
	_, err = ReadConfigFile(file)
	require.Error(t, err)
}

func TestLoadClientConfig(t *testing.T) {
	tc := TLSConfig{Insecure: true}
	c, err := tc.LoadClientConfig()
	require.NoError(t, err)
	require.True(t, c.InsecureSkipVerify)
	require.Nil(t, c.RootCAs)

	tc = TLSConfig{Cert: "/nonexistent/ca.pem"}
	_, err = tc.LoadClientConfig()
	require.Error(t, err)
}

func TestConfigureLoggers(t *testing.T) {
	require.NoError(t, ConfigureLoggers(&LogConfig{Console: ConsoleLogConfig{
		Level:     "debug",
		Timestamp: &TimestampConfig{Format: "RFC3339"},
	}}))
	require.NotNil(t, GetLogger())
	require.NotNil(t, GetHumanLogger())

	require.Error(t, ConfigureLoggers(&LogConfig{Console: ConsoleLogConfig{Level: "loud"}}))
}
