package configuration

import (
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultConfig Load minimum working configuration to allow
// client start without user provided one
func DefaultConfig() *Config {
	c := Config{}
	if err := yaml.Unmarshal(defaultConfig, &c); err != nil {
		panic(err.Error())
	}

	return &c
}

// ReadConfig default config merged with file given by --config or ZBUS_CONFIG
// flags must be parsed by caller
func ReadConfig() (*Config, error) {
	return ReadConfigFile(configFile)
}

// ReadConfigFile default config merged with file, empty file name returns defaults
func ReadConfigFile(file string) (*Config, error) {
	log := GetHumanLogger()

	c := DefaultConfig()

	if len(file) == 0 {
		log.Debug("no config file provided. use --config option or ZBUS_CONFIG environment variable to provide own")
	} else {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			return nil, errors.Errorf("config not found: %s", file)
		}

		data, err := ioutil.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}

		if err = yaml.Unmarshal(data, c); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", file)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}
